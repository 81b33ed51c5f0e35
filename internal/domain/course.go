package domain

import "time"

// Course is one enrollment as seen through the portal navigation payload.
type Course struct {
	ID        string
	Name      string
	ClassURL  string
	GradesURL string
	UpdatedAt time.Time
}

// CourseOrdinals is the 1-indexed view handed to the command layer
// ("#1", "#2", ...). It is recomputed from the sorted, age-filtered
// collection on every access, so an ordinal may point at a different
// course after a background refresh. That is intentional.
type CourseOrdinals map[int]Course
