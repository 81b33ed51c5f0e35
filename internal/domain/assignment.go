package domain

import "time"

// AssignmentStatus enumerates the states a gradable item can be in.
type AssignmentStatus string

const (
	StatusUpcoming     AssignmentStatus = "upcoming"
	StatusSubmitted    AssignmentStatus = "submitted"
	StatusPastDue      AssignmentStatus = "past_due"
	StatusGraded       AssignmentStatus = "graded"
	StatusNotAvailable AssignmentStatus = "not_available"
)

// Grade carries the parsed "score / possible" fragment plus optional
// instructor feedback. Percent is rounded to two decimal places.
type Grade struct {
	Score    float64
	Possible float64
	Percent  float64
	Comments string
}

// Assignment is one gradable item inside a course. Position is the row's
// stable cursor on the grades page and defines the canonical display order.
type Assignment struct {
	ID        string
	Name      string
	URL       string
	Position  int
	Status    AssignmentStatus
	Grade     *Grade
	Deadline  time.Time
	UpdatedAt time.Time
}
