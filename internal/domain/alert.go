package domain

// SummaryType selects which assignment view an alert or command produces.
type SummaryType string

const (
	SummaryUpcoming SummaryType = "upcoming"
	SummaryPastDue  SummaryType = "pastdue"
	SummaryGraded   SummaryType = "graded"
)

// AlertInterval is the cadence of a recurring alert.
type AlertInterval string

const (
	IntervalDaily  AlertInterval = "daily"
	IntervalWeekly AlertInterval = "weekly"
)

// Alert is a persisted recurring notification rule. One rule exists per
// (channel, summary type) pair; deploying a second rule for the same pair
// replaces the first.
type Alert struct {
	Summary            SummaryType   `json:"summary" validate:"required,oneof=upcoming pastdue graded"`
	GuildID            string        `json:"guild_id" validate:"required"`
	ChannelID          string        `json:"channel_id" validate:"required"`
	Interval           AlertInterval `json:"interval" validate:"required"`
	Hour               int           `json:"hour" validate:"gte=0,lte=23"`
	MaxCourseAgeMonths int           `json:"max_course_age_months" validate:"gte=1"`
}

// Key is the unique identity of the rule inside a session.
func (a Alert) Key() string {
	return a.ChannelID + ":" + string(a.Summary)
}

// SummaryItem pairs an assignment with the course it belongs to.
type SummaryItem struct {
	Course     Course
	Assignment Assignment
}

// Summary is the aggregated, filtered view an alert job dispatches.
// A summary with no items is never dispatched.
type Summary struct {
	Type  SummaryType
	Items []SummaryItem
}
