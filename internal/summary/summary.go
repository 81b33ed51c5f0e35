// Package summary aggregates assignments across all non-ignored courses
// into the filtered view an alert dispatches.
package summary

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"coursewatch/internal/domain"
	"coursewatch/internal/session"
)

const monthsToAge = 30 * 24 * time.Hour

// Builder walks a session's data path and produces one summary per request.
type Builder struct {
	logger            *slog.Logger
	courseCacheMaxAge time.Duration
	now               func() time.Time
}

// NewBuilder wires the course-cache staleness budget shared by all alerts.
func NewBuilder(logger *slog.Logger, courseCacheMaxAge time.Duration) *Builder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if courseCacheMaxAge <= 0 {
		courseCacheMaxAge = 30 * time.Minute
	}
	return &Builder{
		logger:            logger,
		courseCacheMaxAge: courseCacheMaxAge,
		now:               time.Now,
	}
}

// Build produces the alert's summary over every non-ignored course inside
// the rule's course-age window.
func (b *Builder) Build(ctx context.Context, c *session.Client, alert domain.Alert) (domain.Summary, error) {
	maxAge := time.Duration(alert.MaxCourseAgeMonths) * monthsToAge

	ordinals, err := c.GetAllCourses(ctx, maxAge, b.courseCacheMaxAge)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("load courses: %w", err)
	}

	out := domain.Summary{Type: alert.Summary}
	for n := 1; n <= len(ordinals); n++ {
		course := ordinals[n]
		if c.Ignored("course", course.ID) {
			continue
		}

		items, err := b.courseItems(ctx, c, course, alert.Summary)
		if err != nil {
			return domain.Summary{}, fmt.Errorf("course %s: %w", course.ID, err)
		}
		out.Items = append(out.Items, items...)
	}

	b.logger.Debug("summary built", "type", alert.Summary, "items", len(out.Items))
	return out, nil
}

func (b *Builder) courseItems(ctx context.Context, c *session.Client, course domain.Course, kind domain.SummaryType) ([]domain.SummaryItem, error) {
	switch kind {
	case domain.SummaryGraded:
		graded, err := c.RecentlyGraded(ctx, course)
		if err != nil {
			return nil, err
		}
		return pair(course, graded), nil

	case domain.SummaryPastDue:
		assignments, err := c.GetAllAssignments(ctx, course, session.AssignmentOptions{ResolveDetails: true})
		if err != nil {
			return nil, err
		}
		var pastDue []domain.Assignment
		for _, a := range assignments {
			if a.Status == domain.StatusPastDue {
				pastDue = append(pastDue, a)
			}
		}
		return pair(course, pastDue), nil

	case domain.SummaryUpcoming:
		assignments, err := c.GetAllAssignments(ctx, course, session.AssignmentOptions{})
		if err != nil {
			return nil, err
		}
		now := b.now()
		var upcoming []domain.Assignment
		for _, a := range assignments {
			if a.Status != domain.StatusUpcoming {
				continue
			}
			if !a.Deadline.IsZero() && a.Deadline.Before(now) {
				continue
			}
			upcoming = append(upcoming, a)
		}
		return pair(course, upcoming), nil
	}

	return nil, fmt.Errorf("unknown summary type %q", kind)
}

func pair(course domain.Course, assignments []domain.Assignment) []domain.SummaryItem {
	items := make([]domain.SummaryItem, 0, len(assignments))
	for _, a := range assignments {
		items = append(items, domain.SummaryItem{Course: course, Assignment: a})
	}
	return items
}
