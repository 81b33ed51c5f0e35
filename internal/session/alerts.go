package session

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"coursewatch/internal/domain"
	"coursewatch/internal/event"
)

var validateAlert = validator.New()

const summaryTimeout = 2 * time.Minute

type alertJob struct {
	alert domain.Alert
	stop  chan struct{}
}

// DeployAlert creates or updates the rule keyed by (channel, summary type).
// Returns true when a new rule was created, false when an existing one was
// replaced. Misconfigured rules fail loudly here, never at fire time.
func (c *Client) DeployAlert(alert domain.Alert) (bool, error) {
	switch alert.Interval {
	case domain.IntervalDaily, domain.IntervalWeekly:
	default:
		return false, fmt.Errorf("%w: %q", domain.ErrBadInterval, alert.Interval)
	}
	if err := validateAlert.Struct(alert); err != nil {
		return false, fmt.Errorf("invalid alert: %w", err)
	}

	c.mu.Lock()
	_, existed := c.alerts[alert.Key()]
	c.alerts[alert.Key()] = alert
	c.rescheduleLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.hub.Persist(snap)
	return !existed, nil
}

// DeleteAlert removes the rule for the pair, reporting whether one existed.
func (c *Client) DeleteAlert(channelID string, summary domain.SummaryType) bool {
	key := domain.Alert{ChannelID: channelID, Summary: summary}.Key()

	c.mu.Lock()
	if _, existed := c.alerts[key]; !existed {
		c.mu.Unlock()
		return false
	}
	delete(c.alerts, key)
	c.rescheduleLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.hub.Persist(snap)
	return true
}

// Alerts returns the current rules sorted by key.
func (c *Client) Alerts() []domain.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	alerts := make([]domain.Alert, 0, len(c.alerts))
	for _, alert := range c.alerts {
		alerts = append(alerts, alert)
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].Key() < alerts[j].Key()
	})
	return alerts
}

// ActiveJobs reports how many alert jobs are currently scheduled.
func (c *Client) ActiveJobs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

// rescheduleLocked is deliberately not incremental: it cancels every job,
// clears the set and re-derives one job per current rule. Callers hold c.mu.
func (c *Client) rescheduleLocked() {
	c.clearJobsLocked()
	for key, alert := range c.alerts {
		job := &alertJob{alert: alert, stop: make(chan struct{})}
		c.jobs[key] = job
		go c.runAlert(job)
	}
}

func (c *Client) clearJobsLocked() {
	for _, job := range c.jobs {
		close(job.stop)
	}
	c.jobs = make(map[string]*alertJob)
}

func (c *Client) runAlert(job *alertJob) {
	loc := c.opts.Location
	next := nextFire(time.Now().In(loc), job.alert.Hour, loc)
	for {
		timer := time.NewTimer(time.Until(next))
		select {
		case <-job.stop:
			timer.Stop()
			return
		case <-timer.C:
			c.fireAlert(job.alert)
		}
		next = advance(next, job.alert.Interval)
	}
}

// nextFire is the next wall-clock occurrence of hour:00 in loc.
func nextFire(now time.Time, hour int, loc *time.Location) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// advance steps one cadence in calendar terms so the wall-clock hour
// survives DST transitions.
func advance(prev time.Time, interval domain.AlertInterval) time.Time {
	days := 1
	if interval == domain.IntervalWeekly {
		days = 7
	}
	return time.Date(prev.Year(), prev.Month(), prev.Day()+days, prev.Hour(), 0, 0, 0, prev.Location())
}

func (c *Client) fireAlert(alert domain.Alert) {
	if c.opts.Summaries == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
	defer cancel()

	summary, err := c.opts.Summaries(ctx, c, alert)
	if err != nil {
		c.logger.Warn("alert summary failed", "channel", alert.ChannelID, "summary", alert.Summary, "error", err)
		return
	}
	if len(summary.Items) == 0 {
		// Nothing to say; silence, not an error.
		return
	}

	c.hub.Emit(event.Dispatch{
		GuildID:   alert.GuildID,
		ChannelID: alert.ChannelID,
		Text:      headline(summary),
		Summary:   summary,
	})
}

func headline(s domain.Summary) string {
	noun := "assignments"
	if len(s.Items) == 1 {
		noun = "assignment"
	}
	switch s.Type {
	case domain.SummaryUpcoming:
		return fmt.Sprintf("%d upcoming %s", len(s.Items), noun)
	case domain.SummaryPastDue:
		return fmt.Sprintf("%d past-due %s", len(s.Items), noun)
	case domain.SummaryGraded:
		return fmt.Sprintf("%d recently graded %s", len(s.Items), noun)
	}
	return fmt.Sprintf("%d %s", len(s.Items), noun)
}
