// Package session owns the authenticated state of one portal user: the
// credential lifecycle with its keep-alive loop, the layered data cache,
// the ignore store and the recurring alert jobs. All side effects leave the
// package as signals on the session's event hub.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"coursewatch/internal/domain"
	"coursewatch/internal/event"
	"coursewatch/internal/ports"
	"coursewatch/internal/retry"
)

const (
	coursesCacheKey = "courses.all"
	scoreCachePfx   = "assignments.scores."

	// Score snapshots live far longer than the course cache so delayed
	// grading still diffs against the last-seen scores.
	scoreSnapshotMaxAge = 120 * 24 * time.Hour

	detailBatchSize = 5
	tickTimeout     = 30 * time.Second
)

// SummaryFunc builds the aggregated assignment view an alert dispatches.
// Supplied by the application layer; the scheduler only invokes it.
type SummaryFunc func(ctx context.Context, c *Client, alert domain.Alert) (domain.Summary, error)

// Options tune one session client. Zero values fall back to defaults.
type Options struct {
	KeepAliveInterval     time.Duration
	KeepAliveFailureLimit int
	RetryAttempts         int
	RetryDelay            time.Duration
	Location              *time.Location
	Summaries             SummaryFunc
}

func (o Options) withDefaults() Options {
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = 10 * time.Minute
	}
	if o.KeepAliveFailureLimit <= 0 {
		o.KeepAliveFailureLimit = 5
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// Client is the session manager for one caller identity (guild:user).
type Client struct {
	key    string
	gw     ports.Gateway
	hub    *event.Hub
	logger *slog.Logger
	opts   Options

	mu         sync.Mutex
	name       string
	credential string
	failures   int
	keepStop   chan struct{}
	ignored    map[string]map[string]struct{}
	alerts     map[string]domain.Alert
	jobs       map[string]*alertJob

	courses *cacheStore[[]domain.Course]
	scores  *cacheStore[map[string]float64]
}

// NewClient builds an unauthenticated session for the given identity key.
func NewClient(key string, gw ports.Gateway, hub *event.Hub, logger *slog.Logger, opts Options) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if hub == nil {
		hub = event.NewHub(logger)
	}
	return &Client{
		key:     key,
		gw:      gw,
		hub:     hub,
		logger:  logger.With("session", key),
		opts:    opts.withDefaults(),
		ignored: make(map[string]map[string]struct{}),
		alerts:  make(map[string]domain.Alert),
		jobs:    make(map[string]*alertJob),
		courses: newCacheStore[[]domain.Course](),
		scores:  newCacheStore[map[string]float64](),
	}
}

// Key returns the external caller identity this session belongs to.
func (c *Client) Key() string { return c.key }

// Hub exposes the signal hub so collaborators can subscribe before Import.
func (c *Client) Hub() *event.Hub { return c.hub }

// Name returns the validated display name, empty until a successful import.
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Authenticated reports whether the session holds a validated credential.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credential != ""
}

// Import validates a candidate credential against the portal. On success the
// session state is replaced and the keep-alive loop (re)starts; on failure
// the credential is cleared and false is returned. Errors never escape:
// the command layer only needs the boolean.
func (c *Client) Import(ctx context.Context, credential string) bool {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return false
	}

	name, err := retry.Do(ctx, c.opts.RetryAttempts, c.opts.RetryDelay, func(ctx context.Context) (string, error) {
		return c.gw.Validate(ctx, credential)
	})
	if err != nil || name == "" {
		if err != nil {
			c.logger.Warn("credential validation failed", "error", err)
		}
		c.mu.Lock()
		c.credential = ""
		c.name = ""
		c.stopKeepAliveLocked()
		snap := c.snapshotLocked()
		c.mu.Unlock()

		// Persist the cleared credential so a restart cannot revive it.
		c.hub.Persist(snap)
		return false
	}

	c.mu.Lock()
	c.name = name
	c.credential = credential
	c.failures = 0
	c.startKeepAliveLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.hub.Persist(snap)
	return true
}

// Restore loads persisted state (name, ignore map, alerts) before a startup
// Import re-validates the credential. Jobs are derived immediately so alerts
// survive a portal outage at boot.
func (c *Client) Restore(snap domain.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.name = snap.Name
	c.ignored = make(map[string]map[string]struct{}, len(snap.Ignored))
	for category, ids := range snap.Ignored {
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		c.ignored[category] = set
	}
	c.alerts = make(map[string]domain.Alert, len(snap.Alerts))
	for key, alert := range snap.Alerts {
		c.alerts[key] = alert
	}
	c.rescheduleLocked()
}

// Close cancels the keep-alive loop and every scheduled alert job.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopKeepAliveLocked()
	c.clearJobsLocked()
}

// GetAllCourses serves the 1-indexed ordinal mapping. Cache staleness
// (maxCacheAge) and display-age filtering (maxAge) are independent: the
// filter applies to every access, cached or fresh.
func (c *Client) GetAllCourses(ctx context.Context, maxAge, maxCacheAge time.Duration) (domain.CourseOrdinals, error) {
	cred, err := c.credentialOrErr()
	if err != nil {
		return nil, err
	}

	courses, ok := c.courses.get(coursesCacheKey, maxCacheAge)
	if !ok {
		courses, err = c.fetchCourses(ctx, cred)
		if err != nil {
			return nil, err
		}
		c.courses.put(coursesCacheKey, courses)

		// A fresh collection fetch also re-persists the session.
		c.mu.Lock()
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.hub.Persist(snap)
	}

	// Clone so the caller never aliases cache state.
	courses = slices.Clone(courses)

	cutoff := time.Now().Add(-maxAge)
	ordinals := make(domain.CourseOrdinals, len(courses))
	n := 0
	for _, course := range courses {
		if maxAge > 0 && course.UpdatedAt.Before(cutoff) {
			continue
		}
		n++
		ordinals[n] = course
	}
	return ordinals, nil
}

// InvalidateCourses drops the cached course snapshot.
func (c *Client) InvalidateCourses() {
	c.courses.invalidate(coursesCacheKey)
}

// fetchCourses runs the retry-wrapped portal fetch. A zero-course result is
// treated as transient portal unavailability: one extra retry cycle runs
// after a delay before the empty set is accepted as genuine.
func (c *Client) fetchCourses(ctx context.Context, cred string) ([]domain.Course, error) {
	op := func(ctx context.Context) ([]domain.Course, error) {
		list, err := c.gw.FetchCourses(ctx, cred)
		if err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, domain.ErrEmptyPortal
		}
		return list, nil
	}

	courses, err := retry.Do(ctx, c.opts.RetryAttempts, c.opts.RetryDelay, op)
	if errors.Is(err, domain.ErrEmptyPortal) {
		c.logger.Debug("portal returned no courses, retrying once more")
		timer := time.NewTimer(c.opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		courses, err = retry.Do(ctx, c.opts.RetryAttempts, c.opts.RetryDelay, op)
		if errors.Is(err, domain.ErrEmptyPortal) {
			return nil, nil
		}
	}
	return courses, err
}

// AssignmentOptions tune a single assignment fetch.
type AssignmentOptions struct {
	// ResolveDetails batch-fetches detail pages for past-due and
	// not-available rows, five in flight at a time.
	ResolveDetails bool
}

// GetAllAssignments always fetches fresh; only the score snapshots used by
// RecentlyGraded are cached.
func (c *Client) GetAllAssignments(ctx context.Context, course domain.Course, opts AssignmentOptions) ([]domain.Assignment, error) {
	cred, err := c.credentialOrErr()
	if err != nil {
		return nil, err
	}

	assignments, err := retry.Do(ctx, c.opts.RetryAttempts, c.opts.RetryDelay, func(ctx context.Context) ([]domain.Assignment, error) {
		return c.gw.FetchAssignments(ctx, cred, course)
	})
	if err != nil {
		return nil, err
	}

	if opts.ResolveDetails {
		c.resolveDetails(ctx, cred, assignments)
	}
	return assignments, nil
}

// resolveDetails augments ambiguous rows from their detail pages in windowed
// batches: each window of five fully drains before the next starts.
func (c *Client) resolveDetails(ctx context.Context, cred string, assignments []domain.Assignment) {
	var pending []int
	for i, a := range assignments {
		if a.URL == "" {
			continue
		}
		if a.Status == domain.StatusPastDue || a.Status == domain.StatusNotAvailable {
			pending = append(pending, i)
		}
	}

	for start := 0; start < len(pending); start += detailBatchSize {
		end := min(start+detailBatchSize, len(pending))

		var wg sync.WaitGroup
		for _, idx := range pending[start:end] {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				detailed, err := c.gw.FetchAssignmentDetail(ctx, cred, assignments[idx])
				if err != nil {
					c.logger.Debug("assignment detail fetch failed", "assignment", assignments[idx].ID, "error", err)
					return
				}
				assignments[idx] = detailed
			}(idx)
		}
		wg.Wait()
	}
}

// RecentlyGraded returns the assignments whose score differs from (or is
// absent in) the last-seen score snapshot for the course, then advances the
// snapshot. Re-running without new grades yields nothing, so alert delivery
// stays idempotent.
func (c *Client) RecentlyGraded(ctx context.Context, course domain.Course) ([]domain.Assignment, error) {
	assignments, err := c.GetAllAssignments(ctx, course, AssignmentOptions{ResolveDetails: true})
	if err != nil {
		return nil, err
	}

	key := scoreCachePfx + course.ID
	prior, _ := c.scores.get(key, scoreSnapshotMaxAge)

	var fresh []domain.Assignment
	next := make(map[string]float64, len(assignments))
	for _, a := range assignments {
		if a.Grade == nil {
			continue
		}
		next[a.ID] = a.Grade.Score
		prev, seen := prior[a.ID]
		if !seen || prev != a.Grade.Score {
			fresh = append(fresh, a)
		}
	}

	if len(fresh) > 0 {
		merged := make(map[string]float64, len(prior)+len(next))
		for id, score := range prior {
			merged[id] = score
		}
		for id, score := range next {
			merged[id] = score
		}
		c.scores.put(key, merged)
	}
	return fresh, nil
}

func (c *Client) credentialOrErr() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.credential == "" {
		return "", domain.ErrNoClient
	}
	return c.credential, nil
}

// startKeepAliveLocked (re)starts the keep-alive loop. Callers hold c.mu.
func (c *Client) startKeepAliveLocked() {
	c.stopKeepAliveLocked()
	stop := make(chan struct{})
	c.keepStop = stop
	go c.keepAlive(stop)
}

func (c *Client) stopKeepAliveLocked() {
	if c.keepStop != nil {
		close(c.keepStop)
		c.keepStop = nil
	}
}

func (c *Client) keepAlive(stop chan struct{}) {
	ticker := time.NewTicker(c.opts.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !c.ping() {
				return
			}
		}
	}
}

// ping silently revalidates the stored credential without touching alert or
// ignore state. After KeepAliveFailureLimit consecutive failures the
// credential is cleared, expired fires once and the loop stops.
func (c *Client) ping() bool {
	c.mu.Lock()
	cred := c.credential
	c.mu.Unlock()
	if cred == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	name, err := c.gw.Validate(ctx, cred)
	cancel()

	c.mu.Lock()
	if err == nil && name != "" {
		c.failures = 0
		c.name = name
		c.mu.Unlock()
		return true
	}

	c.failures++
	c.logger.Debug("keep-alive tick failed", "failures", c.failures, "error", err)
	if c.failures < c.opts.KeepAliveFailureLimit {
		c.mu.Unlock()
		return true
	}

	c.credential = ""
	c.name = ""
	c.keepStop = nil // the loop exits right after this tick
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("session expired after repeated keep-alive failures")
	c.hub.Expired()
	c.hub.Persist(snap)
	return false
}

// snapshotLocked assembles the persistable state. Callers hold c.mu.
func (c *Client) snapshotLocked() domain.Snapshot {
	ignored := make(map[string][]string, len(c.ignored))
	for category, set := range c.ignored {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		ignored[category] = ids
	}

	alerts := make(map[string]domain.Alert, len(c.alerts))
	for key, alert := range c.alerts {
		alerts[key] = alert
	}

	return domain.Snapshot{
		Name:       c.name,
		Credential: c.credential,
		Ignored:    ignored,
		Alerts:     alerts,
	}
}
