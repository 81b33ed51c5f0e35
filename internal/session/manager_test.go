package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"coursewatch/internal/domain"
	"coursewatch/internal/event"
)

type fakeGateway struct {
	mu            sync.Mutex
	name          string
	validateErr   error
	validateCalls int

	courses      []domain.Course
	coursesErr   error
	coursesCalls int

	assignments []domain.Assignment
	details     map[string]domain.Assignment
	detailCalls int

	// Detail-fetch concurrency instrumentation.
	detailDelay    time.Duration
	detailInflight atomic.Int64
	detailPeak     atomic.Int64
	detailDone     atomic.Int64
	detailStarts   []int64 // detailDone observed as each call starts
}

func (f *fakeGateway) Validate(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validateCalls++
	return f.name, f.validateErr
}

func (f *fakeGateway) FetchCourses(context.Context, string) ([]domain.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coursesCalls++
	return f.courses, f.coursesErr
}

func (f *fakeGateway) FetchAssignments(context.Context, string, domain.Course) ([]domain.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assignments, nil
}

func (f *fakeGateway) FetchAssignmentDetail(_ context.Context, _ string, a domain.Assignment) (domain.Assignment, error) {
	cur := f.detailInflight.Add(1)
	for {
		peak := f.detailPeak.Load()
		if cur <= peak || f.detailPeak.CompareAndSwap(peak, cur) {
			break
		}
	}

	f.mu.Lock()
	f.detailCalls++
	f.detailStarts = append(f.detailStarts, f.detailDone.Load())
	detailed, ok := f.details[a.ID]
	delay := f.detailDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	f.detailDone.Add(1)
	f.detailInflight.Add(-1)

	if ok {
		return detailed, nil
	}
	return a, nil
}

func (f *fakeGateway) setValidation(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.name = name
	f.validateErr = err
}

func (f *fakeGateway) counts() (validate, courses, details int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validateCalls, f.coursesCalls, f.detailCalls
}

func testOptions() Options {
	return Options{
		KeepAliveInterval:     5 * time.Millisecond,
		KeepAliveFailureLimit: 5,
		RetryAttempts:         2,
		RetryDelay:            time.Millisecond,
		Location:              time.UTC,
	}
}

func newTestClient(gw *fakeGateway) *Client {
	return NewClient("guild:user", gw, event.NewHub(nil), nil, testOptions())
}

func TestImportSuccessAndFailure(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{name: "Jane Doe"}
	c := newTestClient(gw)
	defer c.Close()

	persisted := 0
	var last domain.Snapshot
	c.Hub().OnPersist(func(snap domain.Snapshot) {
		persisted++
		last = snap
	})

	if !c.Import(context.Background(), "SESS=abc") {
		t.Fatal("valid credential should import")
	}
	if c.Name() != "Jane Doe" {
		t.Fatalf("unexpected name: %q", c.Name())
	}
	if !c.Authenticated() {
		t.Fatal("session should be authenticated")
	}
	if persisted != 1 {
		t.Fatalf("import should persist once, got %d", persisted)
	}

	gw.setValidation("", nil)
	if c.Import(context.Background(), "SESS=rejected") {
		t.Fatal("rejected credential should not import")
	}
	if c.Authenticated() {
		t.Fatal("failed import should clear the credential")
	}
	if persisted != 2 {
		t.Fatalf("a failed import over a live session must persist, got %d", persisted)
	}
	if last.Credential != "" {
		t.Fatal("the persisted snapshot must not retain the stale credential")
	}
	if last.Name != "" {
		t.Fatalf("the persisted snapshot must not retain the stale name, got %q", last.Name)
	}
}

func TestUnauthenticatedAccessFailsFast(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	c := newTestClient(gw)
	defer c.Close()

	_, err := c.GetAllCourses(context.Background(), time.Hour, time.Hour)
	if !errors.Is(err, domain.ErrNoClient) {
		t.Fatalf("expected ErrNoClient, got %v", err)
	}
	if _, courses, _ := gw.counts(); courses != 0 {
		t.Fatal("the guard must trip before any network call")
	}
}

func TestGetAllCoursesFilterAndOrdinals(t *testing.T) {
	t.Parallel()

	now := time.Now()
	gw := &fakeGateway{
		name: "Jane Doe",
		courses: []domain.Course{
			{ID: "A", Name: "Algebra", UpdatedAt: now.Add(-10 * 24 * time.Hour)},
			{ID: "B", Name: "Biology", UpdatedAt: now.Add(-400 * 24 * time.Hour)},
		},
	}
	c := newTestClient(gw)
	defer c.Close()
	if !c.Import(context.Background(), "SESS=abc") {
		t.Fatal("import failed")
	}

	ordinals, err := c.GetAllCourses(context.Background(), 30*24*time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("GetAllCourses error: %v", err)
	}
	if len(ordinals) != 1 {
		t.Fatalf("expected the stale course filtered out, got %d", len(ordinals))
	}
	if ordinals[1].ID != "A" {
		t.Fatalf("ordinal numbering should restart at #1, got %+v", ordinals)
	}

	// A wider age filter over the same cached snapshot exposes both.
	ordinals, err = c.GetAllCourses(context.Background(), 2*365*24*time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("GetAllCourses error: %v", err)
	}
	if len(ordinals) != 2 || ordinals[2].ID != "B" {
		t.Fatalf("expected both courses, got %+v", ordinals)
	}

	if _, courses, _ := gw.counts(); courses != 1 {
		t.Fatalf("second read should hit the cache, got %d fetches", courses)
	}

	c.InvalidateCourses()
	if _, err := c.GetAllCourses(context.Background(), time.Hour*24*30, time.Hour); err != nil {
		t.Fatalf("GetAllCourses error: %v", err)
	}
	if _, courses, _ := gw.counts(); courses != 2 {
		t.Fatalf("invalidation should force a refetch, got %d fetches", courses)
	}
}

func TestGetAllCoursesEmptyTriggersExtraCycle(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{name: "Jane Doe", courses: nil}
	c := newTestClient(gw)
	defer c.Close()
	if !c.Import(context.Background(), "SESS=abc") {
		t.Fatal("import failed")
	}

	ordinals, err := c.GetAllCourses(context.Background(), time.Hour, 0)
	if err != nil {
		t.Fatalf("a genuinely empty portal is not an error: %v", err)
	}
	if len(ordinals) != 0 {
		t.Fatalf("expected no courses, got %d", len(ordinals))
	}

	// Two retry cycles of two attempts each.
	if _, courses, _ := gw.counts(); courses != 4 {
		t.Fatalf("expected 4 fetch attempts across both cycles, got %d", courses)
	}
}

func TestResolveDetailsAugmentsAmbiguousRows(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		name: "Jane Doe",
		assignments: []domain.Assignment{
			{ID: "a1", Position: 1, Status: domain.StatusPastDue, URL: "/assignment/a1"},
			{ID: "a2", Position: 2, Status: domain.StatusUpcoming, URL: "/assignment/a2"},
		},
		details: map[string]domain.Assignment{
			"a1": {ID: "a1", Position: 1, Status: domain.StatusGraded, URL: "/assignment/a1",
				Grade: &domain.Grade{Score: 9, Possible: 10, Percent: 90}},
		},
	}
	c := newTestClient(gw)
	defer c.Close()
	if !c.Import(context.Background(), "SESS=abc") {
		t.Fatal("import failed")
	}

	assignments, err := c.GetAllAssignments(context.Background(), domain.Course{ID: "c1"}, AssignmentOptions{ResolveDetails: true})
	if err != nil {
		t.Fatalf("GetAllAssignments error: %v", err)
	}
	if assignments[0].Status != domain.StatusGraded {
		t.Fatalf("past-due row should be resolved from its detail page, got %s", assignments[0].Status)
	}
	if _, _, details := gw.counts(); details != 1 {
		t.Fatalf("only the ambiguous row should be detail-fetched, got %d", details)
	}
}

func TestResolveDetailsCapsAndDrainsWindows(t *testing.T) {
	t.Parallel()

	assignments := make([]domain.Assignment, 0, 7)
	for i := 1; i <= 7; i++ {
		id := fmt.Sprintf("a%d", i)
		assignments = append(assignments, domain.Assignment{
			ID:       id,
			Position: i,
			Status:   domain.StatusPastDue,
			URL:      "/assignment/" + id,
		})
	}
	gw := &fakeGateway{
		name:        "Jane Doe",
		assignments: assignments,
		detailDelay: 10 * time.Millisecond,
	}
	c := newTestClient(gw)
	defer c.Close()
	if !c.Import(context.Background(), "SESS=abc") {
		t.Fatal("import failed")
	}

	if _, err := c.GetAllAssignments(context.Background(), domain.Course{ID: "c1"}, AssignmentOptions{ResolveDetails: true}); err != nil {
		t.Fatalf("GetAllAssignments error: %v", err)
	}

	if _, _, details := gw.counts(); details != 7 {
		t.Fatalf("every ambiguous row should be detail-fetched, got %d", details)
	}
	if peak := gw.detailPeak.Load(); peak > 5 {
		t.Fatalf("at most 5 detail fetches may be in flight, saw %d", peak)
	}

	// The second window holds the two remaining rows, and each of them must
	// start only after all 5 first-window fetches have completed.
	gw.mu.Lock()
	starts := slices.Clone(gw.detailStarts)
	gw.mu.Unlock()
	afterFirstWindow := 0
	for _, done := range starts {
		if done >= 5 {
			afterFirstWindow++
		}
	}
	if afterFirstWindow != 2 {
		t.Fatalf("expected exactly 2 fetches to start after the first window drained, got %d (starts %v)", afterFirstWindow, starts)
	}
}

func TestFreshCourseFetchPersists(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		name:    "Jane Doe",
		courses: []domain.Course{{ID: "A", Name: "Algebra", UpdatedAt: time.Now()}},
	}
	c := newTestClient(gw)
	defer c.Close()

	persisted := 0
	c.Hub().OnPersist(func(domain.Snapshot) { persisted++ })

	if !c.Import(context.Background(), "SESS=abc") {
		t.Fatal("import failed")
	}
	if persisted != 1 {
		t.Fatalf("import should persist once, got %d", persisted)
	}

	if _, err := c.GetAllCourses(context.Background(), time.Hour, time.Hour); err != nil {
		t.Fatalf("GetAllCourses error: %v", err)
	}
	if persisted != 2 {
		t.Fatalf("a fresh collection fetch should persist, got %d", persisted)
	}

	if _, err := c.GetAllCourses(context.Background(), time.Hour, time.Hour); err != nil {
		t.Fatalf("GetAllCourses error: %v", err)
	}
	if persisted != 2 {
		t.Fatalf("a cache hit must not persist, got %d", persisted)
	}

	c.InvalidateCourses()
	if _, err := c.GetAllCourses(context.Background(), time.Hour, time.Hour); err != nil {
		t.Fatalf("GetAllCourses error: %v", err)
	}
	if persisted != 3 {
		t.Fatalf("a refetch after invalidation should persist, got %d", persisted)
	}
}

func TestRecentlyGradedScoreSnapshotDiff(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		name: "Jane Doe",
		assignments: []domain.Assignment{
			{ID: "a1", Position: 1, Status: domain.StatusGraded, Grade: &domain.Grade{Score: 85, Possible: 100, Percent: 85}},
			{ID: "a2", Position: 2, Status: domain.StatusUpcoming},
		},
	}
	c := newTestClient(gw)
	defer c.Close()
	if !c.Import(context.Background(), "SESS=abc") {
		t.Fatal("import failed")
	}
	course := domain.Course{ID: "c1"}

	fresh, err := c.RecentlyGraded(context.Background(), course)
	if err != nil {
		t.Fatalf("RecentlyGraded error: %v", err)
	}
	if len(fresh) != 1 || fresh[0].ID != "a1" {
		t.Fatalf("first sighting of a score counts as newly graded: %+v", fresh)
	}

	fresh, err = c.RecentlyGraded(context.Background(), course)
	if err != nil {
		t.Fatalf("RecentlyGraded error: %v", err)
	}
	if len(fresh) != 0 {
		t.Fatalf("unchanged scores must not re-report: %+v", fresh)
	}

	gw.mu.Lock()
	gw.assignments[0].Grade = &domain.Grade{Score: 92, Possible: 100, Percent: 92}
	gw.mu.Unlock()

	fresh, err = c.RecentlyGraded(context.Background(), course)
	if err != nil {
		t.Fatalf("RecentlyGraded error: %v", err)
	}
	if len(fresh) != 1 || fresh[0].Grade.Score != 92 {
		t.Fatalf("a changed score is a new delta: %+v", fresh)
	}
}

func TestKeepAliveExpiryFiresOnce(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{name: "Jane Doe"}
	c := newTestClient(gw)
	defer c.Close()

	expired := 0
	var mu sync.Mutex
	c.Hub().OnExpired(func() {
		mu.Lock()
		expired++
		mu.Unlock()
	})

	if !c.Import(context.Background(), "SESS=abc") {
		t.Fatal("import failed")
	}

	gw.setValidation("", errors.New("portal down"))

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := expired
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expiry never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if c.Authenticated() {
		t.Fatal("expiry must clear the credential")
	}

	// The timer is cancelled, so no further ticks and no second signal.
	validatesAtExpiry, _, _ := gw.counts()
	time.Sleep(50 * time.Millisecond)
	validatesLater, _, _ := gw.counts()
	if validatesLater != validatesAtExpiry {
		t.Fatalf("keep-alive kept ticking after expiry: %d -> %d", validatesAtExpiry, validatesLater)
	}

	mu.Lock()
	n := expired
	mu.Unlock()
	if n != 1 {
		t.Fatalf("expired must fire exactly once, got %d", n)
	}
}
