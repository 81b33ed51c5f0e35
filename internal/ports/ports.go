package ports

import (
	"context"

	"coursewatch/internal/domain"
	"coursewatch/internal/event"
)

// Gateway is the remote learning-management portal. One consistent contract
// version: the legacy markup variant with a session cookie per request.
type Gateway interface {
	// Validate checks a candidate credential and resolves the display name.
	// An empty name with a nil error means the credential was rejected.
	Validate(ctx context.Context, credential string) (string, error)
	FetchCourses(ctx context.Context, credential string) ([]domain.Course, error)
	FetchAssignments(ctx context.Context, credential string, course domain.Course) ([]domain.Assignment, error)
	// FetchAssignmentDetail augments one assignment from its detail page
	// (grade and feedback for rows the table leaves ambiguous).
	FetchAssignmentDetail(ctx context.Context, credential string, a domain.Assignment) (domain.Assignment, error)
}

// SnapshotStore persists session snapshots keyed by caller identity.
type SnapshotStore interface {
	Save(ctx context.Context, key string, snap domain.Snapshot) error
	Load(ctx context.Context) (map[string]domain.Snapshot, error)
	Delete(ctx context.Context, key string) error
}

// Notifier delivers dispatched summaries to the chat platform.
type Notifier interface {
	Send(ctx context.Context, d event.Dispatch) error
}
