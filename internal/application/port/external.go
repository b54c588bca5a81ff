package port

import "context"

// Directory answers identity questions for approver resolution
type Directory interface {
	// UsersInRole returns the users holding a role, in a stable order
	UsersInRole(ctx context.Context, role string) ([]string, error)

	// ReportingManager returns the manager of a user, or "" when none is known
	ReportingManager(ctx context.Context, userID string) (string, error)
}
