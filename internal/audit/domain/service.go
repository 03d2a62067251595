package domain

import "context"

// Service appends audit entries. Entries are never updated or deleted.
type Service interface {
	AuditLog(ctx context.Context, actorType ActorType, actorID string, action, targetType, targetID string, metadata map[string]any) error
}
