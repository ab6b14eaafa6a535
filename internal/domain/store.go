package domain

import "context"

// TaskStore is a durable mirror of controller task records. The controller
// writes through it and never reads authoritative state back at runtime.
type TaskStore interface {
	Save(ctx context.Context, rec *TaskRecord) error
	Get(ctx context.Context, id string) (*TaskRecord, error)
	List(ctx context.Context, limit int) ([]TaskRecord, error)
	Close() error
}
