package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const DefaultMaxAttempts = 3

// Task is one unit of at-least-once work. Attempt counts finished executions.
type Task struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	EntityID    string          `json:"entity_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

func NewTask(typ, entityID string, payload any) (Task, error) {
	t := Task{
		ID:          uuid.NewString(),
		Type:        typ,
		EntityID:    entityID,
		MaxAttempts: DefaultMaxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Task{}, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		t.Payload = b
	}
	return t, nil
}

func (t Task) Decode(out any) error {
	if len(t.Payload) == 0 {
		return fmt.Errorf("task %s: empty payload", t.ID)
	}
	if err := json.Unmarshal(t.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", t.Type, err)
	}
	return nil
}

// Enqueuer is what producers of tasks depend on.
type Enqueuer interface {
	Enqueue(ctx context.Context, t Task, delay time.Duration) error
}

// Source is the consumer side used by Runner.
type Source interface {
	Enqueuer
	// Dequeue returns nil, nil when nothing is due.
	Dequeue(ctx context.Context) (*Task, error)
	Complete(ctx context.Context, t Task) error
	Reschedule(ctx context.Context, t Task, delay time.Duration) error
}

// Dispatch builds and enqueues a task in one call.
func Dispatch(ctx context.Context, q Enqueuer, typ, entityID string, payload any, delay time.Duration) error {
	t, err := NewTask(typ, entityID, payload)
	if err != nil {
		return err
	}
	if err := q.Enqueue(ctx, t, delay); err != nil {
		return fmt.Errorf("enqueue %s %s: %w", typ, entityID, err)
	}
	return nil
}
