package library

import (
	"context"
	"time"
)

// Event types recorded for generation runs.
const (
	EventQueued    = "generation.queued"
	EventStarted   = "generation.started"
	EventCompleted = "generation.completed"
	EventFailed    = "generation.failed"
	EventCancelled = "generation.cancelled"
)

// Event is one entry of an item's generation history.
type Event struct {
	ID        int64     `json:"id"`
	ItemID    string    `json:"item_id"`
	JobID     string    `json:"job_id,omitempty"`
	Chapter   int       `json:"chapter"`
	Type      string    `json:"type"`
	Payload   []byte    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendEvent writes an event into the history.
func (l *Library) AppendEvent(ctx context.Context, evt Event) error {
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = l.clock().UTC()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO events(item_id, job_id, chapter, event_type, payload, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		evt.ItemID, evt.JobID, evt.Chapter, evt.Type, evt.Payload, evt.CreatedAt.UnixNano())
	return err
}

// ListEvents retrieves up to limit events for an item ordered ascending by time.
func (l *Library) ListEvents(ctx context.Context, itemID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, item_id, job_id, chapter, event_type, payload, created_at
		 FROM events WHERE item_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created int64
		var jobID *string
		if err := rows.Scan(&e.ID, &e.ItemID, &jobID, &e.Chapter, &e.Type, &e.Payload, &created); err != nil {
			return nil, err
		}
		if jobID != nil {
			e.JobID = *jobID
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}
