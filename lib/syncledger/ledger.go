package syncledger

import (
	"context"
	"database/sql"
	"fmt"
	"lmsync-backend/lib/timezone"
)

// Store is the durable record of which events have already been
// mirrored to the external calendar, plus a per-user snapshot of
// everything observed on the last pass.
//
// synced_events is append-only: rows are never mutated or deleted
// here. check_log is overwritten wholesale each pass.
type Store struct {
	db *sql.DB
}

func NewStore(database *sql.DB) Store {
	return Store{db: database}
}

// Has reports whether (user, eventId) was already synced. Any store
// error is returned as-is: callers must treat it as fatal for the
// user's pass rather than as "not a duplicate".
func (s Store) Has(ctx context.Context, user, eventId string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT 1 FROM synced_events WHERE user = ? AND event_id = ?`,
		user, eventId,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger membership check: %w", err)
	}
	return true, nil
}

// Record appends a synced (user, eventId) pair. Recording the same
// pair twice is not an error, the first write wins.
func (s Store) Record(ctx context.Context, user, eventId string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO synced_events (user, event_id, synced_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (user, event_id) DO NOTHING`,
		user, eventId, timezone.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("ledger append: %w", err)
	}
	return nil
}

// CheckEvent is one row of the per-pass snapshot, mirroring the raw
// fields observed on the portal.
type CheckEvent struct {
	EventId    string
	CourseId   string
	Title      string
	EventType  string
	EventOpen  string
	EventClose string
}

// WriteCheckLog replaces the user's snapshot with the events seen
// this pass, in one transaction.
func (s Store) WriteCheckLog(ctx context.Context, user string, events []CheckEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `DELETE FROM check_log WHERE user = ?`, user)
	if err != nil {
		return err
	}

	seenAt := timezone.Now().Unix()
	for _, ev := range events {
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO check_log
			 (user, event_id, course_id, title, event_type, event_open, event_close, seen_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			user, ev.EventId, ev.CourseId, ev.Title, ev.EventType,
			ev.EventOpen, ev.EventClose, seenAt,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ReadCheckLog returns the user's snapshot from the last pass.
func (s Store) ReadCheckLog(ctx context.Context, user string) ([]CheckEvent, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT event_id, course_id, title, event_type, event_open, event_close
		 FROM check_log WHERE user = ? ORDER BY rowid`,
		user,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []CheckEvent
	for rows.Next() {
		var ev CheckEvent
		err = rows.Scan(
			&ev.EventId, &ev.CourseId, &ev.Title,
			&ev.EventType, &ev.EventOpen, &ev.EventClose,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
