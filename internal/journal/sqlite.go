package journal

import (
	"context"
	"database/sql"
	"time"
)

// SQLiteStore stores operation events in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements the interface.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore prepares the schema on db and returns the store. The
// caller owns db; pass one opened with the modernc.org/sqlite driver.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS operation_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			operation_id TEXT NOT NULL,
			at INTEGER NOT NULL,
			type TEXT NOT NULL,
			operation_name TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_operation_events_operation_id ON operation_events(operation_id, id);
	`)
	return err
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, ev Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operation_events (operation_id, at, type, operation_name, detail)
		VALUES (?, ?, ?, ?, ?)`,
		ev.OperationID,
		at.UnixNano(),
		string(ev.Type),
		ev.OperationName,
		ev.Detail,
	)
	return err
}

func (s *SQLiteStore) ListEvents(ctx context.Context, operationID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT operation_id, at, type, operation_name, detail
		FROM operation_events
		WHERE operation_id = ?
		ORDER BY id ASC`, operationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			id     string
			atN    int64
			typ    string
			name   string
			detail string
		)
		if err := rows.Scan(&id, &atN, &typ, &name, &detail); err != nil {
			return nil, err
		}
		out = append(out, Event{
			OperationID:   id,
			At:            time.Unix(0, atN),
			Type:          EventType(typ),
			OperationName: name,
			Detail:        detail,
		})
	}
	return out, rows.Err()
}
