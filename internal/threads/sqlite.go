package threads

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteDirectory implements Directory over an embedded SQLite database.
type SQLiteDirectory struct {
	db *sql.DB
}

// NewSQLiteDirectory opens (or creates) the database at path and ensures
// the schema exists. Pass ":memory:" for an ephemeral database.
func NewSQLiteDirectory(path string) (*SQLiteDirectory, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	d := &SQLiteDirectory{db: db}
	if err := d.init(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *SQLiteDirectory) init() error {
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_active_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create threads table: %w", err)
	}
	_, err = d.db.Exec(`
		CREATE TABLE IF NOT EXISTS thread_files (
			file_id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			added_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (file_id, thread_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("create thread_files table: %w", err)
	}
	_, err = d.db.Exec(`CREATE INDEX IF NOT EXISTS idx_thread_files_thread ON thread_files(thread_id)`)
	if err != nil {
		return fmt.Errorf("create thread_files index: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (d *SQLiteDirectory) Close() error {
	return d.db.Close()
}

// CreateThread inserts a thread row. Used by tests and provisioning tooling;
// the REST layer normally owns thread creation.
func (d *SQLiteDirectory) CreateThread(ctx context.Context, threadID, ownerID, title string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO threads (id, owner_id, title) VALUES (?, ?, ?)`,
		threadID, ownerID, title)
	return err
}

// AttachFile links an uploaded file to a thread.
func (d *SQLiteDirectory) AttachFile(ctx context.Context, threadID, fileID string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO thread_files (file_id, thread_id) VALUES (?, ?)`,
		fileID, threadID)
	return err
}

// Owns reports whether the user is the owner of the thread.
func (d *SQLiteDirectory) Owns(ctx context.Context, userID, threadID string) (bool, error) {
	if userID == "" || threadID == "" {
		return false, nil
	}
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM threads WHERE id = ? AND owner_id = ?`,
		threadID, userID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FilesForThread returns the file ids attached to the thread in the order
// they were added.
func (d *SQLiteDirectory) FilesForThread(ctx context.Context, threadID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT file_id FROM thread_files WHERE thread_id = ? ORDER BY added_at, file_id`,
		threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fileIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		fileIDs = append(fileIDs, id)
	}
	return fileIDs, rows.Err()
}

// TouchLastActive bumps the thread's last_active_at timestamp.
func (d *SQLiteDirectory) TouchLastActive(ctx context.Context, threadID string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE threads SET last_active_at = ? WHERE id = ?`,
		time.Now().UTC(), threadID)
	return err
}
