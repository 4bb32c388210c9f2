package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/safewatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if dsn == ":memory:" {
		// Every pooled connection would otherwise get its own database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Open opens and migrates the store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	st, err := NewSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pending_contacts (
	id             TEXT PRIMARY KEY,
	op             TEXT NOT NULL,
	contact        TEXT NOT NULL,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 0,
	last_error     TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_pending_contacts_created_at ON pending_contacts(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) getJSON(ctx context.Context, key string, out any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: get %s", key)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, eris.Wrapf(err, "sqlite: unmarshal %s", key)
	}
	return true, nil
}

func (s *SQLiteStore) putJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal %s", key)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: put %s", key)
}

func (s *SQLiteStore) deleteKey(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return eris.Wrapf(err, "sqlite: delete %s", key)
}

func (s *SQLiteStore) GetCredentials(ctx context.Context) (*model.SessionCredentials, error) {
	var creds model.SessionCredentials
	ok, err := s.getJSON(ctx, KeyCredentials, &creds)
	if err != nil || !ok {
		return nil, err
	}
	return &creds, nil
}

func (s *SQLiteStore) SaveCredentials(ctx context.Context, creds model.SessionCredentials) error {
	return s.putJSON(ctx, KeyCredentials, creds)
}

func (s *SQLiteStore) ClearCredentials(ctx context.Context) error {
	return s.deleteKey(ctx, KeyCredentials)
}

func (s *SQLiteStore) GetContacts(ctx context.Context) ([]model.EmergencyContact, bool, error) {
	var contacts []model.EmergencyContact
	ok, err := s.getJSON(ctx, KeyContacts, &contacts)
	if err != nil {
		return nil, false, err
	}
	return contacts, ok, nil
}

func (s *SQLiteStore) SaveContacts(ctx context.Context, contacts []model.EmergencyContact) error {
	if contacts == nil {
		contacts = []model.EmergencyContact{}
	}
	return s.putJSON(ctx, KeyContacts, contacts)
}

func (s *SQLiteStore) GetNotificationSettings(ctx context.Context) (model.NotificationSettings, error) {
	settings := model.DefaultNotificationSettings()
	if _, err := s.getJSON(ctx, KeySettings, &settings); err != nil {
		return model.DefaultNotificationSettings(), err
	}
	return settings, nil
}

func (s *SQLiteStore) SaveNotificationSettings(ctx context.Context, settings model.NotificationSettings) error {
	return s.putJSON(ctx, KeySettings, settings)
}

func (s *SQLiteStore) EnqueuePending(ctx context.Context, p model.PendingContactChange) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	contactJSON, err := json.Marshal(p.Contact)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal pending contact")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_contacts (id, op, contact, retry_count, max_retries, last_error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.Op), string(contactJSON), p.RetryCount, p.MaxRetries, p.LastError, p.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: enqueue pending contact")
}

func (s *SQLiteStore) ListPending(ctx context.Context) ([]model.PendingContactChange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, op, contact, retry_count, max_retries, last_error, created_at, last_failed_at
		 FROM pending_contacts ORDER BY created_at, rowid`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending contacts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PendingContactChange
	for rows.Next() {
		var (
			p           model.PendingContactChange
			op          string
			contactJSON string
			lastFailed  sql.NullTime
		)
		if err := rows.Scan(&p.ID, &op, &contactJSON, &p.RetryCount, &p.MaxRetries, &p.LastError, &p.CreatedAt, &lastFailed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pending contact")
		}
		if err := json.Unmarshal([]byte(contactJSON), &p.Contact); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal pending contact")
		}
		p.Op = model.ContactOp(op)
		if lastFailed.Valid {
			p.LastFailedAt = lastFailed.Time
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate pending contacts")
}

func (s *SQLiteStore) UpdatePending(ctx context.Context, p model.PendingContactChange) error {
	contactJSON, err := json.Marshal(p.Contact)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal pending contact")
	}
	var lastFailed sql.NullTime
	if !p.LastFailedAt.IsZero() {
		lastFailed = sql.NullTime{Time: p.LastFailedAt, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_contacts SET op = ?, contact = ?, retry_count = ?, last_error = ?, last_failed_at = ?
		 WHERE id = ?`,
		string(p.Op), string(contactJSON), p.RetryCount, p.LastError, lastFailed, p.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update pending contact %s", p.ID)
	}
	return checkRowsAffected(res, "pending contact", p.ID)
}

func (s *SQLiteStore) DeletePending(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_contacts WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: delete pending contact %s", id)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
