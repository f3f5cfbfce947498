package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/teslashibe/go-idcapture/internal/log"
	"github.com/teslashibe/go-idcapture/pkg/capture"
)

//go:embed schema.sql
var schema string

const captureColumns = `seq, id, kind, side, image, image_lossy, file_name, file_type, file_size,
	pages, document_type, valid, created_at`

// SQLStore is a Store persisted in SQLite. All access goes through a
// single connection, so an in-memory database lives as long as the store.
type SQLStore struct {
	db     *sqlx.DB
	logger *slog.Logger

	// OnChange is called after every mutation with the affected kind.
	OnChange func(kind capture.Kind)
}

// OpenSQLite opens or creates the database at path. ":memory:" gives a
// private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000", path)
	if path != ":memory:" {
		dsn += "&_journal_mode=wal&_synchronous=normal"
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open capture database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialise capture schema: %w", err)
	}

	return &SQLStore{
		db:     db,
		logger: log.With("component", "store", "path", path),
	}, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type captureRow struct {
	Seq          int64          `db:"seq"`
	ID           string         `db:"id"`
	Kind         string         `db:"kind"`
	Side         string         `db:"side"`
	Image        string         `db:"image"`
	ImageLossy   string         `db:"image_lossy"`
	FileName     sql.NullString `db:"file_name"`
	FileType     sql.NullString `db:"file_type"`
	FileSize     sql.NullInt64  `db:"file_size"`
	Pages        int            `db:"pages"`
	DocumentType string         `db:"document_type"`
	Valid        int            `db:"valid"`
	CreatedAt    time.Time      `db:"created_at"`
}

func rowOf(kind capture.Kind, c capture.Capture) captureRow {
	r := captureRow{
		ID:           c.ID,
		Kind:         string(kind),
		Side:         string(c.Side),
		Image:        c.Image,
		ImageLossy:   c.ImageLossy,
		Pages:        c.Pages,
		DocumentType: c.DocumentType,
		Valid:        int(c.Valid),
		CreatedAt:    c.CreatedAt,
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if c.File != nil {
		r.FileName = sql.NullString{String: c.File.Name, Valid: true}
		r.FileType = sql.NullString{String: c.File.ContentType, Valid: true}
		r.FileSize = sql.NullInt64{Int64: c.File.Size, Valid: true}
	}
	return r
}

func (r captureRow) capture() capture.Capture {
	c := capture.Capture{
		ID:           r.ID,
		Kind:         capture.Kind(r.Kind),
		Side:         capture.Side(r.Side),
		Image:        r.Image,
		ImageLossy:   r.ImageLossy,
		Pages:        r.Pages,
		DocumentType: r.DocumentType,
		Valid:        capture.Validity(r.Valid),
		CreatedAt:    r.CreatedAt,
	}
	if r.FileName.Valid {
		c.File = &capture.File{
			Name:        r.FileName.String,
			ContentType: r.FileType.String,
			Size:        r.FileSize.Int64,
		}
	}
	return c
}

// SetCurrentCapture records the capture target.
func (s *SQLStore) SetCurrentCapture(kind capture.Kind, side capture.Side) error {
	stmt := `INSERT INTO current_capture (id, kind, side) VALUES (1, ?, ?)
	ON CONFLICT (id) DO UPDATE SET kind = excluded.kind, side = excluded.side`
	if _, err := s.db.Exec(stmt, kind, side); err != nil {
		return fmt.Errorf("set current capture: %w", err)
	}
	s.changed(kind)
	return nil
}

// CreateCapture appends c to the kind's list, trimming it the same way
// capture.List.Add does.
func (s *SQLStore) CreateCapture(kind capture.Kind, c capture.Capture, maxCaptures int) error {
	if !kind.Valid() {
		return capture.ErrUnknownKind
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin create capture: %w", err)
	}
	defer tx.Rollback()

	var rows []captureRow
	if err := tx.Select(&rows, `SELECT `+captureColumns+` FROM captures WHERE kind = ? ORDER BY seq`, kind); err != nil {
		return fmt.Errorf("query captures: %w", err)
	}
	existing := make(capture.List, 0, len(rows))
	for _, r := range rows {
		existing = append(existing, r.capture())
	}

	kept := existing.Add(c, maxCaptures)
	for _, old := range existing {
		if kept.Index(old.ID) >= 0 {
			continue
		}
		if _, err := tx.Exec(`DELETE FROM captures WHERE id = ?`, old.ID); err != nil {
			return fmt.Errorf("trim capture %s: %w", old.ID, err)
		}
	}

	stmt := `INSERT INTO captures (id, kind, side, image, image_lossy, file_name, file_type, file_size,
	pages, document_type, valid, created_at)
	VALUES (:id, :kind, :side, :image, :image_lossy, :file_name, :file_type, :file_size,
	:pages, :document_type, :valid, :created_at)`
	if _, err := tx.NamedExec(stmt, rowOf(kind, c)); err != nil {
		return fmt.Errorf("insert capture %s: %w", c.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit capture %s: %w", c.ID, err)
	}

	s.changed(kind)
	return nil
}

// ValidateCapture resolves the capture with id. It returns
// capture.ErrNotFound when the kind holds no such capture.
func (s *SQLStore) ValidateCapture(id string, valid bool, kind capture.Kind) error {
	res, err := s.db.Exec(`UPDATE captures SET valid = ? WHERE id = ? AND kind = ? AND valid = ?`,
		capture.ValidityOf(valid), id, kind, capture.Unknown)
	if err != nil {
		return fmt.Errorf("validate capture %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("validate capture %s: %w", id, err)
	}
	if n > 0 {
		s.changed(kind)
		return nil
	}

	var count int
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM captures WHERE id = ? AND kind = ?`, id, kind); err != nil {
		return fmt.Errorf("lookup capture %s: %w", id, err)
	}
	if count == 0 {
		return capture.ErrNotFound
	}
	return nil
}

// DeleteCaptures drops every capture of kind.
func (s *SQLStore) DeleteCaptures(kind capture.Kind) error {
	if _, err := s.db.Exec(`DELETE FROM captures WHERE kind = ?`, kind); err != nil {
		return fmt.Errorf("delete captures: %w", err)
	}
	s.changed(kind)
	return nil
}

// Current returns the last announced capture target.
func (s *SQLStore) Current() Current {
	var row struct {
		Kind string `db:"kind"`
		Side string `db:"side"`
	}
	err := s.db.Get(&row, `SELECT kind, side FROM current_capture WHERE id = 1`)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Current{}
	case err != nil:
		s.logger.Error("could not read current capture", "error", err)
		return Current{}
	}
	return Current{Kind: capture.Kind(row.Kind), Side: capture.Side(row.Side)}
}

// Captures returns the kind's captures, oldest first. Read errors are
// logged and yield an empty list.
func (s *SQLStore) Captures(kind capture.Kind) capture.List {
	var rows []captureRow
	if err := s.db.Select(&rows, `SELECT `+captureColumns+` FROM captures WHERE kind = ? ORDER BY seq`, kind); err != nil {
		s.logger.Error("could not read captures", "kind", kind, "error", err)
		return nil
	}
	var list capture.List
	for _, r := range rows {
		list = append(list, r.capture())
	}
	return list
}

// Get returns the capture with id.
func (s *SQLStore) Get(id string) (capture.Capture, error) {
	var row captureRow
	err := s.db.Get(&row, `SELECT `+captureColumns+` FROM captures WHERE id = ?`, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return capture.Capture{}, capture.ErrNotFound
	case err != nil:
		return capture.Capture{}, fmt.Errorf("get capture %s: %w", id, err)
	}
	return row.capture(), nil
}

func (s *SQLStore) changed(kind capture.Kind) {
	if s.OnChange != nil {
		s.OnChange(kind)
	}
}
