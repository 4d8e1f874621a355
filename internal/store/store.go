package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/shield"
)

// ErrNotFound is returned when no stored version matches.
var ErrNotFound = errors.New("shield version not found")

// timeLayout is fixed-width so created_at sorts chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS shield_versions (
	version_id    TEXT PRIMARY KEY,
	parent_id     TEXT,
	fingerprint   TEXT NOT NULL,
	spec          TEXT,
	field_order   TEXT NOT NULL,
	entries       BLOB NOT NULL,
	states        INTEGER NOT NULL,
	created_at    TEXT NOT NULL,
	report_json   TEXT,
	FOREIGN KEY (parent_id) REFERENCES shield_versions(version_id)
);

CREATE INDEX IF NOT EXISTS idx_shield_versions_fingerprint
	ON shield_versions(fingerprint, created_at);

CREATE TABLE IF NOT EXISTS build_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	version_id    TEXT,
	fingerprint   TEXT,
	trigger_type  TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	reason        TEXT,
	counts_json   TEXT,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS active_shield (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	version_id    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES shield_versions(version_id)
);
`

// #endregion schema

// #region store-struct
// Store persists built shield tables in SQLite so an unchanged world and
// safety spec never pay for a second verifier run.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an already migrated database.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema on db.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region save
// SaveTable inserts a table as a new version whose parent is the current
// active version, then makes it active.
func (s *Store) SaveTable(t *shield.Table, report shield.Report) (ShieldRecord, error) {
	meta := t.Meta()
	entries, err := json.Marshal(t.Entries())
	if err != nil {
		return ShieldRecord{}, fmt.Errorf("marshal entries: %w", err)
	}
	order, err := json.Marshal(meta.Order)
	if err != nil {
		return ShieldRecord{}, fmt.Errorf("marshal field order: %w", err)
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return ShieldRecord{}, fmt.Errorf("marshal report: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return ShieldRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var parent sql.NullString
	err = tx.QueryRow(`SELECT version_id FROM active_shield WHERE id = 1`).Scan(&parent)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return ShieldRecord{}, fmt.Errorf("get active: %w", err)
	}
	if parent.String == meta.ID {
		parent = sql.NullString{}
	}

	_, err = tx.Exec(
		`INSERT INTO shield_versions (version_id, parent_id, fingerprint, spec, field_order, entries, states, created_at, report_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.ID, parent, meta.Fingerprint, nullIfEmpty(meta.Spec), string(order), entries, t.Len(),
		meta.CreatedAt.UTC().Format(timeLayout), string(reportJSON),
	)
	if err != nil {
		return ShieldRecord{}, fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO active_shield (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		meta.ID,
	)
	if err != nil {
		return ShieldRecord{}, fmt.Errorf("set active: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ShieldRecord{}, fmt.Errorf("commit: %w", err)
	}

	return ShieldRecord{
		VersionID:   meta.ID,
		ParentID:    parent.String,
		Fingerprint: meta.Fingerprint,
		Spec:        meta.Spec,
		Order:       meta.Order,
		States:      t.Len(),
		CreatedAt:   meta.CreatedAt,
		ReportJSON:  string(reportJSON),
	}, nil
}

// #endregion save

// #region load
// LoadTable rebuilds the stored table with its original id and metadata.
func (s *Store) LoadTable(id string) (*shield.Table, error) {
	rec, blob, err := s.getVersion(id)
	if err != nil {
		return nil, err
	}
	var entries []shield.Entry
	if err := json.Unmarshal(blob, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal entries: %w", err)
	}
	t, err := shield.NewTable(shield.Meta{
		ID:          rec.VersionID,
		Fingerprint: rec.Fingerprint,
		Spec:        rec.Spec,
		Order:       rec.Order,
		CreatedAt:   rec.CreatedAt,
	}, entries)
	if err != nil {
		return nil, fmt.Errorf("rebuild table %s: %w", id, err)
	}
	return t, nil
}

// FindByFingerprint loads the newest table built for fingerprint.
func (s *Store) FindByFingerprint(fingerprint string) (*shield.Table, error) {
	var id string
	err := s.db.QueryRow(
		`SELECT version_id FROM shield_versions WHERE fingerprint = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, fingerprint,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find fingerprint: %w", err)
	}
	return s.LoadTable(id)
}

// #endregion load

// #region get-version
// GetVersion returns the metadata of one stored version.
func (s *Store) GetVersion(id string) (ShieldRecord, error) {
	rec, _, err := s.getVersion(id)
	return rec, err
}

func (s *Store) getVersion(id string) (ShieldRecord, []byte, error) {
	var blob []byte
	row := s.db.QueryRow(
		`SELECT version_id, parent_id, fingerprint, spec, field_order, states, created_at, report_json, entries
		 FROM shield_versions WHERE version_id = ?`, id,
	)
	rec, err := scanRecord(row, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return ShieldRecord{}, nil, fmt.Errorf("get version %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ShieldRecord{}, nil, fmt.Errorf("get version %s: %w", id, err)
	}
	return rec, blob, nil
}

// GetActive returns the active version.
func (s *Store) GetActive() (ShieldRecord, error) {
	var id string
	err := s.db.QueryRow(`SELECT version_id FROM active_shield WHERE id = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ShieldRecord{}, fmt.Errorf("get active: %w", ErrNotFound)
	}
	if err != nil {
		return ShieldRecord{}, fmt.Errorf("get active: %w", err)
	}
	return s.GetVersion(id)
}

// #endregion get-version

// #region activate
// Activate points the active pointer at a previously stored version.
func (s *Store) Activate(id string) error {
	var exists int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM shield_versions WHERE version_id = ?`, id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("activate %s: %w", id, ErrNotFound)
	}

	_, err = s.db.Exec(
		`INSERT INTO active_shield (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`, id,
	)
	if err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	return nil
}

// #endregion activate

// #region list-versions
// ListVersions returns the most recent versions without their entries.
func (s *Store) ListVersions(limit int) ([]ShieldRecord, error) {
	rows, err := s.db.Query(
		`SELECT version_id, parent_id, fingerprint, spec, field_order, states, created_at, report_json, NULL
		 FROM shield_versions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var records []ShieldRecord
	for rows.Next() {
		var blob []byte
		rec, err := scanRecord(rows, &blob)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion list-versions

// #region build-log
// ListBuilds returns the most recent build_log rows.
func (s *Store) ListBuilds(limit int) ([]BuildRow, error) {
	rows, err := s.db.Query(
		`SELECT id, version_id, fingerprint, trigger_type, outcome, reason, counts_json, created_at
		 FROM build_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	defer rows.Close()

	var out []BuildRow
	for rows.Next() {
		var r BuildRow
		var versionID, fingerprint, reason, counts sql.NullString
		var created string
		if err := rows.Scan(&r.ID, &versionID, &fingerprint, &r.Trigger, &r.Outcome, &reason, &counts, &created); err != nil {
			return nil, fmt.Errorf("scan build row: %w", err)
		}
		r.VersionID = versionID.String
		r.Fingerprint = fingerprint.String
		r.Reason = reason.String
		r.CountsJSON = counts.String
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// #endregion build-log

// #region helpers
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner, blob *[]byte) (ShieldRecord, error) {
	var rec ShieldRecord
	var parentID, spec, report sql.NullString
	var orderJSON, createdStr string
	if err := sc.Scan(&rec.VersionID, &parentID, &rec.Fingerprint, &spec, &orderJSON,
		&rec.States, &createdStr, &report, blob); err != nil {
		return ShieldRecord{}, err
	}
	rec.ParentID = parentID.String
	rec.Spec = spec.String
	rec.ReportJSON = report.String
	if err := json.Unmarshal([]byte(orderJSON), &rec.Order); err != nil {
		return ShieldRecord{}, fmt.Errorf("unmarshal field order: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
