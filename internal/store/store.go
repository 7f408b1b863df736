// Package store implements C7 (§4.7): the SQLite-backed review-state store.
// Grounded on state_db.py's per-call connect/init/close shape and its
// drop-and-rebuild schema versioning, adapted to Go's database/sql plus
// modernc.org/sqlite the way internal/sync/state.go in the pack's OneDrive
// client opens and configures a pure-Go SQLite connection.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
	"github.com/pkg/errors"

	"github.com/dariosky/limsync/internal/model"
	"github.com/dariosky/limsync/internal/pathnorm"
	"github.com/dariosky/limsync/internal/version"
)

// Summary is the scan-pair metadata persisted alongside current_diffs,
// mirroring state_db.py's ScanStateSummary.
type Summary struct {
	SourceEndpoint      string
	DestinationEndpoint string
	SourceScanSeconds   float64
	DestScanSeconds     float64
	SourceFiles         int
	DestFiles           int
	ComparedPaths       int
	OnlyLeft            int
	OnlyRight           int
	DifferentContent    int
	Uncertain           int
	MetadataOnly        int
}

// Store is a handle to a review-state database path. Each public method
// opens its own connection, does its work in a single transaction, and
// closes before returning, per §4.7's durability contract: "each public
// writer opens its own connection ... then closes".
type Store struct {
	path string
}

// New returns a Store bound to path. No connection is opened until a method
// is called.
func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) connect() (*sql.DB, error) {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "unable to create state db directory")
		}
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open state db")
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// initSchema ensures the limsync.version sentinel matches version.Version,
// dropping and recreating every user object first if it doesn't (or is
// absent), then (re)creates the rest of the schema if missing.
func initSchema(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return errors.Wrap(err, "unable to set WAL journal mode")
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS limsync (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return errors.Wrap(err, "unable to create version sentinel table")
	}

	var current string
	err := db.QueryRow(`SELECT value FROM limsync WHERE key = 'version'`).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, "unable to read schema version")
	}
	if current != version.Version {
		if err := dropAllUserObjects(db); err != nil {
			return err
		}
		if _, err := db.Exec(`CREATE TABLE limsync (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
			return errors.Wrap(err, "unable to recreate version sentinel table")
		}
		if _, err := db.Exec(`INSERT INTO limsync(key, value) VALUES ('version', ?)`, version.Version); err != nil {
			return errors.Wrap(err, "unable to stamp schema version")
		}
	}

	return createTables(db)
}

// dropAllUserObjects drops every non-sqlite_* object, views and triggers
// first, then indexes, then tables, the ordering state_db.py's
// _drop_all_user_objects uses to respect dependency order.
func dropAllUserObjects(db *sql.DB) error {
	rows, err := db.Query(`
		SELECT type, name FROM sqlite_master
		WHERE name NOT LIKE 'sqlite_%'
		ORDER BY CASE type WHEN 'view' THEN 0 WHEN 'trigger' THEN 1 WHEN 'index' THEN 2 WHEN 'table' THEN 3 ELSE 4 END
	`)
	if err != nil {
		return errors.Wrap(err, "unable to list schema objects")
	}
	type obj struct{ kind, name string }
	var objs []obj
	for rows.Next() {
		var o obj
		if err := rows.Scan(&o.kind, &o.name); err != nil {
			rows.Close()
			return errors.Wrap(err, "unable to scan schema object")
		}
		objs = append(objs, o)
	}
	rows.Close()

	for _, o := range objs {
		quoted := fmt.Sprintf("%q", o.name)
		var stmt string
		switch o.kind {
		case "table":
			stmt = "DROP TABLE IF EXISTS " + quoted
		case "index":
			stmt = "DROP INDEX IF EXISTS " + quoted
		case "trigger":
			stmt = "DROP TRIGGER IF EXISTS " + quoted
		case "view":
			stmt = "DROP VIEW IF EXISTS " + quoted
		default:
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrapf(err, "unable to drop %s %s", o.kind, o.name)
		}
	}
	return nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS state_meta (
			singleton_id INTEGER PRIMARY KEY CHECK(singleton_id = 1),
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			source_endpoint TEXT,
			destination_endpoint TEXT,
			source_scan_seconds REAL NOT NULL,
			dest_scan_seconds REAL NOT NULL,
			source_files INTEGER NOT NULL,
			dest_files INTEGER NOT NULL,
			compared_paths INTEGER NOT NULL,
			only_left INTEGER NOT NULL,
			only_right INTEGER NOT NULL,
			different_content INTEGER NOT NULL,
			uncertain INTEGER NOT NULL,
			metadata_only INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS current_diffs (
			relpath TEXT PRIMARY KEY,
			content_state TEXT NOT NULL,
			metadata_state TEXT NOT NULL,
			metadata_diff_json TEXT NOT NULL,
			metadata_detail_json TEXT NOT NULL DEFAULT '[]',
			metadata_source TEXT,
			left_size INTEGER,
			right_size INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_current_diffs_content ON current_diffs(content_state, metadata_state)`,
		`CREATE TABLE IF NOT EXISTS scan_actions (
			relpath TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS ui_prefs (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, "unable to create schema")
		}
	}
	return nil
}

// SaveCurrentState atomically replaces state_meta and current_diffs, garbage
// collecting scan_actions to the surviving path set, in a single
// transaction.
func (s *Store) SaveCurrentState(summary Summary, diffs []model.DiffRecord) error {
	db, err := s.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "unable to begin transaction")
	}
	defer tx.Rollback()

	if err := upsertStateMeta(tx, summary); err != nil {
		return err
	}
	if err := replaceDiffRows(tx, diffs, nil); err != nil {
		return err
	}

	return tx.Commit()
}

func upsertStateMeta(tx *sql.Tx, summary Summary) error {
	_, err := tx.Exec(`
		INSERT INTO state_meta (
			singleton_id, source_endpoint, destination_endpoint,
			source_scan_seconds, dest_scan_seconds, source_files, dest_files,
			compared_paths, only_left, only_right, different_content, uncertain, metadata_only,
			updated_at
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(singleton_id) DO UPDATE SET
			source_endpoint = excluded.source_endpoint,
			destination_endpoint = excluded.destination_endpoint,
			source_scan_seconds = excluded.source_scan_seconds,
			dest_scan_seconds = excluded.dest_scan_seconds,
			source_files = excluded.source_files,
			dest_files = excluded.dest_files,
			compared_paths = excluded.compared_paths,
			only_left = excluded.only_left,
			only_right = excluded.only_right,
			different_content = excluded.different_content,
			uncertain = excluded.uncertain,
			metadata_only = excluded.metadata_only,
			updated_at = CURRENT_TIMESTAMP
	`,
		pathnorm.Text(summary.SourceEndpoint), pathnorm.Text(summary.DestinationEndpoint),
		summary.SourceScanSeconds, summary.DestScanSeconds, summary.SourceFiles, summary.DestFiles,
		summary.ComparedPaths, summary.OnlyLeft, summary.OnlyRight, summary.DifferentContent,
		summary.Uncertain, summary.MetadataOnly,
	)
	if err != nil {
		return errors.Wrap(err, "unable to upsert state_meta")
	}
	return nil
}

// replaceDiffRows inserts or updates diffs. If scope is non-nil, matching
// rows are deleted first; otherwise every row not present in diffs is
// deleted (the whole-state replace used by SaveCurrentState).
func replaceDiffRows(tx *sql.Tx, diffs []model.DiffRecord, scope *diffScope) error {
	if scope != nil {
		if scope.isDir {
			like := strings.TrimSuffix(scope.relpath, "/") + "/%"
			if _, err := tx.Exec(`DELETE FROM current_diffs WHERE relpath = ? OR relpath LIKE ?`, scope.relpath, like); err != nil {
				return errors.Wrap(err, "unable to clear scoped diffs")
			}
			if _, err := tx.Exec(`DELETE FROM scan_actions WHERE relpath = ? OR relpath LIKE ?`, scope.relpath, like); err != nil {
				return errors.Wrap(err, "unable to clear scoped actions")
			}
		} else {
			if _, err := tx.Exec(`DELETE FROM current_diffs WHERE relpath = ?`, scope.relpath); err != nil {
				return errors.Wrap(err, "unable to clear scoped diff")
			}
			if _, err := tx.Exec(`DELETE FROM scan_actions WHERE relpath = ?`, scope.relpath); err != nil {
				return errors.Wrap(err, "unable to clear scoped action")
			}
		}
	}

	stmt, err := tx.Prepare(`
		INSERT INTO current_diffs (
			relpath, content_state, metadata_state, metadata_diff_json, metadata_detail_json,
			metadata_source, left_size, right_size
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(relpath) DO UPDATE SET
			content_state = excluded.content_state,
			metadata_state = excluded.metadata_state,
			metadata_diff_json = excluded.metadata_diff_json,
			metadata_detail_json = excluded.metadata_detail_json,
			metadata_source = excluded.metadata_source,
			left_size = excluded.left_size,
			right_size = excluded.right_size
	`)
	if err != nil {
		return errors.Wrap(err, "unable to prepare diff upsert")
	}
	defer stmt.Close()

	for _, d := range diffs {
		diffJSON, _ := json.Marshal(d.MetadataDiff)
		detailJSON, _ := json.Marshal(d.MetadataDetails)
		var source any
		if d.MetadataSource != "" {
			source = d.MetadataSource
		}
		if _, err := stmt.Exec(
			pathnorm.Text(d.Relpath), string(d.ContentState), string(d.MetadataState),
			string(diffJSON), string(detailJSON), source, d.LeftSize, d.RightSize,
		); err != nil {
			return errors.Wrapf(err, "unable to upsert diff for %s", d.Relpath)
		}
	}

	if scope == nil {
		if err := pruneToSurvivingSet(tx, diffs); err != nil {
			return err
		}
	}

	return nil
}

func pruneToSurvivingSet(tx *sql.Tx, diffs []model.DiffRecord) error {
	if _, err := tx.Exec(`CREATE TEMP TABLE IF NOT EXISTS _seen_paths(relpath TEXT PRIMARY KEY)`); err != nil {
		return errors.Wrap(err, "unable to create temp seen-paths table")
	}
	defer tx.Exec(`DROP TABLE _seen_paths`)

	insertSeen, err := tx.Prepare(`INSERT OR IGNORE INTO _seen_paths(relpath) VALUES (?)`)
	if err != nil {
		return errors.Wrap(err, "unable to prepare seen-paths insert")
	}
	defer insertSeen.Close()
	for _, d := range diffs {
		if _, err := insertSeen.Exec(pathnorm.Text(d.Relpath)); err != nil {
			return errors.Wrap(err, "unable to record seen path")
		}
	}

	if _, err := tx.Exec(`DELETE FROM current_diffs WHERE relpath NOT IN (SELECT relpath FROM _seen_paths)`); err != nil {
		return errors.Wrap(err, "unable to prune stale diffs")
	}
	if _, err := tx.Exec(`DELETE FROM scan_actions WHERE relpath NOT IN (SELECT relpath FROM _seen_paths)`); err != nil {
		return errors.Wrap(err, "unable to prune stale actions")
	}
	return nil
}

type diffScope struct {
	relpath string
	isDir   bool
}

// ReplaceDiffsInScope replaces diffs restricted to rows whose relpath equals
// scopeRelpath or, when scopeIsDir, falls under scopeRelpath/. Used by
// subtree rescans.
func (s *Store) ReplaceDiffsInScope(diffs []model.DiffRecord, scopeRelpath string, scopeIsDir bool) error {
	db, err := s.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "unable to begin transaction")
	}
	defer tx.Rollback()

	if err := replaceDiffRows(tx, diffs, &diffScope{relpath: pathnorm.Text(scopeRelpath), isDir: scopeIsDir}); err != nil {
		return err
	}

	return tx.Commit()
}

// LoadCurrentDiffs returns every persisted diff row, sorted by relpath.
func (s *Store) LoadCurrentDiffs() ([]model.DiffRecord, error) {
	db, err := s.connect()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(`
		SELECT relpath, content_state, metadata_state, metadata_diff_json, metadata_detail_json,
		       metadata_source, left_size, right_size
		FROM current_diffs ORDER BY relpath
	`)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load current diffs")
	}
	defer rows.Close()

	var out []model.DiffRecord
	for rows.Next() {
		var (
			relpath, contentState, metadataState, diffJSON, detailJSON string
			metadataSource                                             sql.NullString
			leftSize, rightSize                                        sql.NullInt64
		)
		if err := rows.Scan(&relpath, &contentState, &metadataState, &diffJSON, &detailJSON, &metadataSource, &leftSize, &rightSize); err != nil {
			return nil, errors.Wrap(err, "unable to scan diff row")
		}

		var diff, detail []string
		json.Unmarshal([]byte(diffJSON), &diff)
		json.Unmarshal([]byte(detailJSON), &detail)

		rec := model.DiffRecord{
			Relpath:         relpath,
			ContentState:    model.ContentState(contentState),
			MetadataState:   model.MetadataState(metadataState),
			MetadataDiff:    diff,
			MetadataDetails: detail,
		}
		if metadataSource.Valid {
			rec.MetadataSource = metadataSource.String
		}
		if leftSize.Valid {
			v := leftSize.Int64
			rec.LeftSize = &v
		}
		if rightSize.Valid {
			v := rightSize.Int64
			rec.RightSize = &v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LoadActionOverrides returns every persisted per-path action.
func (s *Store) LoadActionOverrides() (map[string]model.PlanAction, error) {
	db, err := s.connect()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT relpath, action FROM scan_actions`)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load action overrides")
	}
	defer rows.Close()

	out := make(map[string]model.PlanAction)
	for rows.Next() {
		var relpath, action string
		if err := rows.Scan(&relpath, &action); err != nil {
			return nil, errors.Wrap(err, "unable to scan action override row")
		}
		out[relpath] = model.PlanAction(action)
	}
	return out, rows.Err()
}

// UpsertActionOverrides persists updates, a no-op for an empty map.
func (s *Store) UpsertActionOverrides(updates map[string]model.PlanAction) error {
	if len(updates) == 0 {
		return nil
	}
	db, err := s.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "unable to begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO scan_actions (relpath, action) VALUES (?, ?)
		ON CONFLICT(relpath) DO UPDATE SET action = excluded.action, updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return errors.Wrap(err, "unable to prepare action upsert")
	}
	defer stmt.Close()

	for relpath, action := range updates {
		if _, err := stmt.Exec(pathnorm.Text(relpath), string(action)); err != nil {
			return errors.Wrapf(err, "unable to upsert action for %s", relpath)
		}
	}

	return tx.Commit()
}

// ClearActionOverrides deletes every persisted action.
func (s *Store) ClearActionOverrides() error {
	db, err := s.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(`DELETE FROM scan_actions`); err != nil {
		return errors.Wrap(err, "unable to clear action overrides")
	}
	return nil
}

// DeletePaths removes relpaths from both current_diffs and scan_actions.
func (s *Store) DeletePaths(relpaths []string) error {
	if len(relpaths) == 0 {
		return nil
	}
	db, err := s.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "unable to begin transaction")
	}
	defer tx.Rollback()

	for _, relpath := range relpaths {
		relpath = pathnorm.Text(relpath)
		if _, err := tx.Exec(`DELETE FROM current_diffs WHERE relpath = ?`, relpath); err != nil {
			return errors.Wrapf(err, "unable to delete diff for %s", relpath)
		}
		if _, err := tx.Exec(`DELETE FROM scan_actions WHERE relpath = ?`, relpath); err != nil {
			return errors.Wrapf(err, "unable to delete action for %s", relpath)
		}
	}

	return tx.Commit()
}

// MarkPathsIdentical sets (content_state, metadata_state) to Identical and
// clears the metadata columns for relpaths.
func (s *Store) MarkPathsIdentical(relpaths []string) error {
	if len(relpaths) == 0 {
		return nil
	}
	db, err := s.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "unable to begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		UPDATE current_diffs
		SET content_state = ?, metadata_state = ?, metadata_diff_json = '[]', metadata_detail_json = '[]', metadata_source = NULL
		WHERE relpath = ?
	`)
	if err != nil {
		return errors.Wrap(err, "unable to prepare identical-mark update")
	}
	defer stmt.Close()

	for _, relpath := range relpaths {
		if _, err := stmt.Exec(string(model.Identical), string(model.MetadataIdentical), pathnorm.Text(relpath)); err != nil {
			return errors.Wrapf(err, "unable to mark %s identical", relpath)
		}
	}

	return tx.Commit()
}

// GetUIPref returns the persisted value for key, or def if unset.
func (s *Store) GetUIPref(key, def string) (string, error) {
	db, err := s.connect()
	if err != nil {
		return "", err
	}
	defer db.Close()

	var value string
	err = db.QueryRow(`SELECT value FROM ui_prefs WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return def, nil
	}
	if err != nil {
		return "", errors.Wrap(err, "unable to load ui pref")
	}
	return value, nil
}

// SetUIPref persists key=value.
func (s *Store) SetUIPref(key, value string) error {
	db, err := s.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.Exec(`
		INSERT INTO ui_prefs(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return errors.Wrap(err, "unable to set ui pref")
	}
	return nil
}

// SortColumn and ShowIdentical are typed wrappers over GetUIPref/SetUIPref
// for the two UI preferences the original implementation hard-codes keys
// for, supplementing the generic accessor with a discoverable, typed API.
const (
	uiPrefSortColumn    = "sort_column"
	uiPrefShowIdentical = "show_identical"

	defaultSortColumn = "relpath"
)

// SortColumn returns the persisted diff-table sort column, defaulting to
// "relpath".
func (s *Store) SortColumn() (string, error) {
	return s.GetUIPref(uiPrefSortColumn, defaultSortColumn)
}

// SetSortColumn persists the diff-table sort column.
func (s *Store) SetSortColumn(column string) error {
	return s.SetUIPref(uiPrefSortColumn, column)
}

// ShowIdentical returns whether identical rows should be shown, defaulting
// to false.
func (s *Store) ShowIdentical() (bool, error) {
	value, err := s.GetUIPref(uiPrefShowIdentical, "false")
	if err != nil {
		return false, err
	}
	return value == "true", nil
}

// SetShowIdentical persists the show-identical-rows preference.
func (s *Store) SetShowIdentical(show bool) error {
	value := "false"
	if show {
		value = "true"
	}
	return s.SetUIPref(uiPrefShowIdentical, value)
}
