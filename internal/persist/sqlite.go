package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/dshills/sceneboard/internal/document"
)

// schema is executed on every open; IF NOT EXISTS keeps it idempotent.
//
// Scenes are rows with an empty scene_id. Layers and cameras are rows owned
// by their scene. position is the ordinal position among siblings of the
// same kind. body holds the entity as JSON, without child collections.
const schema = `
CREATE TABLE IF NOT EXISTS entities (
    kind       TEXT NOT NULL,
    scene_id   TEXT NOT NULL DEFAULT '',
    id         TEXT NOT NULL,
    position   INTEGER NOT NULL DEFAULT 0,
    body       TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (kind, scene_id, id)
);

CREATE INDEX IF NOT EXISTS entities_order ON entities (kind, scene_id, position);

CREATE TABLE IF NOT EXISTS documents (
    id       INTEGER PRIMARY KEY CHECK (id = 1),
    body     TEXT NOT NULL,
    saved_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteGateway is a Gateway backed by a local SQLite database in WAL mode.
type SQLiteGateway struct {
	db *sql.DB

	mu     sync.Mutex
	closed bool
}

// OpenSQLite opens (or creates) the database at path and creates the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteGateway, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persist: open database: %w", err)
	}

	// SQLite has a single writer; one connection avoids SQLITE_BUSY between
	// pooled connections.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("persist: %s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: create schema: %w", err)
	}

	return &SQLiteGateway{db: db}, nil
}

// Close closes the database. It is safe to call more than once.
func (g *SQLiteGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	return g.db.Close()
}

func (g *SQLiteGateway) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Apply writes one mutation in its own transaction.
func (g *SQLiteGateway) Apply(ctx context.Context, m Mutation) error {
	if g.isClosed() {
		return ErrClosed
	}
	if err := m.Validate(); err != nil {
		return err
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persist: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	switch m.Op {
	case OpCreate:
		err = createEntity(ctx, tx, m)
	case OpUpdate:
		err = updateEntity(ctx, tx, m)
	case OpDelete:
		err = deleteEntity(ctx, tx, m)
	case OpReorder:
		err = reorderEntities(ctx, tx, m)
	case OpPatch:
		err = patchProperty(ctx, tx, m)
	}
	if err != nil {
		return fmt.Errorf("persist: %s: %w", m, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persist: commit %s: %w", m, err)
	}
	return nil
}

// SaveDocument replaces every stored entity with snap and records the full
// document as a single JSON body.
func (g *SQLiteGateway) SaveDocument(ctx context.Context, snap document.Snapshot) error {
	if g.isClosed() {
		return ErrClosed
	}

	full, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("persist: encode document: %w", err)
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persist: begin tx for save: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, "DELETE FROM entities"); err != nil {
		return fmt.Errorf("persist: clear entities: %w", err)
	}
	for i, sc := range snap.Scenes {
		if err := insertScene(ctx, tx, sc, i); err != nil {
			return fmt.Errorf("persist: save scene %q: %w", sc.ID, err)
		}
	}

	const q = `
		INSERT INTO documents (id, body, saved_at)
		VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET body = excluded.body, saved_at = CURRENT_TIMESTAMP`
	if _, err := tx.ExecContext(ctx, q, string(full)); err != nil {
		return fmt.Errorf("persist: store document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persist: commit save: %w", err)
	}
	return nil
}

// Load rebuilds the document from the stored entity rows.
func (g *SQLiteGateway) Load(ctx context.Context) (document.Snapshot, error) {
	if g.isClosed() {
		return document.Snapshot{}, ErrClosed
	}

	var snap document.Snapshot
	err := scanBodies(ctx, g.db, string(EntityScene), "", func(body string) error {
		var sc document.Scene
		if err := json.Unmarshal([]byte(body), &sc); err != nil {
			return err
		}
		snap.Scenes = append(snap.Scenes, sc)
		return nil
	})
	if err != nil {
		return document.Snapshot{}, fmt.Errorf("persist: load scenes: %w", err)
	}

	for i := range snap.Scenes {
		sc := &snap.Scenes[i]
		err := scanBodies(ctx, g.db, string(EntityLayer), sc.ID, func(body string) error {
			var l document.Layer
			if err := json.Unmarshal([]byte(body), &l); err != nil {
				return err
			}
			sc.Layers = append(sc.Layers, l)
			return nil
		})
		if err != nil {
			return document.Snapshot{}, fmt.Errorf("persist: load layers of %q: %w", sc.ID, err)
		}
		err = scanBodies(ctx, g.db, string(EntityCamera), sc.ID, func(body string) error {
			var c document.Camera
			if err := json.Unmarshal([]byte(body), &c); err != nil {
				return err
			}
			sc.Cameras = append(sc.Cameras, c)
			return nil
		})
		if err != nil {
			return document.Snapshot{}, fmt.Errorf("persist: load cameras of %q: %w", sc.ID, err)
		}
	}

	return snap.Clone(), nil
}

// LastSave returns the document recorded by the most recent SaveDocument.
// ok is false if nothing was saved yet.
func (g *SQLiteGateway) LastSave(ctx context.Context) (snap document.Snapshot, ok bool, err error) {
	if g.isClosed() {
		return document.Snapshot{}, false, ErrClosed
	}
	var body string
	err = g.db.QueryRowContext(ctx, "SELECT body FROM documents WHERE id = 1").Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Snapshot{}, false, nil
	}
	if err != nil {
		return document.Snapshot{}, false, fmt.Errorf("persist: read saved document: %w", err)
	}
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return document.Snapshot{}, false, fmt.Errorf("persist: decode saved document: %w", err)
	}
	return snap.Clone(), true, nil
}

// Property reads one stored property without decoding the whole entity.
func (g *SQLiteGateway) Property(ctx context.Context, t document.Target, key string) (document.Property, error) {
	if g.isClosed() {
		return document.Property{}, ErrClosed
	}
	kind, parent, id := string(EntityScene), "", t.SceneID
	if !t.IsScene() {
		kind, parent, id = string(EntityLayer), t.SceneID, t.LayerID
	}

	var body string
	err := g.db.QueryRowContext(ctx,
		"SELECT body FROM entities WHERE kind = ? AND scene_id = ? AND id = ?",
		kind, parent, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Property{}, fmt.Errorf("persist: %s %q: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return document.Property{}, fmt.Errorf("persist: read %s %q: %w", kind, id, err)
	}

	r := gjson.Get(body, propertyPath(key))
	if !r.Exists() {
		return document.Absent(), nil
	}
	return document.Present(r.Value()), nil
}

// rowKey returns the kind and parent scene of the row m addresses.
func rowKey(m Mutation) (kind, parent string) {
	if m.Entity == EntityScene {
		return string(EntityScene), ""
	}
	return string(m.Entity), m.SceneID
}

func createEntity(ctx context.Context, tx *sql.Tx, m Mutation) error {
	kind, parent := rowKey(m)

	exists, err := rowExists(ctx, tx, kind, parent, m.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%s %q already exists: %w", kind, m.ID, ErrInvalidMutation)
	}

	var n int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entities WHERE kind = ? AND scene_id = ?",
		kind, parent).Scan(&n); err != nil {
		return fmt.Errorf("count siblings: %w", err)
	}
	pos := m.Position
	if pos < 0 || pos > n {
		pos = n
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE entities SET position = position + 1 WHERE kind = ? AND scene_id = ? AND position >= ?",
		kind, parent, pos); err != nil {
		return fmt.Errorf("shift siblings: %w", err)
	}

	switch body := m.Body.(type) {
	case document.Scene:
		return insertScene(ctx, tx, body, pos)
	default:
		return insertRow(ctx, tx, kind, parent, m.ID, pos, body)
	}
}

func updateEntity(ctx context.Context, tx *sql.Tx, m Mutation) error {
	kind, parent := rowKey(m)

	body := m.Body
	sc, isScene := m.Body.(document.Scene)
	if isScene {
		body = sceneRow(sc)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE entities SET body = ?, updated_at = CURRENT_TIMESTAMP WHERE kind = ? AND scene_id = ? AND id = ?",
		string(raw), kind, parent, m.ID)
	if err != nil {
		return fmt.Errorf("update %s: %w", kind, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s %q: %w", kind, m.ID, ErrNotFound)
	}

	if isScene {
		if _, err := tx.ExecContext(ctx, "DELETE FROM entities WHERE scene_id = ?", sc.ID); err != nil {
			return fmt.Errorf("clear children: %w", err)
		}
		return insertChildren(ctx, tx, sc)
	}
	return nil
}

// deleteEntity removes a row and closes the gap in its siblings' positions.
// Deleting a missing entity succeeds.
func deleteEntity(ctx context.Context, tx *sql.Tx, m Mutation) error {
	kind, parent := rowKey(m)

	var pos int
	err := tx.QueryRowContext(ctx,
		"SELECT position FROM entities WHERE kind = ? AND scene_id = ? AND id = ?",
		kind, parent, m.ID).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM entities WHERE kind = ? AND scene_id = ? AND id = ?",
		kind, parent, m.ID); err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	if m.Entity == EntityScene {
		if _, err := tx.ExecContext(ctx, "DELETE FROM entities WHERE scene_id = ?", m.ID); err != nil {
			return fmt.Errorf("delete children: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE entities SET position = position - 1 WHERE kind = ? AND scene_id = ? AND position > ?",
		kind, parent, pos); err != nil {
		return fmt.Errorf("shift siblings: %w", err)
	}
	return nil
}

func reorderEntities(ctx context.Context, tx *sql.Tx, m Mutation) error {
	kind, parent := rowKey(m)

	var n int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entities WHERE kind = ? AND scene_id = ?",
		kind, parent).Scan(&n); err != nil {
		return fmt.Errorf("count siblings: %w", err)
	}
	if n != len(m.Order) {
		return fmt.Errorf("order has %d ids for %d rows: %w", len(m.Order), n, ErrInvalidMutation)
	}

	stmt, err := tx.PrepareContext(ctx,
		"UPDATE entities SET position = ?, updated_at = CURRENT_TIMESTAMP WHERE kind = ? AND scene_id = ? AND id = ?")
	if err != nil {
		return fmt.Errorf("prepare reorder: %w", err)
	}
	defer stmt.Close()

	for i, id := range m.Order {
		res, err := stmt.ExecContext(ctx, i, kind, parent, id)
		if err != nil {
			return fmt.Errorf("reorder %q: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
		}
	}
	return nil
}

// patchProperty edits one key of the stored properties object in place.
func patchProperty(ctx context.Context, tx *sql.Tx, m Mutation) error {
	kind, parent := rowKey(m)

	var body string
	err := tx.QueryRowContext(ctx,
		"SELECT body FROM entities WHERE kind = ? AND scene_id = ? AND id = ?",
		kind, parent, m.ID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %q: %w", kind, m.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", kind, err)
	}

	path := propertyPath(m.Key)
	if m.Unset {
		body, err = sjson.Delete(body, path)
	} else {
		if !gjson.Get(body, "properties").IsObject() {
			if body, err = sjson.SetRaw(body, "properties", "{}"); err != nil {
				return fmt.Errorf("init properties: %w", err)
			}
		}
		body, err = sjson.Set(body, path, m.Value)
	}
	if err != nil {
		return fmt.Errorf("patch %q: %w", m.Key, err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE entities SET body = ?, updated_at = CURRENT_TIMESTAMP WHERE kind = ? AND scene_id = ? AND id = ?",
		body, kind, parent, m.ID); err != nil {
		return fmt.Errorf("store %s: %w", kind, err)
	}
	return nil
}

func insertScene(ctx context.Context, tx *sql.Tx, sc document.Scene, pos int) error {
	if err := insertRow(ctx, tx, string(EntityScene), "", sc.ID, pos, sceneRow(sc)); err != nil {
		return err
	}
	return insertChildren(ctx, tx, sc)
}

func insertChildren(ctx context.Context, tx *sql.Tx, sc document.Scene) error {
	for i, l := range sc.Layers {
		if err := insertRow(ctx, tx, string(EntityLayer), sc.ID, l.ID, i, l); err != nil {
			return err
		}
	}
	for i, c := range sc.Cameras {
		if err := insertRow(ctx, tx, string(EntityCamera), sc.ID, c.ID, i, c); err != nil {
			return err
		}
	}
	return nil
}

func insertRow(ctx context.Context, tx *sql.Tx, kind, parent, id string, pos int, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s %q: %w", kind, id, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO entities (kind, scene_id, id, position, body) VALUES (?, ?, ?, ?, ?)",
		kind, parent, id, pos, string(raw)); err != nil {
		return fmt.Errorf("insert %s %q: %w", kind, id, err)
	}
	return nil
}

func rowExists(ctx context.Context, tx *sql.Tx, kind, parent, id string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx,
		"SELECT 1 FROM entities WHERE kind = ? AND scene_id = ? AND id = ?",
		kind, parent, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup %s %q: %w", kind, id, err)
	}
	return true, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanBodies(ctx context.Context, q querier, kind, parent string, fn func(body string) error) error {
	rows, err := q.QueryContext(ctx,
		"SELECT body FROM entities WHERE kind = ? AND scene_id = ? ORDER BY position",
		kind, parent)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return err
		}
		if err := fn(body); err != nil {
			return err
		}
	}
	return rows.Err()
}

// sceneRow strips the child collections that are stored as their own rows.
func sceneRow(sc document.Scene) document.Scene {
	sc.Layers = nil
	sc.Cameras = nil
	return sc
}

// propertyPath returns the gjson/sjson path of a property key.
func propertyPath(key string) string {
	return "properties." + escapePathComponent(key)
}

// escapePathComponent backslash-escapes every character that has a meaning
// in gjson path syntax.
func escapePathComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		safe := r >= 0x80 || r == '_' || r == '-' || r == ':' ||
			unicode.IsLetter(r) || unicode.IsDigit(r)
		if !safe {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
