package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"slotkeeper.ai/internal/sim/audit"
	"slotkeeper.ai/internal/sim/policy"
)

// SQLiteIndex is a queryable secondary index of audit entries and loaded policy sets.
// Writes are queued to a single writer goroutine and never block the caller.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan audit.Entry
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
	written atomic.Uint64

	now func() time.Time
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	DroppedTotal  uint64
	WrittenTotal  uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:  db,
		ch:  make(chan audit.Entry, queue),
		now: time.Now,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS policies (
			id TEXT PRIMARY KEY,
			slot INTEGER NOT NULL,
			material TEXT NOT NULL,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tick INTEGER NOT NULL,
			actor TEXT NOT NULL,
			name TEXT NOT NULL,
			action TEXT NOT NULL,
			policy_id TEXT NOT NULL,
			slot INTEGER NOT NULL,
			op TEXT NOT NULL,
			reason TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_actor_id ON audits(actor, id);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_policy_id ON audits(policy_id, id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Write queues e. Entries are dropped when the writer falls behind; the JSONL audit log
// remains the source of truth.
func (s *SQLiteIndex) Write(e audit.Entry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DroppedTotal:  s.dropped.Load(),
		WrittenTotal:  s.written.Load(),
	}
}

// UpsertPolicies replaces the policies table with set.
func (s *SQLiteIndex) UpsertPolicies(ctx context.Context, set *policy.Set) error {
	if s == nil || set == nil {
		return nil
	}
	now := s.now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM policies`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO policies(id,slot,material,digest,json,updated_at) VALUES(?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, p := range set.All() {
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("policy %s: %w", p.ID, err)
		}
		sum := sha256.Sum256(b)
		if _, err := stmt.ExecContext(ctx, p.ID, p.Slot, p.Appearance.Material, hex.EncodeToString(sum[:]), string(b), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PolicyRow is one indexed policy.
type PolicyRow struct {
	ID       string
	Slot     int
	Material string
	Digest   string
}

func (s *SQLiteIndex) Policies(ctx context.Context) ([]PolicyRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,slot,material,digest FROM policies ORDER BY slot, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PolicyRow
	for rows.Next() {
		var r PolicyRow
		if err := rows.Scan(&r.ID, &r.Slot, &r.Material, &r.Digest); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentAudits returns up to limit entries, newest first. An empty actor matches everyone.
func (s *SQLiteIndex) RecentAudits(ctx context.Context, actor string, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT tick,actor,name,action,policy_id,slot,op,reason FROM audits`
	args := []any{}
	if actor != "" {
		q += ` WHERE actor = ?`
		args = append(args, actor)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []audit.Entry
	for rows.Next() {
		var (
			e    audit.Entry
			tick int64
		)
		if err := rows.Scan(&tick, &e.Actor, &e.Name, &e.Action, &e.PolicyID, &e.Slot, &e.Op, &e.Reason); err != nil {
			return nil, err
		}
		e.Tick = uint64(tick)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertAudit, _ := s.db.Prepare(`INSERT INTO audits(tick,actor,name,action,policy_id,slot,op,reason,recorded_at) VALUES(?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertAudit != nil {
			_ = insertAudit.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err == nil {
			s.written.Add(uint64(opCount))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for {
		var (
			e  audit.Entry
			ok bool
		)
		// Commit whatever is pending before blocking on an idle queue.
		select {
		case e, ok = <-s.ch:
		default:
			commit()
			e, ok = <-s.ch
		}
		if !ok {
			break
		}
		begin()
		if tx == nil || insertAudit == nil {
			continue
		}
		if _, err := tx.Stmt(insertAudit).Exec(
			int64(e.Tick),
			e.Actor,
			e.Name,
			e.Action,
			e.PolicyID,
			e.Slot,
			e.Op,
			e.Reason,
			s.now().UTC().Format(time.RFC3339Nano),
		); err != nil {
			rollback()
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
