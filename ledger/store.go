package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/glebarez/sqlite"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	server_name TEXT NOT NULL,
	direction TEXT NOT NULL,
	method TEXT NOT NULL,
	message_id TEXT,
	tool_name TEXT,
	arguments_json TEXT,
	response_json TEXT,
	verdict TEXT NOT NULL,
	risk_score INTEGER,
	risk_level TEXT,
	policy_hash TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	nonce TEXT NOT NULL UNIQUE,
	signature TEXT NOT NULL,
	public_key TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_records(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_server ON audit_records(server_name);
CREATE INDEX IF NOT EXISTS idx_audit_tool ON audit_records(tool_name);
CREATE INDEX IF NOT EXISTS idx_audit_verdict ON audit_records(verdict);
`

// additiveColumns lists columns added to the schema after its initial
// release. Each is applied with ALTER TABLE ... ADD COLUMN when missing, so
// a store opened against an older on-disk database picks up new nullable
// fields without a destructive migration, per §4.2's "Schema migration is
// additive" contract. Empty today — kept as the landing spot for the next
// additive field.
var additiveColumns []struct{ name, ddl string }

// Store is the SQLite-backed ledger described in §4.2: an embedded
// transactional database with write-ahead logging, one writer at a time.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the ledger database at path.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("ledger: store path must be configured")
	}
	// _txlock=immediate makes every BeginTx issue BEGIN IMMEDIATE, so the
	// write lock is taken before InsertAtomic reads the previous signature.
	db, err := sql.Open("sqlite", trimmed+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("ledger: open store: %w", err)
	}
	// SetMaxOpenConns(1) only bounds the pool size; database/sql is still
	// free to hand a bare Exec and the following BeginTx to two different
	// connections if the pool grows to accommodate concurrent callers, and
	// it always returns a connection to the pool between unrelated calls.
	// InsertAtomic therefore drives its BEGIN IMMEDIATE/SELECT/INSERT/COMMIT
	// sequence through a single *sql.Tx obtained from BeginTx, which pins
	// one physical connection for the whole sequence; the cap just keeps
	// SQLite's own single-writer lock from serializing an unbounded number
	// of idle connections.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: set busy timeout: %w", err)
	}
	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	if err := applyAdditiveMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func applyAdditiveMigrations(db *sql.DB) error {
	if len(additiveColumns) == 0 {
		return nil
	}
	rows, err := db.Query(`PRAGMA table_info(audit_records)`)
	if err != nil {
		return fmt.Errorf("ledger: inspect schema: %w", err)
	}
	existing := map[string]struct{}{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("ledger: scan schema: %w", err)
		}
		existing[name] = struct{}{}
	}
	rows.Close()
	for _, col := range additiveColumns {
		if _, ok := existing[col.name]; ok {
			continue
		}
		if _, err := db.Exec(fmt.Sprintf("ALTER TABLE audit_records ADD COLUMN %s", col.ddl)); err != nil {
			return fmt.Errorf("ledger: add column %s: %w", col.name, err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Builder produces a fully signed AuditRecord given the previous record's
// signature ("" if the ledger is empty). InsertAtomic calls it once, inside
// the transaction that will insert its result.
type Builder func(prevSignature string) (*AuditRecord, error)

// InsertAtomic reads the highest-id record's signature (or "" if empty),
// passes it to build, and inserts the resulting record — all inside one
// transaction obtained from BeginTx, which (with the pool capped to a
// single connection by Open) pins the whole read-build-insert sequence to
// one connection, so two concurrent callers cannot both observe the same
// prevSignature and produce sibling records, per §4.2.
func (s *Store) InsertAtomic(ctx context.Context, build Builder) (int64, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("ledger: begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := s.insertAtomicLocked(ctx, tx, build)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("ledger: commit transaction: %w", err)
	}
	return id, nil
}

func (s *Store) insertAtomicLocked(ctx context.Context, tx *sql.Tx, build Builder) (int64, error) {
	var prevSig string
	row := tx.QueryRowContext(ctx, `SELECT signature FROM audit_records ORDER BY id DESC LIMIT 1`)
	switch err := row.Scan(&prevSig); {
	case err == sql.ErrNoRows:
		prevSig = ""
	case err != nil:
		return 0, fmt.Errorf("ledger: read previous signature: %w", err)
	}

	record, err := build(prevSig)
	if err != nil {
		return 0, fmt.Errorf("ledger: build record: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO audit_records (
			timestamp, server_name, direction, method, message_id, tool_name,
			arguments_json, response_json, verdict, risk_score, risk_level,
			policy_hash, prev_hash, nonce, signature, public_key
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Timestamp, record.ServerName, string(record.Direction), record.Method,
		record.MessageID, record.ToolName, record.ArgumentsJSON, record.ResponseJSON,
		string(record.Verdict), record.RiskScore, riskLevelColumn(record.RiskLevel),
		record.PolicyHash, record.PrevHash, record.Nonce, record.Signature, record.PublicKeyPEM,
	)
	if err != nil {
		return 0, fmt.Errorf("ledger: insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("ledger: read inserted id: %w", err)
	}
	return id, nil
}

func riskLevelColumn(l *RiskLevel) interface{} {
	if l == nil {
		return nil
	}
	return string(*l)
}

// GetByID fetches the record with the given id, or nil if none exists.
func (s *Store) GetByID(ctx context.Context, id int64) (*AuditRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// GetAll returns every record in ascending id order, for chain verification.
func (s *Store) GetAll(ctx context.Context) ([]*AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("ledger: query all: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// GetLast returns up to n records in descending id order, for log display.
func (s *Store) GetLast(ctx context.Context, n int) ([]*AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("ledger: query last: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Query is the filter set for the indexed query operation in §4.2.
type Query struct {
	Server  string
	Tool    string
	Verdict Verdict
	SinceTS string
	Limit   int
}

// Query runs an indexed filter over the ledger per §4.2.
func (s *Store) Query(ctx context.Context, q Query) ([]*AuditRecord, error) {
	clauses := []string{}
	args := []interface{}{}
	if q.Server != "" {
		clauses = append(clauses, "server_name = ?")
		args = append(args, q.Server)
	}
	if q.Tool != "" {
		clauses = append(clauses, "tool_name = ?")
		args = append(args, q.Tool)
	}
	if q.Verdict != "" {
		clauses = append(clauses, "verdict = ?")
		args = append(args, string(q.Verdict))
	}
	if q.SinceTS != "" {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, q.SinceTS)
	}
	stmt := selectColumns
	if len(clauses) > 0 {
		stmt += " WHERE " + strings.Join(clauses, " AND ")
	}
	stmt += " ORDER BY id ASC"
	if q.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, q.Limit)
	}
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Count returns the total number of ledger rows.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_records`)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("ledger: count: %w", err)
	}
	return count, nil
}

// GetAfterID returns up to batch records with id > id, in ascending id
// order — the cursor the external sync uploader polls with.
func (s *Store) GetAfterID(ctx context.Context, id int64, batch int) ([]*AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE id > ? ORDER BY id ASC LIMIT ?`, id, batch)
	if err != nil {
		return nil, fmt.Errorf("ledger: query after id: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

const selectColumns = `SELECT id, timestamp, server_name, direction, method, message_id, tool_name,
	arguments_json, response_json, verdict, risk_score, risk_level, policy_hash, prev_hash,
	nonce, signature, public_key FROM audit_records`

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scannable) (*AuditRecord, error) {
	var r AuditRecord
	var direction, verdict string
	var riskLevel sql.NullString
	var riskScore sql.NullInt64
	var messageID, toolName, argsJSON, responseJSON sql.NullString

	err := row.Scan(&r.ID, &r.Timestamp, &r.ServerName, &direction, &r.Method, &messageID, &toolName,
		&argsJSON, &responseJSON, &verdict, &riskScore, &riskLevel, &r.PolicyHash, &r.PrevHash,
		&r.Nonce, &r.Signature, &r.PublicKeyPEM)
	if err != nil {
		return nil, err
	}
	r.Direction = Direction(direction)
	r.Verdict = Verdict(verdict)
	if messageID.Valid {
		v := messageID.String
		r.MessageID = &v
	}
	if toolName.Valid {
		v := toolName.String
		r.ToolName = &v
	}
	if argsJSON.Valid {
		v := argsJSON.String
		r.ArgumentsJSON = &v
	}
	if responseJSON.Valid {
		v := responseJSON.String
		r.ResponseJSON = &v
	}
	if riskScore.Valid {
		v := int(riskScore.Int64)
		r.RiskScore = &v
	}
	if riskLevel.Valid {
		v := RiskLevel(riskLevel.String)
		r.RiskLevel = &v
	}
	return &r, nil
}

func scanRecords(rows *sql.Rows) ([]*AuditRecord, error) {
	var out []*AuditRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate records: %w", err)
	}
	return out, nil
}
