package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder syntax and the database/sql driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS fdc_requests (
	req_id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	token_address TEXT NOT NULL,
	state TEXT NOT NULL,
	stage TEXT NOT NULL DEFAULT '',
	round_id BIGINT NOT NULL DEFAULT 0,
	request_digest TEXT NOT NULL DEFAULT '',
	encoded_request TEXT NOT NULL DEFAULT '',
	attestation_tx TEXT NOT NULL DEFAULT '',
	attestation_block TEXT NOT NULL DEFAULT '',
	validation_tx TEXT NOT NULL DEFAULT '',
	error_kind TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	completed BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at BIGINT NOT NULL
)`

const stateIndex = `CREATE INDEX IF NOT EXISTS fdc_requests_state_idx ON fdc_requests (state)`

const selectColumns = `SELECT req_id, kind, token_address, state, stage, round_id, request_digest, encoded_request, attestation_tx, attestation_block, validation_tx, error_kind, last_error, attempts, completed, updated_at FROM fdc_requests`

const upsert = `INSERT INTO fdc_requests (
	req_id, kind, token_address, state, stage, round_id, request_digest, encoded_request, attestation_tx, attestation_block, validation_tx, error_kind, last_error, attempts, completed, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (req_id) DO UPDATE SET
	kind = excluded.kind,
	token_address = excluded.token_address,
	state = excluded.state,
	stage = excluded.stage,
	round_id = excluded.round_id,
	request_digest = excluded.request_digest,
	encoded_request = excluded.encoded_request,
	attestation_tx = excluded.attestation_tx,
	attestation_block = excluded.attestation_block,
	validation_tx = excluded.validation_tx,
	error_kind = excluded.error_kind,
	last_error = excluded.last_error,
	attempts = excluded.attempts,
	completed = excluded.completed,
	updated_at = excluded.updated_at`

// SQL is a Ledger backed by SQLite or Postgres.
type SQL struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQL wraps db and creates the schema if needed.
func NewSQL(ctx context.Context, db *sql.DB, dialect Dialect) (*SQL, error) {
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, fmt.Errorf("unsupported ledger dialect %q", dialect)
	}
	s := &SQL{db: db, dialect: dialect, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQL) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create ledger table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, stateIndex); err != nil {
		return fmt.Errorf("failed to create ledger index: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders as $n for Postgres.
func (s *SQL) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e       Entry
		state   string
		stage   string
		roundID int64
		updated int64
	)
	if err := row.Scan(&e.ReqID, &e.Kind, &e.TokenAddress, &state, &stage, &roundID, &e.RequestDigest, &e.EncodedRequest,
		&e.AttestationTx, &e.AttestationBlock, &e.ValidationTx, &e.ErrorKind, &e.Error, &e.Attempts, &e.Completed, &updated); err != nil {
		return Entry{}, err
	}
	e.State = State(state)
	e.Stage = State(stage)
	e.RoundID = uint64(roundID)
	e.UpdatedAt = time.Unix(0, updated).UTC()
	return e, nil
}

func (s *SQL) Get(ctx context.Context, reqID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(selectColumns+` WHERE req_id = ?`), reqID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to load ledger entry %s: %w", reqID, err)
	}
	return e, nil
}

func (s *SQL) Put(ctx context.Context, e Entry) error {
	if e.ReqID == "" {
		return errors.New("ledger entry requires a reqId")
	}
	_, err := s.db.ExecContext(ctx, s.rebind(upsert),
		e.ReqID, e.Kind, e.TokenAddress, string(e.State), string(e.Stage), int64(e.RoundID), e.RequestDigest, e.EncodedRequest,
		e.AttestationTx, e.AttestationBlock, e.ValidationTx, e.ErrorKind, e.Error, e.Attempts, e.Completed, s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store ledger entry %s: %w", e.ReqID, err)
	}
	return nil
}

func (s *SQL) List(ctx context.Context, f Filter) ([]Entry, error) {
	query := selectColumns
	var args []any
	if f.State != "" {
		query += ` WHERE state = ?`
		args = append(args, string(f.State))
	}
	query += ` ORDER BY updated_at DESC, req_id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQL) Counts(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM fdc_requests GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count ledger entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[State]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[State(state)] = n
	}
	return counts, rows.Err()
}

func (s *SQL) Reset(ctx context.Context, reqID string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM fdc_requests WHERE req_id = ?`), reqID)
	if err != nil {
		return fmt.Errorf("failed to reset ledger entry %s: %w", reqID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}
