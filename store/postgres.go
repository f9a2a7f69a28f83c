package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	// Registers the postgres driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"cosmossdk.io/log"

	"github.com/stablepath/flowtrack/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS flows (
	id                TEXT PRIMARY KEY,
	flow_type         TEXT NOT NULL,
	initial_chain     TEXT NOT NULL,
	destination_chain TEXT NOT NULL,
	tx_hash           TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	chain_progress    JSONB NOT NULL DEFAULT '{}'::jsonb,
	metadata          JSONB,
	error_state       JSONB,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS flows_tx_hash_key
	ON flows (tx_hash) WHERE tx_hash <> '';

CREATE INDEX IF NOT EXISTS flows_pending_idx
	ON flows (created_at) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS status_logs (
	id         BIGSERIAL PRIMARY KEY,
	flow_id    TEXT NOT NULL REFERENCES flows (id),
	stage      TEXT NOT NULL,
	chain      TEXT NOT NULL,
	source     TEXT NOT NULL,
	detail     JSONB,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS status_logs_flow_idx
	ON status_logs (flow_id, created_at);
`

const flowColumns = `id, flow_type, initial_chain, destination_chain, tx_hash,
	status, chain_progress, metadata, error_state, created_at, updated_at`

// Postgres implements Store on a lib/pq connection pool. Flow progress is a
// JSONB column updated under SELECT ... FOR UPDATE; status logs are
// append-only rows.
type Postgres struct {
	db     *sql.DB
	logger log.Logger
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects to the DSN and bootstraps the schema.
func OpenPostgres(ctx context.Context, dsn string, logger log.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &Postgres{db: db, logger: logger.With(log.ModuleKey, "store")}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the DDL. Statements are idempotent.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "migrate schema")
	}
	return nil
}

// Close releases the connection pool.
func (s *Postgres) Close() error { return s.db.Close() }

func (s *Postgres) CreateFlow(ctx context.Context, flow *types.Flow) (*types.Flow, bool, error) {
	progress, metadata, errState, err := marshalFlowJSON(flow)
	if err != nil {
		return nil, false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO flows (`+flowColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (tx_hash) WHERE tx_hash <> '' DO NOTHING`,
		flow.ID, flow.FlowType, flow.InitialChain, flow.DestinationChain, flow.TxHash,
		flow.Status, progress, metadata, errState, flow.CreatedAt, flow.UpdatedAt)
	if err != nil {
		return nil, false, errors.Wrap(err, "insert flow")
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, errors.Wrap(err, "insert flow")
	}
	if inserted == 0 {
		existing, err := s.GetFlowByTxHash(ctx, flow.TxHash)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	out, err := cloneFlow(flow)
	return out, true, err
}

func (s *Postgres) GetFlow(ctx context.Context, id string) (*types.Flow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+flowColumns+` FROM flows WHERE id = $1`, id)
	return scanFlow(row, id)
}

func (s *Postgres) GetFlowByTxHash(ctx context.Context, txHash string) (*types.Flow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+flowColumns+` FROM flows WHERE tx_hash = $1 AND tx_hash <> ''`, txHash)
	return scanFlow(row, txHash)
}

func (s *Postgres) FindFlowByChainTxHash(ctx context.Context, chain types.ChainKey, txHash string) (*types.Flow, error) {
	// The chain entry's own hash and its stage hashes live inside the JSONB
	// progress document; the initiating hash has its own column.
	row := s.db.QueryRowContext(ctx, `
		SELECT `+flowColumns+` FROM flows
		WHERE tx_hash = $1
		   OR chain_progress #>> ARRAY[$2,'txHash'] = $1
		   OR EXISTS (
			SELECT 1 FROM jsonb_array_elements(
				COALESCE(chain_progress #> ARRAY[$2,'stages'], '[]'::jsonb) ||
				COALESCE(chain_progress #> ARRAY[$2,'gaslessStages'], '[]'::jsonb)
			) AS stage WHERE stage->>'txHash' = $1
		   )
		ORDER BY created_at DESC
		LIMIT 1`, txHash, string(chain))
	return scanFlow(row, txHash)
}

func (s *Postgres) ListUnfinishedFlows(ctx context.Context) ([]*types.Flow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+flowColumns+` FROM flows WHERE status = $1 ORDER BY created_at`,
		types.FlowStatusPending)
	if err != nil {
		return nil, errors.Wrap(err, "list unfinished flows")
	}
	defer rows.Close()

	var out []*types.Flow
	for rows.Next() {
		f, err := scanFlow(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, errors.Wrap(rows.Err(), "list unfinished flows")
}

func (s *Postgres) UpdateFlow(ctx context.Context, id string, mutate func(*types.Flow) error) (*types.Flow, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin update")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	row := tx.QueryRowContext(ctx,
		`SELECT `+flowColumns+` FROM flows WHERE id = $1 FOR UPDATE`, id)
	current, err := scanFlow(row, id)
	if err != nil {
		return nil, err
	}

	next, err := cloneFlow(current)
	if err != nil {
		return nil, err
	}
	if err := mutate(next); err != nil {
		return nil, err
	}
	if err := guardStatus(current.Status, next.Status); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()

	progress, metadata, errState, err := marshalFlowJSON(next)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE flows SET status = $2, chain_progress = $3, metadata = $4,
			error_state = $5, updated_at = $6
		WHERE id = $1`,
		id, next.Status, progress, metadata, errState, next.UpdatedAt); err != nil {
		return nil, errors.Wrap(err, "update flow")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit update")
	}
	return next, nil
}

func (s *Postgres) AppendStatusLog(ctx context.Context, entry *types.StatusLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	detail, err := marshalJSONColumn(entry.Detail)
	if err != nil {
		return err
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO status_logs (flow_id, stage, chain, source, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id`,
		entry.FlowID, entry.Stage, entry.Chain, entry.Source, detail, entry.CreatedAt).
		Scan(&entry.ID)
	return errors.Wrap(err, "append status log")
}

func (s *Postgres) ListStatusLogs(ctx context.Context, flowID string) ([]types.StatusLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow_id, stage, chain, source, detail, created_at
		FROM status_logs WHERE flow_id = $1
		ORDER BY created_at, id`, flowID)
	if err != nil {
		return nil, errors.Wrap(err, "list status logs")
	}
	defer rows.Close()

	var out []types.StatusLog
	for rows.Next() {
		var (
			row    types.StatusLog
			detail []byte
		)
		if err := rows.Scan(&row.ID, &row.FlowID, &row.Stage, &row.Chain, &row.Source, &detail, &row.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan status log")
		}
		if err := unmarshalJSONColumn(detail, &row.Detail); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, errors.Wrap(rows.Err(), "list status logs")
}

func (s *Postgres) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.PingContext(ctx), "ping postgres")
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlow(row rowScanner, key string) (*types.Flow, error) {
	var (
		f        types.Flow
		progress []byte
		metadata []byte
		errState []byte
	)
	err := row.Scan(&f.ID, &f.FlowType, &f.InitialChain, &f.DestinationChain, &f.TxHash,
		&f.Status, &progress, &metadata, &errState, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan flow")
	}
	if err := json.Unmarshal(progress, &f.ChainProgress); err != nil {
		return nil, errors.Wrap(err, "decode chain_progress")
	}
	if err := unmarshalJSONColumn(metadata, &f.Metadata); err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(errState, &f.ErrorState); err != nil {
		return nil, err
	}
	return &f, nil
}

func marshalFlowJSON(f *types.Flow) (progress, metadata, errState []byte, err error) {
	if progress, err = json.Marshal(f.ChainProgress); err != nil {
		return nil, nil, nil, errors.Wrap(err, "encode chain_progress")
	}
	if metadata, err = marshalJSONColumn(f.Metadata); err != nil {
		return nil, nil, nil, err
	}
	if errState, err = marshalJSONColumn(f.ErrorState); err != nil {
		return nil, nil, nil, err
	}
	return progress, metadata, errState, nil
}

func marshalJSONColumn(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	return raw, errors.Wrap(err, "encode json column")
}

func unmarshalJSONColumn(raw []byte, out *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(raw, out), "decode json column")
}
