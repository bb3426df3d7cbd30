package store

import (
	"context"
	"encoding/json"

	"github.com/agentcoredev/runtime/core"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStorage is the durable core.Storage backing for deployments that
// configure a Postgres DSN (spec §6.3, §6.6), built on jackc/pgx/v5 with
// the narrow put/get result contract this module needs.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects to dsn and ensures the result tables exist.
func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, core.Wrap(core.KindInternal, err, "store: connect postgres")
	}
	s := &PostgresStorage{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStorage) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS task_results (
	task_id     TEXT PRIMARY KEY,
	agent_id    TEXT NOT NULL,
	status      TEXT NOT NULL,
	content     BYTEA,
	reasoning   JSONB,
	tokens_in   INTEGER NOT NULL,
	tokens_out  INTEGER NOT NULL,
	cost        DOUBLE PRECISION NOT NULL,
	backend_id  TEXT,
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	err_kind    TEXT,
	err_message TEXT
);
CREATE TABLE IF NOT EXISTS collab_results (
	request_id        TEXT PRIMARY KEY,
	terminal          BYTEA,
	participants      JSONB,
	resolution_policy TEXT,
	chosen            TEXT,
	err_message       TEXT
);`
	_, err := s.pool.Exec(ctx, ddl)
	if err != nil {
		return core.Wrap(core.KindInternal, err, "store: migrate postgres schema")
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStorage) Close() { s.pool.Close() }

func (s *PostgresStorage) PutTaskResult(ctx context.Context, r *core.TaskResult) error {
	reasoning, err := json.Marshal(r.Reasoning)
	if err != nil {
		return core.Wrap(core.KindInternal, err, "store: marshal reasoning")
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO task_results (task_id, agent_id, status, content, reasoning, tokens_in, tokens_out, cost, backend_id, started_at, finished_at, err_kind, err_message)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (task_id) DO UPDATE SET
	agent_id = EXCLUDED.agent_id, status = EXCLUDED.status, content = EXCLUDED.content,
	reasoning = EXCLUDED.reasoning, tokens_in = EXCLUDED.tokens_in, tokens_out = EXCLUDED.tokens_out,
	cost = EXCLUDED.cost, backend_id = EXCLUDED.backend_id, started_at = EXCLUDED.started_at,
	finished_at = EXCLUDED.finished_at, err_kind = EXCLUDED.err_kind, err_message = EXCLUDED.err_message`,
		r.TaskID, r.AgentID, string(r.Status), r.Content, reasoning, r.TokensIn, r.TokensOut,
		r.Cost, r.BackendID, r.StartedAt, r.FinishedAt, string(r.ErrKind), r.ErrMessage)
	if err != nil {
		return core.Wrap(core.KindInternal, err, "store: put task result %s", r.TaskID)
	}
	return nil
}

func (s *PostgresStorage) GetTaskResult(ctx context.Context, taskID string) (*core.TaskResult, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT task_id, agent_id, status, content, reasoning, tokens_in, tokens_out, cost, backend_id, started_at, finished_at, err_kind, err_message
FROM task_results WHERE task_id = $1`, taskID)

	var r core.TaskResult
	var status, errKind string
	var reasoning []byte
	if err := row.Scan(&r.TaskID, &r.AgentID, &status, &r.Content, &reasoning, &r.TokensIn, &r.TokensOut,
		&r.Cost, &r.BackendID, &r.StartedAt, &r.FinishedAt, &errKind, &r.ErrMessage); err != nil {
		if err.Error() == "no rows in result set" {
			return nil, false, nil
		}
		return nil, false, core.Wrap(core.KindInternal, err, "store: get task result %s", taskID)
	}
	r.Status = core.TaskStatus(status)
	r.ErrKind = core.Kind(errKind)
	if len(reasoning) > 0 {
		_ = json.Unmarshal(reasoning, &r.Reasoning)
	}
	return &r, true, nil
}

func (s *PostgresStorage) PutCollabResult(ctx context.Context, r *core.CollaborationResult) error {
	participants, err := json.Marshal(r.Participants)
	if err != nil {
		return core.Wrap(core.KindInternal, err, "store: marshal participants")
	}
	var errMsg string
	if r.Err != nil {
		errMsg = r.Err.Error()
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO collab_results (request_id, terminal, participants, resolution_policy, chosen, err_message)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (request_id) DO UPDATE SET
	terminal = EXCLUDED.terminal, participants = EXCLUDED.participants,
	resolution_policy = EXCLUDED.resolution_policy, chosen = EXCLUDED.chosen, err_message = EXCLUDED.err_message`,
		r.RequestID, r.Terminal, participants, string(r.ResolutionPolicy), r.Chosen, errMsg)
	if err != nil {
		return core.Wrap(core.KindInternal, err, "store: put collab result %s", r.RequestID)
	}
	return nil
}

func (s *PostgresStorage) GetCollabResult(ctx context.Context, collabID string) (*core.CollaborationResult, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT request_id, terminal, participants, resolution_policy, chosen, err_message
FROM collab_results WHERE request_id = $1`, collabID)

	var r core.CollaborationResult
	var policy, errMsg string
	var participants []byte
	if err := row.Scan(&r.RequestID, &r.Terminal, &participants, &policy, &r.Chosen, &errMsg); err != nil {
		if err.Error() == "no rows in result set" {
			return nil, false, nil
		}
		return nil, false, core.Wrap(core.KindInternal, err, "store: get collab result %s", collabID)
	}
	r.ResolutionPolicy = core.ResolutionPolicy(policy)
	if len(participants) > 0 {
		_ = json.Unmarshal(participants, &r.Participants)
	}
	if errMsg != "" {
		r.Err = core.Errorf(core.KindInternal, "%s", errMsg)
	}
	return &r, true, nil
}

var _ core.Storage = (*PostgresStorage)(nil)
