package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"

	"github.com/LukaK/simbiot/internal/config"
	"github.com/LukaK/simbiot/internal/hosting"
)

const postgresProbeName = "registry-postgres"

const (
	createDeploymentsTable = `CREATE TABLE IF NOT EXISTS deployments (
	name       TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	upsertDeployment = `INSERT INTO deployments (name, record) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET record = EXCLUDED.record, updated_at = now()`
	selectDeployment  = `SELECT record FROM deployments WHERE name = $1`
	deleteDeployment  = `DELETE FROM deployments WHERE name = $1`
	selectDeployments = `SELECT COALESCE(jsonb_agg(record ORDER BY name), '[]'::jsonb) FROM deployments`
)

// dbConn abstracts the pgxpool.Pool methods used by PostgresRegistry so that
// tests can inject a fake without standing up a real database.
type dbConn interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresRegistry stores deployment records in a JSONB column. The pool is
// opened and the table created on first use.
type PostgresRegistry struct {
	cfg     config.PostgresConfig
	cb      *gobreaker.CircuitBreaker
	connect func(ctx context.Context, cfg config.PostgresConfig) (dbConn, error)

	mu   sync.Mutex
	conn dbConn
}

// NewPostgresRegistry creates a PostgresRegistry. No connection is made at
// construction time.
func NewPostgresRegistry(cfg config.PostgresConfig, cb *gobreaker.CircuitBreaker) *PostgresRegistry {
	return &PostgresRegistry{
		cfg:     cfg,
		cb:      cb,
		connect: realConnect,
	}
}

func (r *PostgresRegistry) db(ctx context.Context) (dbConn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return r.conn, nil
	}

	conn, err := r.connect(ctx, r.cfg)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, createDeploymentsTable); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating deployments table: %w", err)
	}
	r.conn = conn
	return conn, nil
}

func (r *PostgresRegistry) exec(ctx context.Context, fn func(dbConn) (any, error)) (any, error) {
	out, err := r.cb.Execute(func() (any, error) {
		conn, err := r.db(ctx)
		if err != nil {
			return nil, err
		}
		return fn(conn)
	})
	return out, breakerErr("postgres", err)
}

func (r *PostgresRegistry) Put(ctx context.Context, d hosting.Deployment) error {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding deployment %s: %w", d.Name, err)
	}
	_, err = r.exec(ctx, func(conn dbConn) (any, error) {
		_, err := conn.Exec(ctx, upsertDeployment, d.Name, b)
		return nil, err
	})
	return err
}

func (r *PostgresRegistry) Get(ctx context.Context, name string) (*hosting.Deployment, error) {
	out, err := r.exec(ctx, func(conn dbConn) (any, error) {
		var raw []byte
		if err := conn.QueryRow(ctx, selectDeployment, name).Scan(&raw); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, hosting.ErrDeploymentNotFound
			}
			return nil, err
		}
		return raw, nil
	})
	if err != nil {
		return nil, err
	}
	var d hosting.Deployment
	if err := json.Unmarshal(out.([]byte), &d); err != nil {
		return nil, fmt.Errorf("decoding deployment %s: %w", name, err)
	}
	return &d, nil
}

func (r *PostgresRegistry) Delete(ctx context.Context, name string) error {
	_, err := r.exec(ctx, func(conn dbConn) (any, error) {
		_, err := conn.Exec(ctx, deleteDeployment, name)
		return nil, err
	})
	return err
}

// List returns deployments ordered by name.
func (r *PostgresRegistry) List(ctx context.Context) ([]hosting.Deployment, error) {
	out, err := r.exec(ctx, func(conn dbConn) (any, error) {
		var raw []byte
		if err := conn.QueryRow(ctx, selectDeployments).Scan(&raw); err != nil {
			return nil, err
		}
		return raw, nil
	})
	if err != nil {
		return nil, err
	}
	var list []hosting.Deployment
	if err := json.Unmarshal(out.([]byte), &list); err != nil {
		return nil, fmt.Errorf("decoding deployments: %w", err)
	}
	return list, nil
}

// Probe pings the server, opening the pool and creating the table if this
// is the first call.
func (r *PostgresRegistry) Probe(ctx context.Context) hosting.ProbeResult {
	return probe(postgresProbeName, r.cb, func() error {
		conn, err := r.db(ctx)
		if err != nil {
			return err
		}
		if err := conn.Ping(ctx); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		return nil
	})
}

// Close releases the pool if one was opened.
func (r *PostgresRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

// realConnect opens a pgxpool.Pool using the provided PostgresConfig.
func realConnect(ctx context.Context, cfg config.PostgresConfig) (dbConn, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DB, cfg.SSLMode,
	)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}

	return pool, nil
}
