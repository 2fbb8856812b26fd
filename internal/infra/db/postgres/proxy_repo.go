package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-outreach-fleet/internal/domain"
	"telegram-outreach-fleet/internal/domain/model"
	"telegram-outreach-fleet/internal/domain/ports/repository"
)

type ProxyRepo struct {
	pool *pgxpool.Pool
}

func NewProxyRepo(pool *pgxpool.Pool) *ProxyRepo {
	return &ProxyRepo{pool: pool}
}

const proxyColumns = `id, host, port, type, username, password, status,
	latency_ms, failure_count, account_id, last_checked, version`

func (r *ProxyRepo) Save(ctx context.Context, qx repository.Tx, p *model.Proxy) error {
	const q = `
		INSERT INTO proxies (
			id, host, port, type, username, password, status,
			latency_ms, failure_count, account_id, last_checked, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,1)
		ON CONFLICT (id) DO UPDATE SET
			host = EXCLUDED.host,
			port = EXCLUDED.port,
			type = EXCLUDED.type,
			username = EXCLUDED.username,
			password = EXCLUDED.password,
			status = EXCLUDED.status,
			latency_ms = EXCLUDED.latency_ms,
			failure_count = EXCLUDED.failure_count,
			account_id = EXCLUDED.account_id,
			last_checked = EXCLUDED.last_checked,
			version = proxies.version + 1
		RETURNING version`

	row, err := pickRow(ctx, r.pool, qx, q,
		p.ID, p.Host, p.Port, string(p.Type), p.Username, p.Password, string(p.Status),
		p.Latency.Milliseconds(), p.FailureCount, p.AccountID, p.LastChecked)
	if err != nil {
		return err
	}
	if err := row.Scan(&p.Version); err != nil {
		return mapPgError(err)
	}
	return nil
}

func (r *ProxyRepo) FindByID(ctx context.Context, qx repository.Tx, id string) (*model.Proxy, error) {
	row, err := pickRow(ctx, r.pool, qx,
		`SELECT `+proxyColumns+` FROM proxies WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return scanProxy(row)
}

func (r *ProxyRepo) ListAvailable(ctx context.Context, qx repository.Tx, limit int) ([]*model.Proxy, error) {
	rows, err := queryRows(ctx, r.pool, qx,
		`SELECT `+proxyColumns+` FROM proxies
		 WHERE account_id = '' AND status IN ('active','slow','unknown')
		 ORDER BY latency_ms, id
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collectProxies(rows)
}

func (r *ProxyRepo) ListAll(ctx context.Context, qx repository.Tx) ([]*model.Proxy, error) {
	rows, err := queryRows(ctx, r.pool, qx,
		`SELECT `+proxyColumns+` FROM proxies ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collectProxies(rows)
}

// Assign binds the proxy to the account only when the proxy is free. The
// single UPDATE is the uniqueness guarantee: two concurrent assigns of one
// proxy cannot both match the free condition.
func (r *ProxyRepo) Assign(ctx context.Context, qx repository.Tx, proxyID, accountID string) error {
	tag, err := execSQL(ctx, r.pool, qx,
		`UPDATE proxies SET account_id = $2, version = version + 1
		 WHERE id = $1 AND (account_id = '' OR account_id = $2)`,
		proxyID, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	row, err := pickRow(ctx, r.pool, qx, `SELECT 1 FROM proxies WHERE id = $1`, proxyID)
	if err != nil {
		return err
	}
	var one int
	if err := row.Scan(&one); err != nil {
		return mapPgError(err)
	}
	return domain.ErrProxyTaken
}

func (r *ProxyRepo) Release(ctx context.Context, qx repository.Tx, proxyID string) error {
	tag, err := execSQL(ctx, r.pool, qx,
		`UPDATE proxies SET account_id = '', version = version + 1 WHERE id = $1`, proxyID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanProxy(row pgx.Row) (*model.Proxy, error) {
	var (
		p         model.Proxy
		typ       string
		status    string
		latencyMS int64
	)
	err := row.Scan(&p.ID, &p.Host, &p.Port, &typ, &p.Username, &p.Password, &status,
		&latencyMS, &p.FailureCount, &p.AccountID, &p.LastChecked, &p.Version)
	if err != nil {
		return nil, mapPgError(err)
	}
	p.Type = model.ProxyType(typ)
	p.Status = model.ProxyStatus(status)
	p.Latency = time.Duration(latencyMS) * time.Millisecond
	return &p, nil
}

func collectProxies(rows pgx.Rows) ([]*model.Proxy, error) {
	defer rows.Close()
	var out []*model.Proxy
	for rows.Next() {
		p, err := scanProxy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, mapPgError(rows.Err())
}
