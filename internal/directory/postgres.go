package directory

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres checks organizations against the catalog table.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) IsValidOrg(ctx context.Context, orgID string) (bool, error) {
	var exists bool
	row := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM organizations
			WHERE org_id = $1 AND active = TRUE
		)
	`, orgID)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
