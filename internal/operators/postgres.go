package operators

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const operatorColumns = `id, email, name, password_hash, role, active, created_at, updated_at`

// PostgresRepository stores operators in Postgres.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a PostgresRepository on pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, op *Operator) error {
	op.ID = uuid.New()
	now := time.Now().UTC()
	op.CreatedAt = now
	op.UpdatedAt = now

	_, err := r.pool.Exec(ctx, `
		INSERT INTO operators (`+operatorColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		op.ID, op.Email, op.Name, op.PasswordHash, op.Role, op.Active, op.CreatedAt, op.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert operator: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Operator, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+operatorColumns+`
		FROM operators WHERE id = $1`, id)
	return scanOperator(row)
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*Operator, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+operatorColumns+`
		FROM operators WHERE email = $1`, email)
	return scanOperator(row)
}

func (r *PostgresRepository) List(ctx context.Context) ([]*Operator, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+operatorColumns+`
		FROM operators ORDER BY created_at, email`)
	if err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	defer rows.Close()

	var out []*Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Update(ctx context.Context, op *Operator) error {
	op.UpdatedAt = time.Now().UTC()

	tag, err := r.pool.Exec(ctx, `
		UPDATE operators
		SET email = $2, name = $3, password_hash = $4, role = $5, active = $6, updated_at = $7
		WHERE id = $1`,
		op.ID, op.Email, op.Name, op.PasswordHash, op.Role, op.Active, op.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("update operator: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOperator(row pgx.Row) (*Operator, error) {
	var op Operator
	err := row.Scan(
		&op.ID, &op.Email, &op.Name, &op.PasswordHash,
		&op.Role, &op.Active, &op.CreatedAt, &op.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan operator: %w", err)
	}
	return &op, nil
}
