package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/claimboard/internal/model"
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations/postgres"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func isPgTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func pgError(op string, err error) error {
	if err != nil && pgconn.Timeout(err) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrStorageTimeout, err)
	}
	return storageError(op, err)
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя с нулевым балансом.
func (r *PostgresRepository) CreateUser(ctx context.Context, username string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id`,
		username, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, username)
		}
		return 0, pgError("create user", err)
	}
	return id, nil
}

const userColumns = `id, username, points, password_hash, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.Points, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByUsername возвращает пользователя по имени.
func (r *PostgresRepository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		return nil, pgError("get user by username", err)
	}
	return u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, pgError("get user by id", err)
	}
	return u, nil
}

// ListUsers возвращает всех пользователей в порядке регистрации.
func (r *PostgresRepository) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, pgError("select users", err)
	}
	defer rows.Close()

	users := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, pgError("scan user", err)
		}
		users = append(users, *u)
	}

	if err := rows.Err(); err != nil {
		return nil, pgError("rows error", err)
	}

	return users, nil
}

// RecordClaim увеличивает баланс пользователя и добавляет запись в журнал в одной транзакции.
// Повторный вызов с тем же ID не меняет баланс и возвращает текущее значение.
func (r *PostgresRepository) RecordClaim(ctx context.Context, claim model.ClaimEvent) (int64, error) {
	var balance int64

	err := withRetry(ctx, isPgTransient, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		// Блокировка строки пользователя сериализует начисления одному пользователю.
		err = tx.QueryRow(ctx, `SELECT points FROM users WHERE id = $1 FOR UPDATE`, claim.UserID).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user for update: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`INSERT INTO claims (id, user_id, username, points_awarded, created_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO NOTHING`,
			claim.ID, claim.UserID, claim.Username, claim.PointsAwarded, claim.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert claim: %w", err)
		}

		if tag.RowsAffected() == 1 {
			err = tx.QueryRow(ctx,
				`UPDATE users SET points = points + $2 WHERE id = $1 RETURNING points`,
				claim.UserID, claim.PointsAwarded,
			).Scan(&balance)
			if err != nil {
				return fmt.Errorf("increment balance: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, pgError("record claim", err)
	}

	return balance, nil
}

func (r *PostgresRepository) queryClaims(ctx context.Context, op, query string, args ...any) ([]model.ClaimEvent, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, pgError(op, err)
	}
	defer rows.Close()

	claims := make([]model.ClaimEvent, 0)
	for rows.Next() {
		var (
			c         model.ClaimEvent
			createdAt *time.Time
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Username, &c.PointsAwarded, &createdAt); err != nil {
			return nil, pgError("scan claim", err)
		}
		if createdAt != nil {
			c.CreatedAt = createdAt.UTC()
		}
		claims = append(claims, c)
	}

	if err := rows.Err(); err != nil {
		return nil, pgError("rows error", err)
	}

	return claims, nil
}

// ClaimsByUser возвращает начисления пользователя по возрастанию времени создания.
func (r *PostgresRepository) ClaimsByUser(ctx context.Context, username string) ([]model.ClaimEvent, error) {
	return r.queryClaims(ctx, "select claims by user",
		`SELECT id, user_id, username, points_awarded, created_at
		 FROM claims
		 WHERE username = $1
		 ORDER BY created_at ASC NULLS FIRST, seq ASC`,
		username,
	)
}

// ClaimsInWindow возвращает начисления, попавшие в окно.
func (r *PostgresRepository) ClaimsInWindow(ctx context.Context, w model.TimeWindow) ([]model.ClaimEvent, error) {
	upper := "<"
	if w.EndInclusive {
		upper = "<="
	}
	return r.queryClaims(ctx, "select claims in window",
		`SELECT id, user_id, username, points_awarded, created_at
		 FROM claims
		 WHERE created_at >= $1 AND created_at `+upper+` $2
		 ORDER BY created_at, seq`,
		w.Start, w.End,
	)
}

// BalanceDrifts возвращает пользователей, чей баланс расходится с суммой начислений.
func (r *PostgresRepository) BalanceDrifts(ctx context.Context) ([]model.BalanceDrift, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.username, u.points, COALESCE(SUM(c.points_awarded), 0)
		 FROM users u
		 LEFT JOIN claims c ON c.user_id = u.id
		 GROUP BY u.id, u.username, u.points
		 HAVING u.points <> COALESCE(SUM(c.points_awarded), 0)
		 ORDER BY u.id`,
	)
	if err != nil {
		return nil, pgError("select drifts", err)
	}
	defer rows.Close()

	var res []model.BalanceDrift
	for rows.Next() {
		var d model.BalanceDrift
		if err := rows.Scan(&d.UserID, &d.Username, &d.Balance, &d.LedgerSum); err != nil {
			return nil, pgError("scan drift", err)
		}
		res = append(res, d)
	}

	if err := rows.Err(); err != nil {
		return nil, pgError("rows error", err)
	}

	return res, nil
}

// RepairBalance приводит баланс пользователя к сумме его начислений и возвращает прежнее и новое значения.
func (r *PostgresRepository) RepairBalance(ctx context.Context, userID int64) (int64, int64, error) {
	var before, after int64

	err := withRetry(ctx, isPgTransient, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		err = tx.QueryRow(ctx, `SELECT points FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&before)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user for update: %w", err)
		}

		err = tx.QueryRow(ctx,
			`SELECT COALESCE(SUM(points_awarded), 0) FROM claims WHERE user_id = $1`,
			userID,
		).Scan(&after)
		if err != nil {
			return fmt.Errorf("sum claims: %w", err)
		}

		if before != after {
			if _, err := tx.Exec(ctx, `UPDATE users SET points = $2 WHERE id = $1`, userID, after); err != nil {
				return fmt.Errorf("update balance: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, pgError("repair balance", err)
	}

	return before, after, nil
}
