package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/claimboard/internal/model"
)

// sqliteTimeLayout имеет фиксированную ширину, поэтому строковое сравнение совпадает с хронологическим.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000000"

// SQLiteRepository хранит пользователей и журнал начислений в файле SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository открывает базу по указанному пути и применяет миграции.
// Запись выполняется транзакциями BEGIN IMMEDIATE, чтобы конкурирующие начисления не теряли обновления.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations/sqlite"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func isSQLiteTransient(err error) bool {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code == sqlite3.ErrBusy || sqErr.Code == sqlite3.ErrLocked
	}
	return false
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// parseSQLiteTime возвращает нулевое время для пустых и повреждённых значений.
func parseSQLiteTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, err := time.Parse(sqliteTimeLayout, s.String)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// Close закрывает соединение с БД.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// CreateUser создаёт нового пользователя с нулевым балансом.
func (r *SQLiteRepository) CreateUser(ctx context.Context, username string, passwordHash []byte) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, passwordHash, formatSQLiteTime(time.Now()),
	)
	if err != nil {
		var sqErr sqlite3.Error
		if errors.As(err, &sqErr) && sqErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, username)
		}
		return 0, storageError("create user", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageError("last insert id", err)
	}
	return id, nil
}

type sqlRow interface {
	Scan(dest ...any) error
}

func scanSQLiteUser(row sqlRow) (*model.User, error) {
	var (
		u         model.User
		createdAt sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Points, &u.PasswordHash, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	u.CreatedAt = parseSQLiteTime(createdAt)
	return &u, nil
}

// GetUserByUsername возвращает пользователя по имени.
func (r *SQLiteRepository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := scanSQLiteUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err != nil {
		return nil, storageError("get user by username", err)
	}
	return u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *SQLiteRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanSQLiteUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, storageError("get user by id", err)
	}
	return u, nil
}

// ListUsers возвращает всех пользователей в порядке регистрации.
func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, storageError("select users", err)
	}
	defer rows.Close()

	users := make([]model.User, 0)
	for rows.Next() {
		u, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, storageError("scan user", err)
		}
		users = append(users, *u)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("rows error", err)
	}

	return users, nil
}

// RecordClaim увеличивает баланс пользователя и добавляет запись в журнал в одной транзакции.
func (r *SQLiteRepository) RecordClaim(ctx context.Context, claim model.ClaimEvent) (int64, error) {
	var balance int64

	err := withRetry(ctx, isSQLiteTransient, func(ctx context.Context) error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		err = tx.QueryRowContext(ctx, `SELECT points FROM users WHERE id = ?`, claim.UserID).Scan(&balance)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("select balance: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO claims (id, user_id, username, points_awarded, created_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO NOTHING`,
			claim.ID.String(), claim.UserID, claim.Username, claim.PointsAwarded, formatSQLiteTime(claim.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert claim: %w", err)
		}

		inserted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}

		if inserted == 1 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE users SET points = points + ? WHERE id = ?`,
				claim.PointsAwarded, claim.UserID,
			); err != nil {
				return fmt.Errorf("increment balance: %w", err)
			}
			balance += claim.PointsAwarded
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, storageError("record claim", err)
	}

	return balance, nil
}

func (r *SQLiteRepository) queryClaims(ctx context.Context, op, query string, args ...any) ([]model.ClaimEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError(op, err)
	}
	defer rows.Close()

	claims := make([]model.ClaimEvent, 0)
	for rows.Next() {
		var (
			c         model.ClaimEvent
			id        string
			createdAt sql.NullString
		)
		if err := rows.Scan(&id, &c.UserID, &c.Username, &c.PointsAwarded, &createdAt); err != nil {
			return nil, storageError("scan claim", err)
		}
		c.ID, _ = uuid.Parse(id)
		c.CreatedAt = parseSQLiteTime(createdAt)
		claims = append(claims, c)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("rows error", err)
	}

	return claims, nil
}

// ClaimsByUser возвращает начисления пользователя по возрастанию времени создания.
func (r *SQLiteRepository) ClaimsByUser(ctx context.Context, username string) ([]model.ClaimEvent, error) {
	return r.queryClaims(ctx, "select claims by user",
		`SELECT id, user_id, username, points_awarded, created_at
		 FROM claims
		 WHERE username = ?
		 ORDER BY created_at ASC, seq ASC`,
		username,
	)
}

// ClaimsInWindow возвращает начисления, попавшие в окно.
func (r *SQLiteRepository) ClaimsInWindow(ctx context.Context, w model.TimeWindow) ([]model.ClaimEvent, error) {
	upper := "<"
	if w.EndInclusive {
		upper = "<="
	}
	return r.queryClaims(ctx, "select claims in window",
		`SELECT id, user_id, username, points_awarded, created_at
		 FROM claims
		 WHERE created_at >= ? AND created_at `+upper+` ?
		 ORDER BY created_at, seq`,
		formatSQLiteTime(w.Start), formatSQLiteTime(w.End),
	)
}

// BalanceDrifts возвращает пользователей, чей баланс расходится с суммой начислений.
func (r *SQLiteRepository) BalanceDrifts(ctx context.Context) ([]model.BalanceDrift, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.username, u.points, COALESCE(SUM(c.points_awarded), 0) AS ledger
		 FROM users u
		 LEFT JOIN claims c ON c.user_id = u.id
		 GROUP BY u.id, u.username, u.points
		 HAVING u.points <> ledger
		 ORDER BY u.id`,
	)
	if err != nil {
		return nil, storageError("select drifts", err)
	}
	defer rows.Close()

	var res []model.BalanceDrift
	for rows.Next() {
		var d model.BalanceDrift
		if err := rows.Scan(&d.UserID, &d.Username, &d.Balance, &d.LedgerSum); err != nil {
			return nil, storageError("scan drift", err)
		}
		res = append(res, d)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("rows error", err)
	}

	return res, nil
}

// RepairBalance приводит баланс пользователя к сумме его начислений и возвращает прежнее и новое значения.
func (r *SQLiteRepository) RepairBalance(ctx context.Context, userID int64) (int64, int64, error) {
	var before, after int64

	err := withRetry(ctx, isSQLiteTransient, func(ctx context.Context) error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		err = tx.QueryRowContext(ctx, `SELECT points FROM users WHERE id = ?`, userID).Scan(&before)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("select balance: %w", err)
		}

		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(points_awarded), 0) FROM claims WHERE user_id = ?`,
			userID,
		).Scan(&after)
		if err != nil {
			return fmt.Errorf("sum claims: %w", err)
		}

		if before != after {
			if _, err := tx.ExecContext(ctx, `UPDATE users SET points = ? WHERE id = ?`, after, userID); err != nil {
				return fmt.Errorf("update balance: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, storageError("repair balance", err)
	}

	return before, after, nil
}
