package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/honeynil/pix-ledger/internal/models"
	pkgerrors "github.com/honeynil/pix-ledger/pkg/errors"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const uniqueViolation = "23505"

const userColumns = `id, username, email, document, password_hash, role, balance, bonus_balance, referred_by, referral_earnings, is_active, created_at`

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Create(ctx context.Context, user *models.User) (err error) {
	ctx, c := startCall(ctx, "user-repository", "CreateUser")
	defer func() { c.end(err) }()

	if user == nil {
		err = pkgerrors.ErrNilUser
		slog.Error("failed to create user", "method", "Create", "error", err)
		return err
	}
	if user.Username == "" || user.PasswordHash == "" {
		err = fmt.Errorf("%w: username and password are required", pkgerrors.ErrInvalidInput)
		slog.Error("failed to create user", "method", "Create", "error", err)
		return err
	}
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	c.span.SetAttributes(attribute.String("username", user.Username))

	query := `
		INSERT INTO users (username, email, document, password_hash, role, referred_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, balance, bonus_balance, referral_earnings, is_active, created_at`
	err = r.db.QueryRowContext(ctx, query,
		user.Username,
		user.Email,
		user.Document,
		user.PasswordHash,
		user.Role,
		user.ReferredBy,
	).Scan(&user.ID, &user.Balance, &user.BonusBalance, &user.ReferralEarnings, &user.IsActive, &user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			err = pkgerrors.ErrUserAlreadyExists
			slog.Error("username already taken", "method", "Create", "username", user.Username)
			return err
		}
		slog.Error("failed to create user", "method", "Create", "username", user.Username, "error", err)
		return fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user created", "method", "Create", "user_id", user.ID, "username", user.Username)
	return nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int64) (user *models.User, err error) {
	ctx, c := startCall(ctx, "user-repository", "GetUserByID", attribute.Int64("user_id", id))
	defer func() { c.end(err) }()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err = scanUser(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrUserNotFound
		slog.Error("user not found", "method", "GetByID", "user_id", id)
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get user by id", "method", "GetByID", "user_id", id, "error", err)
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepository) GetByUsername(ctx context.Context, username string) (user *models.User, err error) {
	ctx, c := startCall(ctx, "user-repository", "GetUserByUsername", attribute.String("username", username))
	defer func() { c.end(err) }()

	if username == "" {
		err = fmt.Errorf("%w: username cannot be empty", pkgerrors.ErrInvalidInput)
		return nil, err
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	user, err = scanUser(r.db.QueryRowContext(ctx, query, username))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = pkgerrors.ErrUserNotFound
		return nil, err
	case err != nil:
		slog.Error("failed to get user by username", "method", "GetByUsername", "username", username, "error", err)
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepository) GetBalance(ctx context.Context, userID int64) (balance decimal.Decimal, err error) {
	ctx, c := startCall(ctx, "user-repository", "GetBalance", attribute.Int64("user_id", userID))
	defer func() { c.end(err) }()

	err = r.db.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrUserNotFound
		return decimal.Zero, err
	}
	if err != nil {
		slog.Error("failed to get balance", "method", "GetBalance", "user_id", userID, "error", err)
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}

	slog.Info("balance retrieved", "method", "GetBalance", "user_id", userID, "balance", balance)
	return balance, nil
}

func (r *PostgresUserRepository) Erase(ctx context.Context, userID int64) (err error) {
	ctx, c := startCall(ctx, "user-repository", "EraseUser", attribute.Int64("user_id", userID))
	defer func() { c.end(err) }()

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Erase", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	steps := []struct {
		name  string
		query string
	}{
		{"referral bonuses", `DELETE FROM referral_bonuses WHERE referrer_id = $1 OR referred_id = $1`},
		{"transactions", `DELETE FROM transactions WHERE user_id = $1`},
		{"referees", `UPDATE users SET referred_by = NULL WHERE referred_by = $1`},
	}
	for _, step := range steps {
		if _, err = dbTx.ExecContext(ctx, step.query, userID); err != nil {
			slog.Error("failed to erase user data", "method", "Erase", "user_id", userID, "step", step.name, "error", err)
			return rollback(dbTx, "Erase", fmt.Errorf("failed to erase %s: %w", step.name, err))
		}
	}

	res, err := dbTx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		slog.Error("failed to delete user", "method", "Erase", "user_id", userID, "error", err)
		return rollback(dbTx, "Erase", fmt.Errorf("failed to delete user: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = rollback(dbTx, "Erase", pkgerrors.ErrUserNotFound)
		return err
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Erase", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("user erased", "method", "Erase", "user_id", userID)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		user       models.User
		referredBy sql.NullInt64
	)
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Document,
		&user.PasswordHash,
		&user.Role,
		&user.Balance,
		&user.BonusBalance,
		&referredBy,
		&user.ReferralEarnings,
		&user.IsActive,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if referredBy.Valid {
		id := referredBy.Int64
		user.ReferredBy = &id
	}
	return &user, nil
}
