package repository

import (
	"context"

	"github.com/honeynil/pix-ledger/internal/models"
	"github.com/shopspring/decimal"
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	// Erase removes the user together with its transactions and referral bonuses.
	Erase(ctx context.Context, userID int64) error
}
