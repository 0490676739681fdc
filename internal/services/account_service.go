package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/honeynil/pix-ledger/internal/infrastructure/auth"
	"github.com/honeynil/pix-ledger/internal/infrastructure/redis"
	"github.com/honeynil/pix-ledger/internal/models"
	"github.com/honeynil/pix-ledger/internal/repository"
	pkgerrors "github.com/honeynil/pix-ledger/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

type RegisterRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	Email      string `json:"email"`
	Document   string `json:"document"`
	ReferrerID *int64 `json:"referrer_id,omitempty"`
}

type AccountService interface {
	Register(ctx context.Context, req RegisterRequest) (*models.User, error)
	Login(ctx context.Context, username, password string) (string, error)
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	GetTransactionHistory(ctx context.Context, userID int64, limit, offset int) ([]models.Transaction, error)
}

type accountService struct {
	userRepo        repository.UserRepository
	transactionRepo repository.TransactionRepository
	redisClient     redis.RedisClient
	tokens          *auth.TokenManager
}

func NewAccountService(
	userRepo repository.UserRepository,
	transactionRepo repository.TransactionRepository,
	redisClient redis.RedisClient,
	tokens *auth.TokenManager,
) *accountService {
	return &accountService{
		userRepo:        userRepo,
		transactionRepo: transactionRepo,
		redisClient:     redisClient,
		tokens:          tokens,
	}
}

func (s *accountService) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	tracer := otel.Tracer("account-service")
	ctx, span := tracer.Start(ctx, "Register")
	defer span.End()

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		span.SetStatus(codes.Error, "empty username or password")
		return nil, fmt.Errorf("%w: username and password are required", pkgerrors.ErrInvalidInput)
	}

	if req.ReferrerID != nil {
		if _, err := s.userRepo.GetByID(ctx, *req.ReferrerID); err != nil {
			if errors.Is(err, pkgerrors.ErrUserNotFound) {
				span.SetStatus(codes.Error, "referrer not found")
				return nil, pkgerrors.ErrReferrerNotFound
			}
			span.RecordError(err)
			slog.Error("failed to check referrer", "referrer_id", *req.ReferrerID, "error", err)
			return nil, err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "password hashing failed")
		slog.Error("failed to hash password", "username", req.Username, "error", err)
		return nil, fmt.Errorf("%w: failed to hash password", pkgerrors.ErrInternal)
	}

	user := &models.User{
		Username:     req.Username,
		Email:        strings.TrimSpace(req.Email),
		Document:     strings.TrimSpace(req.Document),
		PasswordHash: string(hash),
		Role:         models.RoleUser,
		ReferredBy:   req.ReferrerID,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user creation failed")
		if errors.Is(err, pkgerrors.ErrUserAlreadyExists) {
			slog.Warn("username already exists", "username", req.Username)
			return nil, err
		}
		slog.Error("failed to create user in DB", "username", req.Username, "error", err)
		return nil, fmt.Errorf("%w: failed to create user", pkgerrors.ErrInternal)
	}

	span.SetAttributes(attribute.Int64("user_id", user.ID))
	slog.Info("user registered successfully", "user_id", user.ID, "username", user.Username)
	return user, nil
}

func (s *accountService) Login(ctx context.Context, username, password string) (string, error) {
	tracer := otel.Tracer("account-service")
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	user, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		slog.Warn("failed to login", "username", username, "error", err)
		span.SetStatus(codes.Error, "unknown user")
		return "", pkgerrors.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Warn("invalid password", "username", username)
		span.SetStatus(codes.Error, "invalid password")
		return "", pkgerrors.ErrInvalidCredentials
	}
	if !user.IsActive {
		span.SetStatus(codes.Error, "user inactive")
		return "", pkgerrors.ErrUserInactive
	}

	token, err := s.tokens.Generate(user.ID, user.Role)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to generate JWT", "user_id", user.ID, "error", err)
		return "", fmt.Errorf("%w: failed to generate token", pkgerrors.ErrInternal)
	}

	// The middleware only accepts the token stored here, so a login that
	// cannot be recorded must not hand out a token.
	if err := s.redisClient.Set(ctx, auth.TokenKey(user.ID), token, s.tokens.TTL()); err != nil {
		span.RecordError(err)
		slog.Error("failed to store JWT", "user_id", user.ID, "error", err)
		return "", fmt.Errorf("%w: failed to store token", pkgerrors.ErrInternal)
	}

	slog.Info("user logged in", "username", username, "user_id", user.ID)
	return token, nil
}

func (s *accountService) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	tracer := otel.Tracer("account-service")
	ctx, span := tracer.Start(ctx, "GetBalance")
	defer span.End()

	balance, err := s.userRepo.GetBalance(ctx, userID)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to get balance", "user_id", userID, "error", err)
		return decimal.Zero, err
	}
	return balance, nil
}

func (s *accountService) GetTransactionHistory(ctx context.Context, userID int64, limit, offset int) ([]models.Transaction, error) {
	tracer := otel.Tracer("account-service")
	ctx, span := tracer.Start(ctx, "GetTransactionHistory")
	defer span.End()

	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	txs, err := s.transactionRepo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to get transaction history", "user_id", userID, "error", err)
		return nil, err
	}
	return txs, nil
}
