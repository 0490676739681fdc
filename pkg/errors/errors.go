package errors

import (
	"errors"
)

var (
	ErrUserNotFound             = errors.New("user not found")
	ErrUserAlreadyExists        = errors.New("user already exists")
	ErrUserInactive             = errors.New("user is inactive")
	ErrReferrerNotFound         = errors.New("referrer not found")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrNilUser                  = errors.New("user is nil")
	ErrNilTransaction           = errors.New("transaction is nil")
	ErrInvalidTransactionType   = errors.New("invalid transaction type")
	ErrInvalidTransactionStatus = errors.New("invalid transaction status")
	ErrInvalidStatusTransition  = errors.New("invalid status transition")
	ErrTransactionNotFound      = errors.New("transaction not found")
	ErrAlreadyProcessed         = errors.New("transaction already processed")
	ErrAmountMismatch           = errors.New("paid amount does not match transaction amount")
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInvalidPixKey            = errors.New("invalid pix key")
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrInvalidInput             = errors.New("invalid input")
	ErrInvalidSignature         = errors.New("invalid webhook signature")
	ErrInvalidPayload           = errors.New("invalid webhook payload")
	ErrWebhookInFlight          = errors.New("webhook delivery already in progress")
	ErrProviderUnavailable      = errors.New("payment provider unavailable")
	ErrSettingNotFound          = errors.New("setting not found")
	ErrForbidden                = errors.New("forbidden")
	ErrInternal                 = errors.New("internal error")
)
