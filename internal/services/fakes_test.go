package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/honeynil/pix-ledger/internal/infrastructure/pix"
	"github.com/honeynil/pix-ledger/internal/models"
	pkgerrors "github.com/honeynil/pix-ledger/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// ledger is an in-memory store with the same conditional-claim semantics as
// the Postgres repositories: every mutation happens under one mutex.
type ledger struct {
	mu       sync.Mutex
	users    map[int64]*models.User
	txs      map[int64]*models.Transaction
	bonuses  []models.ReferralBonus
	settings map[string]string
	nextUser int64
	nextTx   int64
}

func newLedger() *ledger {
	return &ledger{
		users:    map[int64]*models.User{},
		txs:      map[int64]*models.Transaction{},
		settings: map[string]string{},
	}
}

func (l *ledger) addUser(username string, balance string, referredBy *int64) *models.User {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextUser++
	u := &models.User{
		ID:         l.nextUser,
		Username:   username,
		Role:       models.RoleUser,
		Balance:    decimal.RequireFromString(balance),
		ReferredBy: referredBy,
		IsActive:   true,
		CreatedAt:  time.Now(),
	}
	l.users[u.ID] = u
	return u
}

func (l *ledger) addTx(tx models.Transaction) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextTx++
	tx.ID = l.nextTx
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	l.txs[tx.ID] = &tx
	return tx.ID
}

func (l *ledger) user(id int64) models.User {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.users[id]
}

func (l *ledger) tx(id int64) models.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.txs[id]
}

func (l *ledger) txCount(userID int64, typ models.TransactionType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, tx := range l.txs {
		if tx.UserID == userID && tx.Type == typ {
			n++
		}
	}
	return n
}

func (l *ledger) bonusCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.bonuses)
}

func (l *ledger) findByExternalID(externalID string) *models.Transaction {
	for _, tx := range l.txs {
		if tx.ExternalID == externalID {
			return tx
		}
	}
	return nil
}

func copyTx(tx *models.Transaction) *models.Transaction {
	out := *tx
	out.Metadata = models.Metadata{}
	for k, v := range tx.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

func merge(dst *models.Transaction, meta models.Metadata) {
	if dst.Metadata == nil {
		dst.Metadata = models.Metadata{}
	}
	for k, v := range meta {
		dst.Metadata[k] = v
	}
}

type userStore struct{ *ledger }

func (s userStore) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == user.Username {
			return pkgerrors.ErrUserAlreadyExists
		}
	}
	s.nextUser++
	user.ID = s.nextUser
	user.IsActive = true
	user.CreatedAt = time.Now()
	stored := *user
	s.users[user.ID] = &stored
	return nil
}

func (s userStore) GetByID(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, pkgerrors.ErrUserNotFound
	}
	out := *u
	return &out, nil
}

func (s userStore) GetByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			out := *u
			return &out, nil
		}
	}
	return nil, pkgerrors.ErrUserNotFound
}

func (s userStore) GetBalance(_ context.Context, userID int64) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return decimal.Zero, pkgerrors.ErrUserNotFound
	}
	return u.Balance, nil
}

func (s userStore) Erase(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return pkgerrors.ErrUserNotFound
	}
	for id, tx := range s.txs {
		if tx.UserID == userID {
			delete(s.txs, id)
		}
	}
	kept := s.bonuses[:0]
	for _, b := range s.bonuses {
		if b.ReferrerID != userID && b.ReferredID != userID {
			kept = append(kept, b)
		}
	}
	s.bonuses = kept
	for _, u := range s.users {
		if u.ReferredBy != nil && *u.ReferredBy == userID {
			u.ReferredBy = nil
		}
	}
	delete(s.users, userID)
	return nil
}

type txStore struct {
	*ledger
	completeErr error
}

func (s *txStore) Create(_ context.Context, tx *models.Transaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findByExternalID(tx.ExternalID) != nil {
		return 0, fmt.Errorf("duplicate external id %s", tx.ExternalID)
	}
	s.nextTx++
	tx.ID = s.nextTx
	tx.CreatedAt = time.Now()
	s.txs[tx.ID] = copyTx(tx)
	return tx.ID, nil
}

func (s *txStore) GetByID(_ context.Context, id int64) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	return copyTx(tx), nil
}

func (s *txStore) GetByExternalID(_ context.Context, externalID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.findByExternalID(externalID)
	if tx == nil {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	return copyTx(tx), nil
}

func (s *txStore) ListByUser(_ context.Context, userID int64, limit, offset int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, tx := range s.txs {
		if tx.UserID == userID {
			out = append(out, *copyTx(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return []models.Transaction{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *txStore) ListStalePending(_ context.Context, createdBefore, createdAfter time.Time, limit int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, tx := range s.txs {
		if tx.Type != models.TypeDeposit || tx.Status.IsTerminal() {
			continue
		}
		if tx.CreatedAt.After(createdBefore) || tx.CreatedAt.Before(createdAfter) {
			continue
		}
		out = append(out, *copyTx(tx))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *txStore) CompleteDeposit(_ context.Context, externalID string, meta models.Metadata, rule models.ReferralRule) (*models.DepositSettlement, error) {
	if s.completeErr != nil {
		return nil, s.completeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.findByExternalID(externalID)
	switch {
	case tx == nil:
		return nil, pkgerrors.ErrTransactionNotFound
	case tx.Type != models.TypeDeposit:
		return nil, pkgerrors.ErrInvalidTransactionType
	case tx.Status.IsTerminal():
		return nil, fmt.Errorf("%w: status %s", pkgerrors.ErrAlreadyProcessed, tx.Status)
	}

	now := time.Now()
	tx.Status = models.StatusCompleted
	tx.ProcessedAt = &now
	merge(tx, meta)

	owner := s.users[tx.UserID]
	owner.Balance = owner.Balance.Add(tx.Amount)
	settlement := &models.DepositSettlement{Transaction: copyTx(tx), NewBalance: owner.Balance}

	if owner.ReferredBy == nil || !rule.Qualifies(tx.Amount) {
		return settlement, nil
	}
	referrer, ok := s.users[*owner.ReferredBy]
	if !ok || !referrer.IsActive {
		return settlement, nil
	}
	for _, b := range s.bonuses {
		if b.TransactionID == tx.ID {
			return settlement, nil
		}
	}
	bonus := models.ReferralBonus{
		ID:            int64(len(s.bonuses) + 1),
		ReferrerID:    referrer.ID,
		ReferredID:    owner.ID,
		TransactionID: tx.ID,
		BonusAmount:   rule.CPA,
		Status:        models.BonusStatusPaid,
		CreatedAt:     now,
	}
	s.bonuses = append(s.bonuses, bonus)
	referrer.ReferralEarnings = referrer.ReferralEarnings.Add(rule.CPA)
	settlement.ReferralBonus = &bonus
	return settlement, nil
}

func (s *txStore) CreateWithdrawal(_ context.Context, tx *models.Transaction) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.users[tx.UserID]
	if !ok {
		return decimal.Zero, pkgerrors.ErrUserNotFound
	}
	if owner.Balance.LessThan(tx.Amount) {
		return decimal.Zero, pkgerrors.ErrInsufficientFunds
	}
	owner.Balance = owner.Balance.Sub(tx.Amount)
	s.nextTx++
	tx.ID = s.nextTx
	tx.CreatedAt = time.Now()
	s.txs[tx.ID] = copyTx(tx)
	return owner.Balance, nil
}

func (s *txStore) UpdateStatus(_ context.Context, id int64, status models.StatusType, meta models.Metadata) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if !models.CanTransition(tx.Status, status) {
		return nil, pkgerrors.ErrInvalidStatusTransition
	}
	if tx.Type == models.TypeDeposit && status == models.StatusCompleted {
		return nil, pkgerrors.ErrInvalidStatusTransition
	}
	tx.Status = status
	if status == models.StatusCompleted {
		now := time.Now()
		tx.ProcessedAt = &now
	}
	merge(tx, meta)
	if tx.Type == models.TypeWithdrawal && (status == models.StatusFailed || status == models.StatusCancelled) {
		owner := s.users[tx.UserID]
		owner.Balance = owner.Balance.Add(tx.Amount)
	}
	return copyTx(tx), nil
}

type settingsStore struct{ *ledger }

func (s settingsStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	if !ok {
		return "", pkgerrors.ErrSettingNotFound
	}
	return v, nil
}

func (s settingsStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateCharge(ctx context.Context, req pix.ChargeRequest) (*pix.Charge, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pix.Charge), args.Error(1)
}

func (m *mockProvider) GetCharge(ctx context.Context, id string) (*pix.Charge, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pix.Charge), args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.LedgerEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event models.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []models.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}
