package coins

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	// ErrInvalidAmount indicates a non-positive reward or charge amount.
	ErrInvalidAmount = errors.New("coins: amount must be positive")
)

// Wallet holds a member's coin balance. Balances never go negative; the only
// decrement path is the conditional charge below.
type Wallet struct {
	UserID    string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Balance   int64     `gorm:"column:balance;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Wallet) TableName() string {
	return "wallets"
}

// ServiceConfig describes the dependencies of the coin ledger.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service implements the coin ledger. All mutations are single-statement
// atomic updates; callers never read-modify-write a balance.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService constructs the coin ledger service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("coins: %w", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, logger: logger}, nil
}

// Reward credits the user's wallet, creating it on first contact, and returns
// the resulting balance.
func (s *Service) Reward(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"balance": gorm.Expr("balance + ?", amount)}),
		}).
		Create(&Wallet{UserID: userID, Balance: amount}).Error
	if err != nil {
		return 0, err
	}
	return s.GetBalance(ctx, userID)
}

// ChargeIfSufficient debits the user's wallet only when the balance covers the
// amount. The check and the decrement are a single conditional UPDATE, so
// concurrent charges can never overdraw. It reports whether the debit landed.
func (s *Service) ChargeIfSufficient(ctx context.Context, userID string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	result := s.db.WithContext(ctx).
		Model(&Wallet{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		UpdateColumn("balance", gorm.Expr("balance - ?", amount))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// GetBalance returns the user's current balance. A user without a wallet has
// a balance of zero.
func (s *Service) GetBalance(ctx context.Context, userID string) (int64, error) {
	var wallet Wallet
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return wallet.Balance, nil
}
