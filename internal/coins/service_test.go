package coins

import (
	"context"
	"errors"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Wallet{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func TestRewardCreatesWalletAndAccumulates(t *testing.T) {
	service := newTestService(t)

	balance, err := service.Reward(context.Background(), "member-1", 1)
	if err != nil {
		t.Fatalf("reward failed: %v", err)
	}
	if balance != 1 {
		t.Fatalf("expected first reward to open the wallet at 1, got %d", balance)
	}

	balance, err = service.Reward(context.Background(), "member-1", 2)
	if err != nil {
		t.Fatalf("second reward failed: %v", err)
	}
	if balance != 3 {
		t.Fatalf("expected rewards to accumulate, got %d", balance)
	}
}

func TestChargeIfSufficientDebitsOnlyWhenCovered(t *testing.T) {
	service := newTestService(t)
	if _, err := service.Reward(context.Background(), "member-1", 2); err != nil {
		t.Fatalf("reward failed: %v", err)
	}

	charged, err := service.ChargeIfSufficient(context.Background(), "member-1", 1)
	if err != nil {
		t.Fatalf("charge failed: %v", err)
	}
	if !charged {
		t.Fatalf("expected charge to land with sufficient balance")
	}

	charged, err = service.ChargeIfSufficient(context.Background(), "member-1", 5)
	if err != nil {
		t.Fatalf("charge failed: %v", err)
	}
	if charged {
		t.Fatalf("expected charge to be refused without coverage")
	}

	balance, err := service.GetBalance(context.Background(), "member-1")
	if err != nil {
		t.Fatalf("balance read failed: %v", err)
	}
	if balance != 1 {
		t.Fatalf("expected refused charge to leave the balance untouched, got %d", balance)
	}
}

func TestChargeIfSufficientRefusesUnknownWallet(t *testing.T) {
	service := newTestService(t)

	charged, err := service.ChargeIfSufficient(context.Background(), "stranger", 1)
	if err != nil {
		t.Fatalf("charge failed: %v", err)
	}
	if charged {
		t.Fatalf("expected charge against a missing wallet to be refused")
	}
}

func TestChargeIfSufficientNeverOverdrawsUnderConcurrency(t *testing.T) {
	service := newTestService(t)
	if _, err := service.Reward(context.Background(), "member-1", 5); err != nil {
		t.Fatalf("reward failed: %v", err)
	}

	const callers = 20
	var wg sync.WaitGroup
	landed := make([]bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			charged, err := service.ChargeIfSufficient(context.Background(), "member-1", 1)
			if err != nil {
				t.Errorf("charge failed: %v", err)
				return
			}
			landed[slot] = charged
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, charged := range landed {
		if charged {
			successes++
		}
	}
	if successes != 5 {
		t.Fatalf("expected exactly five charges to land, got %d", successes)
	}
	balance, err := service.GetBalance(context.Background(), "member-1")
	if err != nil {
		t.Fatalf("balance read failed: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected the wallet to be drained to zero, got %d", balance)
	}
}

func TestAmountsMustBePositive(t *testing.T) {
	service := newTestService(t)

	if _, err := service.Reward(context.Background(), "member-1", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected zero reward to be rejected, got %v", err)
	}
	if _, err := service.ChargeIfSufficient(context.Background(), "member-1", -1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected negative charge to be rejected, got %v", err)
	}
}

func TestGetBalanceDefaultsToZero(t *testing.T) {
	service := newTestService(t)

	balance, err := service.GetBalance(context.Background(), "stranger")
	if err != nil {
		t.Fatalf("balance read failed: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected a missing wallet to read as zero, got %d", balance)
	}
}
