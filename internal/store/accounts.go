package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"insiderwatch/internal/insider"
)

// AccountUpdate is one sighting of a wallet.
type AccountUpdate struct {
	Address        string
	DisplayName    string
	PreviousNames  []string
	TotalTrades    int
	TotalVolume    float64
	TotalProfit    float64
	WinRate        float64
	UniqueMarkets  int
	AccountAgeDays *float64
	RiskScore      int
	Flags          []string

	// Leaves the stored trade count and volume alone.
	ActivityUnavailable bool
}

// AccountUpdateFromSuspect builds the update for a scored wallet.
func AccountUpdateFromSuspect(s *insider.SuspectedInsider) AccountUpdate {
	p := s.Profile
	return AccountUpdate{
		Address:        p.Address,
		DisplayName:    p.DisplayName,
		PreviousNames:  p.PreviousNames,
		TotalTrades:    p.TotalTrades,
		TotalVolume:    p.TotalVolume,
		TotalProfit:    p.TotalProfit,
		WinRate:        p.WinRate,
		UniqueMarkets:  p.UniqueMarketsTraded,
		AccountAgeDays: p.AccountAgeDays,
		RiskScore:      s.RiskScore,
		Flags:          s.FlagNames(),

		ActivityUnavailable: p.ActivityUnavailable,
	}
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// UpsertAccount creates or patches the account for the lower-cased address.
// A changed display name moves the old one into PreviousNames. The stored
// risk score only ever increases; flags follow the highest score.
func (s *Store) UpsertAccount(ctx context.Context, u AccountUpdate) (*Account, error) {
	addr := normalizeAddress(u.Address)
	if addr == "" {
		return nil, fmt.Errorf("upsert account: empty address")
	}

	unlock := s.locks.Lock("account:" + addr)
	defer unlock()

	var acct Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh := Account{
			ID:         uuid.New(),
			Address:    addr,
			LastSeenAt: s.utcNow(),
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}},
			DoNothing: true,
		}).Create(&fresh)
		if res.Error != nil {
			return fmt.Errorf("insert account: %w", res.Error)
		}

		if err := tx.Where("address = ?", addr).First(&acct).Error; err != nil {
			return fmt.Errorf("load account: %w", err)
		}

		mergeAccount(&acct, u, s.utcNow())

		// is_flagged is owned by the alert path.
		if err := tx.Omit("IsFlagged").Save(&acct).Error; err != nil {
			return fmt.Errorf("save account: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("account upserted",
		zap.String("address", addr),
		zap.Int("risk_score", acct.RiskScore),
	)
	return &acct, nil
}

func mergeAccount(acct *Account, u AccountUpdate, now time.Time) {
	names := append([]string(nil), acct.PreviousNames...)
	addName := func(n string) {
		if n == "" || n == u.DisplayName {
			return
		}
		for _, existing := range names {
			if existing == n {
				return
			}
		}
		names = append(names, n)
	}
	for _, n := range u.PreviousNames {
		addName(n)
	}
	if u.DisplayName != "" {
		if acct.DisplayName != u.DisplayName {
			addName(acct.DisplayName)
		}
		acct.DisplayName = u.DisplayName
	}
	acct.PreviousNames = names

	if !u.ActivityUnavailable {
		acct.TotalTrades = u.TotalTrades
		acct.TotalVolume = decimal.NewFromFloat(u.TotalVolume).Round(2)
	}
	acct.TotalProfit = decimal.NewFromFloat(u.TotalProfit).Round(2)
	acct.WinRate = u.WinRate
	acct.UniqueMarkets = u.UniqueMarkets
	if u.AccountAgeDays != nil {
		age := *u.AccountAgeDays
		acct.AccountAgeDays = &age
	}
	if u.RiskScore >= acct.RiskScore {
		acct.RiskScore = u.RiskScore
		acct.Flags = append([]string(nil), u.Flags...)
	}
	acct.LastSeenAt = now
}

// GetAccount loads an account by address.
func (s *Store) GetAccount(ctx context.Context, address string) (*Account, error) {
	var acct Account
	err := s.db.WithContext(ctx).Where("address = ?", normalizeAddress(address)).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &acct, nil
}

// ListFlaggedAccounts returns flagged accounts, highest risk first.
func (s *Store) ListFlaggedAccounts(ctx context.Context, limit int) ([]Account, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []Account
	err := s.db.WithContext(ctx).
		Where("is_flagged = ?", true).
		Order("risk_score DESC").
		Order("address ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list flagged accounts: %w", err)
	}
	return out, nil
}
