// Package ledger tracks per-user credit balances per billing period and
// performs the atomic check-and-debit that gates job admission.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"brandgen/internal/domain"
)

// Debit identifies a successful deduction so it can be released again if the
// admission that caused it never produced a job.
type Debit struct {
	EntryID    string
	UserID     string
	CreditType domain.CreditType
	Amount     int
}

// Ledger is the credit store. CheckAndDebit is the only write on the
// admission path and is indivisible per entry.
type Ledger interface {
	CheckAndDebit(ctx context.Context, userID string, creditType domain.CreditType, amount int) (Debit, bool, error)
	Release(ctx context.Context, debit Debit) error
	Refill(ctx context.Context, userID string, tier domain.Tier) error
	Summary(ctx context.Context, userID string) ([]domain.Balance, error)
}

// tierOrder lists tiers from lowest to highest.
var tierOrder = []domain.Tier{domain.TierFree, domain.TierStarter, domain.TierPro, domain.TierAgency}

var allotments = map[domain.Tier]map[domain.CreditType]int{
	domain.TierFree: {
		domain.CreditLogo:     3,
		domain.CreditMockup:   5,
		domain.CreditAnalysis: 2,
		domain.CreditVideo:    0,
	},
	domain.TierStarter: {
		domain.CreditLogo:     20,
		domain.CreditMockup:   40,
		domain.CreditAnalysis: 10,
		domain.CreditVideo:    2,
	},
	domain.TierPro: {
		domain.CreditLogo:     100,
		domain.CreditMockup:   200,
		domain.CreditAnalysis: 50,
		domain.CreditVideo:    10,
	},
	domain.TierAgency: {
		domain.CreditLogo:     500,
		domain.CreditMockup:   1000,
		domain.CreditAnalysis: 250,
		domain.CreditVideo:    50,
	},
}

// Tiers returns the tiers from lowest to highest.
func Tiers() []domain.Tier {
	return append([]domain.Tier(nil), tierOrder...)
}

// Allotment returns the per-period credits a tier grants for one credit type.
func Allotment(tier domain.Tier, creditType domain.CreditType) int {
	return allotments[tier][creditType]
}

// ParseTier accepts a tier name in any case.
func ParseTier(s string) (domain.Tier, error) {
	t := domain.Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := allotments[t]; !ok {
		return "", domain.Invalid("tier", fmt.Sprintf("unknown tier %q", s))
	}
	return t, nil
}

// ValidateTiers checks that every tier grants strictly more of every credit
// type than the tier below it.
func ValidateTiers() error {
	for i := 1; i < len(tierOrder); i++ {
		lower, upper := tierOrder[i-1], tierOrder[i]
		for _, ct := range domain.CreditTypes() {
			lo, okLo := allotments[lower][ct]
			hi, okHi := allotments[upper][ct]
			if !okLo || !okHi {
				return fmt.Errorf("tier %s or %s has no allotment for %s", lower, upper, ct)
			}
			if hi <= lo {
				return fmt.Errorf("tier %s grants %d %s credits, not more than %s (%d)", upper, hi, ct, lower, lo)
			}
		}
	}
	return nil
}

// PeriodFor returns the UTC calendar month containing t.
func PeriodFor(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func validateDebit(userID string, creditType domain.CreditType, amount int) error {
	if strings.TrimSpace(userID) == "" {
		return domain.ErrUnauthorized
	}
	if creditType == "" {
		return domain.Invalid("creditType", "required")
	}
	if amount <= 0 {
		return domain.Invalid("amount", "must be positive")
	}
	return nil
}
