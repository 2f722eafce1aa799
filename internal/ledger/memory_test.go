package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"brandgen/internal/domain"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestValidateTiers(t *testing.T) {
	if err := ValidateTiers(); err != nil {
		t.Fatalf("ValidateTiers: %v", err)
	}
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier(" Pro ")
	if err != nil || tier != domain.TierPro {
		t.Fatalf("ParseTier(Pro) = %q, %v", tier, err)
	}
	if _, err := ParseTier("platinum"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPeriodForIsUTCCalendarMonth(t *testing.T) {
	loc := time.FixedZone("WIB", 7*3600)
	start, end := PeriodFor(time.Date(2026, 3, 1, 2, 0, 0, 0, loc))
	if !start.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %s", start)
	}
	if !end.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("end = %s", end)
	}
}

func TestConcurrentDebitSingleCredit(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	l := NewMemory(fixedClock(now))
	start, end := PeriodFor(now)
	l.insertLocked(&domain.CreditEntry{
		ID: "e1", UserID: "u1", CreditType: domain.CreditLogo, Tier: domain.TierFree,
		Remaining: 1, PeriodStart: start, PeriodEnd: end,
	})

	var (
		wg        sync.WaitGroup
		successes int32
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := l.CheckAndDebit(context.Background(), "u1", domain.CreditLogo, 1)
			if err != nil {
				t.Errorf("CheckAndDebit: %v", err)
				return
			}
			if ok {
				atomic.AddInt32(&successes, 1)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one successful debit, got %d", successes)
	}
	balances, _ := l.Summary(context.Background(), "u1")
	if len(balances) != 1 || balances[0].Remaining != 0 || balances[0].Used != 1 {
		t.Fatalf("unexpected balance after contention: %+v", balances)
	}
}

func TestDebitUsesOldestActiveEntry(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	l := NewMemory(fixedClock(now))
	l.insertLocked(&domain.CreditEntry{
		ID: "newer", UserID: "u1", CreditType: domain.CreditMockup,
		Remaining: 5, PeriodStart: now.Add(-time.Hour), PeriodEnd: now.Add(time.Hour),
	})
	l.insertLocked(&domain.CreditEntry{
		ID: "older", UserID: "u1", CreditType: domain.CreditMockup,
		Remaining: 5, PeriodStart: now.Add(-48 * time.Hour), PeriodEnd: now.Add(time.Hour),
	})
	l.insertLocked(&domain.CreditEntry{
		ID: "expired", UserID: "u1", CreditType: domain.CreditMockup,
		Remaining: 5, PeriodStart: now.Add(-96 * time.Hour), PeriodEnd: now.Add(-72 * time.Hour),
	})

	debit, ok, err := l.CheckAndDebit(context.Background(), "u1", domain.CreditMockup, 2)
	if err != nil || !ok {
		t.Fatalf("CheckAndDebit = %v, %v", ok, err)
	}
	if debit.EntryID != "older" {
		t.Fatalf("debited %s, want older", debit.EntryID)
	}
}

func TestDebitWithoutEntriesFails(t *testing.T) {
	l := NewMemory(nil)
	_, ok, err := l.CheckAndDebit(context.Background(), "u1", domain.CreditVideo, 1)
	if err != nil || ok {
		t.Fatalf("expected insufficient credits, got ok=%v err=%v", ok, err)
	}
	if _, _, err := l.CheckAndDebit(context.Background(), "u1", domain.CreditVideo, 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for zero amount, got %v", err)
	}
	if _, _, err := l.CheckAndDebit(context.Background(), "", domain.CreditVideo, 1); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for empty user, got %v", err)
	}
}

func TestRefillIsIdempotentPerPeriod(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	l := NewMemory(fixedClock(now))
	ctx := context.Background()

	if err := l.Refill(ctx, "u1", domain.TierStarter); err != nil {
		t.Fatalf("Refill: %v", err)
	}
	if _, ok, _ := l.CheckAndDebit(ctx, "u1", domain.CreditLogo, 3); !ok {
		t.Fatalf("debit after refill failed")
	}
	if err := l.Refill(ctx, "u1", domain.TierStarter); err != nil {
		t.Fatalf("Refill replay: %v", err)
	}

	balances, err := l.Summary(ctx, "u1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(balances) != len(domain.CreditTypes()) {
		t.Fatalf("expected one balance per credit type, got %d", len(balances))
	}
	for _, b := range balances {
		want := Allotment(domain.TierStarter, b.CreditType)
		if b.CreditType == domain.CreditLogo {
			if b.Remaining != want-3 || b.Used != 3 {
				t.Fatalf("replayed refill changed logo balance: %+v", b)
			}
			continue
		}
		if b.Remaining != want || b.Total != want {
			t.Fatalf("unexpected %s balance %+v", b.CreditType, b)
		}
	}
	if n := len(l.entries[entryKey("u1", domain.CreditLogo)]); n != 1 {
		t.Fatalf("expected a single logo entry, got %d", n)
	}
}

func TestRefillWithNewTierResetsPeriod(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	l := NewMemory(fixedClock(now))
	ctx := context.Background()

	_ = l.Refill(ctx, "u1", domain.TierFree)
	_, _, _ = l.CheckAndDebit(ctx, "u1", domain.CreditLogo, 2)
	if err := l.Refill(ctx, "u1", domain.TierPro); err != nil {
		t.Fatalf("Refill: %v", err)
	}
	balances, _ := l.Summary(ctx, "u1")
	for _, b := range balances {
		if b.CreditType == domain.CreditLogo && (b.Remaining != Allotment(domain.TierPro, domain.CreditLogo) || b.Used != 0) {
			t.Fatalf("tier change did not reset logo entry: %+v", b)
		}
	}
}

func TestCreditsDoNotCarryAcrossPeriods(t *testing.T) {
	now := time.Date(2026, 5, 31, 23, 0, 0, 0, time.UTC)
	clock := now
	l := NewMemory(func() time.Time { return clock })
	ctx := context.Background()
	_ = l.Refill(ctx, "u1", domain.TierFree)

	clock = now.Add(2 * time.Hour)
	if _, ok, _ := l.CheckAndDebit(ctx, "u1", domain.CreditLogo, 1); ok {
		t.Fatalf("debit succeeded against an expired period")
	}
	balances, _ := l.Summary(ctx, "u1")
	if len(balances) != 0 {
		t.Fatalf("expected no active balances, got %+v", balances)
	}
}

func TestReleaseRestoresDebit(t *testing.T) {
	l := NewMemory(nil)
	ctx := context.Background()
	_ = l.Refill(ctx, "u1", domain.TierFree)

	debit, ok, err := l.CheckAndDebit(ctx, "u1", domain.CreditAnalysis, 1)
	if err != nil || !ok {
		t.Fatalf("CheckAndDebit = %v, %v", ok, err)
	}
	if err := l.Release(ctx, debit); err != nil {
		t.Fatalf("Release: %v", err)
	}
	balances, _ := l.Summary(ctx, "u1")
	for _, b := range balances {
		if b.CreditType == domain.CreditAnalysis && (b.Used != 0 || b.Remaining != Allotment(domain.TierFree, domain.CreditAnalysis)) {
			t.Fatalf("release did not restore balance: %+v", b)
		}
	}
	if err := l.Release(ctx, debit); err == nil {
		t.Fatalf("expected error releasing twice")
	}
}
