package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"brandgen/internal/domain"
)

// Memory is an in-process Ledger for development and tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string][]*domain.CreditEntry
	now     func() time.Time
}

func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{entries: make(map[string][]*domain.CreditEntry), now: now}
}

func entryKey(userID string, ct domain.CreditType) string {
	return userID + "|" + string(ct)
}

func (m *Memory) CheckAndDebit(ctx context.Context, userID string, creditType domain.CreditType, amount int) (Debit, bool, error) {
	if err := validateDebit(userID, creditType, amount); err != nil {
		return Debit{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return Debit{}, false, err
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries[entryKey(userID, creditType)] {
		if !e.Active(now) || e.Remaining < amount {
			continue
		}
		e.Remaining -= amount
		e.Used += amount
		e.UpdatedAt = now
		return Debit{EntryID: e.ID, UserID: userID, CreditType: creditType, Amount: amount}, true, nil
	}
	return Debit{}, false, nil
}

func (m *Memory) Release(ctx context.Context, debit Debit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries[entryKey(debit.UserID, debit.CreditType)] {
		if e.ID != debit.EntryID {
			continue
		}
		if e.Used < debit.Amount {
			return fmt.Errorf("release %d from entry %s: only %d used", debit.Amount, e.ID, e.Used)
		}
		e.Used -= debit.Amount
		e.Remaining += debit.Amount
		e.UpdatedAt = m.now()
		return nil
	}
	return domain.ErrNotFound
}

func (m *Memory) Refill(ctx context.Context, userID string, tier domain.Tier) error {
	if _, ok := allotments[tier]; !ok {
		return domain.Invalid("tier", fmt.Sprintf("unknown tier %q", tier))
	}
	now := m.now()
	start, end := PeriodFor(now)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ct := range domain.CreditTypes() {
		m.upsertLocked(userID, ct, tier, start, end, now)
	}
	return nil
}

func (m *Memory) upsertLocked(userID string, ct domain.CreditType, tier domain.Tier, start, end, now time.Time) {
	key := entryKey(userID, ct)
	for _, e := range m.entries[key] {
		if !e.PeriodStart.Equal(start) {
			continue
		}
		if e.Tier == tier {
			return
		}
		e.Tier = tier
		e.Remaining = Allotment(tier, ct)
		e.Used = 0
		e.PeriodEnd = end
		e.UpdatedAt = now
		return
	}
	m.insertLocked(&domain.CreditEntry{
		ID:          uuid.NewString(),
		UserID:      userID,
		CreditType:  ct,
		Tier:        tier,
		Remaining:   Allotment(tier, ct),
		PeriodStart: start,
		PeriodEnd:   end,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// insertLocked keeps entries ordered oldest period first.
func (m *Memory) insertLocked(e *domain.CreditEntry) {
	key := entryKey(e.UserID, e.CreditType)
	list := append(m.entries[key], e)
	sort.SliceStable(list, func(i, j int) bool { return list[i].PeriodStart.Before(list[j].PeriodStart) })
	m.entries[key] = list
}

func (m *Memory) Summary(ctx context.Context, userID string) ([]domain.Balance, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Balance
	for _, ct := range domain.CreditTypes() {
		var b domain.Balance
		found := false
		for _, e := range m.entries[entryKey(userID, ct)] {
			if !e.Active(now) {
				continue
			}
			found = true
			b.Remaining += e.Remaining
			b.Used += e.Used
			if e.PeriodEnd.After(b.PeriodEnd) {
				b.PeriodEnd = e.PeriodEnd
			}
		}
		if !found {
			continue
		}
		b.CreditType = ct
		b.Total = b.Remaining + b.Used
		out = append(out, b)
	}
	return out, nil
}

var _ Ledger = (*Memory)(nil)
