package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"brandgen/internal/domain"
	"brandgen/internal/infra"
	"brandgen/internal/sqlinline"
)

// Postgres is the durable Ledger. The debit selects the oldest eligible entry
// with a row lock and decrements it inside one transaction.
type Postgres struct {
	sql infra.TxRunner
	now func() time.Time
}

func NewPostgres(sql infra.TxRunner) *Postgres {
	return &Postgres{sql: sql, now: time.Now}
}

func (p *Postgres) CheckAndDebit(ctx context.Context, userID string, creditType domain.CreditType, amount int) (Debit, bool, error) {
	if err := validateDebit(userID, creditType, amount); err != nil {
		return Debit{}, false, err
	}
	var (
		debit Debit
		ok    bool
	)
	err := p.sql.InTx(ctx, func(tx infra.SQLExecutor) error {
		var entryID string
		var remaining int
		row := tx.QueryRow(ctx, sqlinline.QSelectDebitableCreditEntry, userID, string(creditType), p.now().UTC(), amount)
		if err := row.Scan(&entryID, &remaining); err != nil {
			if infra.IsNoRows(err) {
				return nil
			}
			return fmt.Errorf("select credit entry: %w", err)
		}
		tag, err := tx.Exec(ctx, sqlinline.QDebitCreditEntry, entryID, amount)
		if err != nil {
			return fmt.Errorf("debit credit entry: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return nil
		}
		debit = Debit{EntryID: entryID, UserID: userID, CreditType: creditType, Amount: amount}
		ok = true
		return nil
	})
	if err != nil {
		return Debit{}, false, err
	}
	return debit, ok, nil
}

func (p *Postgres) Release(ctx context.Context, debit Debit) error {
	tag, err := p.sql.Exec(ctx, sqlinline.QReleaseCreditEntry, debit.EntryID, debit.Amount)
	if err != nil {
		return fmt.Errorf("release credit entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (p *Postgres) Refill(ctx context.Context, userID string, tier domain.Tier) error {
	if _, ok := allotments[tier]; !ok {
		return domain.Invalid("tier", fmt.Sprintf("unknown tier %q", tier))
	}
	start, end := PeriodFor(p.now())
	return p.sql.InTx(ctx, func(tx infra.SQLExecutor) error {
		for _, ct := range domain.CreditTypes() {
			if _, err := tx.Exec(ctx, sqlinline.QUpsertCreditEntry,
				uuid.NewString(), userID, string(ct), string(tier), Allotment(tier, ct), start, end,
			); err != nil {
				return fmt.Errorf("refill %s: %w", ct, err)
			}
		}
		return nil
	})
}

func (p *Postgres) Summary(ctx context.Context, userID string) ([]domain.Balance, error) {
	rows, err := p.sql.Query(ctx, sqlinline.QSelectCreditSummary, userID, p.now().UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Balance
	for rows.Next() {
		var (
			b  domain.Balance
			ct string
		)
		if err := rows.Scan(&ct, &b.Remaining, &b.Used, &b.PeriodEnd); err != nil {
			return nil, err
		}
		b.CreditType = domain.CreditType(ct)
		b.Total = b.Remaining + b.Used
		out = append(out, b)
	}
	return out, rows.Err()
}

var _ Ledger = (*Postgres)(nil)
