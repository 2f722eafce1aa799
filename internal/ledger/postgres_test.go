package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"brandgen/internal/domain"
	"brandgen/internal/infra/sqltest"
	"brandgen/internal/sqlinline"
)

func newPostgres(exec *sqltest.Executor, now time.Time) *Postgres {
	p := NewPostgres(exec)
	p.now = fixedClock(now)
	return p
}

func TestPostgresCheckAndDebit(t *testing.T) {
	exec := &sqltest.Executor{
		OnQueryRow: func(query string, args []any) pgx.Row {
			if query != sqlinline.QSelectDebitableCreditEntry {
				t.Fatalf("unexpected query %q", query)
			}
			return sqltest.ValuesRow("entry-1", 4)
		},
		OnExec: func(query string, args []any) (pgconn.CommandTag, error) {
			if query != sqlinline.QDebitCreditEntry {
				t.Fatalf("unexpected exec %q", query)
			}
			if args[0] != "entry-1" || args[1] != 1 {
				t.Fatalf("unexpected debit args %v", args)
			}
			return sqltest.Tag(1), nil
		},
	}
	l := newPostgres(exec, time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC))

	debit, ok, err := l.CheckAndDebit(context.Background(), "u1", domain.CreditLogo, 1)
	if err != nil || !ok {
		t.Fatalf("CheckAndDebit = %v, %v", ok, err)
	}
	if debit.EntryID != "entry-1" || debit.Amount != 1 {
		t.Fatalf("unexpected debit %+v", debit)
	}
	if exec.Txs != 1 {
		t.Fatalf("expected debit in one transaction, got %d", exec.Txs)
	}
}

func TestPostgresCheckAndDebitNoEntry(t *testing.T) {
	exec := &sqltest.Executor{}
	l := newPostgres(exec, time.Now())

	_, ok, err := l.CheckAndDebit(context.Background(), "u1", domain.CreditLogo, 1)
	if err != nil || ok {
		t.Fatalf("expected insufficient credits, got ok=%v err=%v", ok, err)
	}
	if exec.Count(sqlinline.QDebitCreditEntry) != 0 {
		t.Fatalf("debit executed without an eligible entry")
	}
}

func TestPostgresCheckAndDebitPropagatesErrors(t *testing.T) {
	boom := errors.New("connection reset")
	exec := &sqltest.Executor{
		OnQueryRow: func(string, []any) pgx.Row { return sqltest.ErrRow(boom) },
	}
	l := newPostgres(exec, time.Now())
	if _, _, err := l.CheckAndDebit(context.Background(), "u1", domain.CreditLogo, 1); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestPostgresRefillUpsertsEveryCreditType(t *testing.T) {
	now := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	exec := &sqltest.Executor{}
	l := newPostgres(exec, now)

	if err := l.Refill(context.Background(), "u1", domain.TierPro); err != nil {
		t.Fatalf("Refill: %v", err)
	}
	if got := exec.Count(sqlinline.QUpsertCreditEntry); got != len(domain.CreditTypes()) {
		t.Fatalf("expected %d upserts, got %d", len(domain.CreditTypes()), got)
	}
	start, _ := PeriodFor(now)
	for _, c := range exec.Calls {
		if c.Args[3] != string(domain.TierPro) {
			t.Fatalf("unexpected tier arg %v", c.Args[3])
		}
		if !c.Args[5].(time.Time).Equal(start) {
			t.Fatalf("unexpected period start %v", c.Args[5])
		}
	}
	if err := l.Refill(context.Background(), "u1", domain.Tier("gold")); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPostgresSummary(t *testing.T) {
	end := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	exec := &sqltest.Executor{
		OnQuery: func(query string, args []any) (pgx.Rows, error) {
			return sqltest.NewRows(
				[]any{"logo", 2, 1, end},
				[]any{"mockup", 5, 0, end},
			), nil
		},
	}
	l := newPostgres(exec, time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC))

	balances, err := l.Summary(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(balances) != 2 || balances[0].Total != 3 || balances[1].CreditType != domain.CreditMockup {
		t.Fatalf("unexpected balances %+v", balances)
	}
}

func TestPostgresReleaseMissingEntry(t *testing.T) {
	exec := &sqltest.Executor{
		OnExec: func(string, []any) (pgconn.CommandTag, error) { return sqltest.Tag(0), nil },
	}
	l := newPostgres(exec, time.Now())
	if err := l.Release(context.Background(), Debit{EntryID: "x", Amount: 1}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
