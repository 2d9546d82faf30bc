package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stratos-brokerage/paycore/internal/store/memstore"
	"github.com/stratos-brokerage/paycore/pkg/ledger"
)

func newVerifierFixture(test *testing.T) (*ledger.Service, *ledger.Verifier, *memstore.LedgerStore) {
	test.Helper()
	store := memstore.NewLedgerStore()
	clock := func() int64 { return 1700000000 }
	service, err := ledger.NewService(store, clock)
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	verifier, err := ledger.NewVerifier(store, clock)
	if err != nil {
		test.Fatalf("verifier init: %v", err)
	}
	return service, verifier, store
}

func TestVerifyPassesOnConsistentBalances(test *testing.T) {
	test.Parallel()
	service, verifier, _ := newVerifierFixture(test)

	mustAppend(test, service, ledger.DirectionCredit, 500)
	mustAppend(test, service, ledger.DirectionDebit, 200)

	report, err := verifier.Verify(context.Background())
	if err != nil {
		test.Fatalf("verify: %v", err)
	}
	if !report.Pass {
		test.Fatalf("report = %+v, want pass", report)
	}
	if report.CheckedKeys != 1 || report.FailedKeys != 0 {
		test.Fatalf("checked=%d failed=%d, want 1/0", report.CheckedKeys, report.FailedKeys)
	}
}

func TestVerifyReportsDrift(test *testing.T) {
	test.Parallel()
	service, verifier, store := newVerifierFixture(test)

	mustAppend(test, service, ledger.DirectionCredit, 500)
	key := mustKey(test, "user", "user-1", "USD")
	store.SetBalance(key, 750)

	report, err := verifier.Verify(context.Background())
	if err != nil {
		test.Fatalf("verify: %v", err)
	}
	if report.Pass {
		test.Fatal("report passed despite drift")
	}
	var drifted *ledger.KeyResult
	for index := range report.Results {
		if report.Results[index].Key == key {
			drifted = &report.Results[index]
		}
	}
	if drifted == nil {
		test.Fatalf("drifted key missing from report %+v", report)
	}
	if drifted.Stored != 750 || drifted.Calculated != 500 || drifted.Difference != 250 {
		test.Fatalf("result = %+v, want stored=750 calculated=500 difference=250", drifted)
	}
}

func TestVerifyFlagsOrphanTransactionKeys(test *testing.T) {
	test.Parallel()
	service, verifier, store := newVerifierFixture(test)

	mustAppend(test, service, ledger.DirectionCredit, 500)
	if err := store.ClearBalances(context.Background()); err != nil {
		test.Fatalf("clear balances: %v", err)
	}

	report, err := verifier.Verify(context.Background())
	if err != nil {
		test.Fatalf("verify: %v", err)
	}
	if report.Pass {
		test.Fatal("report passed despite missing balance row")
	}
	if report.FailedKeys != 1 {
		test.Fatalf("failed keys = %d, want 1", report.FailedKeys)
	}
}

func TestReplayRestoresDriftedBalance(test *testing.T) {
	test.Parallel()
	service, verifier, store := newVerifierFixture(test)

	mustAppend(test, service, ledger.DirectionCredit, 500)
	mustAppend(test, service, ledger.DirectionDebit, 200)
	key := mustKey(test, "user", "user-1", "USD")
	store.SetBalance(key, 999999)

	result, err := verifier.Replay(context.Background(), ledger.ReplayOptions{})
	if err != nil {
		test.Fatalf("replay: %v", err)
	}
	if result.DryRun {
		test.Fatal("replay reported dry run")
	}
	if result.Processed != 2 {
		test.Fatalf("processed = %d, want 2", result.Processed)
	}

	balance, err := store.GetBalance(context.Background(), key)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.BalanceMinor != 300 {
		test.Fatalf("balance = %d, want rebuilt 300", balance.BalanceMinor)
	}
	report, err := verifier.Verify(context.Background())
	if err != nil {
		test.Fatalf("verify after replay: %v", err)
	}
	if !report.Pass {
		test.Fatalf("verify after replay failed: %+v", report)
	}
}

func TestReplayDryRunDoesNotMutate(test *testing.T) {
	test.Parallel()
	service, verifier, store := newVerifierFixture(test)

	mustAppend(test, service, ledger.DirectionCredit, 500)
	key := mustKey(test, "user", "user-1", "USD")
	store.SetBalance(key, 750)

	result, err := verifier.Replay(context.Background(), ledger.ReplayOptions{DryRun: true})
	if err != nil {
		test.Fatalf("dry run: %v", err)
	}
	if !result.DryRun {
		test.Fatal("result did not report dry run")
	}
	if result.Processed != 1 {
		test.Fatalf("processed = %d, want 1", result.Processed)
	}

	balance, err := store.GetBalance(context.Background(), key)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.BalanceMinor != 750 {
		test.Fatalf("balance = %d, dry run must not mutate", balance.BalanceMinor)
	}
}

func TestReplayRejectsNegativeBatchSize(test *testing.T) {
	test.Parallel()
	_, verifier, _ := newVerifierFixture(test)

	_, err := verifier.Replay(context.Background(), ledger.ReplayOptions{BatchSize: -1})
	if !errors.Is(err, ledger.ErrInvalidBatchSize) {
		test.Fatalf("err = %v, want %v", err, ledger.ErrInvalidBatchSize)
	}
}

func TestSummarizeCountsAndTotals(test *testing.T) {
	test.Parallel()
	service, verifier, _ := newVerifierFixture(test)

	mustAppend(test, service, ledger.DirectionCredit, 500)
	mustAppend(test, service, ledger.DirectionDebit, 200)
	if _, err := service.Append(context.Background(), "user", "user-2", "EUR", ledger.DirectionCredit, 900); err != nil {
		test.Fatalf("append: %v", err)
	}

	summary, err := verifier.Summarize(context.Background())
	if err != nil {
		test.Fatalf("summarize: %v", err)
	}
	if summary.TransactionCount != 3 {
		test.Fatalf("transactions = %d, want 3", summary.TransactionCount)
	}
	if summary.BalanceKeyCount != 2 {
		test.Fatalf("balance keys = %d, want 2", summary.BalanceKeyCount)
	}
	if summary.TotalsByCurrency["USD"] != 300 {
		test.Fatalf("USD total = %d, want 300", summary.TotalsByCurrency["USD"])
	}
	if summary.TotalsByCurrency["EUR"] != 900 {
		test.Fatalf("EUR total = %d, want 900", summary.TotalsByCurrency["EUR"])
	}
}
