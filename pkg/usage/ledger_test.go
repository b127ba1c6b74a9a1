package usage

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/jobfeed-client/internal/testutil"
)

func setupLedger(t *testing.T, limit int) (*Ledger, *clockwork.FakeClock) {
	t.Helper()
	client, _ := testutil.NewRedis(t)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC))
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	return NewLedger(client, limit, logger, WithClock(clock)), clock
}

func TestLedger_RecordCall_MonthlyCount(t *testing.T) {
	ledger, _ := setupLedger(t, 150)
	ctx := context.Background()

	count, err := ledger.MonthlyCount(ctx, "")
	if err != nil {
		t.Fatalf("MonthlyCount() error = %v", err)
	}
	if count != 0 {
		t.Errorf("MonthlyCount() on empty month = %d, want 0", count)
	}

	const n = 7
	for i := 1; i <= n; i++ {
		got, err := ledger.RecordCall(ctx, "")
		if err != nil {
			t.Fatalf("RecordCall() error = %v", err)
		}
		if got != i {
			t.Errorf("RecordCall() returned %d, want %d", got, i)
		}
	}

	count, err = ledger.MonthlyCount(ctx, "")
	if err != nil {
		t.Fatalf("MonthlyCount() error = %v", err)
	}
	if count != n {
		t.Errorf("MonthlyCount() = %d, want %d", count, n)
	}

	explicit, err := ledger.MonthlyCount(ctx, "2026-10")
	if err != nil {
		t.Fatalf("MonthlyCount(2026-10) error = %v", err)
	}
	if explicit != n {
		t.Errorf("MonthlyCount(2026-10) = %d, want %d", explicit, n)
	}
}

func TestLedger_RecordCall_Popularity(t *testing.T) {
	ledger, _ := setupLedger(t, 150)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := ledger.RecordCall(ctx, "jobs:q=go"); err != nil {
			t.Fatalf("RecordCall() error = %v", err)
		}
	}
	if _, err := ledger.RecordCall(ctx, ""); err != nil {
		t.Fatalf("RecordCall() error = %v", err)
	}

	count, err := ledger.QueryCount(ctx, "jobs:q=go")
	if err != nil {
		t.Fatalf("QueryCount() error = %v", err)
	}
	if count != 4 {
		t.Errorf("QueryCount() = %d, want 4 (keyless calls must not count)", count)
	}

	unknown, err := ledger.QueryCount(ctx, "jobs:q=never")
	if err != nil {
		t.Fatalf("QueryCount() error = %v", err)
	}
	if unknown != 0 {
		t.Errorf("QueryCount() for unknown key = %d, want 0", unknown)
	}

	monthly, _ := ledger.MonthlyCount(ctx, "")
	if monthly != 5 {
		t.Errorf("MonthlyCount() = %d, want 5", monthly)
	}
}

func TestLedger_MonthRollover(t *testing.T) {
	ledger, clock := setupLedger(t, 150)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := ledger.RecordCall(ctx, ""); err != nil {
			t.Fatalf("RecordCall() error = %v", err)
		}
	}

	clock.Advance(20 * 24 * time.Hour) // 2026-11-05
	if got := ledger.CurrentMonth(); got != "2026-11" {
		t.Fatalf("CurrentMonth() = %s, want 2026-11", got)
	}

	count, _ := ledger.MonthlyCount(ctx, "")
	if count != 0 {
		t.Errorf("new month count = %d, want 0", count)
	}
	if _, err := ledger.RecordCall(ctx, ""); err != nil {
		t.Fatalf("RecordCall() error = %v", err)
	}
	count, _ = ledger.MonthlyCount(ctx, "")
	if count != 1 {
		t.Errorf("new month count = %d, want 1", count)
	}

	previous, _ := ledger.MonthlyCount(ctx, "2026-10")
	if previous != 3 {
		t.Errorf("previous month count = %d, want 3", previous)
	}
}

func TestLedger_NearLimit(t *testing.T) {
	ledger, _ := setupLedger(t, 10)
	ctx := context.Background()

	// floor(10 * 0.9) = 9
	for i := 0; i < 8; i++ {
		if _, err := ledger.RecordCall(ctx, ""); err != nil {
			t.Fatalf("RecordCall() error = %v", err)
		}
	}

	status, err := ledger.NearLimit(ctx, DefaultNearThreshold)
	if err != nil {
		t.Fatalf("NearLimit() error = %v", err)
	}
	if status.Near {
		t.Errorf("Near = true at count 8, want false")
	}
	if status.Count != 8 || status.Limit != 10 || status.Month != "2026-10" {
		t.Errorf("unexpected status %+v", status)
	}

	if _, err := ledger.RecordCall(ctx, ""); err != nil {
		t.Fatalf("RecordCall() error = %v", err)
	}
	status, err = ledger.NearLimit(ctx, DefaultNearThreshold)
	if err != nil {
		t.Fatalf("NearLimit() error = %v", err)
	}
	if !status.Near {
		t.Errorf("Near = false at boundary count 9, want true")
	}
}

func TestLedger_PopularQueries(t *testing.T) {
	ledger, _ := setupLedger(t, 1000)
	ctx := context.Background()

	calls := map[string]int{
		"jobs:q=go":     6,
		"jobs:q=rust":   4,
		"jobs:q=python": 9,
		"jobs:q=cobol":  1,
	}
	for key, n := range calls {
		for i := 0; i < n; i++ {
			if _, err := ledger.RecordCall(ctx, key); err != nil {
				t.Fatalf("RecordCall() error = %v", err)
			}
		}
	}

	stats, err := ledger.PopularQueries(ctx, 2, 3)
	if err != nil {
		t.Fatalf("PopularQueries() error = %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("len(stats) = %d, want 2", len(stats))
	}
	if stats[0].Key != "jobs:q=python" || stats[0].Count != 9 {
		t.Errorf("stats[0] = %+v", stats[0])
	}
	if stats[1].Key != "jobs:q=go" || stats[1].Count != 6 {
		t.Errorf("stats[1] = %+v", stats[1])
	}

	all, err := ledger.PopularQueries(ctx, 10, 5)
	if err != nil {
		t.Fatalf("PopularQueries() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected min count floor to exclude rust and cobol, got %+v", all)
	}

	none, err := ledger.PopularQueries(ctx, 0, 1)
	if err != nil || none != nil {
		t.Errorf("PopularQueries(0) = %v, %v", none, err)
	}
}

func TestLedger_Reserve(t *testing.T) {
	ledger, _ := setupLedger(t, 3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := ledger.Reserve(ctx)
		if err != nil {
			t.Fatalf("Reserve() #%d error = %v", i, err)
		}
		if n != i {
			t.Errorf("Reserve() #%d = %d", i, n)
		}
	}

	if _, err := ledger.Reserve(ctx); !errors.Is(err, ErrBudgetExhausted) {
		t.Errorf("Reserve() at ceiling error = %v, want ErrBudgetExhausted", err)
	}

	count, _ := ledger.MonthlyCount(ctx, "")
	if count != 3 {
		t.Errorf("refused reservation must not increment, count = %d", count)
	}
}

func TestLedger_Reserve_Concurrent(t *testing.T) {
	ledger, _ := setupLedger(t, 20)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Reserve(ctx); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 20 {
		t.Errorf("granted = %d, want exactly the limit (20)", granted)
	}
}

func TestLedger_BumpQuery(t *testing.T) {
	ledger, _ := setupLedger(t, 10)
	ctx := context.Background()

	if err := ledger.BumpQuery(ctx, "jobs:q=go"); err != nil {
		t.Fatalf("BumpQuery() error = %v", err)
	}
	if err := ledger.BumpQuery(ctx, ""); err != nil {
		t.Fatalf("BumpQuery(\"\") error = %v", err)
	}

	if n, _ := ledger.QueryCount(ctx, "jobs:q=go"); n != 1 {
		t.Errorf("QueryCount() = %d, want 1", n)
	}
	if n, _ := ledger.MonthlyCount(ctx, ""); n != 0 {
		t.Errorf("BumpQuery must not touch the month counter, got %d", n)
	}
}

func TestLedger_StorageFailure(t *testing.T) {
	client, server := testutil.NewRedis(t)
	ledger := NewLedger(client, 10, zerolog.Nop())
	server.Close()
	ctx := context.Background()

	if _, err := ledger.RecordCall(ctx, "k"); err == nil {
		t.Error("RecordCall() expected error when redis is down")
	}
	if _, err := ledger.MonthlyCount(ctx, ""); err == nil {
		t.Error("MonthlyCount() expected error when redis is down")
	}
	if _, err := ledger.NearLimit(ctx, 0.9); err == nil {
		t.Error("NearLimit() expected error when redis is down")
	}
}
