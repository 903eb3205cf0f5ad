package usage_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/salonflow/billingkit/pkg/usage"
	"github.com/salonflow/billingkit/storage/memory"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// fakeCatalog implements usage.PlanResolver and usage.TenantPlans.
type fakeCatalog struct {
	plans  map[string]map[usage.Metric]int
	tenant map[string]string
}

func (f *fakeCatalog) PlanLimits(ctx context.Context, planID string) (map[usage.Metric]int, error) {
	limits, ok := f.plans[planID]
	if !ok {
		return nil, fmt.Errorf("unknown plan: %s", planID)
	}
	return limits, nil
}

func (f *fakeCatalog) CurrentPlanID(ctx context.Context, tenantID string) (string, error) {
	planID, ok := f.tenant[tenantID]
	if !ok {
		return "", fmt.Errorf("unknown tenant: %s", tenantID)
	}
	return planID, nil
}

func newTestMeter(t *testing.T) (*usage.Meter, *memory.Storage) {
	t.Helper()
	store := memory.New()
	catalog := &fakeCatalog{
		plans: map[string]map[usage.Metric]int{
			"starter": {
				usage.MetricUsers:        3,
				usage.MetricClients:      200,
				usage.MetricAppointments: 500,
			},
			"pro": {
				usage.MetricUsers:        usage.Unlimited,
				usage.MetricClients:      usage.Unlimited,
				usage.MetricAppointments: usage.Unlimited,
			},
		},
		tenant: map[string]string{"tenant-1": "starter", "tenant-pro": "pro"},
	}
	meter, err := usage.NewMeter(usage.MeterConfig{
		Storage: store,
		Plans:   catalog,
		Tenants: catalog,
		Now:     func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewMeter failed: %v", err)
	}
	return meter, store
}

func TestIncrementAndDecrement(t *testing.T) {
	meter, store := newTestMeter(t)
	ctx := context.Background()

	if err := meter.Increment(ctx, "tenant-1", usage.MetricClients, 5); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if err := meter.Decrement(ctx, "tenant-1", usage.MetricClients, 2); err != nil {
		t.Fatalf("Decrement failed: %v", err)
	}

	counter, err := store.GetCounter(ctx, "tenant-1", usage.MetricClients, usage.PeriodKeyLifetime)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if counter.Count != 3 {
		t.Errorf("Expected count 3, got %d", counter.Count)
	}
}

func TestDecrementClampsAtZero(t *testing.T) {
	meter, store := newTestMeter(t)
	ctx := context.Background()

	if err := meter.Increment(ctx, "tenant-1", usage.MetricClients, 2); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if err := meter.Decrement(ctx, "tenant-1", usage.MetricClients, 10); err != nil {
		t.Fatalf("Decrement failed: %v", err)
	}

	counter, _ := store.GetCounter(ctx, "tenant-1", usage.MetricClients, usage.PeriodKeyLifetime)
	if counter.Count != 0 {
		t.Errorf("Expected clamped count 0, got %d", counter.Count)
	}
}

func TestNegativeAmountRejected(t *testing.T) {
	meter, _ := newTestMeter(t)
	ctx := context.Background()

	if err := meter.Increment(ctx, "tenant-1", usage.MetricUsers, -1); !errors.Is(err, usage.ErrInvalidAmount) {
		t.Errorf("Expected ErrInvalidAmount on increment, got %v", err)
	}
	if err := meter.Decrement(ctx, "tenant-1", usage.MetricUsers, -1); !errors.Is(err, usage.ErrInvalidAmount) {
		t.Errorf("Expected ErrInvalidAmount on decrement, got %v", err)
	}
}

func TestAppointmentsCountPerMonth(t *testing.T) {
	meter, store := newTestMeter(t)
	ctx := context.Background()

	if err := meter.Increment(ctx, "tenant-1", usage.MetricAppointments, 1); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}

	counter, err := store.GetCounter(ctx, "tenant-1", usage.MetricAppointments, "2026-03")
	if err != nil || counter == nil {
		t.Fatalf("Expected monthly row 2026-03, got counter=%v err=%v", counter, err)
	}
	if counter.Count != 1 {
		t.Errorf("Expected count 1, got %d", counter.Count)
	}

	// Lifetime row must not exist for a monthly metric.
	counter, _ = store.GetCounter(ctx, "tenant-1", usage.MetricAppointments, usage.PeriodKeyLifetime)
	if counter != nil {
		t.Error("Monthly metric must not write a lifetime row")
	}
}

func TestCheckLimitBoundary(t *testing.T) {
	meter, _ := newTestMeter(t)
	ctx := context.Background()

	// 499 of 500: one more appointment fits.
	if err := meter.Increment(ctx, "tenant-1", usage.MetricAppointments, 499); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	check, err := meter.CheckLimit(ctx, "tenant-1", usage.MetricAppointments)
	if err != nil {
		t.Fatalf("CheckLimit failed: %v", err)
	}
	if !check.Allowed {
		t.Error("Expected 499/500 to allow one more")
	}
	if check.Remaining != 1 {
		t.Errorf("Expected remaining 1, got %d", check.Remaining)
	}

	// 500 of 500: the cap is reached.
	if err := meter.Increment(ctx, "tenant-1", usage.MetricAppointments, 1); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	check, err = meter.CheckLimit(ctx, "tenant-1", usage.MetricAppointments)
	if err != nil {
		t.Fatalf("CheckLimit failed: %v", err)
	}
	if check.Allowed {
		t.Error("Expected 500/500 to be rejected")
	}
	if check.Percentage != 100 {
		t.Errorf("Expected 100%%, got %.1f", check.Percentage)
	}
}

func TestCheckLimitUnlimited(t *testing.T) {
	meter, _ := newTestMeter(t)
	ctx := context.Background()

	if err := meter.Increment(ctx, "tenant-pro", usage.MetricUsers, 1000); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	check, err := meter.CheckLimit(ctx, "tenant-pro", usage.MetricUsers)
	if err != nil {
		t.Fatalf("CheckLimit failed: %v", err)
	}
	if !check.Allowed || !check.Unlimited {
		t.Errorf("Expected unlimited plan to always allow, got allowed=%v unlimited=%v", check.Allowed, check.Unlimited)
	}
}

func TestConsumeWithinLimit(t *testing.T) {
	meter, _ := newTestMeter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := meter.ConsumeWithinLimit(ctx, "tenant-1", usage.MetricUsers, 1); err != nil {
			t.Fatalf("Consume %d failed: %v", i+1, err)
		}
	}

	check, err := meter.ConsumeWithinLimit(ctx, "tenant-1", usage.MetricUsers, 1)
	if !errors.Is(err, usage.ErrLimitExceeded) {
		t.Fatalf("Expected ErrLimitExceeded, got %v", err)
	}
	if check.Current != 3 {
		t.Errorf("Expected current 3 in rejected check, got %d", check.Current)
	}

	// The rejected consume must not have incremented.
	final, _ := meter.CheckLimit(ctx, "tenant-1", usage.MetricUsers)
	if final.Current != 3 {
		t.Errorf("Expected count unchanged at 3, got %d", final.Current)
	}
}

func TestValidateDowngrade(t *testing.T) {
	meter, _ := newTestMeter(t)
	ctx := context.Background()

	// 5 users on a pro tenant, target starter caps users at 3.
	if err := meter.Increment(ctx, "tenant-pro", usage.MetricUsers, 5); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}

	report, err := meter.ValidateDowngrade(ctx, "tenant-pro", "starter")
	if err != nil {
		t.Fatalf("ValidateDowngrade failed: %v", err)
	}
	if report.CanDowngrade {
		t.Error("Expected downgrade to be rejected")
	}
	if len(report.Violations) != 1 {
		t.Fatalf("Expected 1 violation, got %d", len(report.Violations))
	}
	v := report.Violations[0]
	if v.Metric != usage.MetricUsers || v.Current != 5 || v.Limit != 3 || v.Excess != 2 {
		t.Errorf("Unexpected violation: %+v", v)
	}

	// After trimming to the cap the downgrade goes through.
	if err := meter.Decrement(ctx, "tenant-pro", usage.MetricUsers, 2); err != nil {
		t.Fatalf("Decrement failed: %v", err)
	}
	report, err = meter.ValidateDowngrade(ctx, "tenant-pro", "starter")
	if err != nil {
		t.Fatalf("ValidateDowngrade failed: %v", err)
	}
	if !report.CanDowngrade {
		t.Errorf("Expected downgrade allowed, violations: %+v", report.Violations)
	}
}

func TestSnapshotReportsViolations(t *testing.T) {
	meter, _ := newTestMeter(t)
	ctx := context.Background()

	if err := meter.Increment(ctx, "tenant-1", usage.MetricUsers, 4); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}

	snap, err := meter.Snapshot(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Usage[usage.MetricUsers] != 4 {
		t.Errorf("Expected usage 4, got %d", snap.Usage[usage.MetricUsers])
	}
	if snap.Limits[usage.MetricUsers] != 3 {
		t.Errorf("Expected limit 3, got %d", snap.Limits[usage.MetricUsers])
	}
	if len(snap.Violations) != 1 || snap.Violations[0].Excess != 1 {
		t.Errorf("Expected one violation with excess 1, got %+v", snap.Violations)
	}
}

func TestReconcileOverwritesDrift(t *testing.T) {
	meter, store := newTestMeter(t)
	ctx := context.Background()

	if err := meter.Increment(ctx, "tenant-1", usage.MetricClients, 120); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}

	// Recomputed truth says 117 clients; negative inputs clamp to zero.
	err := meter.Reconcile(ctx, "tenant-1", map[usage.Metric]int{
		usage.MetricClients: 117,
		usage.MetricUsers:   -4,
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	counter, _ := store.GetCounter(ctx, "tenant-1", usage.MetricClients, usage.PeriodKeyLifetime)
	if counter.Count != 117 {
		t.Errorf("Expected reconciled count 117, got %d", counter.Count)
	}
	counter, _ = store.GetCounter(ctx, "tenant-1", usage.MetricUsers, usage.PeriodKeyLifetime)
	if counter.Count != 0 {
		t.Errorf("Expected negative reconcile clamped to 0, got %d", counter.Count)
	}
}

func TestResetMonthlyCreatesZeroRows(t *testing.T) {
	meter, store := newTestMeter(t)
	ctx := context.Background()

	if err := meter.ResetMonthly(ctx, []string{"tenant-1"}); err != nil {
		t.Fatalf("ResetMonthly failed: %v", err)
	}

	counter, err := store.GetCounter(ctx, "tenant-1", usage.MetricAppointments, "2026-03")
	if err != nil || counter == nil {
		t.Fatalf("Expected zero row for 2026-03, got counter=%v err=%v", counter, err)
	}
	if counter.Count != 0 {
		t.Errorf("Expected zero count, got %d", counter.Count)
	}
	if counter.LimitValue == nil || *counter.LimitValue != 500 {
		t.Errorf("Expected cached limit 500, got %v", counter.LimitValue)
	}

	// Existing rows survive a repeated reset.
	if err := meter.Increment(ctx, "tenant-1", usage.MetricAppointments, 7); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if err := meter.ResetMonthly(ctx, []string{"tenant-1"}); err != nil {
		t.Fatalf("ResetMonthly failed: %v", err)
	}
	counter, _ = store.GetCounter(ctx, "tenant-1", usage.MetricAppointments, "2026-03")
	if counter.Count != 7 {
		t.Errorf("Expected existing row preserved at 7, got %d", counter.Count)
	}

	// Lifetime metrics never get period rows from the reset.
	counter, _ = store.GetCounter(ctx, "tenant-1", usage.MetricUsers, usage.PeriodKeyLifetime)
	if counter != nil {
		t.Error("Expected no lifetime rows from monthly reset")
	}
}

func TestResetMonthlySkipsTenantOnPlanLookupFailure(t *testing.T) {
	meter, store := newTestMeter(t)
	ctx := context.Background()

	// An unknown tenant must not abort the sweep for the rest.
	if err := meter.ResetMonthly(ctx, []string{"ghost", "tenant-1"}); err != nil {
		t.Fatalf("ResetMonthly failed: %v", err)
	}

	counter, _ := store.GetCounter(ctx, "ghost", usage.MetricAppointments, "2026-03")
	if counter != nil {
		t.Error("Expected no row for the unresolvable tenant")
	}
	counter, _ = store.GetCounter(ctx, "tenant-1", usage.MetricAppointments, "2026-03")
	if counter == nil {
		t.Fatal("Expected the healthy tenant to be reset")
	}
}
