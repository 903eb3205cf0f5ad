package http_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/salonflow/billingkit/pkg/lifecycle"
	"github.com/salonflow/billingkit/pkg/usage"
	"github.com/salonflow/billingkit/storage/memory"

	billinghttp "github.com/salonflow/billingkit/middleware/http"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixedCatalog struct{}

func (fixedCatalog) PlanLimits(ctx context.Context, planID string) (map[usage.Metric]int, error) {
	if planID != "starter" {
		return nil, fmt.Errorf("unknown plan: %s", planID)
	}
	return map[usage.Metric]int{usage.MetricAppointments: 2}, nil
}

func (fixedCatalog) CurrentPlanID(ctx context.Context, tenantID string) (string, error) {
	return "starter", nil
}

func newFixture(t *testing.T) (*lifecycle.Machine, *usage.Meter, *memory.Storage) {
	t.Helper()
	store := memory.New()

	machine, err := lifecycle.NewMachine(lifecycle.MachineConfig{
		Storage: store,
		Logger:  zerolog.Nop(),
		Now:     func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewMachine failed: %v", err)
	}

	meter, err := usage.NewMeter(usage.MeterConfig{
		Storage: store,
		Plans:   fixedCatalog{},
		Tenants: fixedCatalog{},
		Now:     func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewMeter failed: %v", err)
	}

	return machine, meter, store
}

func seedSubscription(t *testing.T, store *memory.Storage, tenantID string, status lifecycle.Status) {
	t.Helper()
	err := store.Create(context.Background(), &lifecycle.Subscription{
		ID:                 "sub-" + tenantID,
		TenantID:           tenantID,
		PlanID:             "starter",
		Status:             status,
		StartedAt:          testNow.AddDate(0, -1, 0),
		CurrentPeriodStart: testNow.AddDate(0, -1, 0),
		CurrentPeriodEnd:   testNow.AddDate(0, 0, 3),
		BillingCycle:       lifecycle.CycleMonthly,
		CreatedAt:          testNow.AddDate(0, -1, 0),
		UpdatedAt:          testNow.AddDate(0, -1, 0),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
}

func request(handler http.Handler, tenantID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/app", nil)
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestActiveTenantPassesThrough(t *testing.T) {
	machine, _, store := newFixture(t)
	seedSubscription(t, store, "tenant-1", lifecycle.StatusActive)

	handler := billinghttp.Middleware(billinghttp.Config{
		Machine:     machine,
		GetTenantID: billinghttp.HeaderTenantID("X-Tenant-ID"),
	})(okHandler())

	rec := request(handler, "tenant-1")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestSuspendedTenantBlocked(t *testing.T) {
	machine, _, store := newFixture(t)
	seedSubscription(t, store, "tenant-1", lifecycle.StatusSuspended)

	handler := billinghttp.Middleware(billinghttp.Config{
		Machine:     machine,
		GetTenantID: billinghttp.HeaderTenantID("X-Tenant-ID"),
	})(okHandler())

	rec := request(handler, "tenant-1")
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected 402, got %d", rec.Code)
	}
}

func TestTenantWithoutSubscriptionBlocked(t *testing.T) {
	machine, _, _ := newFixture(t)

	handler := billinghttp.Middleware(billinghttp.Config{
		Machine:     machine,
		GetTenantID: billinghttp.HeaderTenantID("X-Tenant-ID"),
	})(okHandler())

	rec := request(handler, "tenant-ghost")
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected 402, got %d", rec.Code)
	}
}

func TestMissingTenantUnauthorized(t *testing.T) {
	machine, _, _ := newFixture(t)

	handler := billinghttp.Middleware(billinghttp.Config{
		Machine:     machine,
		GetTenantID: billinghttp.HeaderTenantID("X-Tenant-ID"),
	})(okHandler())

	rec := request(handler, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
}

func TestUsageGateConsumesAndRejects(t *testing.T) {
	machine, meter, store := newFixture(t)
	seedSubscription(t, store, "tenant-1", lifecycle.StatusActive)

	handler := billinghttp.Middleware(billinghttp.Config{
		Machine:     machine,
		Meter:       meter,
		GetTenantID: billinghttp.HeaderTenantID("X-Tenant-ID"),
		GetMetric:   billinghttp.FixedMetric(usage.MetricAppointments),
	})(okHandler())

	// Two appointments fit the plan, the third is over the cap.
	for i := 0; i < 2; i++ {
		rec := request(handler, "tenant-1")
		if rec.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := request(handler, "tenant-1")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", rec.Code)
	}

	// The rejected request must not have consumed.
	check, err := meter.CheckLimit(context.Background(), "tenant-1", usage.MetricAppointments)
	if err != nil {
		t.Fatalf("CheckLimit failed: %v", err)
	}
	if check.Current != 2 {
		t.Errorf("Expected count 2 after rejection, got %d", check.Current)
	}
}

func TestExpiredTrialBlocked(t *testing.T) {
	machine, _, store := newFixture(t)

	trialEnd := testNow.AddDate(0, 0, -1)
	err := store.Create(context.Background(), &lifecycle.Subscription{
		ID:                 "sub-trial",
		TenantID:           "tenant-1",
		PlanID:             "starter",
		Status:             lifecycle.StatusTrial,
		StartedAt:          testNow.AddDate(0, 0, -15),
		TrialEndsAt:        &trialEnd,
		CurrentPeriodStart: testNow.AddDate(0, 0, -15),
		CurrentPeriodEnd:   trialEnd,
		BillingCycle:       lifecycle.CycleMonthly,
		CreatedAt:          testNow.AddDate(0, 0, -15),
		UpdatedAt:          testNow.AddDate(0, 0, -15),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	handler := billinghttp.Middleware(billinghttp.Config{
		Machine:     machine,
		GetTenantID: billinghttp.HeaderTenantID("X-Tenant-ID"),
	})(okHandler())

	rec := request(handler, "tenant-1")
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected 402 past trial end, got %d", rec.Code)
	}

	// The block gate alone does not write usage rows.
	counter, _ := store.GetCounter(context.Background(), "tenant-1", usage.MetricAppointments, "2026-03")
	if counter != nil {
		t.Error("Block gate must not touch usage counters")
	}
}

func TestCustomCallbacks(t *testing.T) {
	machine, _, store := newFixture(t)
	seedSubscription(t, store, "tenant-1", lifecycle.StatusCancelled)

	handler := billinghttp.Middleware(billinghttp.Config{
		Machine:     machine,
		GetTenantID: billinghttp.HeaderTenantID("X-Tenant-ID"),
		OnBlocked: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		},
	})(okHandler())

	rec := request(handler, "tenant-1")
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected custom 403, got %d", rec.Code)
	}
}
