package lifecycle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/salonflow/billingkit/pkg/lifecycle"
	"github.com/salonflow/billingkit/storage/memory"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestMachine(t *testing.T) (*lifecycle.Machine, *memory.Storage) {
	t.Helper()
	store := memory.New()
	machine, err := lifecycle.NewMachine(lifecycle.MachineConfig{
		Storage: store,
		Now:     func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewMachine failed: %v", err)
	}
	return machine, store
}

func seedSubscription(t *testing.T, store *memory.Storage, tenantID string, status lifecycle.Status) *lifecycle.Subscription {
	t.Helper()
	sub := &lifecycle.Subscription{
		ID:                 uuid.NewString(),
		TenantID:           tenantID,
		PlanID:             "starter",
		Status:             status,
		StartedAt:          testNow.AddDate(0, -1, 0),
		CurrentPeriodStart: testNow.AddDate(0, -1, 0),
		CurrentPeriodEnd:   testNow.AddDate(0, 0, -1),
		GracePeriodDays:    7,
		BillingCycle:       lifecycle.CycleMonthly,
		CreatedAt:          testNow.AddDate(0, -1, 0),
		UpdatedAt:          testNow.AddDate(0, -1, 0),
	}
	if status == lifecycle.StatusTrial {
		trialEnd := testNow.AddDate(0, 0, 14)
		sub.TrialEndsAt = &trialEnd
	}
	if status == lifecycle.StatusPastDue {
		suspendAt := testNow.AddDate(0, 0, 7)
		sub.SuspendAt = &suspendAt
	}
	if err := store.Create(context.Background(), sub); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return sub
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name    string
		from    lifecycle.Status
		event   lifecycle.Event
		want    lifecycle.Status
		wantErr bool
	}{
		{"trial payment activates", lifecycle.StatusTrial, lifecycle.EventPaymentSucceeded, lifecycle.StatusActive, false},
		{"trial expiry", lifecycle.StatusTrial, lifecycle.EventTrialExpired, lifecycle.StatusExpired, false},
		{"trial cancellation", lifecycle.StatusTrial, lifecycle.EventCancellationRequested, lifecycle.StatusCancelled, false},
		{"trial payment failure rejected", lifecycle.StatusTrial, lifecycle.EventPaymentFailed, "", true},
		{"active payment failure", lifecycle.StatusActive, lifecycle.EventPaymentFailed, lifecycle.StatusPastDue, false},
		{"active cancellation", lifecycle.StatusActive, lifecycle.EventCancellationRequested, lifecycle.StatusCancelled, false},
		{"active trial expiry rejected", lifecycle.StatusActive, lifecycle.EventTrialExpired, "", true},
		{"past_due recovery", lifecycle.StatusPastDue, lifecycle.EventPaymentSucceeded, lifecycle.StatusActive, false},
		{"past_due grace expiry", lifecycle.StatusPastDue, lifecycle.EventGracePeriodExpired, lifecycle.StatusSuspended, false},
		{"past_due cancellation", lifecycle.StatusPastDue, lifecycle.EventCancellationRequested, lifecycle.StatusCancelled, false},
		{"suspended recovery", lifecycle.StatusSuspended, lifecycle.EventPaymentSucceeded, lifecycle.StatusActive, false},
		{"suspended cancellation", lifecycle.StatusSuspended, lifecycle.EventCancellationRequested, lifecycle.StatusCancelled, false},
		{"suspended grace expiry rejected", lifecycle.StatusSuspended, lifecycle.EventGracePeriodExpired, "", true},
		{"cancelled payment rejected", lifecycle.StatusCancelled, lifecycle.EventPaymentSucceeded, "", true},
		{"cancelled cancellation rejected", lifecycle.StatusCancelled, lifecycle.EventCancellationRequested, "", true},
		{"expired payment rejected", lifecycle.StatusExpired, lifecycle.EventPaymentSucceeded, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			machine, store := newTestMachine(t)
			seedSubscription(t, store, "tenant-1", tt.from)

			err := machine.Apply(context.Background(), "tenant-1", tt.event, "op-1")
			if tt.wantErr {
				if !errors.Is(err, lifecycle.ErrInvalidTransition) {
					t.Fatalf("Expected ErrInvalidTransition, got %v", err)
				}
				sub, _ := machine.Current(context.Background(), "tenant-1")
				if sub.Status != tt.from {
					t.Errorf("Rejected transition must not change status: got %s", sub.Status)
				}
				return
			}
			if err != nil {
				t.Fatalf("Apply failed: %v", err)
			}

			sub, err := machine.Current(context.Background(), "tenant-1")
			if err != nil {
				t.Fatalf("Current failed: %v", err)
			}
			if sub.Status != tt.want {
				t.Errorf("Expected status %s, got %s", tt.want, sub.Status)
			}
		})
	}
}

func TestPaymentFailedStampsSuspendAtOnce(t *testing.T) {
	machine, store := newTestMachine(t)
	seedSubscription(t, store, "tenant-1", lifecycle.StatusActive)
	ctx := context.Background()

	if err := machine.Apply(ctx, "tenant-1", lifecycle.EventPaymentFailed, lifecycle.ActorSystem); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	sub, _ := machine.Current(ctx, "tenant-1")
	if sub.SuspendAt == nil {
		t.Fatal("Expected SuspendAt to be stamped")
	}
	want := testNow.AddDate(0, 0, 7)
	if !sub.SuspendAt.Equal(want) {
		t.Errorf("Expected SuspendAt %v, got %v", want, *sub.SuspendAt)
	}

	// A second payment_failed on past_due is not a listed transition; the
	// stamped deadline never moves.
	err := machine.Apply(ctx, "tenant-1", lifecycle.EventPaymentFailed, lifecycle.ActorSystem)
	if !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition, got %v", err)
	}
	sub, _ = machine.Current(ctx, "tenant-1")
	if !sub.SuspendAt.Equal(want) {
		t.Errorf("SuspendAt moved on duplicate failure: %v", *sub.SuspendAt)
	}
}

func TestRecoveryClearsSuspensionState(t *testing.T) {
	machine, store := newTestMachine(t)
	seedSubscription(t, store, "tenant-1", lifecycle.StatusPastDue)
	ctx := context.Background()

	if err := machine.Apply(ctx, "tenant-1", lifecycle.EventPaymentSucceeded, lifecycle.ActorSystem); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	sub, _ := machine.Current(ctx, "tenant-1")
	if sub.Status != lifecycle.StatusActive {
		t.Fatalf("Expected active, got %s", sub.Status)
	}
	if sub.SuspendAt != nil {
		t.Error("Expected SuspendAt cleared on recovery")
	}
	if sub.LastPaymentAt == nil || !sub.LastPaymentAt.Equal(testNow) {
		t.Error("Expected LastPaymentAt stamped")
	}
}

func TestCancellationStampsCancelledAt(t *testing.T) {
	machine, store := newTestMachine(t)
	seedSubscription(t, store, "tenant-1", lifecycle.StatusActive)
	ctx := context.Background()

	if err := machine.Apply(ctx, "tenant-1", lifecycle.EventCancellationRequested, "operator-7"); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	sub, _ := machine.Current(ctx, "tenant-1")
	if sub.CancelledAt == nil || !sub.CancelledAt.Equal(testNow) {
		t.Error("Expected CancelledAt stamped")
	}
}

func TestAuditTrailRecordsTransitions(t *testing.T) {
	machine, store := newTestMachine(t)
	seedSubscription(t, store, "tenant-1", lifecycle.StatusActive)
	ctx := context.Background()

	if err := machine.Apply(ctx, "tenant-1", lifecycle.EventPaymentFailed, lifecycle.ActorSystem); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if err := machine.Apply(ctx, "tenant-1", lifecycle.EventPaymentSucceeded, lifecycle.ActorSystem); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	entries, err := machine.Audit(ctx, "tenant-1", 10)
	if err != nil {
		t.Fatalf("Audit failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 audit entries, got %d", len(entries))
	}

	// Rejected transitions leave no audit trace.
	_ = machine.Apply(ctx, "tenant-1", lifecycle.EventGracePeriodExpired, lifecycle.ActorSystem)
	entries, _ = machine.Audit(ctx, "tenant-1", 10)
	if len(entries) != 2 {
		t.Errorf("Rejected transition must not append audit, got %d entries", len(entries))
	}

	first := entries[len(entries)-1]
	if first.Action != lifecycle.EventPaymentFailed {
		t.Errorf("Expected oldest entry payment_failed, got %s", first.Action)
	}
	if first.OldStatus != lifecycle.StatusActive || first.NewStatus != lifecycle.StatusPastDue {
		t.Errorf("Expected active->past_due, got %s->%s", first.OldStatus, first.NewStatus)
	}
	if first.Actor != lifecycle.ActorSystem {
		t.Errorf("Expected actor system, got %s", first.Actor)
	}
}

func TestShouldBlock(t *testing.T) {
	trialEnd := testNow.Add(time.Hour)
	expiredTrialEnd := testNow.Add(-time.Hour)

	tests := []struct {
		name string
		sub  lifecycle.Subscription
		want bool
	}{
		{"active", lifecycle.Subscription{Status: lifecycle.StatusActive}, false},
		{"past_due keeps access", lifecycle.Subscription{Status: lifecycle.StatusPastDue}, false},
		{"suspended", lifecycle.Subscription{Status: lifecycle.StatusSuspended}, true},
		{"cancelled", lifecycle.Subscription{Status: lifecycle.StatusCancelled}, true},
		{"expired", lifecycle.Subscription{Status: lifecycle.StatusExpired}, true},
		{"trial in window", lifecycle.Subscription{Status: lifecycle.StatusTrial, TrialEndsAt: &trialEnd}, false},
		{"trial past window", lifecycle.Subscription{Status: lifecycle.StatusTrial, TrialEndsAt: &expiredTrialEnd}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lifecycle.ShouldBlock(&tt.sub, testNow); got != tt.want {
				t.Errorf("ShouldBlock = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBlockStatusMissingSubscriptionBlocks(t *testing.T) {
	machine, _ := newTestMachine(t)

	blocked, err := machine.BlockStatus(context.Background(), "tenant-unknown")
	if err != nil {
		t.Fatalf("BlockStatus failed: %v", err)
	}
	if !blocked {
		t.Error("Expected tenants without a subscription to be blocked")
	}
}

func TestBlockStatusUsesCacheAndInvalidates(t *testing.T) {
	store := memory.New()
	cache := lifecycle.NewMemoryCache(time.Minute)
	cache.SetNow(func() time.Time { return testNow })
	machine, err := lifecycle.NewMachine(lifecycle.MachineConfig{
		Storage: store,
		Cache:   cache,
		Now:     func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewMachine failed: %v", err)
	}
	seedSubscription(t, store, "tenant-1", lifecycle.StatusActive)
	ctx := context.Background()

	blocked, err := machine.BlockStatus(ctx, "tenant-1")
	if err != nil || blocked {
		t.Fatalf("Expected active tenant unblocked, got blocked=%v err=%v", blocked, err)
	}

	// The cached value is served until a transition invalidates it.
	if got, ok, _ := cache.Get(ctx, "tenant-1"); !ok || got {
		t.Fatalf("Expected cached unblocked entry, ok=%v blocked=%v", ok, got)
	}

	if err := machine.Apply(ctx, "tenant-1", lifecycle.EventCancellationRequested, "op-1"); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "tenant-1"); ok {
		t.Error("Expected cache invalidated after transition")
	}

	blocked, err = machine.BlockStatus(ctx, "tenant-1")
	if err != nil || !blocked {
		t.Errorf("Expected cancelled tenant blocked, got blocked=%v err=%v", blocked, err)
	}
}

func TestGracePeriodSweep(t *testing.T) {
	machine, store := newTestMachine(t)
	ctx := context.Background()

	// Tenant past its grace deadline.
	overdue := seedSubscription(t, store, "tenant-overdue", lifecycle.StatusPastDue)
	deadline := testNow.Add(-time.Hour)
	if err := store.Mutate(ctx, overdue.TenantID, func(sub *lifecycle.Subscription) (*lifecycle.AuditEntry, error) {
		sub.SuspendAt = &deadline
		return nil, nil
	}); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	// Tenant still inside its grace window.
	seedSubscription(t, store, "tenant-waiting", lifecycle.StatusPastDue)

	n, err := machine.ApplyGracePeriodExpirations(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Expected 1 suspension, got %d", n)
	}

	sub, _ := machine.Current(ctx, "tenant-overdue")
	if sub.Status != lifecycle.StatusSuspended {
		t.Errorf("Expected suspended, got %s", sub.Status)
	}
	if sub.SuspendedAt == nil {
		t.Error("Expected SuspendedAt stamped")
	}

	sub, _ = machine.Current(ctx, "tenant-waiting")
	if sub.Status != lifecycle.StatusPastDue {
		t.Errorf("Expected tenant inside grace window untouched, got %s", sub.Status)
	}

	// The sweep is idempotent.
	n, err = machine.ApplyGracePeriodExpirations(ctx)
	if err != nil {
		t.Fatalf("Second sweep failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected idempotent sweep, got %d suspensions", n)
	}
}

func TestExpireTrialsSweep(t *testing.T) {
	machine, store := newTestMachine(t)
	ctx := context.Background()

	ended := seedSubscription(t, store, "tenant-ended", lifecycle.StatusTrial)
	past := testNow.Add(-time.Hour)
	if err := store.Mutate(ctx, ended.TenantID, func(sub *lifecycle.Subscription) (*lifecycle.AuditEntry, error) {
		sub.TrialEndsAt = &past
		return nil, nil
	}); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	seedSubscription(t, store, "tenant-trialing", lifecycle.StatusTrial)

	n, err := machine.ExpireTrials(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Expected 1 expiry, got %d", n)
	}

	sub, _ := machine.Current(ctx, "tenant-ended")
	if sub.Status != lifecycle.StatusExpired {
		t.Errorf("Expected expired, got %s", sub.Status)
	}
	sub, _ = machine.Current(ctx, "tenant-trialing")
	if sub.Status != lifecycle.StatusTrial {
		t.Errorf("Expected running trial untouched, got %s", sub.Status)
	}
}

func TestApplyUnknownTenant(t *testing.T) {
	machine, _ := newTestMachine(t)

	err := machine.Apply(context.Background(), "tenant-none", lifecycle.EventPaymentSucceeded, lifecycle.ActorSystem)
	if !errors.Is(err, lifecycle.ErrSubscriptionNotFound) {
		t.Errorf("Expected ErrSubscriptionNotFound, got %v", err)
	}
}
