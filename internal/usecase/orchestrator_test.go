package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/arklim/db-access-manager/internal/core/domain"
)

type scriptedExecutor struct {
	grantErrs      []error
	revokeErrs     []error
	rescheduleErrs []error

	grantCalls      int
	revokeCalls     int
	rescheduleCalls int
}

func takeErr(errs []error, call int) error {
	if call <= len(errs) {
		return errs[call-1]
	}
	return nil
}

func (e *scriptedExecutor) GrantWithAutoRevoke(context.Context, domain.Permission) error {
	e.grantCalls++
	return takeErr(e.grantErrs, e.grantCalls)
}

func (e *scriptedExecutor) RevokeNow(context.Context, domain.Permission) error {
	e.revokeCalls++
	return takeErr(e.revokeErrs, e.revokeCalls)
}

func (e *scriptedExecutor) RescheduleAutoRevoke(context.Context, domain.Permission) error {
	e.rescheduleCalls++
	return takeErr(e.rescheduleErrs, e.rescheduleCalls)
}

type captureNotifier struct {
	notified []domain.PermissionEvent
}

func (n *captureNotifier) NotifyPermissionOutcome(_ context.Context, event domain.PermissionEvent, _ domain.Permission) error {
	n.notified = append(n.notified, event)
	return nil
}

func testPermission(status domain.PermissionStatus) domain.Permission {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.Permission{
		ID:        "perm-1",
		Principal: "app_user",
		Host:      "%",
		Resource:  "orders",
		Kind:      domain.PrivilegeRead,
		StartTime: now,
		EndTime:   now.Add(24 * time.Hour),
		Status:    status,
	}
}

type orchestratorFixture struct {
	orchestrator *Orchestrator
	executor     *scriptedExecutor
	events       *fakeEventRepository
	notifier     *captureNotifier
	slept        []time.Duration
}

func newOrchestratorFixture(t *testing.T, policy RetryPolicy) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		executor: &scriptedExecutor{},
		events:   &fakeEventRepository{},
		notifier: &captureNotifier{},
	}
	f.orchestrator = NewOrchestrator(f.executor, f.events, f.notifier, nil, nil, policy).
		WithSleeper(func(_ context.Context, d time.Duration) error {
			f.slept = append(f.slept, d)
			return nil
		})
	return f
}

func TestHandleEvent_ActivatedGrantsAndAudits(t *testing.T) {
	f := newOrchestratorFixture(t, DefaultRetryPolicy())

	err := f.orchestrator.HandleEvent(context.Background(), domain.PermissionActivatedEvent{
		Permission: testPermission(domain.StatusActive),
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if f.executor.grantCalls != 1 {
		t.Errorf("grant calls = %d, want 1", f.executor.grantCalls)
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != domain.EventActivated {
		t.Fatalf("expected one ACTIVATED audit entry, got %v", f.events.events)
	}
	if f.events.events[0].Actor != domain.SystemActor {
		t.Errorf("actor = %q, want SYSTEM", f.events.events[0].Actor)
	}
	if len(f.notifier.notified) != 1 {
		t.Errorf("notified = %d, want 1", len(f.notifier.notified))
	}
}

func TestHandleEvent_RetriesTransientFailures(t *testing.T) {
	f := newOrchestratorFixture(t, DefaultRetryPolicy())
	transient := domain.GrantFailed("app_user", "orders", errConnRefused{})
	f.executor.grantErrs = []error{transient, transient, nil}

	err := f.orchestrator.HandleEvent(context.Background(), domain.PermissionActivatedEvent{
		Permission: testPermission(domain.StatusActive),
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if f.executor.grantCalls != 3 {
		t.Errorf("grant calls = %d, want 3", f.executor.grantCalls)
	}
	if len(f.slept) != 2 || f.slept[0] != time.Second || f.slept[1] != 2*time.Second {
		t.Errorf("backoff delays = %v, want [1s 2s]", f.slept)
	}
}

func TestHandleEvent_DoesNotRetryPermanentFailures(t *testing.T) {
	f := newOrchestratorFixture(t, DefaultRetryPolicy())
	f.executor.grantErrs = []error{domain.NewValidationError("username", "contains invalid characters")}

	err := f.orchestrator.HandleEvent(context.Background(), domain.PermissionActivatedEvent{
		Permission: testPermission(domain.StatusActive),
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if f.executor.grantCalls != 1 {
		t.Errorf("grant calls = %d, want 1", f.executor.grantCalls)
	}
	if len(f.events.events) != 1 || !strings.Contains(f.events.events[0].Details, "Failed") {
		t.Fatalf("expected failure audit entry, got %v", f.events.events)
	}
}

func TestHandleEvent_ExhaustsRetries(t *testing.T) {
	f := newOrchestratorFixture(t, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 5 * time.Second})
	transient := domain.RevokeFailed("app_user", "orders", errConnRefused{})
	f.executor.revokeErrs = []error{transient, transient, transient}

	err := f.orchestrator.HandleEvent(context.Background(), domain.PermissionRevokedEvent{
		Permission: testPermission(domain.StatusRevoked),
		RevokedBy:  "admin",
	})
	if err == nil || !strings.Contains(err.Error(), "retries exhausted") {
		t.Fatalf("expected exhaustion error, got %v", err)
	}
	if f.executor.revokeCalls != 3 {
		t.Errorf("revoke calls = %d, want 3", f.executor.revokeCalls)
	}
}

func TestHandleEvent_BackoffIsCapped(t *testing.T) {
	f := newOrchestratorFixture(t, RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 5 * time.Second})
	transient := domain.GrantFailed("app_user", "orders", errConnRefused{})
	f.executor.grantErrs = []error{transient, transient, transient, transient, transient}

	_ = f.orchestrator.HandleEvent(context.Background(), domain.PermissionActivatedEvent{
		Permission: testPermission(domain.StatusActive),
	})
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}
	if len(f.slept) != len(want) {
		t.Fatalf("delays = %v, want %v", f.slept, want)
	}
	for i := range want {
		if f.slept[i] != want[i] {
			t.Fatalf("delays = %v, want %v", f.slept, want)
		}
	}
}

func TestHandleEvent_ExtendedBeforeActivationIsNoOp(t *testing.T) {
	f := newOrchestratorFixture(t, DefaultRetryPolicy())

	err := f.orchestrator.HandleEvent(context.Background(), domain.PermissionExtendedEvent{
		Permission: testPermission(domain.StatusApproved),
		ExtendedBy: "alice",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if f.executor.rescheduleCalls != 0 {
		t.Errorf("reschedule calls = %d, want 0", f.executor.rescheduleCalls)
	}
}

func TestHandleEvent_ExtendedWhileActiveReschedules(t *testing.T) {
	f := newOrchestratorFixture(t, DefaultRetryPolicy())

	err := f.orchestrator.HandleEvent(context.Background(), domain.PermissionExtendedEvent{
		Permission: testPermission(domain.StatusActive),
		ExtendedBy: "alice",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if f.executor.rescheduleCalls != 1 {
		t.Errorf("reschedule calls = %d, want 1", f.executor.rescheduleCalls)
	}
}

func TestHandleEvent_ExpiredAuditsWithoutStoreOperation(t *testing.T) {
	f := newOrchestratorFixture(t, DefaultRetryPolicy())

	err := f.orchestrator.HandleEvent(context.Background(), domain.PermissionExpiredEvent{
		Permission: testPermission(domain.StatusExpired),
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if f.executor.grantCalls+f.executor.revokeCalls+f.executor.rescheduleCalls != 0 {
		t.Error("expired event must not touch the managed store")
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != domain.EventExpired {
		t.Fatalf("expected EXPIRED audit entry, got %v", f.events.events)
	}
}

func TestHandleEvent_CreatedAndApprovedAreNoOps(t *testing.T) {
	f := newOrchestratorFixture(t, DefaultRetryPolicy())
	p := testPermission(domain.StatusPending)

	if err := f.orchestrator.HandleEvent(context.Background(), domain.PermissionCreatedEvent{Permission: p, CreatedBy: "alice"}); err != nil {
		t.Fatalf("created: %v", err)
	}
	if err := f.orchestrator.HandleEvent(context.Background(), domain.PermissionApprovedEvent{Permission: p, ApprovedBy: "bob"}); err != nil {
		t.Fatalf("approved: %v", err)
	}
	if len(f.events.events) != 0 || len(f.notifier.notified) != 0 {
		t.Error("no audit or notification expected")
	}
}

type errConnRefused struct{}

func (errConnRefused) Error() string { return "dial tcp 10.0.0.5:3306: connection refused" }
