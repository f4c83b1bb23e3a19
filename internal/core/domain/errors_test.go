package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsTransient(t *testing.T) {
	transient := []error{
		errors.New("dial tcp 10.0.0.5:3306: connection refused"),
		errors.New("Communications link failure"),
		errors.New("Lock wait timeout exceeded; try restarting transaction"),
		errors.New("Deadlock found when trying to get lock"),
		errors.New("read tcp: i/o timeout"),
		errors.New("invalid connection"),
	}
	for _, err := range transient {
		if !IsTransient(err) {
			t.Errorf("IsTransient(%v) = false, want true", err)
		}
	}

	permanent := []error{
		nil,
		errors.New("Access denied for user 'app_user'@'%'"),
		errors.New("You have an error in your SQL syntax"),
	}
	for _, err := range permanent {
		if IsTransient(err) {
			t.Errorf("IsTransient(%v) = true, want false", err)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	cause := errors.New("connection refused")

	if !IsRetryable(GrantFailed("app_user", "orders", cause)) {
		t.Error("transient grant failure must be retryable")
	}
	if IsRetryable(GrantFailed("app_user", "orders", errors.New("access denied"))) {
		t.Error("permanent grant failure must not be retryable")
	}
	if IsRetryable(NewValidationError("username", "bad")) {
		t.Error("validation failures are never retryable")
	}

	wrapped := fmt.Errorf("handle event: %w", RevokeFailed("app_user", "orders", cause))
	if !IsRetryable(wrapped) {
		t.Error("retryability must survive wrapping")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewOperationError("grant failed", cause, true)
	if !errors.Is(err, cause) {
		t.Error("cause must be reachable through Unwrap")
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(NewNotFoundError("permission", "x")) != KindNotFound {
		t.Error("want KindNotFound")
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Error("untyped errors map to KindInternal")
	}
}
