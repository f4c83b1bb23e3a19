package mariadb

import (
	"strings"
	"testing"
	"time"

	"github.com/arklim/db-access-manager/internal/core/domain"
)

func TestValidateUsername(t *testing.T) {
	valid := []string{"app_user", "svc$batch", "a", "user.name", "A1"}
	for _, name := range valid {
		if err := ValidateUsername(name); err != nil {
			t.Errorf("ValidateUsername(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{
		"",
		"1user",
		"user name",
		"user;drop",
		"user'--",
		strings.Repeat("a", MaxUsernameLength+1),
	}
	for _, name := range invalid {
		if err := ValidateUsername(name); err == nil {
			t.Errorf("ValidateUsername(%q) = nil, want error", name)
		}
	}
}

func TestValidateUsername_ReportsValidationKind(t *testing.T) {
	err := ValidateUsername("bad name")
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateHost(t *testing.T) {
	valid := []string{"%", "localhost", "10.0.0.1", "10.0.%", "app-server.internal"}
	for _, host := range valid {
		if err := ValidateHost(host); err != nil {
			t.Errorf("ValidateHost(%q) = %v, want nil", host, err)
		}
	}

	invalid := []string{"", "host name", "host;--", strings.Repeat("h", MaxIdentifierLength+1)}
	for _, host := range invalid {
		if err := ValidateHost(host); err == nil {
			t.Errorf("ValidateHost(%q) = nil, want error", host)
		}
	}
}

func TestValidateResourceName(t *testing.T) {
	valid := []string{"*", "orders", "orders.items", "orders.*", "db_1.t$2"}
	for _, resource := range valid {
		if err := ValidateResourceName(resource); err != nil {
			t.Errorf("ValidateResourceName(%q) = %v, want nil", resource, err)
		}
	}

	invalid := []string{"", ".items", "orders.", "orders.items.extra", "bad name.table", "1db"}
	for _, resource := range invalid {
		if err := ValidateResourceName(resource); err == nil {
			t.Errorf("ValidateResourceName(%q) = nil, want error", resource)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("abcdef12"); err != nil {
		t.Errorf("valid password rejected: %v", err)
	}

	invalid := []string{"", "short1", "lettersonly", "12345678", strings.Repeat("a1", 129)}
	for _, password := range invalid {
		if err := ValidatePassword(password); err == nil {
			t.Errorf("ValidatePassword(%q) = nil, want error", password)
		}
	}
}

func TestValidateTimeRange(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("end before start fails", func(t *testing.T) {
		_, err := ValidateTimeRange(now.Add(2*time.Hour), now.Add(time.Hour), now)
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("end in past fails", func(t *testing.T) {
		_, err := ValidateTimeRange(now.Add(-3*time.Hour), now.Add(-time.Hour), now)
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("past start is a warning not an error", func(t *testing.T) {
		warnings, err := ValidateTimeRange(now.Add(-time.Hour), now.Add(4*time.Hour), now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(warnings) != 1 || !strings.Contains(warnings[0], "in the past") {
			t.Fatalf("expected past-start warning, got %v", warnings)
		}
	})

	t.Run("long duration warns", func(t *testing.T) {
		warnings, err := ValidateTimeRange(now, now.AddDate(1, 0, 1), now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(warnings) != 1 || !strings.Contains(warnings[0], "1 year") {
			t.Fatalf("expected duration warning, got %v", warnings)
		}
	})

	t.Run("short duration warns", func(t *testing.T) {
		warnings, err := ValidateTimeRange(now, now.Add(30*time.Minute), now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(warnings) != 1 || !strings.Contains(warnings[0], "less than 1 hour") {
			t.Fatalf("expected duration warning, got %v", warnings)
		}
	})

	t.Run("normal range has no warnings", func(t *testing.T) {
		warnings, err := ValidateTimeRange(now.Add(time.Hour), now.Add(48*time.Hour), now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(warnings) != 0 {
			t.Fatalf("expected no warnings, got %v", warnings)
		}
	})
}

func TestValidatePermission_SystemTargetsWarn(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := domain.Permission{
		Principal: "root",
		Host:      "%",
		Resource:  "mysql.user",
		Kind:      domain.PrivilegeRead,
		StartTime: now.Add(time.Hour),
		EndTime:   now.Add(24 * time.Hour),
	}

	warnings, err := ValidatePermission(p, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sawAccount, sawDatabase bool
	for _, w := range warnings {
		if strings.Contains(w, "system account") {
			sawAccount = true
		}
		if strings.Contains(w, "system database") {
			sawDatabase = true
		}
	}
	if !sawAccount || !sawDatabase {
		t.Fatalf("expected system account and database warnings, got %v", warnings)
	}
}

func TestValidatePermission_RejectsUnknownKind(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := domain.Permission{
		Principal: "app_user",
		Host:      "%",
		Resource:  "orders",
		Kind:      domain.PrivilegeKind("SUPER"),
		StartTime: now,
		EndTime:   now.Add(time.Hour),
	}

	if _, err := ValidatePermission(p, now); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
