package mariadb

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/arklim/db-access-manager/internal/core/domain"
)

// MariaDB naming ceilings.
const (
	MaxIdentifierLength = 64
	MaxUsernameLength   = 32
	MinPasswordLength   = 8
	MaxPasswordLength   = 256
)

var (
	usernamePattern   = regexp.MustCompile(`^[a-zA-Z0-9_$.]+$`)
	identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_$]+$`)
	hostPattern       = regexp.MustCompile(`^[%a-zA-Z0-9._-]+$`)
)

// systemDatabases are schemas a grant should normally never touch.
var systemDatabases = map[string]struct{}{
	"mysql":              {},
	"information_schema": {},
	"performance_schema": {},
	"sys":                {},
}

// ValidateUsername checks a managed-store account name against MariaDB
// naming rules. Returns a validation error naming the offending rule.
func ValidateUsername(username string) error {
	if username == "" {
		return domain.MissingParameter("username")
	}
	if len(username) > MaxUsernameLength {
		return domain.NewValidationError("username",
			fmt.Sprintf("exceeds maximum length of %d characters", MaxUsernameLength))
	}
	if !usernamePattern.MatchString(username) {
		return domain.NewValidationError("username",
			"contains invalid characters; only alphanumeric, underscore, dot, and dollar sign are allowed")
	}
	if unicode.IsDigit(rune(username[0])) {
		return domain.NewValidationError("username", "cannot start with a digit")
	}
	return nil
}

// IsSystemUsername reports whether the name matches a reserved account
// pattern. Callers warn; this never fails validation.
func IsSystemUsername(username string) bool {
	lower := strings.ToLower(username)
	return lower == "root" || lower == "mysql" || strings.HasPrefix(lower, "mysql.")
}

// ValidateHost checks a host pattern (wildcard, literal host, or IP pattern).
func ValidateHost(host string) error {
	if host == "" {
		return domain.MissingParameter("host")
	}
	if len(host) > MaxIdentifierLength {
		return domain.NewValidationError("host",
			fmt.Sprintf("exceeds maximum length of %d characters", MaxIdentifierLength))
	}
	if !hostPattern.MatchString(host) {
		return domain.NewValidationError("host",
			"contains invalid characters; allowed: alphanumeric, dot, hyphen, underscore, percent")
	}
	return nil
}

func validateBareIdentifier(field, value string) error {
	if value == "" {
		return domain.MissingParameter(field)
	}
	if len(value) > MaxIdentifierLength {
		return domain.NewValidationError(field,
			fmt.Sprintf("exceeds maximum length of %d characters", MaxIdentifierLength))
	}
	if !identifierPattern.MatchString(value) {
		return domain.NewValidationError(field,
			"contains invalid characters; only alphanumeric, underscore, and dollar sign are allowed")
	}
	if unicode.IsDigit(rune(value[0])) {
		return domain.NewValidationError(field, "cannot start with a digit")
	}
	return nil
}

// ValidateDatabaseName checks a database identifier.
func ValidateDatabaseName(name string) error {
	return validateBareIdentifier("databaseName", name)
}

// IsSystemDatabase reports whether the name is a managed-store system schema.
func IsSystemDatabase(name string) bool {
	_, ok := systemDatabases[strings.ToLower(name)]
	return ok
}

// ValidateTableName checks a table identifier.
func ValidateTableName(name string) error {
	return validateBareIdentifier("tableName", name)
}

// ValidateEventName checks a scheduler event identifier.
func ValidateEventName(name string) error {
	if name == "" {
		return domain.MissingParameter("eventName")
	}
	if len(name) > MaxIdentifierLength {
		return domain.NewValidationError("eventName",
			fmt.Sprintf("exceeds maximum length of %d characters", MaxIdentifierLength))
	}
	if !identifierPattern.MatchString(name) {
		return domain.NewValidationError("eventName",
			"contains invalid characters; only alphanumeric, underscore, and dollar sign are allowed")
	}
	return nil
}

// ValidateResourceName checks a resource descriptor: the global wildcard,
// a bare database name, or database.table where the table half may itself
// be a wildcard.
func ValidateResourceName(resource string) error {
	if resource == "" {
		return domain.MissingParameter("resourceName")
	}
	if resource == Wildcard {
		return nil
	}
	if strings.Contains(resource, ".") {
		parts := strings.SplitN(resource, ".", 2)
		if parts[0] == "" || parts[1] == "" {
			return domain.NewValidationError("resourceName",
				"invalid format; expected 'database.table'")
		}
		if err := ValidateDatabaseName(parts[0]); err != nil {
			return err
		}
		if parts[1] == Wildcard {
			return nil
		}
		return ValidateTableName(parts[1])
	}
	return ValidateDatabaseName(resource)
}

// ValidatePassword enforces the managed store's credential policy.
func ValidatePassword(password string) error {
	if password == "" {
		return domain.MissingParameter("password")
	}
	if len(password) < MinPasswordLength {
		return domain.NewValidationError("password",
			fmt.Sprintf("must be at least %d characters long", MinPasswordLength))
	}
	if len(password) > MaxPasswordLength {
		return domain.NewValidationError("password",
			fmt.Sprintf("exceeds maximum length of %d characters", MaxPasswordLength))
	}
	hasLetter, hasDigit := false, false
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return domain.NewValidationError("password",
			"must contain at least one letter and one digit")
	}
	return nil
}

// ValidateTimeRange checks a grant's time bounds against now. Hard failures
// come back as the error; soft concerns (start already past, duration over a
// year or under an hour) come back as warnings for the caller to log.
func ValidateTimeRange(start, end, now time.Time) ([]string, error) {
	if start.IsZero() {
		return nil, domain.MissingParameter("startTime")
	}
	if end.IsZero() {
		return nil, domain.MissingParameter("endTime")
	}
	if !end.After(start) {
		return nil, domain.NewValidationError("timeRange", "end time must be after start time")
	}
	if end.Before(now) {
		return nil, domain.NewValidationError("timeRange", "end time cannot be in the past")
	}

	var warnings []string
	if start.Before(now) {
		warnings = append(warnings, fmt.Sprintf("start time %s is in the past", start.Format(time.RFC3339)))
	}
	if start.AddDate(1, 0, 0).Before(end) {
		warnings = append(warnings, "permission duration exceeds 1 year")
	}
	if start.Add(time.Hour).After(end) {
		warnings = append(warnings, "permission duration is less than 1 hour")
	}
	return warnings, nil
}

// ValidatePermission runs principal, host, resource, kind, and time-range
// validation together, failing on the first violation found.
func ValidatePermission(p domain.Permission, now time.Time) ([]string, error) {
	if err := ValidateUsername(p.Principal); err != nil {
		return nil, err
	}
	if err := ValidateHost(p.Host); err != nil {
		return nil, err
	}
	if err := ValidateResourceName(p.Resource); err != nil {
		return nil, err
	}
	if !p.Kind.Valid() {
		return nil, domain.NewValidationError("type", fmt.Sprintf("unknown privilege kind %q", p.Kind))
	}
	warnings, err := ValidateTimeRange(p.StartTime, p.EndTime, now)
	if err != nil {
		return nil, err
	}
	if IsSystemUsername(p.Principal) {
		warnings = append(warnings, fmt.Sprintf("username %q matches a system account pattern", p.Principal))
	}
	if db := strings.SplitN(p.Resource, ".", 2)[0]; IsSystemDatabase(db) {
		warnings = append(warnings, fmt.Sprintf("resource %q targets a system database", p.Resource))
	}
	return warnings, nil
}
