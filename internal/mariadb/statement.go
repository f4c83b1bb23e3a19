package mariadb

import (
	"fmt"
	"strings"
	"time"

	"github.com/arklim/db-access-manager/internal/core/domain"
)

// Wildcard is the global resource descriptor.
const Wildcard = "*"

// timestampLayout is the literal format the managed store's scheduler accepts.
const timestampLayout = "2006-01-02 15:04:05"

// ResourceType is the scope a grant applies to.
type ResourceType int

const (
	ResourceGlobal   ResourceType = iota // *.*
	ResourceDatabase                     // `db`.*
	ResourceTable                        // `db`.`table`
)

// ResourceTypeOf infers the scope from a resource descriptor.
func ResourceTypeOf(resource string) (ResourceType, error) {
	if resource == "" {
		return 0, domain.MissingParameter("resourceName")
	}
	switch {
	case resource == Wildcard:
		return ResourceGlobal, nil
	case strings.Contains(resource, "."):
		return ResourceTable, nil
	default:
		return ResourceDatabase, nil
	}
}

// PrivilegesFor maps a privilege kind to its fixed, ordered MariaDB
// privilege list.
func PrivilegesFor(kind domain.PrivilegeKind) ([]string, error) {
	switch kind {
	case domain.PrivilegeRead:
		return []string{"SELECT"}, nil
	case domain.PrivilegeWrite:
		return []string{"SELECT", "INSERT", "UPDATE"}, nil
	case domain.PrivilegeDelete:
		return []string{"SELECT", "DELETE"}, nil
	case domain.PrivilegeExecute:
		return []string{"EXECUTE"}, nil
	case domain.PrivilegeAdmin:
		return []string{"ALL PRIVILEGES"}, nil
	default:
		return nil, domain.NewValidationError("type", fmt.Sprintf("unknown privilege kind %q", kind))
	}
}

// QuoteIdentifier wraps an identifier in backticks, doubling any embedded
// backticks.
func QuoteIdentifier(identifier string) (string, error) {
	if identifier == "" {
		return "", domain.MissingParameter("identifier")
	}
	if len(identifier) > MaxIdentifierLength {
		return "", domain.NewValidationError("identifier",
			fmt.Sprintf("exceeds maximum length of %d characters", MaxIdentifierLength))
	}
	return "`" + strings.ReplaceAll(identifier, "`", "``") + "`", nil
}

// UnquoteIdentifier reverses QuoteIdentifier.
func UnquoteIdentifier(quoted string) (string, error) {
	if len(quoted) < 2 || !strings.HasPrefix(quoted, "`") || !strings.HasSuffix(quoted, "`") {
		return "", domain.NewValidationError("identifier", "not a backtick-quoted identifier")
	}
	return strings.ReplaceAll(quoted[1:len(quoted)-1], "``", "`"), nil
}

// EscapeLiteral escapes a string for embedding in a single-quoted literal:
// backslashes and single quotes are doubled. The result carries no quotes.
func EscapeLiteral(value string) string {
	return strings.ReplaceAll(strings.ReplaceAll(value, `\`, `\\`), "'", "''")
}

// QuoteLiteral wraps a value in single quotes with escaping applied.
// Credentials never go through here; they are bound as parameters.
func QuoteLiteral(value string) string {
	return "'" + EscapeLiteral(value) + "'"
}

// RevokeEventName derives the deterministic scheduler event name for a
// permission. Hyphens in the id are folded to underscores so the name stays
// a valid identifier.
func RevokeEventName(permissionID string) string {
	return "revoke_perm_" + strings.ReplaceAll(permissionID, "-", "_")
}

func accountRef(username, host string) (string, error) {
	if err := ValidateUsername(username); err != nil {
		return "", err
	}
	if err := ValidateHost(host); err != nil {
		return "", err
	}
	return QuoteLiteral(username) + "@" + QuoteLiteral(host), nil
}

// BuildCreateAccount returns a CREATE USER statement with a placeholder for
// the credential, which must be bound out-of-band.
func BuildCreateAccount(username, host string) (string, error) {
	ref, err := accountRef(username, host)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CREATE USER IF NOT EXISTS %s IDENTIFIED BY ?", ref), nil
}

// BuildDropAccount returns a DROP USER statement.
func BuildDropAccount(username, host string) (string, error) {
	ref, err := accountRef(username, host)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("DROP USER IF EXISTS %s", ref), nil
}

// BuildChangePassword returns an ALTER USER statement with a placeholder for
// the new credential.
func BuildChangePassword(username, host string) (string, error) {
	ref, err := accountRef(username, host)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER USER %s IDENTIFIED BY ?", ref), nil
}

// buildResourceSpecifier renders the ON clause scope for a descriptor.
func buildResourceSpecifier(resource string) (string, error) {
	resourceType, err := ResourceTypeOf(resource)
	if err != nil {
		return "", err
	}
	switch resourceType {
	case ResourceGlobal:
		return "*.*", nil
	case ResourceDatabase:
		if err := ValidateDatabaseName(resource); err != nil {
			return "", err
		}
		quoted, err := QuoteIdentifier(resource)
		if err != nil {
			return "", err
		}
		return quoted + ".*", nil
	case ResourceTable:
		parts := strings.SplitN(resource, ".", 2)
		if parts[0] == "" || parts[1] == "" {
			return "", domain.NewValidationError("resourceName", "invalid format; expected 'database.table'")
		}
		if err := ValidateDatabaseName(parts[0]); err != nil {
			return "", err
		}
		db, err := QuoteIdentifier(parts[0])
		if err != nil {
			return "", err
		}
		if parts[1] == Wildcard {
			return db + ".*", nil
		}
		if err := ValidateTableName(parts[1]); err != nil {
			return "", err
		}
		table, err := QuoteIdentifier(parts[1])
		if err != nil {
			return "", err
		}
		return db + "." + table, nil
	default:
		return "", domain.NewValidationError("resourceName", "unknown resource type")
	}
}

// BuildGrant returns a GRANT statement for the kind's privilege list on the
// descriptor's scope.
func BuildGrant(kind domain.PrivilegeKind, resource, username, host string) (string, error) {
	privileges, err := PrivilegesFor(kind)
	if err != nil {
		return "", err
	}
	scope, err := buildResourceSpecifier(resource)
	if err != nil {
		return "", err
	}
	ref, err := accountRef(username, host)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("GRANT %s ON %s TO %s", strings.Join(privileges, ", "), scope, ref), nil
}

// BuildRevoke returns a REVOKE statement mirroring BuildGrant.
func BuildRevoke(kind domain.PrivilegeKind, resource, username, host string) (string, error) {
	privileges, err := PrivilegesFor(kind)
	if err != nil {
		return "", err
	}
	scope, err := buildResourceSpecifier(resource)
	if err != nil {
		return "", err
	}
	ref, err := accountRef(username, host)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("REVOKE %s ON %s FROM %s", strings.Join(privileges, ", "), scope, ref), nil
}

// BuildCreateRevokeEvent returns a CREATE EVENT statement that performs the
// revoke at scheduleTime.
func BuildCreateRevokeEvent(eventName string, scheduleTime time.Time, kind domain.PrivilegeKind, resource, username, host string) (string, error) {
	if err := ValidateEventName(eventName); err != nil {
		return "", err
	}
	if scheduleTime.IsZero() {
		return "", domain.MissingParameter("scheduleTime")
	}
	revoke, err := BuildRevoke(kind, resource, username, host)
	if err != nil {
		return "", err
	}
	name, err := QuoteIdentifier(eventName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"CREATE EVENT %s ON SCHEDULE AT %s DO BEGIN %s; END",
		name,
		QuoteLiteral(scheduleTime.Format(timestampLayout)),
		revoke,
	), nil
}

// BuildDropEvent returns a DROP EVENT statement.
func BuildDropEvent(eventName string) (string, error) {
	if err := ValidateEventName(eventName); err != nil {
		return "", err
	}
	name, err := QuoteIdentifier(eventName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("DROP EVENT IF EXISTS %s", name), nil
}

// Catalog queries, parameterized where they take input.

func buildAccountExistsQuery() string {
	return "SELECT COUNT(*) FROM mysql.user WHERE user = ? AND host = ?"
}

func buildListAccountsQuery() string {
	return "SELECT user, host FROM mysql.user " +
		"WHERE user NOT IN ('root', 'mysql.sys', 'mysql.session', 'mysql.infoschema') " +
		"ORDER BY user, host"
}

func buildShowGrantsQuery(username, host string) (string, error) {
	ref, err := accountRef(username, host)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SHOW GRANTS FOR %s", ref), nil
}

func buildDatabaseExistsQuery() string {
	return "SELECT SCHEMA_NAME FROM information_schema.SCHEMATA WHERE SCHEMA_NAME = ?"
}

func buildTableExistsQuery() string {
	return "SELECT TABLE_NAME FROM information_schema.TABLES WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?"
}

func buildSchedulerStatusQuery() string {
	return "SHOW VARIABLES LIKE 'event_scheduler'"
}
