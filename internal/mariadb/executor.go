package mariadb

import (
	"context"
	"crypto/rand"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/arklim/db-access-manager/internal/core/domain"
	"github.com/arklim/db-access-manager/internal/core/port"
)

// MariaDB server error numbers that indicate a transient condition.
const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

const defaultPasswordLength = 20

// AccountInfo describes one managed-store account.
type AccountInfo struct {
	User string
	Host string
}

// Executor performs privilege changes against the managed MariaDB store.
// The connection pool is injected; its lifecycle belongs to the surrounding
// service.
type Executor struct {
	db             *sql.DB
	logger         *zap.Logger
	passwordLength int
}

// NewExecutor wires an executor over an open managed-store connection pool.
func NewExecutor(db *sql.DB, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{db: db, logger: logger, passwordLength: defaultPasswordLength}
}

// WithPasswordLength overrides the generated credential length for
// implicitly created accounts.
func (e *Executor) WithPasswordLength(n int) *Executor {
	if n >= MinPasswordLength {
		e.passwordLength = n
	}
	return e
}

// GrantWithAutoRevoke validates the permission, ensures the account exists,
// grants the mapped privileges, and schedules the auto-revoke at the grant's
// end time. Ensure and grant failures skip scheduling.
func (e *Executor) GrantWithAutoRevoke(ctx context.Context, p domain.Permission) error {
	warnings, err := ValidatePermission(p, time.Now())
	if err != nil {
		return err
	}
	for _, w := range warnings {
		e.logger.Warn("permission validation warning", zap.String("permission_id", p.ID), zap.String("warning", w))
	}

	e.logger.Info("granting permission with auto-revoke",
		zap.String("permission_id", p.ID),
		zap.String("principal", p.Principal),
		zap.String("host", p.Host),
		zap.String("resource", p.Resource),
		zap.String("kind", string(p.Kind)),
		zap.Time("revoke_at", p.EndTime),
	)

	if err := e.ensureAccountExists(ctx, p.Principal, p.Host); err != nil {
		return err
	}
	if err := e.grant(ctx, p); err != nil {
		return err
	}
	return e.scheduleRevoke(ctx, p)
}

// RevokeNow immediately revokes the mapped privileges and drops the named
// auto-revoke schedule.
func (e *Executor) RevokeNow(ctx context.Context, p domain.Permission) error {
	if err := ValidateUsername(p.Principal); err != nil {
		return err
	}
	if err := ValidateHost(p.Host); err != nil {
		return err
	}
	if err := ValidateResourceName(p.Resource); err != nil {
		return err
	}

	stmt, err := BuildRevoke(p.Kind, p.Resource, p.Principal, p.Host)
	if err != nil {
		return err
	}
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return domain.RevokeFailed(p.Principal, p.Resource, classify(err))
	}

	if err := e.dropRevokeEvent(ctx, p.ID); err != nil {
		return err
	}

	e.logger.Info("revoked permission",
		zap.String("permission_id", p.ID),
		zap.String("principal", p.Principal),
		zap.String("resource", p.Resource),
	)
	return nil
}

// RescheduleAutoRevoke drops any existing schedule for the permission and
// recreates it at the permission's current end time.
func (e *Executor) RescheduleAutoRevoke(ctx context.Context, p domain.Permission) error {
	warnings, err := ValidatePermission(p, time.Now())
	if err != nil {
		return err
	}
	for _, w := range warnings {
		e.logger.Warn("permission validation warning", zap.String("permission_id", p.ID), zap.String("warning", w))
	}
	return e.scheduleRevoke(ctx, p)
}

func (e *Executor) grant(ctx context.Context, p domain.Permission) error {
	stmt, err := BuildGrant(p.Kind, p.Resource, p.Principal, p.Host)
	if err != nil {
		return err
	}
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return domain.GrantFailed(p.Principal, p.Resource, classify(err))
	}
	return nil
}

// scheduleRevoke is idempotent: the event name is deterministic, so any
// schedule left by an earlier attempt is dropped first.
func (e *Executor) scheduleRevoke(ctx context.Context, p domain.Permission) error {
	eventName := RevokeEventName(p.ID)
	if err := ValidateEventName(eventName); err != nil {
		return err
	}

	dropStmt, err := BuildDropEvent(eventName)
	if err != nil {
		return err
	}
	if _, err := e.db.ExecContext(ctx, dropStmt); err != nil {
		return opError("drop existing revoke schedule", err)
	}

	createStmt, err := BuildCreateRevokeEvent(eventName, p.EndTime, p.Kind, p.Resource, p.Principal, p.Host)
	if err != nil {
		return err
	}
	if _, err := e.db.ExecContext(ctx, createStmt); err != nil {
		return opError("create revoke schedule", err)
	}

	e.logger.Info("scheduled auto-revoke",
		zap.String("event", eventName),
		zap.Time("at", p.EndTime),
	)
	return nil
}

func (e *Executor) dropRevokeEvent(ctx context.Context, permissionID string) error {
	stmt, err := BuildDropEvent(RevokeEventName(permissionID))
	if err != nil {
		return err
	}
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return opError("drop revoke schedule", err)
	}
	return nil
}

// ensureAccountExists is a no-op when the account is already present; an
// absent account is created with a generated credential bound as a
// parameter, never interpolated.
func (e *Executor) ensureAccountExists(ctx context.Context, username, host string) error {
	exists, err := e.AccountExists(ctx, username, host)
	if err != nil {
		return err
	}
	if exists {
		e.logger.Debug("managed account already exists",
			zap.String("user", username), zap.String("host", host))
		return nil
	}

	password, err := generatePassword(e.passwordLength)
	if err != nil {
		return domain.NewInternalError("generate account credential", err)
	}

	stmt, err := BuildCreateAccount(username, host)
	if err != nil {
		return err
	}
	if _, err := e.db.ExecContext(ctx, stmt, password); err != nil {
		return opError(fmt.Sprintf("create managed account %q", username), err)
	}

	e.logger.Info("created managed account", zap.String("user", username), zap.String("host", host))
	e.logger.Warn("generated credential must be communicated to the account owner out-of-band",
		zap.String("user", username))
	return nil
}

// CreateAccount creates a managed-store account with an explicit credential.
func (e *Executor) CreateAccount(ctx context.Context, username, host, password string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	if err := ValidateHost(host); err != nil {
		return err
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}

	exists, err := e.AccountExists(ctx, username, host)
	if err != nil {
		return err
	}
	if exists {
		return domain.NewOperationError(
			fmt.Sprintf("account %q@%q already exists", username, host), nil, false)
	}

	stmt, err := BuildCreateAccount(username, host)
	if err != nil {
		return err
	}
	if _, err := e.db.ExecContext(ctx, stmt, password); err != nil {
		return opError("create managed account", err)
	}
	e.logger.Info("created managed account", zap.String("user", username), zap.String("host", host))
	return nil
}

// DropAccount removes a managed-store account.
func (e *Executor) DropAccount(ctx context.Context, username, host string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	if err := ValidateHost(host); err != nil {
		return err
	}

	exists, err := e.AccountExists(ctx, username, host)
	if err != nil {
		return err
	}
	if !exists {
		return domain.NewNotFoundError("account", username+"@"+host)
	}

	stmt, err := BuildDropAccount(username, host)
	if err != nil {
		return err
	}
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return opError("drop managed account", err)
	}
	e.logger.Info("dropped managed account", zap.String("user", username), zap.String("host", host))
	return nil
}

// ChangePassword rotates a managed-store account credential.
func (e *Executor) ChangePassword(ctx context.Context, username, host, newPassword string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	if err := ValidateHost(host); err != nil {
		return err
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	exists, err := e.AccountExists(ctx, username, host)
	if err != nil {
		return err
	}
	if !exists {
		return domain.NewNotFoundError("account", username+"@"+host)
	}

	stmt, err := BuildChangePassword(username, host)
	if err != nil {
		return err
	}
	if _, err := e.db.ExecContext(ctx, stmt, newPassword); err != nil {
		return opError("change account credential", err)
	}
	e.logger.Info("changed account credential", zap.String("user", username), zap.String("host", host))
	return nil
}

// AccountExists reports whether the account is present in the managed store.
func (e *Executor) AccountExists(ctx context.Context, username, host string) (bool, error) {
	if err := ValidateUsername(username); err != nil {
		return false, err
	}
	if err := ValidateHost(host); err != nil {
		return false, err
	}

	var count int
	if err := e.db.QueryRowContext(ctx, buildAccountExistsQuery(), username, host).Scan(&count); err != nil {
		return false, opError("check account existence", err)
	}
	return count > 0, nil
}

// ListAccounts returns all non-system accounts on the managed store.
func (e *Executor) ListAccounts(ctx context.Context) ([]AccountInfo, error) {
	rows, err := e.db.QueryContext(ctx, buildListAccountsQuery())
	if err != nil {
		return nil, opError("list managed accounts", err)
	}
	defer rows.Close()

	var accounts []AccountInfo
	for rows.Next() {
		var info AccountInfo
		if err := rows.Scan(&info.User, &info.Host); err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		accounts = append(accounts, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account rows: %w", err)
	}
	return accounts, nil
}

// ListAccountGrants returns the GRANT statements currently in effect for an
// account.
func (e *Executor) ListAccountGrants(ctx context.Context, username, host string) ([]string, error) {
	exists, err := e.AccountExists(ctx, username, host)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.NewNotFoundError("account", username+"@"+host)
	}

	query, err := buildShowGrantsQuery(username, host)
	if err != nil {
		return nil, err
	}
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, opError("show account grants", err)
	}
	defer rows.Close()

	var grants []string
	for rows.Next() {
		var grant string
		if err := rows.Scan(&grant); err != nil {
			return nil, fmt.Errorf("scan grant row: %w", err)
		}
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grant rows: %w", err)
	}
	return grants, nil
}

// ResourceExists reports whether a resource descriptor names an existing
// database or table. The global wildcard always exists.
func (e *Executor) ResourceExists(ctx context.Context, resource string) (bool, error) {
	if err := ValidateResourceName(resource); err != nil {
		return false, err
	}
	if resource == Wildcard {
		return true, nil
	}

	if strings.Contains(resource, ".") {
		parts := strings.SplitN(resource, ".", 2)
		if parts[1] == Wildcard {
			return e.databaseExists(ctx, parts[0])
		}
		var name string
		err := e.db.QueryRowContext(ctx, buildTableExistsQuery(), parts[0], parts[1]).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, opError("check table existence", err)
		}
		return true, nil
	}
	return e.databaseExists(ctx, resource)
}

func (e *Executor) databaseExists(ctx context.Context, name string) (bool, error) {
	var schema string
	err := e.db.QueryRowContext(ctx, buildDatabaseExistsQuery(), name).Scan(&schema)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, opError("check database existence", err)
	}
	return true, nil
}

// IsEventSchedulerEnabled checks the managed store's event scheduling
// subsystem, which the auto-revoke guarantee depends on.
func (e *Executor) IsEventSchedulerEnabled(ctx context.Context) (bool, error) {
	var name, value string
	if err := e.db.QueryRowContext(ctx, buildSchedulerStatusQuery()).Scan(&name, &value); err != nil {
		return false, opError("check event scheduler status", err)
	}
	return strings.EqualFold(value, "ON"), nil
}

// EnableEventScheduler turns the event scheduling subsystem on. Requires a
// connection credential with SUPER or SYSTEM_VARIABLES_ADMIN.
func (e *Executor) EnableEventScheduler(ctx context.Context) error {
	if _, err := e.db.ExecContext(ctx, "SET GLOBAL event_scheduler = ON"); err != nil {
		return opError("enable event scheduler", err)
	}
	e.logger.Info("enabled managed store event scheduler")
	return nil
}

// opError wraps a managed-store failure, deriving retryability from the
// classified cause.
func opError(message string, err error) *domain.Error {
	cause := classify(err)
	return domain.NewOperationError(message, cause, domain.IsTransient(cause))
}

// classify normalizes driver errors so retryability detection sees the
// server error number as well as the message text.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case errLockWaitTimeout:
			return fmt.Errorf("lock wait timeout: %w", err)
		case errDeadlock:
			return fmt.Errorf("deadlock detected: %w", err)
		}
	}
	if errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("connection refused: %w", err)
	}
	return err
}

const passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// generatePassword returns a random alphanumeric credential. Alphanumeric
// only so the value never needs escaping anywhere it is displayed.
func generatePassword(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random index: %w", err)
		}
		b.WriteByte(passwordAlphabet[n.Int64()])
	}
	return b.String(), nil
}

var (
	_ port.GrantExecutor  = (*Executor)(nil)
	_ port.SchedulerAdmin = (*Executor)(nil)
)
