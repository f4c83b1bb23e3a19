package mariadb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/db-access-manager/internal/core/domain"
)

// fakeStore stands in for the managed MariaDB server: it records every
// statement, tracks accounts and scheduler events, and can fail a statement
// on demand.
type fakeStore struct {
	mu        sync.Mutex
	execs     []string
	failNext  map[string]error
	accounts  map[string]bool
	schedules map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		failNext:  make(map[string]error),
		accounts:  make(map[string]bool),
		schedules: make(map[string]bool),
	}
}

func (s *fakeStore) open() *sql.DB {
	return sql.OpenDB(fakeConnector{store: s})
}

func (s *fakeStore) exec(query string) (driver.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs = append(s.execs, query)

	for prefix, err := range s.failNext {
		if strings.HasPrefix(query, prefix) {
			delete(s.failNext, prefix)
			return nil, err
		}
	}

	switch {
	case strings.HasPrefix(query, "DROP EVENT IF EXISTS "):
		name, err := UnquoteIdentifier(strings.TrimPrefix(query, "DROP EVENT IF EXISTS "))
		if err != nil {
			return nil, err
		}
		delete(s.schedules, name)
	case strings.HasPrefix(query, "CREATE EVENT "):
		rest := strings.TrimPrefix(query, "CREATE EVENT ")
		idx := strings.Index(rest, " ON SCHEDULE")
		if idx < 0 {
			return nil, errors.New("malformed CREATE EVENT: " + query)
		}
		name, err := UnquoteIdentifier(rest[:idx])
		if err != nil {
			return nil, err
		}
		s.schedules[name] = true
	}
	return driver.RowsAffected(1), nil
}

func (s *fakeStore) query(query string, args []driver.NamedValue) (driver.Rows, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.HasPrefix(query, "SELECT COUNT(*) FROM mysql.user") {
		count := int64(0)
		key := args[0].Value.(string) + "@" + args[1].Value.(string)
		if s.accounts[key] {
			count = 1
		}
		return &fakeRows{columns: []string{"count"}, values: [][]driver.Value{{count}}}, nil
	}
	return nil, errors.New("unexpected query: " + query)
}

func (s *fakeStore) statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.execs))
	copy(out, s.execs)
	return out
}

func (s *fakeStore) scheduleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.schedules)
}

type fakeConnector struct{ store *fakeStore }

func (c fakeConnector) Connect(context.Context) (driver.Conn, error) {
	return &fakeConn{store: c.store}, nil
}

func (c fakeConnector) Driver() driver.Driver { return fakeDriver{} }

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("unexpected Open")
}

type fakeConn struct{ store *fakeStore }

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.New("unexpected Prepare: " + query)
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) {
	return nil, errors.New("unexpected Begin")
}

func (c *fakeConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	return c.store.exec(query)
}

func (c *fakeConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	return c.store.query(query, args)
}

type fakeRows struct {
	columns []string
	values  [][]driver.Value
	pos     int
}

func (r *fakeRows) Columns() []string { return r.columns }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.pos])
	r.pos++
	return nil
}

func executorPermission(now time.Time) domain.Permission {
	return domain.Permission{
		ID:        "0c0ad141-23ef-4b52-9ec3-45a0d0a1f23c",
		Principal: "app_user",
		Host:      "%",
		Resource:  "orders",
		Kind:      domain.PrivilegeRead,
		StartTime: now,
		EndTime:   now.Add(24 * time.Hour),
		Status:    domain.StatusActive,
	}
}

func newTestExecutor(t *testing.T) (*Executor, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	return NewExecutor(store.open(), zaptest.NewLogger(t)), store
}

func TestExecutor_GrantWithAutoRevoke_StatementSequence(t *testing.T) {
	executor, store := newTestExecutor(t)
	store.accounts["app_user@%"] = true
	p := executorPermission(time.Now())

	if err := executor.GrantWithAutoRevoke(context.Background(), p); err != nil {
		t.Fatalf("GrantWithAutoRevoke: %v", err)
	}

	stmts := store.statements()
	if len(stmts) != 3 {
		t.Fatalf("executed %d statements, want 3: %v", len(stmts), stmts)
	}
	if stmts[0] != "GRANT SELECT ON `orders`.* TO 'app_user'@'%'" {
		t.Errorf("grant = %q", stmts[0])
	}
	if stmts[1] != "DROP EVENT IF EXISTS `revoke_perm_0c0ad141_23ef_4b52_9ec3_45a0d0a1f23c`" {
		t.Errorf("drop = %q", stmts[1])
	}
	if !strings.HasPrefix(stmts[2], "CREATE EVENT `revoke_perm_0c0ad141_23ef_4b52_9ec3_45a0d0a1f23c` ON SCHEDULE AT ") {
		t.Errorf("create = %q", stmts[2])
	}
	if store.scheduleCount() != 1 {
		t.Fatalf("schedules = %d, want 1", store.scheduleCount())
	}
}

func TestExecutor_RepeatActivationLeavesOneSchedule(t *testing.T) {
	executor, store := newTestExecutor(t)
	store.accounts["app_user@%"] = true
	p := executorPermission(time.Now())

	for i := 0; i < 2; i++ {
		if err := executor.GrantWithAutoRevoke(context.Background(), p); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}

	if store.scheduleCount() != 1 {
		t.Fatalf("schedules = %d, want 1 after repeated activation", store.scheduleCount())
	}
	// Every CREATE EVENT is preceded by the DROP of the same name.
	stmts := store.statements()
	for i, stmt := range stmts {
		if !strings.HasPrefix(stmt, "CREATE EVENT ") {
			continue
		}
		if i == 0 || !strings.HasPrefix(stmts[i-1], "DROP EVENT IF EXISTS ") {
			t.Fatalf("CREATE EVENT at %d not preceded by DROP: %v", i, stmts)
		}
	}
}

func TestExecutor_GrantCreatesMissingAccount(t *testing.T) {
	executor, store := newTestExecutor(t)
	p := executorPermission(time.Now())

	if err := executor.GrantWithAutoRevoke(context.Background(), p); err != nil {
		t.Fatalf("GrantWithAutoRevoke: %v", err)
	}

	stmts := store.statements()
	if len(stmts) == 0 || stmts[0] != "CREATE USER IF NOT EXISTS 'app_user'@'%' IDENTIFIED BY ?" {
		t.Fatalf("expected account creation first, got %v", stmts)
	}
}

func TestExecutor_RevokeNowDropsSchedule(t *testing.T) {
	executor, store := newTestExecutor(t)
	store.accounts["app_user@%"] = true
	p := executorPermission(time.Now())

	if err := executor.GrantWithAutoRevoke(context.Background(), p); err != nil {
		t.Fatalf("GrantWithAutoRevoke: %v", err)
	}
	if err := executor.RevokeNow(context.Background(), p); err != nil {
		t.Fatalf("RevokeNow: %v", err)
	}

	if store.scheduleCount() != 0 {
		t.Fatalf("schedules = %d, want 0 after revoke", store.scheduleCount())
	}
	stmts := store.statements()
	want := "REVOKE SELECT ON `orders`.* FROM 'app_user'@'%'"
	found := false
	for _, stmt := range stmts {
		if stmt == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("revoke statement missing: %v", stmts)
	}
}

func TestExecutor_ScheduleFailureIsRetryable(t *testing.T) {
	executor, store := newTestExecutor(t)
	store.accounts["app_user@%"] = true
	store.failNext["CREATE EVENT"] = &mysql.MySQLError{Number: errDeadlock, Message: "rollback"}

	err := executor.GrantWithAutoRevoke(context.Background(), executorPermission(time.Now()))
	if err == nil {
		t.Fatal("expected error from failed schedule")
	}
	if !domain.IsRetryable(err) {
		t.Fatalf("deadlock during scheduling must be retryable, got %v", err)
	}
}

func TestClassify_ServerErrorNumbers(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"lock wait timeout by number", &mysql.MySQLError{Number: errLockWaitTimeout, Message: "server busy"}, true},
		{"deadlock by number", &mysql.MySQLError{Number: errDeadlock, Message: "rollback"}, true},
		{"bad connection", driver.ErrBadConn, true},
		{"wrapped bad connection", fmt.Errorf("exec grant: %w", driver.ErrBadConn), true},
		{"access denied", &mysql.MySQLError{Number: 1045, Message: "access denied"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := opError("grant privileges", tc.err)
			if got := domain.IsRetryable(err); got != tc.retryable {
				t.Fatalf("IsRetryable = %v, want %v", got, tc.retryable)
			}
		})
	}
}
