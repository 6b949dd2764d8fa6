package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"github.com/anotherai-dev/anotherai/pkg/models"
)

// InvalidQuery is a user-caused query failure. The upstream engine message
// is reduced to a code and error type; raw exception text never reaches the
// caller.
type InvalidQuery struct {
	Code      int32
	ErrorType string
	Message   string
}

func (e *InvalidQuery) Error() string {
	return fmt.Sprintf("invalid query: %s (code %d)", e.Message, e.Code)
}

// queryTables lists the tables exposed to tenant read users.
var queryTables = []string{"completions", "annotations", "experiments"}

// queryOrderByCreatedAt matches the natural but unindexed recency sort.
var queryOrderByCreatedAt = regexp.MustCompile(`(?i)ORDER\s+BY\s+created_at\s+DESC`)

// rewriteOrderByCreatedAt replaces `ORDER BY created_at DESC` with the
// UUIDv7 primary-index form so recency scans stay cheap.
func rewriteOrderByCreatedAt(query string) string {
	return queryOrderByCreatedAt.ReplaceAllString(query,
		"ORDER BY toDate(UUIDv7ToDateTime(id)) DESC, toUInt128(id) DESC")
}

// SanitizeID validates a user-supplied id before it may be interpolated into
// SQL: either a 32-hex content address or a UUID (checked after stripping
// dashes). Returns the normalized form.
func SanitizeID(id string) (string, error) {
	stripped := strings.ToLower(strings.ReplaceAll(id, "-", ""))
	if !models.IsContentID(stripped) {
		return "", &InvalidQuery{ErrorType: "INVALID_ID", Message: fmt.Sprintf("invalid identifier %q", id)}
	}
	return id, nil
}

// readUserName derives the per-tenant ClickHouse user name. Tenant uids are
// UUIDs; dashes are not valid in identifiers.
func readUserName(tenantUID string) string {
	return "tenant_" + strings.ReplaceAll(tenantUID, "-", "_")
}

// readUserPassword derives a stable per-tenant password from the salt.
func (c *ClickHouse) readUserPassword(tenantUID string) string {
	sum := sha256.Sum256([]byte(c.salt + ":" + tenantUID))
	return hex.EncodeToString(sum[:])
}

// ensureReadUser provisions the tenant's read-only user and row policies.
// Idempotent; also called to re-grant after a privilege error.
func (c *ClickHouse) ensureReadUser(ctx context.Context, tenantUID string) error {
	user := readUserName(tenantUID)
	password := c.readUserPassword(tenantUID)

	stmts := []string{
		fmt.Sprintf(`CREATE USER IF NOT EXISTS %s IDENTIFIED WITH sha256_password BY '%s' SETTINGS readonly = 1`,
			user, password),
	}
	for _, table := range queryTables {
		stmts = append(stmts,
			fmt.Sprintf(`GRANT SELECT ON %s.%s TO %s`, c.database, table, user),
			fmt.Sprintf(`CREATE ROW POLICY IF NOT EXISTS %s_%s ON %s.%s FOR SELECT USING tenant_uid = '%s' TO %s`,
				user, table, c.database, table, tenantUID, user),
		)
	}
	for _, stmt := range stmts {
		if err := c.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("provision read user: %w", err)
		}
	}
	return nil
}

// readerConn returns a cached connection authenticated as the tenant's
// read-only user, creating user and connection on first use.
func (c *ClickHouse) readerConn(ctx context.Context, tenantUID string) (driver.Conn, error) {
	c.mu.Lock()
	if conn, ok := c.readers[tenantUID]; ok {
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	if err := c.ensureReadUser(ctx, tenantUID); err != nil {
		return nil, err
	}

	opts := *c.opts
	opts.Auth.Username = readUserName(tenantUID)
	opts.Auth.Password = c.readUserPassword(tenantUID)
	conn, err := clickhouse.Open(&opts)
	if err != nil {
		return nil, fmt.Errorf("open read connection: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.readers[tenantUID]; ok {
		_ = conn.Close()
		return existing, nil
	}
	c.readers[tenantUID] = conn
	return conn, nil
}

// rawQuerySettings caps what one user query can cost.
var rawQuerySettings = clickhouse.Settings{
	"max_memory_usage":   3 << 30,
	"max_execution_time": 60,
	"readonly":           1,
}

// RawQuery executes tenant-scoped read-only SQL. Row isolation is enforced
// by the read user's row policy, not by query inspection.
func (c *ClickHouse) RawQuery(ctx context.Context, tenantUID, query string) ([]map[string]any, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &InvalidQuery{ErrorType: "EMPTY_QUERY", Message: "query is empty"}
	}
	query = rewriteOrderByCreatedAt(query)

	conn, err := c.readerConn(ctx, tenantUID)
	if err != nil {
		return nil, err
	}
	ctx = clickhouse.Context(ctx, clickhouse.WithSettings(rawQuerySettings))

	rows, err := c.runQuery(ctx, conn, query)
	if err != nil {
		if isPrivilegeError(err) {
			// A table added since the user was created has no grant
			// yet; re-apply and retry once.
			c.log.Info("re-granting read privileges", "tenant", tenantUID)
			if grantErr := c.ensureReadUser(ctx, tenantUID); grantErr != nil {
				return nil, grantErr
			}
			rows, err = c.runQuery(ctx, conn, query)
		}
		if err != nil {
			return nil, wrapQueryError(err)
		}
	}
	return rows, nil
}

func (c *ClickHouse) runQuery(ctx context.Context, conn driver.Conn, query string) ([]map[string]any, error) {
	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := rows.Columns()
	types := rows.ColumnTypes()

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(types))
		for i, ct := range types {
			values[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(values...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, name := range columns {
			row[name] = normalizeQueryValue(reflect.ValueOf(values[i]).Elem().Interface())
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalizeQueryValue flattens driver types into JSON-friendly values.
func normalizeQueryValue(v any) any {
	switch value := v.(type) {
	case uuid.UUID:
		return value.String()
	case time.Time:
		return value.UTC().Format(time.RFC3339Nano)
	case *uuid.UUID:
		if value == nil {
			return nil
		}
		return value.String()
	default:
		return v
	}
}

const chCodeNotEnoughPrivileges = 497

func isPrivilegeError(err error) bool {
	var ex *clickhouse.Exception
	if errors.As(err, &ex) {
		return ex.Code == chCodeNotEnoughPrivileges ||
			strings.Contains(ex.Message, "Not enough privileges")
	}
	return false
}

// wrapQueryError reduces engine exceptions to InvalidQuery. Non-exception
// failures (network, timeouts) pass through for the caller to classify.
func wrapQueryError(err error) error {
	var ex *clickhouse.Exception
	if !errors.As(err, &ex) {
		return err
	}
	return &InvalidQuery{
		Code:      ex.Code,
		ErrorType: ex.Name,
		Message:   fmt.Sprintf("query rejected with %s", ex.Name),
	}
}
