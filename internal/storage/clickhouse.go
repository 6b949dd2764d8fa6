package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"github.com/anotherai-dev/anotherai/pkg/models"
)

const (
	// cacheLookupBudget bounds one cached-completion read.
	cacheLookupBudget = 100 * time.Millisecond
	// cacheLookupMemoryCap keeps a cache miss from scanning the world.
	cacheLookupMemoryCap = 200 << 20
)

// ClickHouse is the analytics tier: append-only completion, annotation and
// experiment rows, plus the tenant-scoped raw query surface.
type ClickHouse struct {
	conn     driver.Conn
	opts     *clickhouse.Options
	database string
	salt     string
	log      *slog.Logger

	mu      sync.Mutex
	readers map[string]driver.Conn
}

// NewClickHouse connects with the admin credentials from the DSN. salt
// derives per-tenant read-only passwords (CLICKHOUSE_PASSWORD_SALT).
func NewClickHouse(dsn, salt string, migrate bool, log *slog.Logger) (*ClickHouse, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if log == nil {
		log = slog.Default()
	}
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	database := opts.Auth.Database
	if database == "" {
		database = "default"
	}
	c := &ClickHouse{
		conn:     conn,
		opts:     opts,
		database: database,
		salt:     salt,
		log:      log.With("component", "clickhouse"),
		readers:  map[string]driver.Conn{},
	}
	if migrate {
		if err := c.migrate(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("migrate clickhouse: %w", err)
		}
	}
	return c, nil
}

// Close releases the admin connection and every cached reader.
func (c *ClickHouse) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, reader := range c.readers {
		_ = reader.Close()
	}
	c.readers = map[string]driver.Conn{}
	return c.conn.Close()
}

// The completion primary index sorts by the UUIDv7 date then the full id, so
// recent-first scans stay index-aligned.
var clickhouseMigrations = []string{
	`CREATE TABLE IF NOT EXISTS completions (
		tenant_uid       String,
		id               UUID,
		created_at       DateTime64(3),
		agent_id         String,
		version_id       String,
		version_model    String,
		version          String,
		input_id         String,
		input_variables  String,
		input_messages   String,
		input_preview    String,
		output_id        String,
		output_messages  String,
		output_error     String,
		output_preview   String,
		messages         String,
		traces           String,
		duration_seconds Float64,
		cost_usd         Float64,
		metadata         Map(String, String),
		source           String,
		stream           Bool,
		from_cache       Bool,
		conversation_id  String
	) ENGINE = MergeTree
	ORDER BY (tenant_uid, toDate(UUIDv7ToDateTime(id)), toUInt128(id))`,
	`CREATE TABLE IF NOT EXISTS annotations (
		tenant_uid            String,
		id                    String,
		author_name           String,
		target_completion_id  String,
		target_experiment_id  String,
		target_key_path       String,
		context_experiment_id String,
		context_agent_id      String,
		text                  String,
		metric                String,
		metadata              Map(String, String),
		created_at            DateTime64(3),
		updated_at            DateTime64(3),
		deleted_at            DateTime64(3) DEFAULT toDateTime64(0, 3)
	) ENGINE = ReplacingMergeTree(updated_at)
	ORDER BY (tenant_uid, id)`,
	`CREATE TABLE IF NOT EXISTS experiments (
		tenant_uid  String,
		id          String,
		agent_id    String,
		author_name String,
		title       String,
		description String,
		result      String,
		metadata    Map(String, String),
		run_ids     Array(String),
		created_at  DateTime64(3)
	) ENGINE = ReplacingMergeTree(created_at)
	ORDER BY (tenant_uid, id)`,
}

func (c *ClickHouse) migrate(ctx context.Context) error {
	for _, stmt := range clickhouseMigrations {
		if err := c.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}

const completionColumns = `tenant_uid, id, created_at, agent_id,
	version_id, version_model, version,
	input_id, input_variables, input_messages, input_preview,
	output_id, output_messages, output_error, output_preview,
	messages, traces, duration_seconds, cost_usd,
	metadata, source, stream, from_cache, conversation_id`

// completionColumnsLight substitutes empty literals for the heavy message
// and trace columns so list reads stay cheap.
const completionColumnsLight = `tenant_uid, id, created_at, agent_id,
	version_id, version_model, version,
	input_id, input_variables, '' AS input_messages, input_preview,
	output_id, '' AS output_messages, output_error, output_preview,
	'' AS messages, '' AS traces, duration_seconds, cost_usd,
	metadata, source, stream, from_cache, conversation_id`

func (c *ClickHouse) StoreCompletion(ctx context.Context, tenantUID string, completion *models.AgentCompletion) error {
	if completion == nil || completion.ID == "" || tenantUID == "" {
		return fmt.Errorf("completion id and tenant are required")
	}
	row, err := completionToRow(tenantUID, completion)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return fmt.Errorf("completion id is not a uuid: %w", err)
	}
	batch, err := c.conn.PrepareBatch(ctx, `INSERT INTO completions (`+completionColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	err = batch.Append(
		row.TenantUID, id, row.CreatedAt, row.AgentID,
		row.VersionID, row.VersionModel, row.Version,
		row.InputID, row.InputVariables, row.InputMessages, row.InputPreview,
		row.OutputID, row.OutputMessages, row.OutputError, row.OutputPreview,
		row.Messages, row.Traces, row.DurationSecs, row.CostUSD,
		row.Metadata, row.Source, row.Stream, row.FromCache, row.ConversationID,
	)
	if err != nil {
		return fmt.Errorf("append completion: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("store completion: %w", err)
	}
	return nil
}

func scanCompletionRow(scan func(...any) error) (*completionRow, error) {
	var row completionRow
	var id uuid.UUID
	err := scan(
		&row.TenantUID, &id, &row.CreatedAt, &row.AgentID,
		&row.VersionID, &row.VersionModel, &row.Version,
		&row.InputID, &row.InputVariables, &row.InputMessages, &row.InputPreview,
		&row.OutputID, &row.OutputMessages, &row.OutputError, &row.OutputPreview,
		&row.Messages, &row.Traces, &row.DurationSecs, &row.CostUSD,
		&row.Metadata, &row.Source, &row.Stream, &row.FromCache, &row.ConversationID,
	)
	if err != nil {
		return nil, err
	}
	row.ID = id.String()
	return &row, nil
}

func (c *ClickHouse) CompletionByID(ctx context.Context, tenantUID, id string) (*models.AgentCompletion, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	row := c.conn.QueryRow(ctx,
		`SELECT `+completionColumns+` FROM completions
		 WHERE tenant_uid = ? AND id = ? LIMIT 1`, tenantUID, parsed)
	stored, err := scanCompletionRow(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get completion: %w", err)
	}
	return stored.completion()
}

func (c *ClickHouse) CompletionsByIDs(ctx context.Context, tenantUID string, ids []string, excludeHeavy bool) ([]models.AgentCompletion, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	parsed := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		u, err := uuid.Parse(id)
		if err != nil {
			continue
		}
		parsed = append(parsed, u)
	}
	columns := completionColumns
	if excludeHeavy {
		columns = completionColumnsLight
	}
	rows, err := c.conn.Query(ctx,
		`SELECT `+columns+` FROM completions
		 WHERE tenant_uid = ? AND id IN (?)
		 ORDER BY toDate(UUIDv7ToDateTime(id)) DESC, toUInt128(id) DESC`,
		tenantUID, parsed)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	defer rows.Close()

	var completions []models.AgentCompletion
	for rows.Next() {
		row, err := scanCompletionRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		completion, err := row.completion()
		if err != nil {
			return nil, err
		}
		completions = append(completions, *completion)
	}
	return completions, rows.Err()
}

func (c *ClickHouse) CachedCompletion(ctx context.Context, tenantUID, versionID, inputID string) (*models.AgentCompletion, error) {
	if versionID == "" || inputID == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, cacheLookupBudget)
	defer cancel()
	ctx = clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"max_memory_usage": cacheLookupMemoryCap,
	}))

	row := c.conn.QueryRow(ctx,
		`SELECT `+completionColumns+` FROM completions
		 WHERE tenant_uid = ? AND version_id = ? AND input_id = ? AND output_error = ''
		 ORDER BY toUInt128(id) DESC LIMIT 1`,
		tenantUID, versionID, inputID)
	stored, err := scanCompletionRow(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	return stored.completion()
}

const annotationColumns = `tenant_uid, id, author_name,
	target_completion_id, target_experiment_id, target_key_path,
	context_experiment_id, context_agent_id,
	text, metric, metadata, created_at, updated_at, deleted_at`

func (c *ClickHouse) StoreAnnotation(ctx context.Context, tenantUID string, annotation *models.Annotation) error {
	if annotation == nil || annotation.ID == "" {
		return fmt.Errorf("annotation id is required")
	}
	row, err := annotationToRow(tenantUID, annotation)
	if err != nil {
		return err
	}
	return c.insertAnnotationRow(ctx, row)
}

func (c *ClickHouse) insertAnnotationRow(ctx context.Context, row *annotationRow) error {
	batch, err := c.conn.PrepareBatch(ctx, `INSERT INTO annotations (`+annotationColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	err = batch.Append(
		row.TenantUID, row.ID, row.AuthorName,
		row.TargetCompletionID, row.TargetExperimentID, row.TargetKeyPath,
		row.ContextExperimentID, row.ContextAgentID,
		row.Text, row.Metric, row.Metadata, row.CreatedAt, row.UpdatedAt, row.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("append annotation: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("store annotation: %w", err)
	}
	return nil
}

func scanAnnotationRow(scan func(...any) error) (*annotationRow, error) {
	var row annotationRow
	err := scan(
		&row.TenantUID, &row.ID, &row.AuthorName,
		&row.TargetCompletionID, &row.TargetExperimentID, &row.TargetKeyPath,
		&row.ContextExperimentID, &row.ContextAgentID,
		&row.Text, &row.Metric, &row.Metadata, &row.CreatedAt, &row.UpdatedAt, &row.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	// The zero DateTime64 round-trips as the epoch, not a zero time.
	if row.DeletedAt.Unix() <= 0 {
		row.DeletedAt = time.Time{}
	}
	return &row, nil
}

// DeleteAnnotation soft-deletes by inserting a tombstone version; the
// replacing merge keeps the newest updated_at per id.
func (c *ClickHouse) DeleteAnnotation(ctx context.Context, tenantUID, id string) error {
	row := c.conn.QueryRow(ctx,
		`SELECT `+annotationColumns+` FROM annotations FINAL
		 WHERE tenant_uid = ? AND id = ? LIMIT 1`, tenantUID, id)
	stored, err := scanAnnotationRow(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("get annotation: %w", err)
	}
	now := time.Now().UTC()
	stored.UpdatedAt = now
	stored.DeletedAt = now
	return c.insertAnnotationRow(ctx, stored)
}

func (c *ClickHouse) Annotations(ctx context.Context, tenantUID string, filter AnnotationFilter) ([]models.Annotation, error) {
	query := `SELECT ` + annotationColumns + ` FROM annotations FINAL
		 WHERE tenant_uid = ? AND deleted_at = toDateTime64(0, 3)`
	args := []any{tenantUID}
	if filter.CompletionID != "" {
		query += ` AND target_completion_id = ?`
		args = append(args, filter.CompletionID)
	}
	if len(filter.CompletionIDs) > 0 {
		query += ` AND target_completion_id IN (?)`
		args = append(args, filter.CompletionIDs)
	}
	if filter.ExperimentID != "" {
		query += ` AND (target_experiment_id = ? OR context_experiment_id = ?)`
		args = append(args, filter.ExperimentID, filter.ExperimentID)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.Since)
	}
	query += ` ORDER BY created_at`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	var annotations []models.Annotation
	for rows.Next() {
		row, err := scanAnnotationRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		annotation, err := row.annotation()
		if err != nil {
			return nil, err
		}
		annotations = append(annotations, *annotation)
	}
	return annotations, rows.Err()
}

// StoreExperiment mirrors the experiment metadata so analytics queries can
// join completions against experiments.
func (c *ClickHouse) StoreExperiment(ctx context.Context, tenantUID string, exp *models.Experiment) error {
	if exp == nil || exp.ID == "" {
		return fmt.Errorf("experiment id is required")
	}
	metadata := exp.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	createdAt := exp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	batch, err := c.conn.PrepareBatch(ctx,
		`INSERT INTO experiments (tenant_uid, id, agent_id, author_name, title, description, result, metadata, run_ids, created_at)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	err = batch.Append(tenantUID, exp.ID, exp.AgentID, exp.AuthorName, exp.Title,
		exp.Description, exp.Result, metadata, orEmpty(exp.RunIDs), createdAt)
	if err != nil {
		return fmt.Errorf("append experiment: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("store experiment: %w", err)
	}
	return nil
}
