package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/anotherai-dev/anotherai/pkg/models"
)

// PostgresConfig tunes the connection pool.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration

	// Migrate applies the schema on startup (MIGRATE_STORAGE_ON_STARTUP).
	Migrate bool
}

// DefaultPostgresConfig returns production pool defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
		Migrate:         true,
	}
}

// NewPostgresStores creates Postgres-backed relational stores using a DSN.
func NewPostgresStores(dsn string, config *PostgresConfig) (StoreSet, error) {
	if strings.TrimSpace(dsn) == "" {
		return StoreSet{}, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("ping database: %w", err)
	}

	if config.Migrate {
		if err := migratePostgres(ctx, db); err != nil {
			_ = db.Close()
			return StoreSet{}, fmt.Errorf("migrate: %w", err)
		}
	}

	return newPostgresStoreSet(db), nil
}

func newPostgresStoreSet(db *sql.DB) StoreSet {
	return StoreSet{
		Tenants:     &pgTenantStore{db: db},
		Agents:      &pgAgentStore{db: db},
		APIKeys:     &pgAPIKeyStore{db: db},
		Deployments: &pgDeploymentStore{db: db},
		Experiments: &pgExperimentStore{db: db},
		Views:       &pgViewStore{db: db},
		closer:      db.Close,
	}
}

// postgresMigrations apply in order; each statement is idempotent.
var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		uid        TEXT PRIMARY KEY,
		org_id     TEXT NOT NULL DEFAULT '',
		org_slug   TEXT NOT NULL DEFAULT '',
		owner_id   TEXT NOT NULL DEFAULT '',
		credits    DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS tenants_org_id ON tenants (org_id) WHERE org_id <> ''`,
	`CREATE UNIQUE INDEX IF NOT EXISTS tenants_owner_id ON tenants (owner_id) WHERE owner_id <> '' AND org_id = ''`,
	`CREATE TABLE IF NOT EXISTS agents (
		uid        TEXT PRIMARY KEY,
		tenant_uid TEXT NOT NULL,
		id         TEXT NOT NULL,
		name       TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (tenant_uid, id)
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id           TEXT PRIMARY KEY,
		tenant_uid   TEXT NOT NULL,
		name         TEXT NOT NULL DEFAULT '',
		partial_key  TEXT NOT NULL,
		hashed_key   TEXT NOT NULL UNIQUE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_used_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS deployments (
		id         TEXT NOT NULL,
		tenant_uid TEXT NOT NULL,
		agent_id   TEXT NOT NULL,
		version_id TEXT NOT NULL,
		version    JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (tenant_uid, id)
	)`,
	`CREATE TABLE IF NOT EXISTS experiments (
		id          TEXT NOT NULL,
		tenant_uid  TEXT NOT NULL,
		agent_id    TEXT NOT NULL,
		author_name TEXT NOT NULL DEFAULT '',
		title       TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		result      TEXT NOT NULL DEFAULT '',
		metadata    JSONB,
		run_ids     JSONB NOT NULL DEFAULT '[]',
		versions    JSONB NOT NULL DEFAULT '[]',
		inputs      JSONB NOT NULL DEFAULT '[]',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (tenant_uid, id)
	)`,
	`CREATE INDEX IF NOT EXISTS experiments_agent ON experiments (tenant_uid, agent_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS views (
		id         TEXT NOT NULL,
		tenant_uid TEXT NOT NULL,
		folder_id  TEXT NOT NULL DEFAULT '',
		title      TEXT NOT NULL DEFAULT '',
		query      TEXT NOT NULL DEFAULT '',
		graph      JSONB,
		position   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_uid, id)
	)`,
	`CREATE TABLE IF NOT EXISTS view_folders (
		id         TEXT NOT NULL,
		tenant_uid TEXT NOT NULL,
		name       TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (tenant_uid, id)
	)`,
}

func migratePostgres(ctx context.Context, db *sql.DB) error {
	for _, stmt := range postgresMigrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}

func isDuplicate(err error) bool {
	// pgx surfaces unique violations as SQLSTATE 23505.
	return err != nil && (strings.Contains(err.Error(), "23505") ||
		strings.Contains(err.Error(), "duplicate"))
}

type pgTenantStore struct {
	db *sql.DB
}

const tenantColumns = `uid, org_id, org_slug, owner_id, credits, created_at`

func scanTenant(row *sql.Row) (*models.Tenant, error) {
	var t models.Tenant
	if err := row.Scan(&t.UID, &t.OrgID, &t.OrgSlug, &t.OwnerID, &t.Credits, &t.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	return &t, nil
}

func (s *pgTenantStore) ByAPIKeyHash(ctx context.Context, hashedKey string) (*models.Tenant, error) {
	if hashedKey == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT t.uid, t.org_id, t.org_slug, t.owner_id, t.credits, t.created_at
		 FROM api_keys k JOIN tenants t ON t.uid = k.tenant_uid
		 WHERE k.hashed_key = $1`, hashedKey)
	tenant, err := scanTenant(row)
	if err != nil {
		return nil, err
	}
	// Best effort; a failed touch never blocks authentication.
	_, _ = s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = now() WHERE hashed_key = $1`, hashedKey)
	return tenant, nil
}

func (s *pgTenantStore) GetOrCreateByOrg(ctx context.Context, orgID, orgSlug string) (*models.Tenant, error) {
	if orgID == "" {
		return nil, fmt.Errorf("org id is required")
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO tenants (uid, org_id, org_slug) VALUES ($1, $2, $3)
		 ON CONFLICT (org_id) WHERE org_id <> '' DO UPDATE SET org_slug = EXCLUDED.org_slug
		 RETURNING `+tenantColumns, models.NewID(), orgID, orgSlug)
	return scanTenant(row)
}

func (s *pgTenantStore) GetOrCreateByOwner(ctx context.Context, ownerID string) (*models.Tenant, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO tenants (uid, owner_id) VALUES ($1, $2)
		 ON CONFLICT (owner_id) WHERE owner_id <> '' AND org_id = '' DO UPDATE SET owner_id = EXCLUDED.owner_id
		 RETURNING `+tenantColumns, models.NewID(), ownerID)
	return scanTenant(row)
}

// anonymousTenantUID is the fixed uid of the synthetic tenant used when
// NO_TENANT_ALLOWED is set.
const anonymousTenantUID = "anonymous"

func (s *pgTenantStore) GetOrCreateAnonymous(ctx context.Context) (*models.Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO tenants (uid) VALUES ($1)
		 ON CONFLICT (uid) DO UPDATE SET uid = EXCLUDED.uid
		 RETURNING `+tenantColumns, anonymousTenantUID)
	return scanTenant(row)
}

type pgAgentStore struct {
	db *sql.DB
}

func (s *pgAgentStore) GetOrCreate(ctx context.Context, tenantUID, agentID string) (*models.Agent, error) {
	if tenantUID == "" || agentID == "" {
		return nil, fmt.Errorf("tenant and agent id are required")
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO agents (uid, tenant_uid, id, name) VALUES ($1, $2, $3, $3)
		 ON CONFLICT (tenant_uid, id) DO UPDATE SET id = EXCLUDED.id
		 RETURNING uid, id, name, created_at`, models.NewID(), tenantUID, agentID)
	var agent models.Agent
	if err := row.Scan(&agent.UID, &agent.ID, &agent.Name, &agent.CreatedAt); err != nil {
		return nil, fmt.Errorf("get or create agent: %w", err)
	}
	return &agent, nil
}

func (s *pgAgentStore) List(ctx context.Context, tenantUID string) ([]models.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uid, id, name, created_at FROM agents
		 WHERE tenant_uid = $1 ORDER BY created_at DESC`, tenantUID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		var agent models.Agent
		if err := rows.Scan(&agent.UID, &agent.ID, &agent.Name, &agent.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

type pgAPIKeyStore struct {
	db *sql.DB
}

func (s *pgAPIKeyStore) Create(ctx context.Context, key *models.APIKey) error {
	if key == nil || key.ID == "" || key.TenantUID == "" || key.HashedKey == "" {
		return fmt.Errorf("api key id, tenant and hash are required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, tenant_uid, name, partial_key, hashed_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.TenantUID, key.Name, key.PartialKey, key.HashedKey, key.CreatedAt)
	if err != nil {
		if isDuplicate(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *pgAPIKeyStore) List(ctx context.Context, tenantUID string) ([]models.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, partial_key, created_at, COALESCE(last_used_at, 'epoch'::timestamptz)
		 FROM api_keys WHERE tenant_uid = $1 ORDER BY created_at DESC`, tenantUID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []models.APIKey
	for rows.Next() {
		key := models.APIKey{TenantUID: tenantUID}
		if err := rows.Scan(&key.ID, &key.Name, &key.PartialKey, &key.CreatedAt, &key.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *pgAPIKeyStore) Delete(ctx context.Context, tenantUID, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE tenant_uid = $1 AND id = $2`, tenantUID, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type pgDeploymentStore struct {
	db *sql.DB
}

func (s *pgDeploymentStore) Upsert(ctx context.Context, deployment *models.Deployment) error {
	if deployment == nil || deployment.ID == "" || deployment.TenantUID == "" {
		return fmt.Errorf("deployment id and tenant are required")
	}
	version, err := json.Marshal(deployment.Version)
	if err != nil {
		return fmt.Errorf("marshal deployment version: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO deployments (id, tenant_uid, agent_id, version_id, version)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (tenant_uid, id) DO UPDATE
		 SET agent_id = EXCLUDED.agent_id, version_id = EXCLUDED.version_id,
		     version = EXCLUDED.version, updated_at = now()`,
		deployment.ID, deployment.TenantUID, deployment.AgentID, deployment.VersionID, version)
	if err != nil {
		return fmt.Errorf("upsert deployment: %w", err)
	}
	return nil
}

func (s *pgDeploymentStore) Get(ctx context.Context, tenantUID, id string) (*models.Deployment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, version_id, version, created_at, updated_at
		 FROM deployments WHERE tenant_uid = $1 AND id = $2`, tenantUID, id)

	deployment := models.Deployment{TenantUID: tenantUID}
	var version []byte
	err := row.Scan(&deployment.ID, &deployment.AgentID, &deployment.VersionID,
		&version, &deployment.CreatedAt, &deployment.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get deployment: %w", err)
	}
	if len(version) > 0 {
		deployment.Version = &models.Version{}
		if err := json.Unmarshal(version, deployment.Version); err != nil {
			return nil, fmt.Errorf("unmarshal deployment version: %w", err)
		}
	}
	return &deployment, nil
}

func (s *pgDeploymentStore) List(ctx context.Context, tenantUID, agentID string) ([]models.Deployment, error) {
	query := `SELECT id, agent_id, version_id, created_at, updated_at
		 FROM deployments WHERE tenant_uid = $1`
	args := []any{tenantUID}
	if agentID != "" {
		query += ` AND agent_id = $2`
		args = append(args, agentID)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var deployments []models.Deployment
	for rows.Next() {
		d := models.Deployment{TenantUID: tenantUID}
		if err := rows.Scan(&d.ID, &d.AgentID, &d.VersionID, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

type pgExperimentStore struct {
	db *sql.DB
}

func marshalExperimentSets(exp *models.Experiment) (runIDs, versions, inputs, metadata []byte, err error) {
	if runIDs, err = json.Marshal(orEmpty(exp.RunIDs)); err != nil {
		return
	}
	if versions, err = json.Marshal(orEmpty(exp.Versions)); err != nil {
		return
	}
	if inputs, err = json.Marshal(orEmpty(exp.Inputs)); err != nil {
		return
	}
	if exp.Metadata != nil {
		metadata, err = json.Marshal(exp.Metadata)
	}
	return
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (s *pgExperimentStore) Create(ctx context.Context, tenantUID string, exp *models.Experiment) error {
	if exp == nil || exp.ID == "" || tenantUID == "" {
		return fmt.Errorf("experiment id and tenant are required")
	}
	runIDs, versions, inputs, metadata, err := marshalExperimentSets(exp)
	if err != nil {
		return fmt.Errorf("marshal experiment: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO experiments (id, tenant_uid, agent_id, author_name, title, description, result, metadata, run_ids, versions, inputs)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		exp.ID, tenantUID, exp.AgentID, exp.AuthorName, exp.Title, exp.Description,
		exp.Result, metadata, runIDs, versions, inputs)
	if err != nil {
		if isDuplicate(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create experiment: %w", err)
	}
	return nil
}

const experimentColumns = `id, agent_id, author_name, title, description, result, metadata, run_ids, versions, inputs, created_at`

func scanExperiment(scan func(...any) error) (*models.Experiment, error) {
	var exp models.Experiment
	var metadata, runIDs, versions, inputs []byte
	err := scan(&exp.ID, &exp.AgentID, &exp.AuthorName, &exp.Title, &exp.Description,
		&exp.Result, &metadata, &runIDs, &versions, &inputs, &exp.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan experiment: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &exp.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal experiment metadata: %w", err)
		}
	}
	if err := json.Unmarshal(runIDs, &exp.RunIDs); err != nil {
		return nil, fmt.Errorf("unmarshal run ids: %w", err)
	}
	if err := json.Unmarshal(versions, &exp.Versions); err != nil {
		return nil, fmt.Errorf("unmarshal versions: %w", err)
	}
	if err := json.Unmarshal(inputs, &exp.Inputs); err != nil {
		return nil, fmt.Errorf("unmarshal inputs: %w", err)
	}
	return &exp, nil
}

func (s *pgExperimentStore) Get(ctx context.Context, tenantUID, id string) (*models.Experiment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE tenant_uid = $1 AND id = $2`,
		tenantUID, id)
	return scanExperiment(row.Scan)
}

func (s *pgExperimentStore) List(ctx context.Context, tenantUID, agentID string, limit, offset int) ([]models.Experiment, int, error) {
	where := ` WHERE tenant_uid = $1`
	args := []any{tenantUID}
	if agentID != "" {
		where += ` AND agent_id = $2`
		args = append(args, agentID)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM experiments`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count experiments: %w", err)
	}

	query := `SELECT ` + experimentColumns + ` FROM experiments` + where + ` ORDER BY created_at DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []models.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		experiments = append(experiments, *exp)
	}
	return experiments, total, rows.Err()
}

func (s *pgExperimentStore) Update(ctx context.Context, tenantUID string, exp *models.Experiment) error {
	if exp == nil || exp.ID == "" {
		return fmt.Errorf("experiment id is required")
	}
	runIDs, versions, inputs, metadata, err := marshalExperimentSets(exp)
	if err != nil {
		return fmt.Errorf("marshal experiment: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE experiments
		 SET title = $3, description = $4, result = $5, metadata = $6,
		     run_ids = $7, versions = $8, inputs = $9
		 WHERE tenant_uid = $1 AND id = $2`,
		tenantUID, exp.ID, exp.Title, exp.Description, exp.Result, metadata,
		runIDs, versions, inputs)
	if err != nil {
		return fmt.Errorf("update experiment: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgExperimentStore) AddRunID(ctx context.Context, tenantUID, id, runID string) error {
	// run_ids is an ordered set; the jsonb append is guarded against
	// duplicates in the same statement.
	result, err := s.db.ExecContext(ctx,
		`UPDATE experiments
		 SET run_ids = run_ids || to_jsonb($3::text)
		 WHERE tenant_uid = $1 AND id = $2 AND NOT run_ids ? $3`,
		tenantUID, id, runID)
	if err != nil {
		return fmt.Errorf("add run id: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Either the experiment is missing or the run id is already
		// recorded; only the former is an error.
		var exists bool
		err := s.db.QueryRowContext(ctx,
			`SELECT true FROM experiments WHERE tenant_uid = $1 AND id = $2`, tenantUID, id).Scan(&exists)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check experiment: %w", err)
		}
	}
	return nil
}

type pgViewStore struct {
	db *sql.DB
}

func (s *pgViewStore) UpsertView(ctx context.Context, tenantUID string, view *models.View) error {
	if view == nil || view.ID == "" {
		return fmt.Errorf("view id is required")
	}
	var graph []byte
	if view.Graph != nil {
		var err error
		if graph, err = json.Marshal(view.Graph); err != nil {
			return fmt.Errorf("marshal view graph: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO views (id, tenant_uid, folder_id, title, query, graph, position)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tenant_uid, id) DO UPDATE
		 SET folder_id = EXCLUDED.folder_id, title = EXCLUDED.title,
		     query = EXCLUDED.query, graph = EXCLUDED.graph, position = EXCLUDED.position`,
		view.ID, tenantUID, view.FolderID, view.Title, view.Query, graph, view.Position)
	if err != nil {
		return fmt.Errorf("upsert view: %w", err)
	}
	return nil
}

func (s *pgViewStore) View(ctx context.Context, tenantUID, id string) (*models.View, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, folder_id, title, query, graph, position
		 FROM views WHERE tenant_uid = $1 AND id = $2`, tenantUID, id)
	return scanView(row.Scan)
}

func scanView(scan func(...any) error) (*models.View, error) {
	var view models.View
	var graph []byte
	if err := scan(&view.ID, &view.FolderID, &view.Title, &view.Query, &graph, &view.Position); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan view: %w", err)
	}
	if len(graph) > 0 {
		if err := json.Unmarshal(graph, &view.Graph); err != nil {
			return nil, fmt.Errorf("unmarshal view graph: %w", err)
		}
	}
	return &view, nil
}

func (s *pgViewStore) Views(ctx context.Context, tenantUID string) ([]models.View, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, folder_id, title, query, graph, position
		 FROM views WHERE tenant_uid = $1 ORDER BY folder_id, position, id`, tenantUID)
	if err != nil {
		return nil, fmt.Errorf("list views: %w", err)
	}
	defer rows.Close()

	var views []models.View
	for rows.Next() {
		view, err := scanView(rows.Scan)
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, rows.Err()
}

func (s *pgViewStore) DeleteView(ctx context.Context, tenantUID, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM views WHERE tenant_uid = $1 AND id = $2`, tenantUID, id)
	if err != nil {
		return fmt.Errorf("delete view: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgViewStore) UpsertFolder(ctx context.Context, tenantUID string, folder *models.ViewFolder) error {
	if folder == nil || folder.ID == "" {
		return fmt.Errorf("folder id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO view_folders (id, tenant_uid, name) VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_uid, id) DO UPDATE SET name = EXCLUDED.name`,
		folder.ID, tenantUID, folder.Name)
	if err != nil {
		return fmt.Errorf("upsert view folder: %w", err)
	}
	return nil
}

func (s *pgViewStore) Folders(ctx context.Context, tenantUID string) ([]models.ViewFolder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.id, f.name, COALESCE(v.ids, '{}')
		 FROM view_folders f
		 LEFT JOIN (
			SELECT folder_id, tenant_uid, array_agg(id ORDER BY position, id) AS ids
			FROM views GROUP BY folder_id, tenant_uid
		 ) v ON v.folder_id = f.id AND v.tenant_uid = f.tenant_uid
		 WHERE f.tenant_uid = $1 ORDER BY f.name`, tenantUID)
	if err != nil {
		return nil, fmt.Errorf("list view folders: %w", err)
	}
	defer rows.Close()

	var folders []models.ViewFolder
	for rows.Next() {
		var folder models.ViewFolder
		var ids pgStringArray
		if err := rows.Scan(&folder.ID, &folder.Name, &ids); err != nil {
			return nil, fmt.Errorf("scan view folder: %w", err)
		}
		folder.Views = ids
		folders = append(folders, folder)
	}
	return folders, rows.Err()
}

func (s *pgViewStore) DeleteFolder(ctx context.Context, tenantUID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// Views in the folder survive; they fall back to the root.
	if _, err := tx.ExecContext(ctx,
		`UPDATE views SET folder_id = '' WHERE tenant_uid = $1 AND folder_id = $2`, tenantUID, id); err != nil {
		return fmt.Errorf("detach views: %w", err)
	}
	result, err := tx.ExecContext(ctx,
		`DELETE FROM view_folders WHERE tenant_uid = $1 AND id = $2`, tenantUID, id)
	if err != nil {
		return fmt.Errorf("delete view folder: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// pgStringArray scans a text[] column without pulling in a driver-specific
// array type. pgx's stdlib driver hands text arrays over in the
// `{a,b,c}` wire form.
type pgStringArray []string

func (a *pgStringArray) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into string array", src)
	}
	raw = strings.Trim(raw, "{}")
	if raw == "" {
		*a = nil
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.Trim(p, `"`)
	}
	*a = out
	return nil
}
