// Package storage persists the domain across two tiers: a relational store
// for tenants, agents, keys, deployments, experiment metadata and views, and
// an append-only analytics store for completions, annotations and experiment
// rows. Every operation is tenant-scoped.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/anotherai-dev/anotherai/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// TenantStore resolves and provisions tenants.
type TenantStore interface {
	// ByAPIKeyHash resolves the tenant owning the hashed key and touches
	// the key's last_used_at.
	ByAPIKeyHash(ctx context.Context, hashedKey string) (*models.Tenant, error)
	GetOrCreateByOrg(ctx context.Context, orgID, orgSlug string) (*models.Tenant, error)
	GetOrCreateByOwner(ctx context.Context, ownerID string) (*models.Tenant, error)
	// GetOrCreateAnonymous returns the synthetic tenant used when
	// unauthenticated access is allowed.
	GetOrCreateAnonymous(ctx context.Context) (*models.Tenant, error)
}

// AgentStore persists agent scopes. Agents are auto-created on first use.
type AgentStore interface {
	GetOrCreate(ctx context.Context, tenantUID, agentID string) (*models.Agent, error)
	List(ctx context.Context, tenantUID string) ([]models.Agent, error)
}

// APIKeyStore persists gateway credentials. Only hashes are stored.
type APIKeyStore interface {
	Create(ctx context.Context, key *models.APIKey) error
	List(ctx context.Context, tenantUID string) ([]models.APIKey, error)
	Delete(ctx context.Context, tenantUID, id string) error
}

// DeploymentStore pins versions under stable names.
type DeploymentStore interface {
	Upsert(ctx context.Context, deployment *models.Deployment) error
	Get(ctx context.Context, tenantUID, id string) (*models.Deployment, error)
	List(ctx context.Context, tenantUID, agentID string) ([]models.Deployment, error)
}

// ExperimentStore persists experiment metadata: the version and input sets
// and the ordered run id list. Completions themselves live in the analytics
// tier.
type ExperimentStore interface {
	Create(ctx context.Context, tenantUID string, exp *models.Experiment) error
	Get(ctx context.Context, tenantUID, id string) (*models.Experiment, error)
	List(ctx context.Context, tenantUID, agentID string, limit, offset int) ([]models.Experiment, int, error)
	Update(ctx context.Context, tenantUID string, exp *models.Experiment) error
	AddRunID(ctx context.Context, tenantUID, id, runID string) error
}

// ViewStore persists saved queries and their folders.
type ViewStore interface {
	UpsertView(ctx context.Context, tenantUID string, view *models.View) error
	View(ctx context.Context, tenantUID, id string) (*models.View, error)
	Views(ctx context.Context, tenantUID string) ([]models.View, error)
	DeleteView(ctx context.Context, tenantUID, id string) error
	UpsertFolder(ctx context.Context, tenantUID string, folder *models.ViewFolder) error
	Folders(ctx context.Context, tenantUID string) ([]models.ViewFolder, error)
	DeleteFolder(ctx context.Context, tenantUID, id string) error
}

// AnnotationFilter narrows annotation listings.
type AnnotationFilter struct {
	ExperimentID string
	CompletionID string
	// CompletionIDs matches annotations targeting any of the ids; used to
	// collect the annotations of an experiment's runs.
	CompletionIDs []string
	Since         time.Time
	Limit         int
}

// Analytics is the append-only completion tier.
type Analytics interface {
	StoreCompletion(ctx context.Context, tenantUID string, completion *models.AgentCompletion) error
	CompletionByID(ctx context.Context, tenantUID, id string) (*models.AgentCompletion, error)
	// CompletionsByIDs fetches several completions; excludeHeavy skips
	// input_messages, output_messages and traces.
	CompletionsByIDs(ctx context.Context, tenantUID string, ids []string, excludeHeavy bool) ([]models.AgentCompletion, error)
	// CachedCompletion returns the newest successful completion for the
	// (version, input) pair, or nil without error on a miss.
	CachedCompletion(ctx context.Context, tenantUID, versionID, inputID string) (*models.AgentCompletion, error)
	StoreAnnotation(ctx context.Context, tenantUID string, annotation *models.Annotation) error
	DeleteAnnotation(ctx context.Context, tenantUID, id string) error
	Annotations(ctx context.Context, tenantUID string, filter AnnotationFilter) ([]models.Annotation, error)
	StoreExperiment(ctx context.Context, tenantUID string, exp *models.Experiment) error
	// RawQuery runs tenant-scoped read-only SQL and returns generic rows.
	RawQuery(ctx context.Context, tenantUID, query string) ([]map[string]any, error)
}

// StoreSet groups the relational stores behind one lifecycle.
type StoreSet struct {
	Tenants     TenantStore
	Agents      AgentStore
	APIKeys     APIKeyStore
	Deployments DeploymentStore
	Experiments ExperimentStore
	Views       ViewStore
	closer      func() error
}

// Close releases the underlying pool.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// ScopedCache adapts the analytics tier to the runner's tenant-less cache
// interface.
type ScopedCache struct {
	Analytics Analytics
	TenantUID string
}

func (c ScopedCache) CachedCompletion(ctx context.Context, versionID, inputID string) (*models.AgentCompletion, error) {
	return c.Analytics.CachedCompletion(ctx, c.TenantUID, versionID, inputID)
}
