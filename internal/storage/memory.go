package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anotherai-dev/anotherai/pkg/models"
)

// NewMemoryStores provides in-memory relational stores for tests and
// single-node development.
func NewMemoryStores() StoreSet {
	return StoreSet{
		Tenants:     newMemoryTenantStore(),
		Agents:      &memoryAgentStore{agents: map[string]*models.Agent{}},
		APIKeys:     &memoryAPIKeyStore{keys: map[string]*models.APIKey{}},
		Deployments: &memoryDeploymentStore{deployments: map[string]*models.Deployment{}},
		Experiments: &memoryExperimentStore{experiments: map[string]*models.Experiment{}},
		Views:       &memoryViewStore{views: map[string]*models.View{}, folders: map[string]*models.ViewFolder{}},
	}
}

func scopedKey(tenantUID, id string) string { return tenantUID + "\x00" + id }

type memoryTenantStore struct {
	mu      sync.RWMutex
	tenants []*models.Tenant
	keyHash map[string]*models.Tenant
}

func newMemoryTenantStore() *memoryTenantStore {
	return &memoryTenantStore{keyHash: map[string]*models.Tenant{}}
}

// RegisterAPIKeyHash links a hashed key to a tenant; the memory counterpart
// of the api_keys join.
func (s *memoryTenantStore) RegisterAPIKeyHash(hashedKey string, tenant *models.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyHash[hashedKey] = tenant
}

func (s *memoryTenantStore) ByAPIKeyHash(ctx context.Context, hashedKey string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenant, ok := s.keyHash[hashedKey]
	if !ok {
		return nil, ErrNotFound
	}
	return tenant, nil
}

func (s *memoryTenantStore) getOrCreate(match func(*models.Tenant) bool, build func() *models.Tenant) *models.Tenant {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tenants {
		if match(t) {
			return t
		}
	}
	tenant := build()
	s.tenants = append(s.tenants, tenant)
	return tenant
}

func (s *memoryTenantStore) GetOrCreateByOrg(ctx context.Context, orgID, orgSlug string) (*models.Tenant, error) {
	if orgID == "" {
		return nil, fmt.Errorf("org id is required")
	}
	return s.getOrCreate(
		func(t *models.Tenant) bool { return t.OrgID == orgID },
		func() *models.Tenant {
			return &models.Tenant{UID: models.NewID(), OrgID: orgID, OrgSlug: orgSlug, CreatedAt: time.Now().UTC()}
		}), nil
}

func (s *memoryTenantStore) GetOrCreateByOwner(ctx context.Context, ownerID string) (*models.Tenant, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	return s.getOrCreate(
		func(t *models.Tenant) bool { return t.OrgID == "" && t.OwnerID == ownerID },
		func() *models.Tenant {
			return &models.Tenant{UID: models.NewID(), OwnerID: ownerID, CreatedAt: time.Now().UTC()}
		}), nil
}

func (s *memoryTenantStore) GetOrCreateAnonymous(ctx context.Context) (*models.Tenant, error) {
	return s.getOrCreate(
		func(t *models.Tenant) bool { return t.UID == anonymousTenantUID },
		func() *models.Tenant {
			return &models.Tenant{UID: anonymousTenantUID, CreatedAt: time.Now().UTC()}
		}), nil
}

type memoryAgentStore struct {
	mu     sync.RWMutex
	agents map[string]*models.Agent
}

func (s *memoryAgentStore) GetOrCreate(ctx context.Context, tenantUID, agentID string) (*models.Agent, error) {
	if tenantUID == "" || agentID == "" {
		return nil, fmt.Errorf("tenant and agent id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(tenantUID, agentID)
	if agent, ok := s.agents[key]; ok {
		return agent, nil
	}
	agent := &models.Agent{UID: models.NewID(), ID: agentID, Name: agentID, CreatedAt: time.Now().UTC()}
	s.agents[key] = agent
	return agent, nil
}

func (s *memoryAgentStore) List(ctx context.Context, tenantUID string) ([]models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var agents []models.Agent
	for key, agent := range s.agents {
		if strings.HasPrefix(key, tenantUID+"\x00") {
			agents = append(agents, *agent)
		}
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].CreatedAt.After(agents[j].CreatedAt) })
	return agents, nil
}

type memoryAPIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*models.APIKey
}

func (s *memoryAPIKeyStore) Create(ctx context.Context, key *models.APIKey) error {
	if key == nil || key.ID == "" || key.TenantUID == "" || key.HashedKey == "" {
		return fmt.Errorf("api key id, tenant and hash are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.keys {
		if existing.HashedKey == key.HashedKey {
			return ErrAlreadyExists
		}
	}
	s.keys[scopedKey(key.TenantUID, key.ID)] = key
	return nil
}

func (s *memoryAPIKeyStore) List(ctx context.Context, tenantUID string) ([]models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []models.APIKey
	for k, key := range s.keys {
		if strings.HasPrefix(k, tenantUID+"\x00") {
			keys = append(keys, *key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })
	return keys, nil
}

func (s *memoryAPIKeyStore) Delete(ctx context.Context, tenantUID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(tenantUID, id)
	if _, ok := s.keys[key]; !ok {
		return ErrNotFound
	}
	delete(s.keys, key)
	return nil
}

type memoryDeploymentStore struct {
	mu          sync.RWMutex
	deployments map[string]*models.Deployment
}

func (s *memoryDeploymentStore) Upsert(ctx context.Context, deployment *models.Deployment) error {
	if deployment == nil || deployment.ID == "" || deployment.TenantUID == "" {
		return fmt.Errorf("deployment id and tenant are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *deployment
	now := time.Now().UTC()
	if existing, ok := s.deployments[scopedKey(deployment.TenantUID, deployment.ID)]; ok {
		clone.CreatedAt = existing.CreatedAt
	} else {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	s.deployments[scopedKey(deployment.TenantUID, deployment.ID)] = &clone
	return nil
}

func (s *memoryDeploymentStore) Get(ctx context.Context, tenantUID, id string) (*models.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	deployment, ok := s.deployments[scopedKey(tenantUID, id)]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *deployment
	return &clone, nil
}

func (s *memoryDeploymentStore) List(ctx context.Context, tenantUID, agentID string) ([]models.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var deployments []models.Deployment
	for key, d := range s.deployments {
		if !strings.HasPrefix(key, tenantUID+"\x00") {
			continue
		}
		if agentID != "" && d.AgentID != agentID {
			continue
		}
		deployments = append(deployments, *d)
	}
	sort.Slice(deployments, func(i, j int) bool {
		return deployments[i].UpdatedAt.After(deployments[j].UpdatedAt)
	})
	return deployments, nil
}

type memoryExperimentStore struct {
	mu          sync.RWMutex
	experiments map[string]*models.Experiment
}

func (s *memoryExperimentStore) Create(ctx context.Context, tenantUID string, exp *models.Experiment) error {
	if exp == nil || exp.ID == "" || tenantUID == "" {
		return fmt.Errorf("experiment id and tenant are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(tenantUID, exp.ID)
	if _, ok := s.experiments[key]; ok {
		return ErrAlreadyExists
	}
	clone := *exp
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	s.experiments[key] = &clone
	return nil
}

func (s *memoryExperimentStore) Get(ctx context.Context, tenantUID, id string) (*models.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.experiments[scopedKey(tenantUID, id)]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *exp
	clone.RunIDs = append([]string(nil), exp.RunIDs...)
	clone.Versions = append([]models.Version(nil), exp.Versions...)
	clone.Inputs = append([]models.AgentInput(nil), exp.Inputs...)
	return &clone, nil
}

func (s *memoryExperimentStore) List(ctx context.Context, tenantUID, agentID string, limit, offset int) ([]models.Experiment, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var experiments []models.Experiment
	for key, exp := range s.experiments {
		if !strings.HasPrefix(key, tenantUID+"\x00") {
			continue
		}
		if agentID != "" && exp.AgentID != agentID {
			continue
		}
		experiments = append(experiments, *exp)
	}
	sort.Slice(experiments, func(i, j int) bool {
		return experiments[i].CreatedAt.After(experiments[j].CreatedAt)
	})
	total := len(experiments)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return experiments[offset:end], total, nil
}

func (s *memoryExperimentStore) Update(ctx context.Context, tenantUID string, exp *models.Experiment) error {
	if exp == nil || exp.ID == "" {
		return fmt.Errorf("experiment id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(tenantUID, exp.ID)
	existing, ok := s.experiments[key]
	if !ok {
		return ErrNotFound
	}
	clone := *exp
	clone.CreatedAt = existing.CreatedAt
	s.experiments[key] = &clone
	return nil
}

func (s *memoryExperimentStore) AddRunID(ctx context.Context, tenantUID, id, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.experiments[scopedKey(tenantUID, id)]
	if !ok {
		return ErrNotFound
	}
	exp.AddRunID(runID)
	return nil
}

type memoryViewStore struct {
	mu      sync.RWMutex
	views   map[string]*models.View
	folders map[string]*models.ViewFolder
}

func (s *memoryViewStore) UpsertView(ctx context.Context, tenantUID string, view *models.View) error {
	if view == nil || view.ID == "" {
		return fmt.Errorf("view id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *view
	s.views[scopedKey(tenantUID, view.ID)] = &clone
	return nil
}

func (s *memoryViewStore) View(ctx context.Context, tenantUID, id string) (*models.View, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view, ok := s.views[scopedKey(tenantUID, id)]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *view
	return &clone, nil
}

func (s *memoryViewStore) Views(ctx context.Context, tenantUID string) ([]models.View, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var views []models.View
	for key, view := range s.views {
		if strings.HasPrefix(key, tenantUID+"\x00") {
			views = append(views, *view)
		}
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].FolderID != views[j].FolderID {
			return views[i].FolderID < views[j].FolderID
		}
		if views[i].Position != views[j].Position {
			return views[i].Position < views[j].Position
		}
		return views[i].ID < views[j].ID
	})
	return views, nil
}

func (s *memoryViewStore) DeleteView(ctx context.Context, tenantUID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(tenantUID, id)
	if _, ok := s.views[key]; !ok {
		return ErrNotFound
	}
	delete(s.views, key)
	return nil
}

func (s *memoryViewStore) UpsertFolder(ctx context.Context, tenantUID string, folder *models.ViewFolder) error {
	if folder == nil || folder.ID == "" {
		return fmt.Errorf("folder id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *folder
	s.folders[scopedKey(tenantUID, folder.ID)] = &clone
	return nil
}

func (s *memoryViewStore) Folders(ctx context.Context, tenantUID string) ([]models.ViewFolder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var folders []models.ViewFolder
	for key, folder := range s.folders {
		if !strings.HasPrefix(key, tenantUID+"\x00") {
			continue
		}
		clone := *folder
		clone.Views = nil
		for viewKey, view := range s.views {
			if strings.HasPrefix(viewKey, tenantUID+"\x00") && view.FolderID == folder.ID {
				clone.Views = append(clone.Views, view.ID)
			}
		}
		sort.Strings(clone.Views)
		folders = append(folders, clone)
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].Name < folders[j].Name })
	return folders, nil
}

func (s *memoryViewStore) DeleteFolder(ctx context.Context, tenantUID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(tenantUID, id)
	if _, ok := s.folders[key]; !ok {
		return ErrNotFound
	}
	delete(s.folders, key)
	for viewKey, view := range s.views {
		if strings.HasPrefix(viewKey, tenantUID+"\x00") && view.FolderID == id {
			view.FolderID = ""
		}
	}
	return nil
}

// MemoryAnalytics is the in-memory analytics tier for tests and dev mode.
// RawQuery is not supported; the real engine owns SQL.
type MemoryAnalytics struct {
	mu          sync.RWMutex
	completions []*completionRow
	annotations map[string]*annotationRow
	experiments map[string]*models.Experiment
}

// NewMemoryAnalytics creates an empty in-memory analytics store.
func NewMemoryAnalytics() *MemoryAnalytics {
	return &MemoryAnalytics{
		annotations: map[string]*annotationRow{},
		experiments: map[string]*models.Experiment{},
	}
}

func (m *MemoryAnalytics) StoreCompletion(ctx context.Context, tenantUID string, completion *models.AgentCompletion) error {
	if completion == nil || completion.ID == "" || tenantUID == "" {
		return fmt.Errorf("completion id and tenant are required")
	}
	row, err := completionToRow(tenantUID, completion)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completions = append(m.completions, row)
	return nil
}

func (m *MemoryAnalytics) CompletionByID(ctx context.Context, tenantUID, id string) (*models.AgentCompletion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, row := range m.completions {
		if row.TenantUID == tenantUID && row.ID == id {
			return row.completion()
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryAnalytics) CompletionsByIDs(ctx context.Context, tenantUID string, ids []string, excludeHeavy bool) ([]models.AgentCompletion, error) {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var completions []models.AgentCompletion
	for _, row := range m.completions {
		if row.TenantUID != tenantUID || !wanted[row.ID] {
			continue
		}
		clone := *row
		if excludeHeavy {
			clone.InputMessages, clone.OutputMessages = "", ""
			clone.Messages, clone.Traces = "", ""
		}
		completion, err := clone.completion()
		if err != nil {
			return nil, err
		}
		completions = append(completions, *completion)
	}
	sort.Slice(completions, func(i, j int) bool { return completions[i].ID > completions[j].ID })
	return completions, nil
}

func (m *MemoryAnalytics) CachedCompletion(ctx context.Context, tenantUID, versionID, inputID string) (*models.AgentCompletion, error) {
	if versionID == "" || inputID == "" {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var newest *completionRow
	for _, row := range m.completions {
		if row.TenantUID != tenantUID || row.VersionID != versionID || row.InputID != inputID {
			continue
		}
		if row.OutputError != "" {
			continue
		}
		if newest == nil || row.ID > newest.ID {
			newest = row
		}
	}
	if newest == nil {
		return nil, nil
	}
	return newest.completion()
}

func (m *MemoryAnalytics) StoreAnnotation(ctx context.Context, tenantUID string, annotation *models.Annotation) error {
	if annotation == nil || annotation.ID == "" {
		return fmt.Errorf("annotation id is required")
	}
	row, err := annotationToRow(tenantUID, annotation)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.annotations[scopedKey(tenantUID, row.ID)] = row
	return nil
}

func (m *MemoryAnalytics) DeleteAnnotation(ctx context.Context, tenantUID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.annotations[scopedKey(tenantUID, id)]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	row.UpdatedAt = now
	row.DeletedAt = now
	return nil
}

func (m *MemoryAnalytics) Annotations(ctx context.Context, tenantUID string, filter AnnotationFilter) ([]models.Annotation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inSet := func(id string) bool {
		for _, candidate := range filter.CompletionIDs {
			if candidate == id {
				return true
			}
		}
		return false
	}

	var annotations []models.Annotation
	for key, row := range m.annotations {
		if !strings.HasPrefix(key, tenantUID+"\x00") || !row.DeletedAt.IsZero() {
			continue
		}
		if filter.CompletionID != "" && row.TargetCompletionID != filter.CompletionID {
			continue
		}
		if len(filter.CompletionIDs) > 0 && !inSet(row.TargetCompletionID) {
			continue
		}
		if filter.ExperimentID != "" &&
			row.TargetExperimentID != filter.ExperimentID && row.ContextExperimentID != filter.ExperimentID {
			continue
		}
		if !filter.Since.IsZero() && !row.CreatedAt.After(filter.Since) {
			continue
		}
		annotation, err := row.annotation()
		if err != nil {
			return nil, err
		}
		annotations = append(annotations, *annotation)
	}
	sort.Slice(annotations, func(i, j int) bool {
		return annotations[i].CreatedAt.Before(annotations[j].CreatedAt)
	})
	if filter.Limit > 0 && len(annotations) > filter.Limit {
		annotations = annotations[:filter.Limit]
	}
	return annotations, nil
}

func (m *MemoryAnalytics) StoreExperiment(ctx context.Context, tenantUID string, exp *models.Experiment) error {
	if exp == nil || exp.ID == "" {
		return fmt.Errorf("experiment id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *exp
	m.experiments[scopedKey(tenantUID, exp.ID)] = &clone
	return nil
}

func (m *MemoryAnalytics) RawQuery(ctx context.Context, tenantUID, query string) ([]map[string]any, error) {
	return nil, fmt.Errorf("raw queries require the analytics engine")
}
