package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/anotherai-dev/anotherai/pkg/models"
)

func TestMemoryTenantGetOrCreate(t *testing.T) {
	ctx := context.Background()
	stores := NewMemoryStores()

	byOrg, err := stores.Tenants.GetOrCreateByOrg(ctx, "org_9", "acme")
	if err != nil {
		t.Fatalf("GetOrCreateByOrg: %v", err)
	}
	again, err := stores.Tenants.GetOrCreateByOrg(ctx, "org_9", "acme")
	if err != nil {
		t.Fatalf("GetOrCreateByOrg: %v", err)
	}
	if byOrg.UID != again.UID {
		t.Fatalf("org tenant not stable: %q vs %q", byOrg.UID, again.UID)
	}

	byOwner, err := stores.Tenants.GetOrCreateByOwner(ctx, "user_1")
	if err != nil {
		t.Fatalf("GetOrCreateByOwner: %v", err)
	}
	if byOwner.UID == byOrg.UID {
		t.Fatal("owner tenant collided with org tenant")
	}

	anon, err := stores.Tenants.GetOrCreateAnonymous(ctx)
	if err != nil {
		t.Fatalf("GetOrCreateAnonymous: %v", err)
	}
	anon2, _ := stores.Tenants.GetOrCreateAnonymous(ctx)
	if anon.UID != anon2.UID {
		t.Fatal("anonymous tenant not stable")
	}
}

func TestMemoryAPIKeyLookup(t *testing.T) {
	ctx := context.Background()
	stores := NewMemoryStores()

	tenant, _ := stores.Tenants.GetOrCreateByOwner(ctx, "user_1")
	key := &models.APIKey{ID: "k1", TenantUID: tenant.UID, HashedKey: "hash-1", PartialKey: "aai-12345****"}
	if err := stores.APIKeys.Create(ctx, key); err != nil {
		t.Fatalf("Create: %v", err)
	}
	stores.Tenants.(*memoryTenantStore).RegisterAPIKeyHash("hash-1", tenant)

	found, err := stores.Tenants.ByAPIKeyHash(ctx, "hash-1")
	if err != nil {
		t.Fatalf("ByAPIKeyHash: %v", err)
	}
	if found.UID != tenant.UID {
		t.Fatalf("tenant = %+v", found)
	}
	if _, err := stores.Tenants.ByAPIKeyHash(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	dup := &models.APIKey{ID: "k2", TenantUID: tenant.UID, HashedKey: "hash-1"}
	if err := stores.APIKeys.Create(ctx, dup); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate hash err = %v", err)
	}
}

func TestMemoryExperimentLifecycle(t *testing.T) {
	ctx := context.Background()
	stores := NewMemoryStores()

	exp := &models.Experiment{ID: "exp-1", AgentID: "support-bot", Title: "tones"}
	if err := stores.Experiments.Create(ctx, "tenant-1", exp); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := stores.Experiments.Create(ctx, "tenant-1", exp); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate err = %v", err)
	}

	// Tenant scoping: another tenant does not see the experiment.
	if _, err := stores.Experiments.Get(ctx, "tenant-2", "exp-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross tenant err = %v", err)
	}

	for _, runID := range []string{"r1", "r2", "r1"} {
		if err := stores.Experiments.AddRunID(ctx, "tenant-1", "exp-1", runID); err != nil {
			t.Fatalf("AddRunID: %v", err)
		}
	}
	got, err := stores.Experiments.Get(ctx, "tenant-1", "exp-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.RunIDs) != 2 || got.RunIDs[0] != "r1" || got.RunIDs[1] != "r2" {
		t.Fatalf("run ids = %v, want deduplicated ordered set", got.RunIDs)
	}

	listed, total, err := stores.Experiments.List(ctx, "tenant-1", "support-bot", 10, 0)
	if err != nil || total != 1 || len(listed) != 1 {
		t.Fatalf("List: %v total=%d len=%d", err, total, len(listed))
	}
}

func TestMemoryAnalyticsCachedCompletion(t *testing.T) {
	ctx := context.Background()
	analytics := NewMemoryAnalytics()

	good := sampleCompletion()
	if err := analytics.StoreCompletion(ctx, "tenant-1", good); err != nil {
		t.Fatalf("StoreCompletion: %v", err)
	}

	failed := sampleCompletion()
	failed.ID = models.NewID()
	failed.Version = good.Version
	failed.AgentInput = good.AgentInput
	failed.AgentOutput = models.AgentOutput{Error: "boom"}
	if err := analytics.StoreCompletion(ctx, "tenant-1", failed); err != nil {
		t.Fatalf("StoreCompletion: %v", err)
	}

	hit, err := analytics.CachedCompletion(ctx, "tenant-1", good.Version.ID, good.AgentInput.ID)
	if err != nil {
		t.Fatalf("CachedCompletion: %v", err)
	}
	if hit == nil {
		t.Fatal("expected a cache hit")
	}
	// The failed run is newer but must never be served from cache.
	if hit.ID != good.ID {
		t.Fatalf("cache served %q, want %q", hit.ID, good.ID)
	}

	if miss, err := analytics.CachedCompletion(ctx, "tenant-2", good.Version.ID, good.AgentInput.ID); err != nil || miss != nil {
		t.Fatalf("cross tenant cache hit: %+v err=%v", miss, err)
	}
}

func TestMemoryAnalyticsAnnotations(t *testing.T) {
	ctx := context.Background()
	analytics := NewMemoryAnalytics()

	a1 := &models.Annotation{ID: models.NewID(), Text: "first",
		Target: &models.AnnotationTarget{CompletionID: "c1"}}
	a2 := &models.Annotation{ID: models.NewID(), Text: "second",
		Target:  &models.AnnotationTarget{CompletionID: "c2"},
		Context: &models.AnnotationContext{ExperimentID: "e1"}}
	for _, a := range []*models.Annotation{a1, a2} {
		if err := analytics.StoreAnnotation(ctx, "tenant-1", a); err != nil {
			t.Fatalf("StoreAnnotation: %v", err)
		}
	}

	byCompletion, err := analytics.Annotations(ctx, "tenant-1", AnnotationFilter{CompletionID: "c1"})
	if err != nil || len(byCompletion) != 1 || byCompletion[0].Text != "first" {
		t.Fatalf("by completion: %+v err=%v", byCompletion, err)
	}

	byExperiment, err := analytics.Annotations(ctx, "tenant-1", AnnotationFilter{ExperimentID: "e1"})
	if err != nil || len(byExperiment) != 1 || byExperiment[0].Text != "second" {
		t.Fatalf("by experiment: %+v err=%v", byExperiment, err)
	}

	byRuns, err := analytics.Annotations(ctx, "tenant-1", AnnotationFilter{CompletionIDs: []string{"c1", "c2"}})
	if err != nil || len(byRuns) != 2 {
		t.Fatalf("by runs: %+v err=%v", byRuns, err)
	}

	if err := analytics.DeleteAnnotation(ctx, "tenant-1", a1.ID); err != nil {
		t.Fatalf("DeleteAnnotation: %v", err)
	}
	remaining, err := analytics.Annotations(ctx, "tenant-1", AnnotationFilter{})
	if err != nil || len(remaining) != 1 {
		t.Fatalf("after delete: %+v err=%v", remaining, err)
	}
	if err := analytics.DeleteAnnotation(ctx, "tenant-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete missing err = %v", err)
	}
}

func TestScopedCache(t *testing.T) {
	ctx := context.Background()
	analytics := NewMemoryAnalytics()
	completion := sampleCompletion()
	if err := analytics.StoreCompletion(ctx, "tenant-1", completion); err != nil {
		t.Fatalf("StoreCompletion: %v", err)
	}

	cache := ScopedCache{Analytics: analytics, TenantUID: "tenant-1"}
	hit, err := cache.CachedCompletion(ctx, completion.Version.ID, completion.AgentInput.ID)
	if err != nil || hit == nil || hit.ID != completion.ID {
		t.Fatalf("scoped cache: %+v err=%v", hit, err)
	}
}
