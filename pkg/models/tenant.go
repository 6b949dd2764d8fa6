package models

import (
	"time"
)

// Tenant is the top-level security and quota boundary. Every stored row
// belongs to exactly one tenant.
type Tenant struct {
	UID       string    `json:"uid"`
	OrgID     string    `json:"org_id,omitempty"`
	OrgSlug   string    `json:"org_slug,omitempty"`
	OwnerID   string    `json:"owner_id,omitempty"`
	Credits   float64   `json:"credits,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// APIKey is a stored gateway credential. The raw key is shown exactly once
// at creation; only the SHA-256 hash persists.
type APIKey struct {
	ID         string    `json:"id"`
	TenantUID  string    `json:"-"`
	Name       string    `json:"name,omitempty"`
	PartialKey string    `json:"partial_key"`
	HashedKey  string    `json:"-"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
	LastUsedAt time.Time `json:"last_used_at,omitzero"`
}

// Deployment pins a version under a stable name so callers can reference a
// configuration without inlining it.
type Deployment struct {
	ID        string    `json:"id"`
	TenantUID string    `json:"-"`
	AgentID   string    `json:"agent_id"`
	VersionID string    `json:"version_id"`
	Version   *Version  `json:"version,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// View is a saved SQL query plus visualization config over completions.
type View struct {
	ID       string          `json:"id"`
	FolderID string          `json:"folder_id,omitempty"`
	Title    string          `json:"title"`
	Query    string          `json:"query"`
	Graph    map[string]any  `json:"graph,omitempty"`
	Position int             `json:"position,omitempty"`
}

// ViewFolder groups views.
type ViewFolder struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Views []string `json:"views,omitempty"`
}
