// ABOUTME: Store interface and data types for clawhuddle persistence
// ABOUTME: Defines member gateway records, credentials, skills, and channel tokens

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// GatewayStatus is the persisted lifecycle state of a member's gateway.
// The zero value means no gateway has been provisioned.
type GatewayStatus string

const (
	StatusAbsent       GatewayStatus = ""
	StatusProvisioning GatewayStatus = "provisioning"
	StatusDeploying    GatewayStatus = "deploying"
	StatusRunning      GatewayStatus = "running"
	StatusStopped      GatewayStatus = "stopped"
)

// Valid reports whether s is a status the schema accepts.
func (s GatewayStatus) Valid() bool {
	switch s {
	case StatusAbsent, StatusProvisioning, StatusDeploying, StatusRunning, StatusStopped:
		return true
	}
	return false
}

// Gateway holds the gateway fields embedded in an org member row.
// Zero values are stored as NULL.
type Gateway struct {
	Port      int
	Status    GatewayStatus
	Token     string
	Subdomain string
}

// Deployed reports whether a gateway port has been recorded.
func (g Gateway) Deployed() bool {
	return g.Port != 0
}

// Member is an organization membership together with its gateway record.
type Member struct {
	ID        string
	OrgID     string
	UserID    string
	Role      string // owner, admin, member
	Gateway   Gateway
	CreatedAt time.Time
}

// Route is one routing map entry derived from a member's gateway record.
type Route struct {
	MemberID  string
	Subdomain string
	Port      int
}

// CredentialKind identifies how a provider secret is used.
type CredentialKind string

const (
	CredentialAPIKey     CredentialKind = "api_key"
	CredentialOAuth      CredentialKind = "oauth"
	CredentialSetupToken CredentialKind = "setup_token"
)

// Credential is an org-level provider secret.
type Credential struct {
	ID        string
	OrgID     string
	Provider  string
	Kind      CredentialKind
	Secret    string
	CreatedAt time.Time
}

// SkillType controls how a skill is assigned to members.
type SkillType string

const (
	SkillMandatory  SkillType = "mandatory"
	SkillOptional   SkillType = "optional"
	SkillRestricted SkillType = "restricted"
)

// Skill is a source-controlled capability package registered for an org.
type Skill struct {
	ID        string
	OrgID     string
	Name      string
	Type      SkillType
	Enabled   bool
	GitURL    string
	GitPath   string
	CreatedAt time.Time
}

// MemberStore persists members and their gateway records.
// Only the orchestrator writes gateway fields.
type MemberStore interface {
	CreateMember(ctx context.Context, member *Member) error
	GetMember(ctx context.Context, orgID, memberID string) (*Member, error)
	ListMembersByStatus(ctx context.Context, orgID string, statuses ...GatewayStatus) ([]*Member, error)

	// SetGateway writes all four gateway fields together.
	SetGateway(ctx context.Context, memberID string, gw Gateway) error
	SetGatewayStatus(ctx context.Context, memberID string, status GatewayStatus) error
	SetGatewayPort(ctx context.Context, memberID string, port int) error
	// ClearGateway resets all four gateway fields to NULL.
	ClearGateway(ctx context.Context, memberID string) error

	// ListRoutes returns every member with both a subdomain and a port, ordered by subdomain.
	ListRoutes(ctx context.Context) ([]Route, error)
}

// CredentialStore persists org provider credentials and model overrides.
type CredentialStore interface {
	// PutCredential replaces the org's credential for the same provider.
	PutCredential(ctx context.Context, cred *Credential) error
	ListCredentials(ctx context.Context, orgID string) ([]*Credential, error)
	DeleteCredential(ctx context.Context, orgID, id string) error

	SetModelOverride(ctx context.Context, orgID, provider, model string) error
	GetModelOverrides(ctx context.Context, orgID string) (map[string]string, error)
}

// SkillStore persists the skill registry and per-user assignments.
type SkillStore interface {
	CreateSkill(ctx context.Context, skill *Skill) error
	SetUserSkill(ctx context.Context, userID, skillID string, enabled bool) error
	// ListAssignedSkills returns the user's enabled skills plus the org's
	// enabled mandatory skills, without duplicates.
	ListAssignedSkills(ctx context.Context, orgID, userID string) ([]*Skill, error)
}

// ChannelStore persists per-member messaging channel bot tokens.
type ChannelStore interface {
	SetChannelToken(ctx context.Context, memberID, channel, token string) error
	DeleteChannelToken(ctx context.Context, memberID, channel string) error
	GetChannelTokens(ctx context.Context, memberID string) (map[string]string, error)
}

// Store is the complete persistence surface used by clawhuddle.
type Store interface {
	MemberStore
	CredentialStore
	SkillStore
	ChannelStore

	// Close releases any resources held by the store
	Close() error
}
