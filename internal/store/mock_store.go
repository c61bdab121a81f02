// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	members     map[string]*Member           // keyed by member ID
	credentials map[string][]*Credential     // keyed by org ID
	overrides   map[string]map[string]string // keyed by org ID -> provider
	skills      map[string]*Skill            // keyed by skill ID
	userSkills  map[string]map[string]bool   // keyed by user ID -> skill ID
	channels    map[string]map[string]string // keyed by member ID -> channel
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		members:     make(map[string]*Member),
		credentials: make(map[string][]*Credential),
		overrides:   make(map[string]map[string]string),
		skills:      make(map[string]*Skill),
		userSkills:  make(map[string]map[string]bool),
		channels:    make(map[string]map[string]string),
	}
}

// CreateMember stores a new member.
func (m *MockStore) CreateMember(ctx context.Context, member *Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if member.ID == "" {
		member.ID = uuid.New().String()
	}
	if member.Role == "" {
		member.Role = "member"
	}
	if member.CreatedAt.IsZero() {
		member.CreatedAt = time.Now().UTC()
	}
	for _, existing := range m.members {
		if existing.OrgID == member.OrgID && existing.UserID == member.UserID {
			return fmt.Errorf("user %s is already a member of org %s", member.UserID, member.OrgID)
		}
	}

	c := *member
	m.members[c.ID] = &c
	return nil
}

// GetMember retrieves a member scoped to its org.
func (m *MockStore) GetMember(ctx context.Context, orgID, memberID string) (*Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mem, ok := m.members[memberID]
	if !ok || mem.OrgID != orgID {
		return nil, ErrNotFound
	}
	c := *mem
	return &c, nil
}

// ListMembersByStatus returns the org's members in any of the given statuses.
func (m *MockStore) ListMembersByStatus(ctx context.Context, orgID string, statuses ...GatewayStatus) ([]*Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Member
	for _, mem := range m.members {
		if mem.OrgID != orgID {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, mem.Gateway.Status) {
			continue
		}
		c := *mem
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func containsStatus(statuses []GatewayStatus, s GatewayStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func (m *MockStore) updateGateway(memberID string, fn func(*Gateway)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.members[memberID]
	if !ok {
		return ErrNotFound
	}
	fn(&mem.Gateway)
	return nil
}

// SetGateway writes all four gateway fields.
func (m *MockStore) SetGateway(ctx context.Context, memberID string, gw Gateway) error {
	if !gw.Status.Valid() {
		return fmt.Errorf("invalid gateway status %q", gw.Status)
	}
	return m.updateGateway(memberID, func(g *Gateway) { *g = gw })
}

// SetGatewayStatus updates only the status.
func (m *MockStore) SetGatewayStatus(ctx context.Context, memberID string, status GatewayStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid gateway status %q", status)
	}
	return m.updateGateway(memberID, func(g *Gateway) { g.Status = status })
}

// SetGatewayPort updates only the port.
func (m *MockStore) SetGatewayPort(ctx context.Context, memberID string, port int) error {
	return m.updateGateway(memberID, func(g *Gateway) { g.Port = port })
}

// ClearGateway resets the gateway record.
func (m *MockStore) ClearGateway(ctx context.Context, memberID string) error {
	return m.updateGateway(memberID, func(g *Gateway) { *g = Gateway{} })
}

// ListRoutes returns members with both subdomain and port, ordered by subdomain.
func (m *MockStore) ListRoutes(ctx context.Context) ([]Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var routes []Route
	for _, mem := range m.members {
		if mem.Gateway.Subdomain == "" || mem.Gateway.Port == 0 {
			continue
		}
		routes = append(routes, Route{MemberID: mem.ID, Subdomain: mem.Gateway.Subdomain, Port: mem.Gateway.Port})
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].Subdomain < routes[j].Subdomain })
	return routes, nil
}

// PutCredential replaces the org's credential for the same provider.
func (m *MockStore) PutCredential(ctx context.Context, cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	if cred.Kind == "" {
		cred.Kind = CredentialAPIKey
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}

	kept := m.credentials[cred.OrgID][:0:0]
	for _, c := range m.credentials[cred.OrgID] {
		if c.Provider != cred.Provider {
			kept = append(kept, c)
		}
	}
	c := *cred
	m.credentials[cred.OrgID] = append(kept, &c)
	return nil
}

// ListCredentials returns the org's credentials in insertion order.
func (m *MockStore) ListCredentials(ctx context.Context, orgID string) ([]*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Credential, 0, len(m.credentials[orgID]))
	for _, c := range m.credentials[orgID] {
		cc := *c
		result = append(result, &cc)
	}
	return result, nil
}

// DeleteCredential removes a credential by ID.
func (m *MockStore) DeleteCredential(ctx context.Context, orgID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	creds := m.credentials[orgID]
	for i, c := range creds {
		if c.ID == id {
			m.credentials[orgID] = append(creds[:i:i], creds[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// SetModelOverride pins or clears a provider model for the org.
func (m *MockStore) SetModelOverride(ctx context.Context, orgID, provider, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if model == "" {
		delete(m.overrides[orgID], provider)
		return nil
	}
	if m.overrides[orgID] == nil {
		m.overrides[orgID] = make(map[string]string)
	}
	m.overrides[orgID][provider] = model
	return nil
}

// GetModelOverrides returns provider -> model for the org.
func (m *MockStore) GetModelOverrides(ctx context.Context, orgID string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]string, len(m.overrides[orgID]))
	for k, v := range m.overrides[orgID] {
		result[k] = v
	}
	return result, nil
}

// CreateSkill registers a skill.
func (m *MockStore) CreateSkill(ctx context.Context, skill *Skill) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if skill.ID == "" {
		skill.ID = uuid.New().String()
	}
	if skill.Type == "" {
		skill.Type = SkillOptional
	}
	if skill.CreatedAt.IsZero() {
		skill.CreatedAt = time.Now().UTC()
	}
	c := *skill
	m.skills[c.ID] = &c
	return nil
}

// SetUserSkill enables or disables a skill for a user.
func (m *MockStore) SetUserSkill(ctx context.Context, userID, skillID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.userSkills[userID] == nil {
		m.userSkills[userID] = make(map[string]bool)
	}
	m.userSkills[userID][skillID] = enabled
	return nil
}

// ListAssignedSkills returns enabled user skills plus enabled mandatory org skills.
func (m *MockStore) ListAssignedSkills(ctx context.Context, orgID, userID string) ([]*Skill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Skill
	for _, sk := range m.skills {
		if sk.OrgID != orgID || !sk.Enabled {
			continue
		}
		if sk.Type == SkillMandatory || m.userSkills[userID][sk.ID] {
			c := *sk
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// SetChannelToken stores a member's channel token.
func (m *MockStore) SetChannelToken(ctx context.Context, memberID, channel, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.members[memberID]; !ok {
		return ErrNotFound
	}
	if m.channels[memberID] == nil {
		m.channels[memberID] = make(map[string]string)
	}
	m.channels[memberID][channel] = token
	return nil
}

// DeleteChannelToken removes a member's channel token.
func (m *MockStore) DeleteChannelToken(ctx context.Context, memberID, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.channels[memberID], channel)
	return nil
}

// GetChannelTokens returns channel -> token for a member.
func (m *MockStore) GetChannelTokens(ctx context.Context, memberID string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]string, len(m.channels[memberID]))
	for k, v := range m.channels[memberID] {
		result[k] = v
	}
	return result, nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store.
var _ Store = (*MockStore)(nil)
