package access

import (
	"context"
	"sort"
	"sync"
	"time"

	"kompassi.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. It enforces
// the same uniqueness rules as the Postgres schema.
type InMemory struct {
	mu sync.RWMutex

	orgs        map[string]Organization
	people      map[string]Person
	groups      map[string]Group
	members     map[string]map[string]struct{} // user id -> group ids
	privileges  map[string]Privilege
	bindings    []GroupPrivilege
	grants      map[grantKey]*GrantedPrivilege
	slack       map[string]SlackAccess // privilege id -> access
	domains     map[string]EmailAliasDomain
	types       map[string]EmailAliasType
	groupGrants []GroupEmailAliasGrant
	aliases     map[string]EmailAlias
}

type grantKey struct{ privilegeID, personID string }

var _ Store = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{
		orgs:       make(map[string]Organization),
		people:     make(map[string]Person),
		groups:     make(map[string]Group),
		members:    make(map[string]map[string]struct{}),
		privileges: make(map[string]Privilege),
		grants:     make(map[grantKey]*GrantedPrivilege),
		slack:      make(map[string]SlackAccess),
		domains:    make(map[string]EmailAliasDomain),
		types:      make(map[string]EmailAliasType),
		aliases:    make(map[string]EmailAlias),
	}
}

func (m *InMemory) Directory() DirectoryStore  { return memDirectory{m} }
func (m *InMemory) Privileges() PrivilegeStore { return memPrivileges{m} }
func (m *InMemory) Grants() GrantStore         { return memGrants{m} }
func (m *InMemory) Aliases() AliasStore        { return memAliases{m} }

// Directory ---------------------------------------------------------------
type memDirectory struct{ m *InMemory }

func (s memDirectory) CreateOrganization(ctx context.Context, org *Organization) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, o := range s.m.orgs {
		if o.Slug == org.Slug {
			return ErrConflict
		}
	}
	if org.ID == "" {
		org.ID = ids.New()
	}
	org.CreatedAt = time.Now().UTC()
	s.m.orgs[org.ID] = *org
	return nil
}

func (s memDirectory) CreatePerson(ctx context.Context, p *Person) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if p.ID == "" {
		p.ID = ids.New()
	}
	if _, dup := s.m.people[p.ID]; dup {
		return ErrConflict
	}
	s.m.people[p.ID] = *p
	return nil
}

func (s memDirectory) FindPerson(ctx context.Context, id string) (*Person, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	p, ok := s.m.people[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s memDirectory) CreateGroup(ctx context.Context, g *Group) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, existing := range s.m.groups {
		if existing.Name == g.Name {
			return ErrConflict
		}
	}
	if g.ID == "" {
		g.ID = ids.New()
	}
	s.m.groups[g.ID] = *g
	return nil
}

func (s memDirectory) AddMember(ctx context.Context, userID, groupID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.groups[groupID]; !ok {
		return ErrNotFound
	}
	set, ok := s.m.members[userID]
	if !ok {
		set = make(map[string]struct{})
		s.m.members[userID] = set
	}
	set[groupID] = struct{}{}
	return nil
}

func (s memDirectory) GroupsForUser(ctx context.Context, userID string) ([]Group, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var res []Group
	for gid := range s.m.members[userID] {
		res = append(res, s.m.groups[gid])
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

// Privileges --------------------------------------------------------------
type memPrivileges struct{ m *InMemory }

func (s memPrivileges) Create(ctx context.Context, p *Privilege) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, existing := range s.m.privileges {
		if existing.Slug == p.Slug {
			return ErrConflict
		}
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	p.CreatedAt = time.Now().UTC()
	s.m.privileges[p.ID] = *p
	return nil
}

func (s memPrivileges) Find(ctx context.Context, id string) (*Privilege, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	p, ok := s.m.privileges[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s memPrivileges) FindBySlug(ctx context.Context, slug string) (*Privilege, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	for _, p := range s.m.privileges {
		if p.Slug == slug {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (s memPrivileges) BindGroup(ctx context.Context, gp *GroupPrivilege) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.privileges[gp.PrivilegeID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.m.groups[gp.GroupID]; !ok {
		return ErrNotFound
	}
	for _, b := range s.m.bindings {
		if b.PrivilegeID == gp.PrivilegeID && b.GroupID == gp.GroupID {
			return ErrConflict
		}
	}
	if gp.ID == "" {
		gp.ID = ids.New()
	}
	s.m.bindings = append(s.m.bindings, *gp)
	return nil
}

func (s memPrivileges) Potential(ctx context.Context, personID, userID string, filter PotentialFilter) ([]Privilege, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	groups := s.m.members[userID]
	seen := make(map[string]struct{})
	var res []Privilege
	for _, b := range s.m.bindings {
		if _, member := groups[b.GroupID]; !member {
			continue
		}
		if filter.EventID != "" && b.EventID != filter.EventID {
			continue
		}
		if _, held := s.m.grants[grantKey{b.PrivilegeID, personID}]; held {
			continue
		}
		if _, dup := seen[b.PrivilegeID]; dup {
			continue
		}
		seen[b.PrivilegeID] = struct{}{}
		res = append(res, s.m.privileges[b.PrivilegeID])
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Title < res[j].Title })
	return res, nil
}

func (s memPrivileges) SaveSlackAccess(ctx context.Context, sa *SlackAccess) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.privileges[sa.PrivilegeID]; !ok {
		return ErrNotFound
	}
	if existing, ok := s.m.slack[sa.PrivilegeID]; ok {
		sa.ID = existing.ID
	} else if sa.ID == "" {
		sa.ID = ids.New()
	}
	if sa.APIToken == "" {
		sa.APIToken = SlackTestToken
	}
	s.m.slack[sa.PrivilegeID] = *sa
	return nil
}

func (s memPrivileges) SlackAccessFor(ctx context.Context, privilegeID string) (*SlackAccess, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	sa, ok := s.m.slack[privilegeID]
	if !ok {
		return nil, ErrNotFound
	}
	return &sa, nil
}

// Grants ------------------------------------------------------------------
type memGrants struct{ m *InMemory }

func (s memGrants) GetOrCreate(ctx context.Context, privilegeID, personID string, initial State) (*GrantedPrivilege, bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	key := grantKey{privilegeID, personID}
	if gp, ok := s.m.grants[key]; ok {
		out := *gp
		return &out, false, nil
	}
	if _, ok := s.m.privileges[privilegeID]; !ok {
		return nil, false, ErrNotFound
	}
	if _, ok := s.m.people[personID]; !ok {
		return nil, false, ErrNotFound
	}
	gp := &GrantedPrivilege{
		ID:          ids.New(),
		PrivilegeID: privilegeID,
		PersonID:    personID,
		State:       initial,
		GrantedAt:   time.Now().UTC(),
	}
	s.m.grants[key] = gp
	out := *gp
	return &out, true, nil
}

func (s memGrants) FindInState(ctx context.Context, privilegeID, personID string, state State) (*GrantedPrivilege, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	gp, ok := s.m.grants[grantKey{privilegeID, personID}]
	if !ok || gp.State != state {
		return nil, ErrRecordNotFound
	}
	out := *gp
	return &out, nil
}

func (s memGrants) Transition(ctx context.Context, id string, from, to State) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, gp := range s.m.grants {
		if gp.ID != id {
			continue
		}
		if gp.State != from {
			return false, nil
		}
		gp.State = to
		return true, nil
	}
	return false, nil
}

func (s memGrants) ListForPerson(ctx context.Context, personID string) ([]GrantedPrivilege, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var res []GrantedPrivilege
	for key, gp := range s.m.grants {
		if key.personID == personID {
			res = append(res, *gp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// Aliases -----------------------------------------------------------------
type memAliases struct{ m *InMemory }

func (s memAliases) CreateDomain(ctx context.Context, d *EmailAliasDomain) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.orgs[d.OrganizationID]; !ok {
		return ErrNotFound
	}
	for _, existing := range s.m.domains {
		if existing.DomainName == d.DomainName {
			return ErrConflict
		}
	}
	if d.ID == "" {
		d.ID = ids.New()
	}
	s.m.domains[d.ID] = *d
	return nil
}

func (s memAliases) FindDomain(ctx context.Context, id string) (*EmailAliasDomain, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	d, ok := s.m.domains[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (s memAliases) CreateType(ctx context.Context, t *EmailAliasType) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.domains[t.DomainID]; !ok {
		return ErrNotFound
	}
	if t.ID == "" {
		t.ID = ids.New()
	}
	s.m.types[t.ID] = *t
	return nil
}

func (s memAliases) FindType(ctx context.Context, id string) (*EmailAliasType, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	t, ok := s.m.types[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (s memAliases) CreateGroupGrant(ctx context.Context, g *GroupEmailAliasGrant) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.groups[g.GroupID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.m.types[g.TypeID]; !ok {
		return ErrNotFound
	}
	if g.ID == "" {
		g.ID = ids.New()
	}
	s.m.groupGrants = append(s.m.groupGrants, *g)
	return nil
}

func (s memAliases) GroupGrantsForUser(ctx context.Context, userID string) ([]GroupEmailAliasGrant, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	groups := s.m.members[userID]
	var res []GroupEmailAliasGrant
	for _, g := range s.m.groupGrants {
		if _, ok := groups[g.GroupID]; ok {
			res = append(res, g)
		}
	}
	return res, nil
}

func (s memAliases) Save(ctx context.Context, a *EmailAlias) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for id, existing := range s.m.aliases {
		if id != a.ID && existing.DomainID == a.DomainID && existing.AccountName == a.AccountName {
			return ErrConflict
		}
	}
	if a.ID == "" {
		a.ID = ids.New()
		a.CreatedAt = time.Now().UTC()
	} else if _, ok := s.m.aliases[a.ID]; !ok {
		return ErrNotFound
	}
	s.m.aliases[a.ID] = *a
	return nil
}

func (s memAliases) Find(ctx context.Context, id string) (*EmailAlias, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	a, ok := s.m.aliases[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s memAliases) ListForPerson(ctx context.Context, personID string) ([]EmailAlias, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var res []EmailAlias
	for _, a := range s.m.aliases {
		if a.PersonID == personID {
			res = append(res, a)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}
