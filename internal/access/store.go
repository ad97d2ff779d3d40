package access

import "context"

// Store describes persistence operations required by the access subsystem.
type Store interface {
	Directory() DirectoryStore
	Privileges() PrivilegeStore
	Grants() GrantStore
	Aliases() AliasStore
}

// DirectoryStore manages organizations, people and group membership.
type DirectoryStore interface {
	CreateOrganization(ctx context.Context, org *Organization) error
	CreatePerson(ctx context.Context, p *Person) error
	FindPerson(ctx context.Context, id string) (*Person, error)
	CreateGroup(ctx context.Context, g *Group) error
	AddMember(ctx context.Context, userID, groupID string) error
	GroupsForUser(ctx context.Context, userID string) ([]Group, error)
}

// PrivilegeStore manages the privilege catalog and its group bindings.
type PrivilegeStore interface {
	Create(ctx context.Context, p *Privilege) error
	Find(ctx context.Context, id string) (*Privilege, error)
	FindBySlug(ctx context.Context, slug string) (*Privilege, error)
	BindGroup(ctx context.Context, gp *GroupPrivilege) error
	// Potential lists privileges bound to any group of userID that personID
	// holds no grant record for, ordered by title.
	Potential(ctx context.Context, personID, userID string, filter PotentialFilter) ([]Privilege, error)
	SaveSlackAccess(ctx context.Context, sa *SlackAccess) error
	SlackAccessFor(ctx context.Context, privilegeID string) (*SlackAccess, error)
}

// GrantStore manages GrantedPrivilege records.
type GrantStore interface {
	// GetOrCreate returns the record for (privilegeID, personID), inserting
	// one in state initial when none exists. Concurrent callers observe a
	// single row.
	GetOrCreate(ctx context.Context, privilegeID, personID string, initial State) (*GrantedPrivilege, bool, error)
	// FindInState returns ErrRecordNotFound unless the record exists in state.
	FindInState(ctx context.Context, privilegeID, personID string, state State) (*GrantedPrivilege, error)
	// Transition moves the record from one state to another and reports
	// whether this call performed the change.
	Transition(ctx context.Context, id string, from, to State) (bool, error)
	ListForPerson(ctx context.Context, personID string) ([]GrantedPrivilege, error)
}

// AliasStore manages email alias domains, types, group grants and aliases.
type AliasStore interface {
	CreateDomain(ctx context.Context, d *EmailAliasDomain) error
	FindDomain(ctx context.Context, id string) (*EmailAliasDomain, error)
	CreateType(ctx context.Context, t *EmailAliasType) error
	FindType(ctx context.Context, id string) (*EmailAliasType, error)
	CreateGroupGrant(ctx context.Context, g *GroupEmailAliasGrant) error
	GroupGrantsForUser(ctx context.Context, userID string) ([]GroupEmailAliasGrant, error)
	// Save inserts the alias when ID is empty and updates it otherwise.
	// A (domain, account name) collision yields ErrConflict.
	Save(ctx context.Context, a *EmailAlias) error
	Find(ctx context.Context, id string) (*EmailAlias, error)
	ListForPerson(ctx context.Context, personID string) ([]EmailAlias, error)
}

// Enqueuer hands grant jobs to an asynchronous executor.
type Enqueuer interface {
	EnqueueGrant(ctx context.Context, job GrantJob) error
}

// Publisher delivers events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, key string, value any) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) error { return nil }
