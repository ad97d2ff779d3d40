package access

import (
	"strings"
	"time"
)

// State is the lifecycle state of a GrantedPrivilege.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateGranted  State = "granted"
	StateRejected State = "rejected"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateApproved, StateGranted, StateRejected:
		return true
	}
	return false
}

// CanTransition reports whether a grant record may move from s to next.
// Granted and rejected are terminal; there is no un-granting.
func (s State) CanTransition(next State) bool {
	switch s {
	case StatePending:
		return next == StateApproved || next == StateRejected
	case StateApproved:
		return next == StateGranted || next == StateRejected
	}
	return false
}

const (
	// SlackTestToken is the sentinel API token that disables real Slack calls.
	SlackTestToken = "test"

	DefaultMetavar         = "firstname.surname"
	DefaultAccountNameCode = "access.email_aliases:firstname_surname"
)

// Organization owns email alias domains.
type Organization struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Person is someone who can be granted privileges and email aliases.
// UserID is empty for people without a login; group membership hangs off
// the user, not the person.
type Person struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	Surname   string `json:"surname"`
	Nick      string `json:"nick,omitempty"`
	Email     string `json:"email"`
	UserID    string `json:"user_id,omitempty"`
}

// HasUser reports whether the person has an associated user identity.
func (p Person) HasUser() bool { return p.UserID != "" }

// FullName returns "First Surname".
func (p Person) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.Surname)
}

// NameAndEmail returns "First Surname <email>".
func (p Person) NameAndEmail() string {
	return p.FullName() + " <" + p.Email + ">"
}

type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Privilege is a named grantable capability. GrantCode names the registry
// entry that performs the grant.
type Privilege struct {
	ID                    string    `json:"id"`
	Slug                  string    `json:"slug"`
	Title                 string    `json:"title"`
	Description           string    `json:"description,omitempty"`
	RequestSuccessMessage string    `json:"request_success_message,omitempty"`
	GrantCode             string    `json:"grant_code"`
	CreatedAt             time.Time `json:"created_at"`
}

// GroupPrivilege makes members of a group eligible for a privilege,
// optionally scoped to an event.
type GroupPrivilege struct {
	ID          string `json:"id"`
	PrivilegeID string `json:"privilege_id"`
	GroupID     string `json:"group_id"`
	EventID     string `json:"event_id,omitempty"`
}

// GrantedPrivilege records one person's request or grant for one privilege.
type GrantedPrivilege struct {
	ID          string    `json:"id"`
	PrivilegeID string    `json:"privilege_id"`
	PersonID    string    `json:"person_id"`
	State       State     `json:"state"`
	GrantedAt   time.Time `json:"granted_at"`
}

// SlackAccess configures the Slack workspace a privilege invites people to.
type SlackAccess struct {
	ID          string `json:"id"`
	PrivilegeID string `json:"privilege_id"`
	TeamName    string `json:"team_name"`
	APIToken    string `json:"-"`
}

// TestMode reports whether invitations are only logged.
func (a SlackAccess) TestMode() bool { return a.APIToken == SlackTestToken }

type EmailAliasDomain struct {
	ID             string `json:"id"`
	DomainName     string `json:"domain_name"`
	OrganizationID string `json:"organization_id"`
}

// EmailAliasType is a naming policy within a domain. Metavar is the human
// readable template; AccountNameCode names the registry function that
// computes the account name.
type EmailAliasType struct {
	ID              string `json:"id"`
	DomainID        string `json:"domain_id"`
	Metavar         string `json:"metavar"`
	AccountNameCode string `json:"account_name_code"`
}

// GroupEmailAliasGrant entitles members of a group to aliases of a type.
type GroupEmailAliasGrant struct {
	ID          string     `json:"id"`
	GroupID     string     `json:"group_id"`
	TypeID      string     `json:"type_id"`
	ActiveUntil *time.Time `json:"active_until,omitempty"`
}

// ActiveAt reports whether the grant still issues aliases at t.
func (g GroupEmailAliasGrant) ActiveAt(t time.Time) bool {
	return g.ActiveUntil == nil || t.Before(*g.ActiveUntil)
}

// EmailAlias is one issued address. EmailAddress and DomainID are derived
// from TypeID and AccountName by Synchronize and are never authoritative.
type EmailAlias struct {
	ID           string    `json:"id"`
	TypeID       string    `json:"type_id"`
	PersonID     string    `json:"person_id"`
	AccountName  string    `json:"account_name"`
	EmailAddress string    `json:"email_address"`
	DomainID     string    `json:"domain_id"`
	GroupGrantID string    `json:"group_grant_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// PotentialFilter narrows PotentialPrivileges. An empty EventID matches all
// bindings.
type PotentialFilter struct {
	EventID string
}

// GrantJob is the unit of deferred work. It carries identifiers only since
// it may run in another process.
type GrantJob struct {
	PrivilegeID string `json:"privilege_id"`
	PersonID    string `json:"person_id"`
}

// Event is published when a grant or alias changes.
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	OccurredAt    time.Time `json:"occurred_at"`
	PersonID      string    `json:"person_id"`
	PrivilegeSlug string    `json:"privilege_slug,omitempty"`
	State         State     `json:"state,omitempty"`
	EmailAddress  string    `json:"email_address,omitempty"`
}

const (
	EventPrivilegeGranted = "privilege.granted"
	EventEmailAliasSaved  = "email_alias.saved"
)
