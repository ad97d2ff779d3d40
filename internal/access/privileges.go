package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"kompassi.org/internal/audit"
	"kompassi.org/internal/obs"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Engine decides eligibility for privileges, records grant requests and runs
// the configured grant actions.
type Engine struct {
	store    Store
	registry *Registry
	queue    Enqueuer
	events   Publisher
	logger   *slog.Logger
	now      func() time.Time
}

// EngineOption configures Engine behavior.
type EngineOption func(*Engine)

// WithQueue switches the engine to deferred dispatch: approved grants are
// enqueued instead of executed in the caller's flow.
func WithQueue(q Enqueuer) EngineOption {
	return func(e *Engine) { e.queue = q }
}

// WithPublisher sets where grant events are delivered.
func WithPublisher(p Publisher) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.events = p
		}
	}
}

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewEngine constructs an Engine. Dispatch is inline unless WithQueue is given.
func NewEngine(store Store, registry *Registry, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, errors.New("access: store is required")
	}
	if registry == nil {
		return nil, errors.New("access: registry is required")
	}
	e := &Engine{
		store:    store,
		registry: registry,
		events:   nopPublisher{},
		logger:   obs.Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Deferred reports whether grants are handed to a queue.
func (e *Engine) Deferred() bool { return e.queue != nil }

// CreatePrivilege validates and stores a new privilege. The grant code must
// resolve at save time so bad configuration never reaches Execute.
func (e *Engine) CreatePrivilege(ctx context.Context, p *Privilege) error {
	p.Slug = strings.TrimSpace(p.Slug)
	p.Title = strings.TrimSpace(p.Title)
	if !slugPattern.MatchString(p.Slug) {
		return fmt.Errorf("%w: malformed slug %q", ErrInvalidInput, p.Slug)
	}
	if p.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if _, err := e.registry.ResolveGrant(p.GrantCode); err != nil {
		return err
	}
	return e.store.Privileges().Create(ctx, p)
}

// BindGroup makes members of groupID eligible for privilegeID.
func (e *Engine) BindGroup(ctx context.Context, privilegeID, groupID, eventID string) (*GroupPrivilege, error) {
	if privilegeID == "" || groupID == "" {
		return nil, fmt.Errorf("%w: privilege and group are required", ErrInvalidInput)
	}
	gp := &GroupPrivilege{PrivilegeID: privilegeID, GroupID: groupID, EventID: eventID}
	if err := e.store.Privileges().BindGroup(ctx, gp); err != nil {
		return nil, err
	}
	return gp, nil
}

// Grant requests privilege for person. A new record starts out approved.
// Records in any state other than approved make this a no-op: the grant is
// either done, rejected or still awaiting approval.
func (e *Engine) Grant(ctx context.Context, privilege Privilege, person Person) error {
	gp, created, err := e.store.Grants().GetOrCreate(ctx, privilege.ID, person.ID, StateApproved)
	if err != nil {
		return fmt.Errorf("record grant of %s: %w", privilege.Slug, err)
	}
	if gp.State != StateApproved {
		obs.ObserveGrant(privilege.Slug, "skipped")
		e.logger.Debug("grant not approved, skipping",
			"privilege", privilege.Slug,
			"person_id", person.ID,
			"state", string(gp.State),
		)
		return nil
	}

	if e.queue != nil {
		job := GrantJob{PrivilegeID: privilege.ID, PersonID: person.ID}
		if err := e.queue.EnqueueGrant(ctx, job); err != nil {
			obs.ObserveGrant(privilege.Slug, "failed")
			return fmt.Errorf("enqueue grant of %s: %w", privilege.Slug, err)
		}
		obs.ObserveGrant(privilege.Slug, "deferred")
		e.logger.Info("grant deferred",
			"privilege", privilege.Slug,
			"person_id", person.ID,
			"created", created,
		)
		return nil
	}
	return e.execute(ctx, privilege, person)
}

// Execute runs the grant action for a record that is approved and advances
// it to granted. It is the entry point for queue workers.
//
// The approved check and the final update are not one transaction, so two
// executors may both run the action; the conditional update makes only one
// of them advance the record.
func (e *Engine) Execute(ctx context.Context, privilegeID, personID string) error {
	privilege, err := e.store.Privileges().Find(ctx, privilegeID)
	if err != nil {
		return fmt.Errorf("load privilege %s: %w", privilegeID, err)
	}
	person, err := e.store.Directory().FindPerson(ctx, personID)
	if err != nil {
		return fmt.Errorf("load person %s: %w", personID, err)
	}
	return e.execute(ctx, *privilege, *person)
}

func (e *Engine) execute(ctx context.Context, privilege Privilege, person Person) error {
	grants := e.store.Grants()
	gp, err := grants.FindInState(ctx, privilege.ID, person.ID, StateApproved)
	if err != nil {
		return err
	}

	fn, err := e.registry.ResolveGrant(privilege.GrantCode)
	if err != nil {
		obs.ObserveGrant(privilege.Slug, "failed")
		return err
	}

	start := e.now()
	if err := fn(ctx, privilege, person); err != nil {
		obs.ObserveGrant(privilege.Slug, "failed")
		return fmt.Errorf("grant %s to %s: %w", privilege.Slug, person.ID, err)
	}
	obs.ObserveGrantDuration(privilege.Slug, e.now().Sub(start))

	advanced, err := grants.Transition(ctx, gp.ID, StateApproved, StateGranted)
	if err != nil {
		return fmt.Errorf("mark %s granted: %w", privilege.Slug, err)
	}
	if !advanced {
		e.logger.Warn("grant already advanced by another executor",
			"privilege", privilege.Slug,
			"person_id", person.ID,
		)
		return nil
	}
	obs.ObserveGrant(privilege.Slug, "granted")

	_ = audit.LogEvent(ctx, "access.privilege.granted", map[string]any{
		"privilege": privilege.Slug,
		"person_id": person.ID,
	})
	e.publish(ctx, Event{
		Type:          EventPrivilegeGranted,
		PersonID:      person.ID,
		PrivilegeSlug: privilege.Slug,
		State:         StateGranted,
	})
	return nil
}

// SetState performs an administrative transition, e.g. approving a pending
// request or rejecting it. Transitions that would move backwards fail.
func (e *Engine) SetState(ctx context.Context, privilegeID, personID string, to State) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidInput, to)
	}
	gp, _, err := e.store.Grants().GetOrCreate(ctx, privilegeID, personID, StatePending)
	if err != nil {
		return err
	}
	if gp.State == to {
		return nil
	}
	if !gp.State.CanTransition(to) {
		return fmt.Errorf("%w: cannot move grant from %s to %s", ErrInvalidInput, gp.State, to)
	}
	ok, err := e.store.Grants().Transition(ctx, gp.ID, gp.State, to)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRecordNotFound
	}
	return nil
}

// PotentialPrivileges lists privileges the person could request through
// their groups and holds no grant record for, in any state.
func (e *Engine) PotentialPrivileges(ctx context.Context, person Person, filter PotentialFilter) ([]Privilege, error) {
	if !person.HasUser() {
		return nil, ErrNoUser
	}
	return e.store.Privileges().Potential(ctx, person.ID, person.UserID, filter)
}

// GrantedPrivileges lists all grant records of person.
func (e *Engine) GrantedPrivileges(ctx context.Context, person Person) ([]GrantedPrivilege, error) {
	return e.store.Grants().ListForPerson(ctx, person.ID)
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	ev.ID = uuid.NewString()
	ev.OccurredAt = e.now().UTC()
	if err := e.events.Publish(ctx, ev.PersonID, ev); err != nil {
		e.logger.Warn("publish event failed", "type", ev.Type, "error", err)
	}
}
