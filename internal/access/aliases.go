package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kompassi.org/internal/audit"
	"kompassi.org/internal/obs"
)

// Provisioner issues email aliases and keeps their derived fields in sync.
type Provisioner struct {
	store    Store
	registry *Registry
	events   Publisher
	logger   *slog.Logger
	now      func() time.Time
}

// ProvisionerOption configures Provisioner behavior.
type ProvisionerOption func(*Provisioner)

func WithAliasPublisher(p Publisher) ProvisionerOption {
	return func(pr *Provisioner) {
		if p != nil {
			pr.events = p
		}
	}
}

func WithAliasLogger(l *slog.Logger) ProvisionerOption {
	return func(pr *Provisioner) {
		if l != nil {
			pr.logger = l
		}
	}
}

func WithAliasClock(fn func() time.Time) ProvisionerOption {
	return func(pr *Provisioner) {
		if fn != nil {
			pr.now = fn
		}
	}
}

func NewProvisioner(store Store, registry *Registry, opts ...ProvisionerOption) (*Provisioner, error) {
	if store == nil {
		return nil, errors.New("access: store is required")
	}
	if registry == nil {
		return nil, errors.New("access: registry is required")
	}
	p := &Provisioner{
		store:    store,
		registry: registry,
		events:   nopPublisher{},
		logger:   obs.Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// CreateType validates and stores a naming policy. An empty metavar or
// account name code falls back to the firstname.surname policy.
func (p *Provisioner) CreateType(ctx context.Context, t *EmailAliasType) error {
	if t.DomainID == "" {
		return fmt.Errorf("%w: domain is required", ErrInvalidInput)
	}
	if t.Metavar == "" {
		t.Metavar = DefaultMetavar
	}
	if t.AccountNameCode == "" {
		t.AccountNameCode = DefaultAccountNameCode
	}
	if _, err := p.registry.ResolveAccountName(t.AccountNameCode); err != nil {
		return err
	}
	return p.store.Aliases().CreateType(ctx, t)
}

// Synchronize recomputes the derived fields of alias from its type, person
// and account name. An account name that is already set is never replaced.
func (p *Provisioner) Synchronize(ctx context.Context, alias *EmailAlias) error {
	if alias.TypeID == "" {
		return nil
	}
	aliases := p.store.Aliases()
	typ, err := aliases.FindType(ctx, alias.TypeID)
	if err != nil {
		return fmt.Errorf("load alias type %s: %w", alias.TypeID, err)
	}
	domain, err := aliases.FindDomain(ctx, typ.DomainID)
	if err != nil {
		return fmt.Errorf("load alias domain %s: %w", typ.DomainID, err)
	}
	var person *Person
	if alias.PersonID != "" {
		if person, err = p.store.Directory().FindPerson(ctx, alias.PersonID); err != nil {
			return fmt.Errorf("load person %s: %w", alias.PersonID, err)
		}
	}
	return synchronize(alias, *typ, *domain, person, p.registry)
}

func synchronize(alias *EmailAlias, typ EmailAliasType, domain EmailAliasDomain, person *Person, registry *Registry) error {
	alias.DomainID = typ.DomainID

	if person != nil && alias.AccountName == "" {
		fn, err := registry.ResolveAccountName(typ.AccountNameCode)
		if err != nil {
			return err
		}
		alias.AccountName = fn(*person)
	}

	if alias.AccountName != "" {
		alias.EmailAddress = alias.AccountName + "@" + domain.DomainName
	}
	return nil
}

// Save synchronizes alias and writes it.
func (p *Provisioner) Save(ctx context.Context, alias *EmailAlias) error {
	if alias.TypeID == "" || alias.PersonID == "" {
		return fmt.Errorf("%w: alias type and person are required", ErrInvalidInput)
	}
	if err := p.Synchronize(ctx, alias); err != nil {
		return err
	}
	if alias.AccountName == "" {
		return fmt.Errorf("%w: no account name for person %s", ErrInvalidInput, alias.PersonID)
	}
	if err := p.store.Aliases().Save(ctx, alias); err != nil {
		outcome := "failed"
		if errors.Is(err, ErrConflict) {
			outcome = "conflict"
		}
		obs.ObserveAliasSave(outcome)
		return fmt.Errorf("save alias %s: %w", alias.EmailAddress, err)
	}
	obs.ObserveAliasSave("saved")

	_ = audit.LogEvent(ctx, "access.email_alias.saved", map[string]any{
		"email_address": alias.EmailAddress,
		"person_id":     alias.PersonID,
	})
	ev := Event{
		ID:           uuid.NewString(),
		Type:         EventEmailAliasSaved,
		OccurredAt:   p.now().UTC(),
		PersonID:     alias.PersonID,
		EmailAddress: alias.EmailAddress,
	}
	if err := p.events.Publish(ctx, alias.PersonID, ev); err != nil {
		p.logger.Warn("publish event failed", "type", ev.Type, "error", err)
	}
	return nil
}

// Create issues an alias of typeID to personID. An empty accountName is
// derived from the type's naming policy.
func (p *Provisioner) Create(ctx context.Context, typeID, personID, accountName string) (*EmailAlias, error) {
	alias := &EmailAlias{TypeID: typeID, PersonID: personID, AccountName: accountName}
	if err := p.Save(ctx, alias); err != nil {
		return nil, err
	}
	return alias, nil
}

// EnsureGroupAliases issues every alias the person is entitled to through
// group grants active at now and does not yet hold. Failures for one type
// do not stop the others; they are returned joined.
func (p *Provisioner) EnsureGroupAliases(ctx context.Context, person Person, now time.Time) ([]EmailAlias, error) {
	if !person.HasUser() {
		return nil, nil
	}
	aliases := p.store.Aliases()
	grants, err := aliases.GroupGrantsForUser(ctx, person.UserID)
	if err != nil {
		return nil, err
	}
	existing, err := aliases.ListForPerson(ctx, person.ID)
	if err != nil {
		return nil, err
	}
	held := make(map[string]struct{}, len(existing))
	for _, a := range existing {
		held[a.TypeID] = struct{}{}
	}

	var (
		created []EmailAlias
		errs    []error
	)
	for _, g := range grants {
		if !g.ActiveAt(now) {
			continue
		}
		if _, ok := held[g.TypeID]; ok {
			continue
		}
		alias := &EmailAlias{TypeID: g.TypeID, PersonID: person.ID, GroupGrantID: g.ID}
		if err := p.Save(ctx, alias); err != nil {
			errs = append(errs, err)
			continue
		}
		held[g.TypeID] = struct{}{}
		created = append(created, *alias)
	}
	return created, errors.Join(errs...)
}

// Aliases lists the aliases held by person.
func (p *Provisioner) Aliases(ctx context.Context, person Person) ([]EmailAlias, error) {
	return p.store.Aliases().ListForPerson(ctx, person.ID)
}
