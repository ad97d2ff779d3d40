package access

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// GrantFunc performs the side effect of granting privilege to person.
// It may run more than once for the same pair and must be idempotent.
type GrantFunc func(ctx context.Context, privilege Privilege, person Person) error

// AccountNameFunc computes the mailbox name of person under a naming policy.
type AccountNameFunc func(person Person) string

const (
	NoopGrantCode            = "access.privileges:noop"
	FirstnameSurnameNameCode = DefaultAccountNameCode
	NickNameCode             = "access.email_aliases:nick"
)

// Registry maps configuration keys of the form "<namespace>:<name>" to grant
// and account name functions. It is populated at process start.
type Registry struct {
	mu     sync.RWMutex
	grants map[string]GrantFunc
	names  map[string]AccountNameFunc
}

// NewRegistry returns a registry holding the built-in functions.
func NewRegistry() *Registry {
	r := &Registry{
		grants: make(map[string]GrantFunc),
		names:  make(map[string]AccountNameFunc),
	}
	r.RegisterGrant(NoopGrantCode, func(context.Context, Privilege, Person) error { return nil })
	r.RegisterAccountName(FirstnameSurnameNameCode, FirstnameSurname)
	r.RegisterAccountName(NickNameCode, Nick)
	return r
}

// RegisterGrant adds a grant function. It panics on a malformed or duplicate
// key since both are programming errors.
func (r *Registry) RegisterGrant(key string, fn GrantFunc) {
	mustKey(key)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.grants[key]; dup {
		panic(fmt.Sprintf("access: grant code %q registered twice", key))
	}
	r.grants[key] = fn
}

// RegisterAccountName adds an account name function. It panics on a
// malformed or duplicate key.
func (r *Registry) RegisterAccountName(key string, fn AccountNameFunc) {
	mustKey(key)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.names[key]; dup {
		panic(fmt.Sprintf("access: account name code %q registered twice", key))
	}
	r.names[key] = fn
}

func (r *Registry) ResolveGrant(key string) (GrantFunc, error) {
	r.mu.RLock()
	fn, ok := r.grants[key]
	r.mu.RUnlock()
	if !ok {
		return nil, &ResolutionError{Kind: "grant", Key: key}
	}
	return fn, nil
}

func (r *Registry) ResolveAccountName(key string) (AccountNameFunc, error) {
	r.mu.RLock()
	fn, ok := r.names[key]
	r.mu.RUnlock()
	if !ok {
		return nil, &ResolutionError{Kind: "account name", Key: key}
	}
	return fn, nil
}

// GrantCodes lists registered grant keys in sorted order.
func (r *Registry) GrantCodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.grants))
	for k := range r.grants {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func mustKey(key string) {
	ns, name, ok := strings.Cut(key, ":")
	if !ok || ns == "" || name == "" {
		panic(fmt.Sprintf("access: malformed code key %q", key))
	}
}
