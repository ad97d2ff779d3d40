package access

import (
	"context"
	"errors"
	"testing"
)

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry()
	if _, err := r.ResolveGrant(NoopGrantCode); err != nil {
		t.Fatalf("noop grant missing: %v", err)
	}
	fn, err := r.ResolveAccountName(DefaultAccountNameCode)
	if err != nil {
		t.Fatalf("default naming missing: %v", err)
	}
	if got := fn(Person{FirstName: "Santtu", Surname: "Pajukanta"}); got != "santtu.pajukanta" {
		t.Fatalf("unexpected account name %q", got)
	}
}

func TestRegistryUnknownKey(t *testing.T) {
	r := NewRegistry()
	_, err := r.ResolveGrant("access.privileges:missing")
	var rerr *ResolutionError
	if !errors.As(err, &rerr) || rerr.Kind != "grant" {
		t.Fatalf("expected grant ResolutionError, got %v", err)
	}
	if _, err := r.ResolveAccountName("nope:nope"); !errors.Is(err, ErrResolution) {
		t.Fatalf("expected ErrResolution, got %v", err)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate key")
		}
	}()
	r.RegisterGrant(NoopGrantCode, func(context.Context, Privilege, Person) error { return nil })
}

func TestRegistryRejectsMalformedKey(t *testing.T) {
	for _, key := range []string{"", "nocolon", ":name", "ns:"} {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic for key %q", key)
				}
			}()
			NewRegistry().RegisterAccountName(key, Nick)
		}()
	}
}

func TestGrantCodesSorted(t *testing.T) {
	r := NewRegistry()
	r.RegisterGrant("access.slack:invite", func(context.Context, Privilege, Person) error { return nil })
	codes := r.GrantCodes()
	if len(codes) != 2 || codes[0] != NoopGrantCode || codes[1] != "access.slack:invite" {
		t.Fatalf("unexpected codes %v", codes)
	}
}
