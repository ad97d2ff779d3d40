package access

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("access: not found")
	ErrRecordNotFound = errors.New("access: grant record not found in expected state")
	ErrConflict       = errors.New("access: conflict")
	ErrInvalidInput   = errors.New("access: invalid input")
	ErrNoUser         = errors.New("access: person has no user account")
	ErrResolution     = errors.New("access: cannot resolve code")
)

// ResolutionError reports a code key that the registry cannot resolve.
type ResolutionError struct {
	Kind string // "grant" or "account name"
	Key  string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("access: cannot resolve %s code %q", e.Kind, e.Key)
}

func (e *ResolutionError) Is(target error) bool { return target == ErrResolution }
