package transport

import (
	"errors"

	"github.com/musius/collaboration/pkg/docsync/types"
)

// namedErrors are the error kinds spec.md §6/§7 requires to cross the wire
// by name rather than collapsing into a generic transport failure.
var namedErrors = map[string]error{
	types.ErrNoTextAvailable.Error():     types.ErrNoTextAvailable,
	types.ErrPatchNotApplicable.Error():  types.ErrPatchNotApplicable,
	types.ErrEncodingUnsupported.Error(): types.ErrEncodingUnsupported,
	types.ErrCommandUnknown.Error():      types.ErrCommandUnknown,
}

// namedError returns the sentinel this error should be wrapped as on the
// wire, or its own message when it isn't one of the named kinds.
func namedError(err error) string {
	if err == nil {
		return ""
	}
	for name, sentinel := range namedErrors {
		if errors.Is(err, sentinel) {
			return name
		}
	}
	return err.Error()
}

// mapNamedError turns a wire error string back into the matching sentinel,
// falling back to ErrUnknownCoordinatorError per spec.md §7.
func mapNamedError(msg string) error {
	if sentinel, ok := namedErrors[msg]; ok {
		return sentinel
	}
	return types.ErrUnknownCoordinatorError
}
