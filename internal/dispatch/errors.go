package dispatch

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/safewatch/pkg/api"
)

// ErrNoContacts is returned by SendEmergencyAlert when no active contact is
// configured. No request is made.
var ErrNoContacts = eris.New("dispatch: no emergency contacts configured")

// Error is a failed dispatch. It is never retried automatically.
type Error struct {
	Op   string
	Kind api.Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("dispatch: %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func failure(op string, err error) *Error {
	return &Error{Op: op, Kind: api.KindOf(err), Err: err}
}
