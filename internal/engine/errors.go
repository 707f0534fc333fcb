package engine

import (
	"fmt"

	"github.com/fakeyudi/rewind/internal/session"
)

// StateError reports a session operation attempted in the wrong lifecycle
// phase (start while active, stop while idle). The requested transition is
// aborted and the session is left untouched.
type StateError struct {
	Op    string
	State session.State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s: session is %s", e.Op, e.State)
}
