package session

import "github.com/pkg/errors"

var (
	errNotConnected   = errors.New("session: not connected to relay")
	errConnectTimeout = errors.New("session: peer connection timed out")
)

// errRelay wraps a relay-reported error string as an error value.
type errRelay string

func (e errRelay) Error() string { return "session: relay error: " + string(e) }
