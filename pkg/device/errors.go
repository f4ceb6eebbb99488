package device

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable covers transport failures and non-2xx answers on the read path.
	ErrUnreachable = errors.New("device not reachable")

	// ErrParse is returned for a malformed /data body; it also matches ErrUnreachable.
	ErrParse = errors.New("malformed sensor payload")

	// ErrCommandFailed covers every failure of start/stop/pump.
	ErrCommandFailed = errors.New("device command failed")
)

// StatusError carries the HTTP status of a non-2xx device answer
type StatusError struct {
	Op     string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: device answered HTTP %d", e.Op, e.Status)
}
