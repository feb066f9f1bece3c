package exam

import (
	"github.com/pkg/errors"

	"github.com/mind-engage/mindengage-nmt/internal/session"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = session.ErrInvalidTransition
	ErrSessionNotActive  = errors.New("session is not active")
	ErrNotAllowed        = errors.New("student is not allowed in this session")
	ErrAttemptFinished   = errors.New("attempt already finished")
	ErrForbidden         = errors.New("forbidden")
)

func notFound(kind, id string) error {
	return errors.Wrapf(ErrNotFound, "%s %q", kind, id)
}

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidInput, format, args...)
}
