package handler

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
)

var (
	// ErrNotFound means neither local nor remote data exists for the path.
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied hides a remote failure from the caller. The cause is
	// logged where it happens.
	ErrAccessDenied = errors.New("access denied")
	// ErrNotSupported rejects operations mapped paths cannot express.
	ErrNotSupported = errors.New("operation not supported")
	// ErrNotPermitted is a failed local permission check.
	ErrNotPermitted = errors.New("operation not permitted")
	// ErrHookDenied is returned when a hook script vetoes an operation.
	ErrHookDenied = fmt.Errorf("%w: denied by hook", ErrNotPermitted)
)

// Errno maps err to the errno reported to the kernel.
func Errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrHookDenied):
		return syscall.EPERM
	case errors.Is(err, ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, ErrAccessDenied), errors.Is(err, ErrNotPermitted):
		return syscall.EACCES
	case errors.Is(err, ErrNotSupported):
		return syscall.ENOTSUP
	case errors.Is(err, os.ErrClosed):
		return syscall.EBADF
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, fs.ErrExist):
		return syscall.EEXIST
	case errors.Is(err, fs.ErrPermission):
		return syscall.EACCES
	}
	return syscall.EIO
}

// notFound folds a missing local entry into ErrNotFound and leaves other
// errors alone.
func notFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
