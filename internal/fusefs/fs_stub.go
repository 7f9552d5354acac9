//go:build !linux

package fusefs

import (
	"context"
	"errors"

	"github.com/bietiekay/riak-fuse/internal/handler"
)

type MountOptions struct {
	FSName     string
	AllowOther bool
}

func MountAndServe(ctx context.Context, mountpoint string, h *handler.Handler, opts MountOptions) error {
	return errors.New("FUSE mount is only supported on Linux in this build")
}

// Unmount is a no-op on non-Linux builds.
func Unmount(mountpoint string) error { return nil }
