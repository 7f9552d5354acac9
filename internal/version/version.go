// Package version reports the riakfs build.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is set at link time:
//
//	-ldflags "-X github.com/bietiekay/riak-fuse/internal/version.Version=v1.2.3"
var Version = ""

// Get returns Version, or dev-<commit> from the embedded VCS info.
func Get() string {
	if Version != "" {
		return Version
	}
	rev, dirty := vcs()
	if rev == "" {
		return "dev-unknown"
	}
	if dirty {
		rev += "-dirty"
	}
	return "dev-" + rev
}

// Full adds the toolchain and platform to Get.
func Full() string {
	return fmt.Sprintf("%s (%s, %s/%s)", Get(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func vcs() (rev string, dirty bool) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	return rev, dirty
}
