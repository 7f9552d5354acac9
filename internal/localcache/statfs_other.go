//go:build !linux

package localcache

import "golang.org/x/sys/unix"

func convertStatfs(st *unix.Statfs_t) Statfs {
	return Statfs{
		Blocks:  uint64(st.Blocks),
		Bfree:   uint64(st.Bfree),
		Bavail:  uint64(st.Bavail),
		Files:   uint64(st.Files),
		Ffree:   uint64(st.Ffree),
		Bsize:   uint32(st.Bsize),
		Namelen: 255,
		Frsize:  uint32(st.Bsize),
	}
}
