// Package localcache is the local side of riakfs: a thin pass-through to the
// source tree that backs the mount.
package localcache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Cache resolves filesystem paths below Root.
type Cache struct {
	Root string
}

// New returns a Cache for root.
func New(root string) *Cache {
	return &Cache{Root: root}
}

// Path returns the local path backing the mount-relative path p.
func (c *Cache) Path(p string) string {
	return filepath.Join(c.Root, strings.TrimPrefix(p, "/"))
}

// Rel is the inverse of Path.
func (c *Cache) Rel(local string) string {
	r, err := filepath.Rel(c.Root, local)
	if err != nil {
		return local
	}
	return "/" + filepath.ToSlash(r)
}

// descriptorFlags drops O_APPEND from kernel open flags. Writes arrive with
// explicit offsets (the kernel passes end of file for appends) and go
// through WriteAt, which an O_APPEND descriptor refuses.
func descriptorFlags(flags int) int { return flags &^ os.O_APPEND }

// Open opens the file with the given open(2) flags. Files created through
// O_CREATE get mode 0644.
func (c *Cache) Open(p string, flags int) (*os.File, error) {
	return os.OpenFile(c.Path(p), descriptorFlags(flags), 0o644)
}

// Create opens the file with O_CREATE added.
func (c *Cache) Create(p string, flags int, mode os.FileMode) (*os.File, error) {
	return os.OpenFile(c.Path(p), descriptorFlags(flags)|os.O_CREATE, mode)
}

// Exists reports whether anything exists at p, without following symlinks.
func (c *Cache) Exists(p string) bool {
	_, err := os.Lstat(c.Path(p))
	return err == nil
}

// ReadDir returns the entry names of directory p.
func (c *Cache) ReadDir(p string) ([]string, error) {
	entries, err := os.ReadDir(c.Path(p))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// ReadFile returns the whole content of p.
func (c *Cache) ReadFile(p string) ([]byte, error) {
	return os.ReadFile(c.Path(p))
}

// WriteAtomic replaces p with data. The content goes to a temp file in the
// same directory first, so p is never left partially written.
func (c *Cache) WriteAtomic(p string, data []byte) error {
	target := c.Path(p)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	perm := os.FileMode(0o644)
	if fi, err := os.Stat(target); err == nil {
		perm = fi.Mode().Perm()
	}
	tmp := filepath.Join(dir, ".riakfs-"+uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmp)
		}
	}()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		return err
	}
	success = true
	return nil
}

// Access checks mode with access(2).
func (c *Cache) Access(p string, mode uint32) error {
	if err := unix.Access(c.Path(p), mode); err != nil {
		return &fs.PathError{Op: "access", Path: c.Path(p), Err: err}
	}
	return nil
}

func (c *Cache) Chmod(p string, mode os.FileMode) error { return os.Chmod(c.Path(p), mode) }

func (c *Cache) Chown(p string, uid, gid int) error { return os.Chown(c.Path(p), uid, gid) }

func (c *Cache) Mkdir(p string, mode os.FileMode) error { return os.Mkdir(c.Path(p), mode) }

func (c *Cache) Rmdir(p string) error {
	if err := unix.Rmdir(c.Path(p)); err != nil {
		return &fs.PathError{Op: "rmdir", Path: c.Path(p), Err: err}
	}
	return nil
}

func (c *Cache) Unlink(p string) error {
	if err := unix.Unlink(c.Path(p)); err != nil {
		return &fs.PathError{Op: "unlink", Path: c.Path(p), Err: err}
	}
	return nil
}

func (c *Cache) Rename(oldPath, newPath string) error {
	return os.Rename(c.Path(oldPath), c.Path(newPath))
}

// Mknod creates a filesystem node; mode carries the file type bits.
func (c *Cache) Mknod(p string, mode uint32, dev int) error {
	if err := unix.Mknod(c.Path(p), mode, dev); err != nil {
		return &fs.PathError{Op: "mknod", Path: c.Path(p), Err: err}
	}
	return nil
}

func (c *Cache) Truncate(p string, size int64) error { return os.Truncate(c.Path(p), size) }

func (c *Cache) Readlink(p string) (string, error) { return os.Readlink(c.Path(p)) }

// Utimens sets access and modification times with nanosecond precision.
func (c *Cache) Utimens(p string, atime, mtime time.Time) error {
	ts := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	if err := unix.UtimesNano(c.Path(p), ts); err != nil {
		return &fs.PathError{Op: "utimens", Path: c.Path(p), Err: err}
	}
	return nil
}

// Stat is the subset of lstat(2) riakfs reports upward.
type Stat struct {
	Ino     uint64
	Mode    os.FileMode
	Nlink   uint32
	UID     uint32
	GID     uint32
	Rdev    uint32
	Size    int64
	Blocks  int64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
	Regular bool
}

// Lstat stats p without following a final symlink.
func (c *Cache) Lstat(p string) (Stat, error) {
	var st unix.Stat_t
	if err := unix.Lstat(c.Path(p), &st); err != nil {
		return Stat{}, &fs.PathError{Op: "lstat", Path: c.Path(p), Err: err}
	}
	mode := fileMode(uint32(st.Mode))
	return Stat{
		Ino:     st.Ino,
		Mode:    mode,
		Nlink:   uint32(st.Nlink),
		UID:     st.Uid,
		GID:     st.Gid,
		Rdev:    uint32(st.Rdev),
		Size:    st.Size,
		Blocks:  st.Blocks,
		Atime:   time.Unix(st.Atim.Unix()),
		Mtime:   time.Unix(st.Mtim.Unix()),
		Ctime:   time.Unix(st.Ctim.Unix()),
		Regular: mode.IsRegular(),
	}, nil
}

// Statfs is the subset of statfs(2) riakfs reports upward.
type Statfs struct {
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Bsize   uint32
	Namelen uint32
	Frsize  uint32
}

// Statfs reports the filesystem holding p.
func (c *Cache) Statfs(p string) (Statfs, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(c.Path(p), &st); err != nil {
		return Statfs{}, &fs.PathError{Op: "statfs", Path: c.Path(p), Err: err}
	}
	return convertStatfs(&st), nil
}

// fileMode converts st_mode bits into an os.FileMode.
func fileMode(m uint32) os.FileMode {
	mode := os.FileMode(m & 0o777)
	switch m & unix.S_IFMT {
	case unix.S_IFDIR:
		mode |= os.ModeDir
	case unix.S_IFLNK:
		mode |= os.ModeSymlink
	case unix.S_IFIFO:
		mode |= os.ModeNamedPipe
	case unix.S_IFSOCK:
		mode |= os.ModeSocket
	case unix.S_IFCHR:
		mode |= os.ModeDevice | os.ModeCharDevice
	case unix.S_IFBLK:
		mode |= os.ModeDevice
	}
	if m&unix.S_ISUID != 0 {
		mode |= os.ModeSetuid
	}
	if m&unix.S_ISGID != 0 {
		mode |= os.ModeSetgid
	}
	if m&unix.S_ISVTX != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

// ModeBits converts an os.FileMode into st_mode bits, the inverse of fileMode.
func ModeBits(mode os.FileMode) uint32 {
	m := uint32(mode.Perm())
	switch {
	case mode&os.ModeDir != 0:
		m |= unix.S_IFDIR
	case mode&os.ModeSymlink != 0:
		m |= unix.S_IFLNK
	case mode&os.ModeNamedPipe != 0:
		m |= unix.S_IFIFO
	case mode&os.ModeSocket != 0:
		m |= unix.S_IFSOCK
	case mode&os.ModeCharDevice != 0:
		m |= unix.S_IFCHR
	case mode&os.ModeDevice != 0:
		m |= unix.S_IFBLK
	default:
		m |= unix.S_IFREG
	}
	if mode&os.ModeSetuid != 0 {
		m |= unix.S_ISUID
	}
	if mode&os.ModeSetgid != 0 {
		m |= unix.S_ISGID
	}
	if mode&os.ModeSticky != 0 {
		m |= unix.S_ISVTX
	}
	return m
}

// IsNotExist reports whether err means the local entry is missing.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func (s Stat) String() string {
	return fmt.Sprintf("mode=%v size=%d uid=%d gid=%d", s.Mode, s.Size, s.UID, s.GID)
}
