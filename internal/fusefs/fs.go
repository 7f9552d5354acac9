//go:build linux

package fusefs

import (
	"context"
	"path"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/bietiekay/riak-fuse/internal/handler"
	"github.com/bietiekay/riak-fuse/internal/localcache"
	"github.com/rs/zerolog/log"
)

// attrValid is how long the kernel may cache attributes. Remote sizes can
// change under us, so keep it short.
const attrValid = time.Second

type FS struct {
	h *handler.Handler
}

var _ fs.FS = (*FS)(nil)
var _ fs.FSStatfser = (*FS)(nil)

func (f *FS) Root() (fs.Node, error) {
	return &Dir{fs: f, path: "/"}, nil
}

func (f *FS) Statfs(ctx context.Context, req *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	st, err := f.h.Statfs(ctx, "/")
	if err != nil {
		return errno(err)
	}
	resp.Blocks = st.Blocks
	resp.Bfree = st.Bfree
	resp.Bavail = st.Bavail
	resp.Files = st.Files
	resp.Ffree = st.Ffree
	resp.Bsize = st.Bsize
	resp.Namelen = st.Namelen
	resp.Frsize = st.Frsize
	return nil
}

func errno(err error) error {
	if err == nil {
		return nil
	}
	return fuse.Errno(handler.Errno(err))
}

func fill(a *fuse.Attr, in handler.Attr) {
	a.Valid = attrValid
	a.Inode = in.Ino
	a.Mode = in.Mode
	a.Nlink = in.Nlink
	a.Uid = in.UID
	a.Gid = in.GID
	a.Rdev = in.Rdev
	a.Size = in.Size
	a.Blocks = in.Blocks
	a.Atime = in.Atime
	a.Mtime = in.Mtime
	a.Ctime = in.Ctime
}

// setattr applies the fields of req that are set, in the order size, owner,
// mode, times, and reports the resulting attributes.
func setattr(ctx context.Context, h *handler.Handler, p string, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		if err := h.Truncate(ctx, p, int64(req.Size), nil); err != nil {
			return errno(err)
		}
	}
	if req.Valid.Uid() || req.Valid.Gid() {
		uid, gid := -1, -1
		if req.Valid.Uid() {
			uid = int(req.Uid)
		}
		if req.Valid.Gid() {
			gid = int(req.Gid)
		}
		if err := h.Chown(ctx, p, uid, gid); err != nil {
			return errno(err)
		}
	}
	if req.Valid.Mode() {
		if err := h.Chmod(ctx, p, req.Mode); err != nil {
			return errno(err)
		}
	}
	if req.Valid.Atime() || req.Valid.Mtime() {
		at, mt := time.Now(), time.Now()
		if req.Valid.Atime() && !req.Valid.AtimeNow() {
			at = req.Atime
		}
		if req.Valid.Mtime() && !req.Valid.MtimeNow() {
			mt = req.Mtime
		}
		if err := h.Utimens(ctx, p, at, mt); err != nil {
			return errno(err)
		}
	}
	a, err := h.Getattr(ctx, p)
	if err != nil {
		return errno(err)
	}
	fill(&resp.Attr, a)
	return nil
}

type Dir struct {
	fs   *FS
	path string
}

var _ fs.Node = (*Dir)(nil)
var _ fs.HandleReadDirAller = (*Dir)(nil)
var _ fs.NodeStringLookuper = (*Dir)(nil)
var _ fs.NodeMkdirer = (*Dir)(nil)
var _ fs.NodeCreater = (*Dir)(nil)
var _ fs.NodeMknoder = (*Dir)(nil)
var _ fs.NodeRemover = (*Dir)(nil)
var _ fs.NodeRenamer = (*Dir)(nil)
var _ fs.NodeSymlinker = (*Dir)(nil)
var _ fs.NodeLinker = (*Dir)(nil)
var _ fs.NodeSetattrer = (*Dir)(nil)
var _ fs.NodeAccesser = (*Dir)(nil)

func (d *Dir) child(name string) string { return path.Join(d.path, name) }

func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	at, err := d.fs.h.Getattr(ctx, d.path)
	if err != nil {
		return errno(err)
	}
	fill(a, at)
	return nil
}

func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	p := d.child(name)
	at, err := d.fs.h.Getattr(ctx, p)
	if err != nil {
		return nil, errno(err)
	}
	if at.Mode.IsDir() {
		return &Dir{fs: d.fs, path: p}, nil
	}
	return &File{fs: d.fs, path: p}, nil
}

func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	names, err := d.fs.h.Readdir(ctx, d.path)
	if err != nil {
		return nil, errno(err)
	}
	var res []fuse.Dirent
	for n := range names {
		de := fuse.Dirent{Name: n, Type: fuse.DT_Unknown}
		if n == "." || n == ".." {
			de.Type = fuse.DT_Dir
		}
		res = append(res, de)
	}
	return res, nil
}

func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	p := d.child(req.Name)
	if err := d.fs.h.Mkdir(ctx, p, req.Mode&^req.Umask); err != nil {
		return nil, errno(err)
	}
	return &Dir{fs: d.fs, path: p}, nil
}

func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	p := d.child(req.Name)
	hd, err := d.fs.h.Create(ctx, p, int(req.Flags), req.Mode&^req.Umask)
	if err != nil {
		return nil, nil, errno(err)
	}
	log.Debug().Str("path", p).Uint64("fh", hd.ID).Msg("create")
	f := &File{fs: d.fs, path: p}
	if at, err := d.fs.h.Getattr(ctx, p); err == nil {
		fill(&resp.Attr, at)
	}
	return f, &FileHandle{file: f, h: hd}, nil
}

func (d *Dir) Mknod(ctx context.Context, req *fuse.MknodRequest) (fs.Node, error) {
	p := d.child(req.Name)
	mode := localcache.ModeBits(req.Mode &^ req.Umask)
	if err := d.fs.h.Mknod(ctx, p, mode, int(req.Rdev)); err != nil {
		return nil, errno(err)
	}
	return &File{fs: d.fs, path: p}, nil
}

func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	p := d.child(req.Name)
	if req.Dir {
		return errno(d.fs.h.Rmdir(ctx, p))
	}
	return errno(d.fs.h.Unlink(ctx, p))
}

func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) error {
	nd, ok := newDir.(*Dir)
	if !ok {
		return fuse.EIO
	}
	return errno(d.fs.h.Rename(ctx, d.child(req.OldName), nd.child(req.NewName)))
}

func (d *Dir) Symlink(ctx context.Context, req *fuse.SymlinkRequest) (fs.Node, error) {
	return nil, errno(d.fs.h.Symlink(ctx, req.Target, d.child(req.NewName)))
}

func (d *Dir) Link(ctx context.Context, req *fuse.LinkRequest, old fs.Node) (fs.Node, error) {
	var target string
	if of, ok := old.(*File); ok {
		target = of.path
	}
	return nil, errno(d.fs.h.Link(ctx, target, d.child(req.NewName)))
}

func (d *Dir) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	return setattr(ctx, d.fs.h, d.path, req, resp)
}

func (d *Dir) Access(ctx context.Context, req *fuse.AccessRequest) error {
	return errno(d.fs.h.Access(ctx, d.path, req.Mask))
}

type File struct {
	fs   *FS
	path string
}

var _ fs.Node = (*File)(nil)
var _ fs.NodeOpener = (*File)(nil)
var _ fs.NodeSetattrer = (*File)(nil)
var _ fs.NodeFsyncer = (*File)(nil)
var _ fs.NodeReadlinker = (*File)(nil)
var _ fs.NodeAccesser = (*File)(nil)

func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	at, err := f.fs.h.Getattr(ctx, f.path)
	if err != nil {
		return errno(err)
	}
	fill(a, at)
	return nil
}

func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	hd, err := f.fs.h.Open(ctx, f.path, int(req.Flags))
	if err != nil {
		return nil, errno(err)
	}
	log.Debug().Str("path", f.path).Uint64("fh", hd.ID).Msg("open")
	return &FileHandle{file: f, h: hd}, nil
}

func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	return setattr(ctx, f.fs.h, f.path, req, resp)
}

func (f *File) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	return errno(f.fs.h.Fsync(ctx, f.path, req.Flags&1 != 0, nil))
}

func (f *File) Readlink(ctx context.Context, req *fuse.ReadlinkRequest) (string, error) {
	target, err := f.fs.h.Readlink(ctx, f.path)
	return target, errno(err)
}

func (f *File) Access(ctx context.Context, req *fuse.AccessRequest) error {
	return errno(f.fs.h.Access(ctx, f.path, req.Mask))
}

type FileHandle struct {
	file *File
	h    *handler.Handle
}

var _ fs.Handle = (*FileHandle)(nil)
var _ fs.HandleReader = (*FileHandle)(nil)
var _ fs.HandleWriter = (*FileHandle)(nil)
var _ fs.HandleFlusher = (*FileHandle)(nil)
var _ fs.HandleReleaser = (*FileHandle)(nil)

func (fh *FileHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	data, err := fh.file.fs.h.Read(ctx, fh.h, req.Size, req.Offset)
	if err != nil {
		return errno(err)
	}
	resp.Data = data
	return nil
}

func (fh *FileHandle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	n, err := fh.file.fs.h.Write(ctx, fh.h, req.Data, req.Offset)
	if err != nil {
		return errno(err)
	}
	resp.Size = n
	return nil
}

func (fh *FileHandle) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	return errno(fh.file.fs.h.Flush(ctx, fh.h))
}

func (fh *FileHandle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	err := fh.file.fs.h.Release(ctx, fh.h)
	log.Debug().Str("path", fh.file.path).Uint64("fh", fh.h.ID).Err(err).Msg("release")
	return errno(err)
}

// MountOptions configure the kernel side of the mount.
type MountOptions struct {
	FSName     string
	AllowOther bool
}

// MountAndServe mounts h at mountpoint and serves requests until the
// filesystem is unmounted or ctx is cancelled.
func MountAndServe(ctx context.Context, mountpoint string, h *handler.Handler, opts MountOptions) error {
	if opts.FSName == "" {
		opts.FSName = "riakfs"
	}
	mopts := []fuse.MountOption{fuse.FSName(opts.FSName), fuse.Subtype("riakfs")}
	if opts.AllowOther {
		mopts = append(mopts, fuse.AllowOther())
	}
	c, err := fuse.Mount(mountpoint, mopts...)
	if err != nil {
		return err
	}
	defer c.Close()

	stop := context.AfterFunc(ctx, func() {
		if err := Unmount(mountpoint); err != nil {
			log.Warn().Err(err).Str("mount", mountpoint).Msg("unmount failed")
		}
	})
	defer stop()

	log.Info().Str("mount", mountpoint).Msg("serving")
	return fs.Serve(c, &FS{h: h})
}

// Unmount detaches the filesystem at mountpoint.
func Unmount(mountpoint string) error {
	return fuse.Unmount(mountpoint)
}
