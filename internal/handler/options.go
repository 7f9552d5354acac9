package handler

import (
	"os"
	"time"
)

// Options control which side is authoritative for what.
type Options struct {
	ContentPrefix   string
	DirectoryPrefix string
	BucketType      string
	DirectoryKey    string
	ContentType     string

	// DeleteLocal removes the local copy once it has been uploaded.
	DeleteLocal bool
	// MaintainDirectory keeps directory and size sets in step with releases,
	// unlinks and renames.
	MaintainDirectory bool
	// ReadContent serves file content and attributes from the remote store.
	ReadContent bool
	// ReadDirectory serves directory listings from the remote index.
	ReadDirectory bool

	FileUID  uint32
	FileGID  uint32
	FileMode os.FileMode

	// RemoteTimeout bounds each remote call; zero means no bound.
	RemoteTimeout time.Duration
	// SerializePaths runs the remote steps of release, unlink and rename one
	// at a time per path.
	SerializePaths bool
}

func DefaultOptions() Options {
	return Options{
		ContentPrefix:     "IMG_",
		DirectoryPrefix:   "IMGDIR_",
		BucketType:        "sets",
		DirectoryKey:      "directory",
		ContentType:       "application/octet-stream",
		MaintainDirectory: true,
		FileMode:          0o777,
	}
}
