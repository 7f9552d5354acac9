// Package namemap translates legacy image paths into Riak bucket and key names.
//
// A legacy path has the shape /<id>/images/<filename>. The bucket name is a
// prefix followed by <id>, the key is <filename>:
//
//	/fdaf16c657d997656bbccc5752eefa9f/images/1620028670_192497.jpg
//	  bucket: IMG_fdaf16c657d997656bbccc5752eefa9f
//	  key:    1620028670_192497.jpg
//
// Only a single leading slash is stripped. Trailing slashes and empty segments
// end up in bucket and key names as they are, which is what the data already
// stored in Riak was written with.
package namemap

import "strings"

const imagesSegment = "images"

func segments(path string) []string {
	return strings.Split(strings.TrimPrefix(path, "/"), "/")
}

// Bucket returns prefix+<id> when path has "images" as its second segment.
func Bucket(prefix, path string) (string, bool) {
	parts := segments(path)
	if len(parts) < 2 || parts[1] != imagesSegment {
		return "", false
	}
	return prefix + parts[0], true
}

// Key returns the file name of a path of exactly three segments with
// "images" as the second one.
func Key(path string) (string, bool) {
	parts := segments(path)
	if len(parts) != 3 || parts[1] != imagesSegment {
		return "", false
	}
	return parts[2], true
}

// Prefixes holds the bucket prefixes for content and directory buckets.
type Prefixes struct {
	Content   string
	Directory string
}

// Mapping is the resolved remote name set of one legacy path.
type Mapping struct {
	Path            string
	ContentBucket   string
	DirectoryBucket string
	Key             string
	// HasBucket is set when the path lies inside a mapped directory.
	HasBucket bool
	// HasKey is set when the path names a file inside a mapped directory.
	HasKey bool
}

// Resolve maps path with both prefixes at once.
func (p Prefixes) Resolve(path string) Mapping {
	m := Mapping{Path: path}
	m.ContentBucket, m.HasBucket = Bucket(p.Content, path)
	m.DirectoryBucket, _ = Bucket(p.Directory, path)
	m.Key, m.HasKey = Key(path)
	return m
}

// Mapped reports whether the path addresses a remote object.
func (m Mapping) Mapped() bool { return m.HasBucket && m.HasKey }
