// Package dirindex keeps the directory listing and file sizes of mapped
// directories in Riak CRDT sets.
//
// Each directory bucket holds one set under a reserved key (by default
// "directory") whose members are the file keys of that directory. Next to it,
// every file key has its own set holding the decimal byte size of the file.
// That set is meant to have a single member; if concurrent writers leave more
// than one, Size reads whichever comes first.
package dirindex

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/bietiekay/riak-fuse/internal/riakstore"
	"github.com/rs/zerolog"
)

// ErrRemoteUnavailable wraps every store failure reported by Index.
var ErrRemoteUnavailable = errors.New("remote index unavailable")

// Index reads and writes directory and size sets.
type Index struct {
	store        riakstore.Store
	bucketType   string
	directoryKey string
	log          zerolog.Logger
}

// New returns an Index storing its sets in bucketType, with directory
// listings under directoryKey.
func New(store riakstore.Store, bucketType, directoryKey string, log zerolog.Logger) *Index {
	return &Index{store: store, bucketType: bucketType, directoryKey: directoryKey, log: log}
}

func (ix *Index) directory(bucket string) *Set {
	return NewSet(ix.store, riakstore.SetRef{BucketType: ix.bucketType, Bucket: bucket, Key: ix.directoryKey})
}

func (ix *Index) sizes(bucket, key string) *Set {
	return NewSet(ix.store, riakstore.SetRef{BucketType: ix.bucketType, Bucket: bucket, Key: key})
}

func unavailable(op, bucket, key string, err error) error {
	return fmt.Errorf("%w: %s %s/%s: %w", ErrRemoteUnavailable, op, bucket, key, err)
}

// Listing returns the file keys recorded for bucket.
func (ix *Index) Listing(ctx context.Context, bucket string) ([]string, error) {
	s := ix.directory(bucket)
	if err := s.Reload(ctx); err != nil {
		return nil, unavailable("listing", bucket, ix.directoryKey, err)
	}
	return s.Members(), nil
}

// AddKey records key as a member of bucket.
func (ix *Index) AddKey(ctx context.Context, bucket, key string) error {
	return ix.update(ctx, "add", ix.directory(bucket), func(s *Set) { s.Add(key) })
}

// DiscardKey removes key from the listing of bucket.
func (ix *Index) DiscardKey(ctx context.Context, bucket, key string) error {
	return ix.update(ctx, "discard", ix.directory(bucket), func(s *Set) { s.Discard(key) })
}

// Size returns the recorded size of key; ok is false when none is recorded.
func (ix *Index) Size(ctx context.Context, bucket, key string) (size int64, ok bool, err error) {
	s := ix.sizes(bucket, key)
	if err := s.Reload(ctx); err != nil {
		return 0, false, unavailable("size", bucket, key, err)
	}
	members := s.Members()
	if len(members) == 0 {
		return 0, false, nil
	}
	if len(members) > 1 {
		ix.log.Debug().Str("bucket", bucket).Str("key", key).Strs("sizes", members).Msg("size set has several members")
	}
	size, err = strconv.ParseInt(members[0], 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("size %s/%s: %w", bucket, key, err)
	}
	return size, true, nil
}

// SetSize records size as the only size of key.
func (ix *Index) SetSize(ctx context.Context, bucket, key string, size int64) error {
	value := strconv.FormatInt(size, 10)
	return ix.update(ctx, "set-size", ix.sizes(bucket, key), func(s *Set) {
		for _, m := range s.Members() {
			if m != value {
				s.Discard(m)
			}
		}
		s.Add(value)
	})
}

// ClearSize removes every recorded size of key.
func (ix *Index) ClearSize(ctx context.Context, bucket, key string) error {
	return ix.update(ctx, "clear-size", ix.sizes(bucket, key), func(s *Set) {
		for _, m := range s.Members() {
			s.Discard(m)
		}
	})
}

func (ix *Index) update(ctx context.Context, op string, s *Set, apply func(*Set)) error {
	if err := s.Reload(ctx); err != nil {
		return unavailable(op, s.ref.Bucket, s.ref.Key, err)
	}
	apply(s)
	if !s.Dirty() {
		return nil
	}
	if err := s.Store(ctx); err != nil {
		return unavailable(op, s.ref.Bucket, s.ref.Key, err)
	}
	ix.log.Debug().Str("op", op).Str("bucket", s.ref.Bucket).Str("key", s.ref.Key).Msg("index updated")
	return nil
}
