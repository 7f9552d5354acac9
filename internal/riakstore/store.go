// Package riakstore is the narrow view riakfs has of the remote store: binary
// objects addressed by bucket and key, and CRDT sets addressed by bucket type,
// bucket and key.
package riakstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by FetchObject when the key holds no value.
	ErrNotFound = errors.New("riakstore: object not found")
	// ErrContextRequired is returned when a set update removes members
	// without the causal context of a prior fetch.
	ErrContextRequired = errors.New("riakstore: set removal requires context")
)

// Object is a stored value. Writes replace the whole value.
type Object struct {
	ContentType string
	Value       []byte
}

// SetRef addresses one CRDT set.
type SetRef struct {
	BucketType string
	Bucket     string
	Key        string
}

func (r SetRef) String() string { return r.BucketType + "/" + r.Bucket + "/" + r.Key }

// SetValue is the state of a set as seen by one fetch. Context is opaque and
// must be passed back with removals.
type SetValue struct {
	Members []string
	Context []byte
}

// SetUpdate is one batch of set operations.
type SetUpdate struct {
	Context []byte
	Adds    []string
	Removes []string
}

// Empty reports whether the update carries no operation.
func (u SetUpdate) Empty() bool { return len(u.Adds) == 0 && len(u.Removes) == 0 }

// Store is implemented by Riak and Memory.
type Store interface {
	FetchObject(ctx context.Context, bucket, key string) (*Object, error)
	StoreObject(ctx context.Context, bucket, key string, obj *Object) error
	DeleteObject(ctx context.Context, bucket, key string) error
	// FetchSet returns an empty value, not an error, for a set that does not exist.
	FetchSet(ctx context.Context, ref SetRef) (*SetValue, error)
	UpdateSet(ctx context.Context, ref SetRef, update SetUpdate) error
}
