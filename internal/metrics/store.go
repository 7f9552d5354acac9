package metrics

import (
	"context"
	"time"

	"github.com/bietiekay/riak-fuse/internal/riakstore"
)

type instrumented struct {
	next  riakstore.Store
	stats *Stats
}

// Instrument wraps store so every call is recorded in stats.
func Instrument(store riakstore.Store, stats *Stats) riakstore.Store {
	return &instrumented{next: store, stats: stats}
}

func (i *instrumented) FetchObject(ctx context.Context, bucket, key string) (*riakstore.Object, error) {
	start := time.Now()
	obj, err := i.next.FetchObject(ctx, bucket, key)
	i.stats.Record("fetch_object", time.Since(start), err)
	if err == nil {
		i.stats.AddBytes("in", len(obj.Value))
	}
	return obj, err
}

func (i *instrumented) StoreObject(ctx context.Context, bucket, key string, obj *riakstore.Object) error {
	start := time.Now()
	err := i.next.StoreObject(ctx, bucket, key, obj)
	i.stats.Record("store_object", time.Since(start), err)
	if err == nil {
		i.stats.AddBytes("out", len(obj.Value))
	}
	return err
}

func (i *instrumented) DeleteObject(ctx context.Context, bucket, key string) error {
	start := time.Now()
	err := i.next.DeleteObject(ctx, bucket, key)
	i.stats.Record("delete_object", time.Since(start), err)
	return err
}

func (i *instrumented) FetchSet(ctx context.Context, ref riakstore.SetRef) (*riakstore.SetValue, error) {
	start := time.Now()
	v, err := i.next.FetchSet(ctx, ref)
	i.stats.Record("fetch_set", time.Since(start), err)
	return v, err
}

func (i *instrumented) UpdateSet(ctx context.Context, ref riakstore.SetRef, u riakstore.SetUpdate) error {
	start := time.Now()
	err := i.next.UpdateSet(ctx, ref, u)
	i.stats.Record("update_set", time.Since(start), err)
	return err
}
