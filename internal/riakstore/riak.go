package riakstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	riak "github.com/basho/riak-go-client"
)

// Riak talks to a Riak KV node over protocol buffers.
type Riak struct {
	client *riak.Client
	addr   string
}

// Dial creates a client for host:port. The connection pool is started lazily
// by the underlying client.
func Dial(host string, port int) (*Riak, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	c, err := riak.NewClient(&riak.NewClientOptions{
		RemoteAddresses: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("riak client %s: %w", addr, err)
	}
	return &Riak{client: c, addr: addr}, nil
}

// Addr returns the node address the client was created for.
func (r *Riak) Addr() string { return r.addr }

// Close stops the connection pool.
func (r *Riak) Close() error { return r.client.Stop() }

// execute runs cmd and gives up waiting when ctx ends. The riak client has
// no per-call context, so an abandoned command still completes in the
// background.
func (r *Riak) execute(ctx context.Context, cmd riak.Command) error {
	if ctx.Done() == nil {
		return r.client.Execute(cmd)
	}
	done := make(chan error, 1)
	go func() { done <- r.client.Execute(cmd) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Riak) FetchObject(ctx context.Context, bucket, key string) (*Object, error) {
	cmd, err := riak.NewFetchValueCommandBuilder().
		WithBucket(bucket).
		WithKey(key).
		Build()
	if err != nil {
		return nil, err
	}
	if err := r.execute(ctx, cmd); err != nil {
		return nil, fmt.Errorf("fetch %s/%s: %w", bucket, key, err)
	}
	rsp := cmd.(*riak.FetchValueCommand).Response
	if rsp == nil || rsp.IsNotFound || len(rsp.Values) == 0 {
		return nil, ErrNotFound
	}
	// Siblings are not expected on the default bucket type; take the first.
	v := rsp.Values[0]
	return &Object{ContentType: v.ContentType, Value: v.Value}, nil
}

func (r *Riak) StoreObject(ctx context.Context, bucket, key string, obj *Object) error {
	cmd, err := riak.NewStoreValueCommandBuilder().
		WithBucket(bucket).
		WithKey(key).
		WithContent(&riak.Object{
			ContentType: obj.ContentType,
			Value:       obj.Value,
		}).
		Build()
	if err != nil {
		return err
	}
	if err := r.execute(ctx, cmd); err != nil {
		return fmt.Errorf("store %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (r *Riak) DeleteObject(ctx context.Context, bucket, key string) error {
	cmd, err := riak.NewDeleteValueCommandBuilder().
		WithBucket(bucket).
		WithKey(key).
		Build()
	if err != nil {
		return err
	}
	if err := r.execute(ctx, cmd); err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (r *Riak) FetchSet(ctx context.Context, ref SetRef) (*SetValue, error) {
	cmd, err := riak.NewFetchSetCommandBuilder().
		WithBucketType(ref.BucketType).
		WithBucket(ref.Bucket).
		WithKey(ref.Key).
		Build()
	if err != nil {
		return nil, err
	}
	if err := r.execute(ctx, cmd); err != nil {
		return nil, fmt.Errorf("fetch set %s: %w", ref, err)
	}
	rsp := cmd.(*riak.FetchSetCommand).Response
	if rsp == nil || rsp.IsNotFound {
		return &SetValue{}, nil
	}
	out := &SetValue{Context: rsp.Context, Members: make([]string, 0, len(rsp.SetValue))}
	for _, m := range rsp.SetValue {
		out.Members = append(out.Members, string(m))
	}
	return out, nil
}

func (r *Riak) UpdateSet(ctx context.Context, ref SetRef, update SetUpdate) error {
	if update.Empty() {
		return nil
	}
	if len(update.Removes) > 0 && len(update.Context) == 0 {
		return ErrContextRequired
	}
	b := riak.NewUpdateSetCommandBuilder().
		WithBucketType(ref.BucketType).
		WithBucket(ref.Bucket).
		WithKey(ref.Key)
	if len(update.Context) > 0 {
		b = b.WithContext(update.Context)
	}
	if len(update.Adds) > 0 {
		b = b.WithAdditions(toBytes(update.Adds)...)
	}
	if len(update.Removes) > 0 {
		b = b.WithRemovals(toBytes(update.Removes)...)
	}
	cmd, err := b.Build()
	if err != nil {
		return err
	}
	if err := r.execute(ctx, cmd); err != nil {
		return fmt.Errorf("update set %s: %w", ref, err)
	}
	return nil
}

func toBytes(ss []string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}
