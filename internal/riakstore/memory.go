package riakstore

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store. Sets behave as observed-remove sets: every
// add gets a unique tag, and a removal drops only the tags the remover had
// observed in its fetch context. A concurrent add of a removed member
// therefore survives, and two adds of one member collapse to one.
type Memory struct {
	mu      sync.Mutex
	objects map[objectID]Object
	sets    map[SetRef]map[string]map[string]struct{} // member -> tags
}

type objectID struct{ bucket, key string }

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[objectID]Object),
		sets:    make(map[SetRef]map[string]map[string]struct{}),
	}
}

func (m *Memory) FetchObject(ctx context.Context, bucket, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[objectID{bucket, key}]
	if !ok {
		return nil, ErrNotFound
	}
	return &Object{ContentType: o.ContentType, Value: bytes.Clone(o.Value)}, nil
}

func (m *Memory) StoreObject(ctx context.Context, bucket, key string, obj *Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[objectID{bucket, key}] = Object{ContentType: obj.ContentType, Value: bytes.Clone(obj.Value)}
	m.mu.Unlock()
	return nil
}

func (m *Memory) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.objects, objectID{bucket, key})
	m.mu.Unlock()
	return nil
}

// Keys lists the keys stored in bucket, sorted.
func (m *Memory) Keys(bucket string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id := range m.objects {
		if id.bucket == bucket {
			out = append(out, id.key)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Memory) FetchSet(ctx context.Context, ref SetRef) (*SetValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.sets[ref]
	out := &SetValue{Members: make([]string, 0, len(set))}
	var observed []string
	for member, tags := range set {
		out.Members = append(out.Members, member)
		for tag := range tags {
			observed = append(observed, member, tag)
		}
	}
	sort.Strings(out.Members)
	if len(observed) > 0 {
		out.Context = encodeContext(observed)
	}
	return out, nil
}

func (m *Memory) UpdateSet(ctx context.Context, ref SetRef, update SetUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if update.Empty() {
		return nil
	}
	if len(update.Removes) > 0 && len(update.Context) == 0 {
		return ErrContextRequired
	}
	observed := decodeContext(update.Context)

	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.sets[ref]
	if set == nil {
		set = make(map[string]map[string]struct{})
		m.sets[ref] = set
	}
	for _, member := range update.Removes {
		tags := set[member]
		for tag := range observed[member] {
			delete(tags, tag)
		}
		if len(tags) == 0 {
			delete(set, member)
		}
	}
	for _, member := range update.Adds {
		tags := set[member]
		if tags == nil {
			tags = make(map[string]struct{})
			set[member] = tags
		}
		tags[uuid.NewString()] = struct{}{}
	}
	if len(set) == 0 {
		delete(m.sets, ref)
	}
	return nil
}

// The context lists member/tag pairs separated by NUL; neither file names
// nor uuids contain NUL.
func encodeContext(pairs []string) []byte {
	var b bytes.Buffer
	for i, s := range pairs {
		if i > 0 {
			b.WriteByte(0)
		}
		b.WriteString(s)
	}
	return b.Bytes()
}

func decodeContext(ctx []byte) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{})
	if len(ctx) == 0 {
		return out
	}
	parts := bytes.Split(ctx, []byte{0})
	for i := 0; i+1 < len(parts); i += 2 {
		member := string(parts[i])
		if out[member] == nil {
			out[member] = make(map[string]struct{})
		}
		out[member][string(parts[i+1])] = struct{}{}
	}
	return out
}
