package dirindex

import (
	"context"
	"slices"

	"github.com/bietiekay/riak-fuse/internal/riakstore"
)

// Set is a local view of one remote CRDT set. Reload fetches the members and
// the causal context; Add and Discard queue operations; Store sends them in
// one update. Operations that would not change the observed membership are
// dropped, so storing an unchanged set costs no round trip.
type Set struct {
	store   riakstore.Store
	ref     riakstore.SetRef
	members map[string]struct{}
	context []byte
	adds    []string
	removes []string
}

// NewSet returns an empty, not yet loaded view of ref.
func NewSet(store riakstore.Store, ref riakstore.SetRef) *Set {
	return &Set{store: store, ref: ref, members: make(map[string]struct{})}
}

// Reload replaces the local view with the remote state and drops queued
// operations.
func (s *Set) Reload(ctx context.Context) error {
	v, err := s.store.FetchSet(ctx, s.ref)
	if err != nil {
		return err
	}
	s.members = make(map[string]struct{}, len(v.Members))
	for _, m := range v.Members {
		s.members[m] = struct{}{}
	}
	s.context = v.Context
	s.adds, s.removes = nil, nil
	return nil
}

// Members returns the current members in sorted order.
func (s *Set) Members() []string {
	out := make([]string, 0, len(s.members))
	for m := range s.members {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

func (s *Set) Contains(member string) bool {
	_, ok := s.members[member]
	return ok
}

func (s *Set) Len() int { return len(s.members) }

// Add queues member for addition.
func (s *Set) Add(member string) {
	if s.Contains(member) {
		return
	}
	s.members[member] = struct{}{}
	s.removes = slices.DeleteFunc(s.removes, func(r string) bool { return r == member })
	s.adds = append(s.adds, member)
}

// Discard queues member for removal.
func (s *Set) Discard(member string) {
	if !s.Contains(member) {
		return
	}
	delete(s.members, member)
	if i := slices.Index(s.adds, member); i >= 0 {
		s.adds = slices.Delete(s.adds, i, i+1)
		return
	}
	s.removes = append(s.removes, member)
}

// Dirty reports whether Store has anything to send.
func (s *Set) Dirty() bool { return len(s.adds) > 0 || len(s.removes) > 0 }

// Store sends the queued operations.
func (s *Set) Store(ctx context.Context) error {
	if !s.Dirty() {
		return nil
	}
	err := s.store.UpdateSet(ctx, s.ref, riakstore.SetUpdate{
		Context: s.context,
		Adds:    s.adds,
		Removes: s.removes,
	})
	if err != nil {
		return err
	}
	s.adds, s.removes = nil, nil
	return nil
}
