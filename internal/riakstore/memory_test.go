package riakstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRef = SetRef{BucketType: "sets", Bucket: "IMGDIR_abc", Key: "directory"}

func TestMemoryObjects(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.FetchObject(ctx, "IMG_abc", "1.jpg")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.StoreObject(ctx, "IMG_abc", "1.jpg", &Object{ContentType: "image/jpeg", Value: []byte("v1")}))
	require.NoError(t, m.StoreObject(ctx, "IMG_abc", "1.jpg", &Object{ContentType: "image/jpeg", Value: []byte("v2")}))

	got, err := m.FetchObject(ctx, "IMG_abc", "1.jpg")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got.Value))
	assert.Equal(t, "image/jpeg", got.ContentType)
	assert.Equal(t, []string{"1.jpg"}, m.Keys("IMG_abc"))

	require.NoError(t, m.DeleteObject(ctx, "IMG_abc", "1.jpg"))
	_, err = m.FetchObject(ctx, "IMG_abc", "1.jpg")
	require.ErrorIs(t, err, ErrNotFound)
	// Deleting a missing key is not an error.
	require.NoError(t, m.DeleteObject(ctx, "IMG_abc", "1.jpg"))
}

func TestMemorySetMissingIsEmpty(t *testing.T) {
	v, err := NewMemory().FetchSet(context.Background(), testRef)
	require.NoError(t, err)
	assert.Empty(t, v.Members)
	assert.Empty(t, v.Context)
}

func TestMemorySetRemoveNeedsContext(t *testing.T) {
	err := NewMemory().UpdateSet(context.Background(), testRef, SetUpdate{Removes: []string{"a"}})
	require.ErrorIs(t, err, ErrContextRequired)
}

func TestMemorySetConcurrentAddRemove(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.UpdateSet(ctx, testRef, SetUpdate{Adds: []string{"a"}}))

	// Remover observes "a" once; a concurrent writer adds "a" again after that.
	seen, err := m.FetchSet(ctx, testRef)
	require.NoError(t, err)
	require.NoError(t, m.UpdateSet(ctx, testRef, SetUpdate{Adds: []string{"a"}}))
	require.NoError(t, m.UpdateSet(ctx, testRef, SetUpdate{Context: seen.Context, Removes: []string{"a"}}))

	v, err := m.FetchSet(ctx, testRef)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, v.Members, "unobserved add must survive the removal")
}

func TestMemorySetParallelAddsCollapse(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.UpdateSet(ctx, testRef, SetUpdate{Adds: []string{"a"}}))
		}()
	}
	wg.Wait()

	v, err := m.FetchSet(ctx, testRef)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, v.Members)
}

func TestMemoryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemory()
	require.ErrorIs(t, m.StoreObject(ctx, "b", "k", &Object{}), context.Canceled)
	_, err := m.FetchSet(ctx, testRef)
	require.ErrorIs(t, err, context.Canceled)
}
