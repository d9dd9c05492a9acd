package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreateGetList(t *testing.T) {
	withFakePTY(t)

	r := NewRegistry(Defaults{Shell: "cmd.exe"}, 0)

	s1, err := r.Create(CreateOptions{Name: "one"})
	require.NoError(t, err)
	s2, err := r.Create(CreateOptions{Name: "two"})
	require.NoError(t, err)

	assert.Same(t, s1, r.Get(s1.ID))
	assert.Same(t, s1, r.Get("one"))
	assert.Same(t, s2, r.Get("two"))
	assert.Nil(t, r.Get("no-such-session"))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, s1.ID, list[0].ID)
	assert.Equal(t, s2.ID, list[1].ID)
}

func TestRegistryRejectsDuplicateName(t *testing.T) {
	withFakePTY(t)

	r := NewRegistry(Defaults{}, 0)
	_, err := r.Create(CreateOptions{Name: "dup"})
	require.NoError(t, err)

	_, err = r.Create(CreateOptions{Name: "dup"})
	assert.Error(t, err)
}

func TestRegistryEnforcesCapacity(t *testing.T) {
	withFakePTY(t)

	r := NewRegistry(Defaults{}, 1)
	_, err := r.Create(CreateOptions{Name: "first"})
	require.NoError(t, err)

	_, err = r.Create(CreateOptions{Name: "second"})
	assert.Error(t, err)
}

func TestRegistryRemoveDropsBothIndexes(t *testing.T) {
	withFakePTY(t)

	r := NewRegistry(Defaults{}, 0)
	s, err := r.Create(CreateOptions{Name: "temp"})
	require.NoError(t, err)

	r.Remove(s)

	assert.Nil(t, r.Get(s.ID))
	assert.Nil(t, r.Get("temp"))
}

func TestRegistryRemoveDoesNotClobberReusedName(t *testing.T) {
	withFakePTY(t)

	r := NewRegistry(Defaults{}, 0)
	s1, err := r.Create(CreateOptions{Name: "reused"})
	require.NoError(t, err)
	r.Remove(s1)

	s2, err := r.Create(CreateOptions{Name: "reused"})
	require.NoError(t, err)

	r.Remove(s1) // stale reference to the original session, now gone from byID

	assert.Same(t, s2, r.Get("reused"))
}

func TestRegistryConcurrentCreateIsConsistent(t *testing.T) {
	withFakePTY(t)

	r := NewRegistry(Defaults{}, 0)
	const n = 50

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := r.Create(CreateOptions{Name: fmt.Sprintf("concurrent-%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, r.List(), n)
}

func TestRegistryConcurrentCreateSameNameOnlyOneSucceeds(t *testing.T) {
	withFakePTY(t)

	r := NewRegistry(Defaults{}, 0)
	const n = 20

	var wg sync.WaitGroup
	wg.Add(n)
	results := make([]error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := r.Create(CreateOptions{Name: "clash"})
			results[i] = err
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent create with the same name should succeed")
	assert.Len(t, r.List(), 1)
	assert.NotNil(t, r.Get("clash"))
}
