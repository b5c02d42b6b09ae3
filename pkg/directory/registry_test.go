package directory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterQueryDeregister(t *testing.T) {
	reg := NewRegistry(nil)

	_, ok := reg.Query("alice")
	assert.False(t, ok)

	reg.Register("alice", "127.0.0.1", 40001)
	rec, ok := reg.Query("alice")
	require.True(t, ok)
	assert.Equal(t, "alice", rec.Username)
	assert.Equal(t, "127.0.0.1", rec.Endpoint.Address)
	assert.Equal(t, 40001, rec.Endpoint.Port)
	assert.Equal(t, "127.0.0.1:40001", rec.Endpoint.Addr())

	// Re-bind overwrites.
	reg.Register("alice", "127.0.0.1", 40002)
	rec, _ = reg.Query("alice")
	assert.Equal(t, 40002, rec.Endpoint.Port)
	assert.Equal(t, 1, reg.Count())

	reg.Deregister("alice")
	_, ok = reg.Query("alice")
	assert.False(t, ok)

	// Deregistering an absent user is a no-op.
	reg.Deregister("alice")
	assert.Equal(t, 0, reg.Count())
}

func TestRegistrySnapshotSorted(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("carol", "10.0.0.3", 3)
	reg.Register("alice", "10.0.0.1", 1)
	reg.Register("bob", "10.0.0.2", 2)

	records := reg.Snapshot()
	require.Len(t, records, 3)
	assert.Equal(t, "alice", records[0].Username)
	assert.Equal(t, "bob", records[1].Username)
	assert.Equal(t, "carol", records[2].Username)
}

func TestRegistryLoginAcceptsAnything(t *testing.T) {
	reg := NewRegistry(nil)
	assert.True(t, reg.Login("alice", "secret"))
	assert.True(t, reg.Login("", ""))
}

// TestRegistryConcurrentMutations hammers the registry from many goroutines
// and checks that every observed record is internally consistent: a
// username maps to exactly one of the endpoints ever written for it.
func TestRegistryConcurrentMutations(t *testing.T) {
	reg := NewRegistry(nil)

	const (
		users      = 8
		iterations = 200
	)

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		username := fmt.Sprintf("user%d", u)

		wg.Add(2)
		go func(u int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				reg.Register(username, fmt.Sprintf("10.0.0.%d", u), 1000+i)
				if i%3 == 0 {
					reg.Deregister(username)
				}
			}
		}(u)

		go func(u int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				if rec, ok := reg.Query(username); ok {
					// Never a torn record: address always matches the
					// single writer for this username.
					assert.Equal(t, fmt.Sprintf("10.0.0.%d", u), rec.Endpoint.Address)
					assert.GreaterOrEqual(t, rec.Endpoint.Port, 1000)
					assert.Less(t, rec.Endpoint.Port, 1000+iterations)
				}

				for _, rec := range reg.Snapshot() {
					assert.NotEmpty(t, rec.Username)
					assert.NotEmpty(t, rec.Endpoint.Address)
				}
			}
		}(u)
	}
	wg.Wait()

	// At most one record per username survives.
	seen := map[string]bool{}
	for _, rec := range reg.Snapshot() {
		assert.False(t, seen[rec.Username], "duplicate record for %s", rec.Username)
		seen[rec.Username] = true
	}
}
