// Package directory implements the eurechat directory service: the shared
// user registry, the per-connection session state machine, the liveness
// checker that prunes unreachable clients, and the TCP server tying them
// together.
package directory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/SokratisVidros/eurechat/internal/logger"
	"github.com/SokratisVidros/eurechat/pkg/metrics"
)

// Endpoint is the (host, port) pair at which a client accepts peer
// connections.
type Endpoint struct {
	Address string
	Port    int
}

// Addr renders the endpoint as host:port for dialing.
func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Address, e.Port)
}

// Record is one registry entry.
type Record struct {
	Username string
	Endpoint Endpoint
}

// Registry maps usernames to their advertised endpoints. All methods are
// safe under concurrent callers: sessions register and deregister while the
// checker sweeps and queries run. A single exclusive lock serializes every
// mutation, so a reader can never observe a torn record.
type Registry struct {
	mu      sync.Mutex
	users   map[string]Endpoint
	metrics metrics.DirectoryMetrics
}

// NewRegistry creates an empty registry. The metrics recorder may be nil.
func NewRegistry(m metrics.DirectoryMetrics) *Registry {
	return &Registry{
		users:   make(map[string]Endpoint),
		metrics: m,
	}
}

// Login implements access control. The reference directory accepts any
// credential; replace this to hook up a real user database.
func (r *Registry) Login(username, password string) bool {
	return true
}

// Register inserts or replaces the record for username.
func (r *Registry) Register(username, address string, port int) {
	logger.Info("REGISTER", logger.Username(username), logger.KeyEndpoint, fmt.Sprintf("%s:%d", address, port))

	r.mu.Lock()
	r.users[username] = Endpoint{Address: address, Port: port}
	count := len(r.users)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SetRegisteredUsers(count)
	}
}

// Deregister removes the record for username, if present.
func (r *Registry) Deregister(username string) {
	logger.Info("DEREGISTER", logger.Username(username))

	r.mu.Lock()
	delete(r.users, username)
	count := len(r.users)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SetRegisteredUsers(count)
	}
}

// Query returns the record for username, if registered.
func (r *Registry) Query(username string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep, ok := r.users[username]
	if !ok {
		return Record{}, false
	}
	return Record{Username: username, Endpoint: ep}, true
}

// Snapshot returns every record at a single serialization point. Order is
// stable (sorted by username) to keep query results and sweeps predictable.
func (r *Registry) Snapshot() []Record {
	r.mu.Lock()
	records := make([]Record, 0, len(r.users))
	for name, ep := range r.users {
		records = append(records, Record{Username: name, Endpoint: ep})
	}
	r.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].Username < records[j].Username
	})
	return records
}

// Count returns the number of registered users.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}
