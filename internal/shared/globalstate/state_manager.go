package globalstate

import "sync"

// StatusManager holds the human-readable server state shown by the console
// and returned by AppServer.Status.
type StatusManager struct {
	mu     sync.RWMutex
	status string
}

// GlobalStatus is the process-wide status.
var GlobalStatus = &StatusManager{status: "Initializing..."}

// Set replaces the status.
func (sm *StatusManager) Set(newStatus string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.status = newStatus
}

// Get returns the current status.
func (sm *StatusManager) Get() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.status
}
