package ws

import (
	"sync"
)

// ConnectionLimiter caps concurrent external (non-localhost) sessions.
// Local sessions (127.0.0.1, ::1) are always allowed without limit.
// When a new external session exceeds the cap, the oldest external
// session is evicted.
type ConnectionLimiter struct {
	mu          sync.Mutex
	maxExternal int
	// oldest first
	external []string
	// session ID -> remote IP
	sessions map[string]string
}

// NewConnectionLimiter allows up to maxExternal concurrent non-localhost
// sessions.
func NewConnectionLimiter(maxExternal int) *ConnectionLimiter {
	return &ConnectionLimiter{
		maxExternal: maxExternal,
		external:    make([]string, 0),
		sessions:    make(map[string]string),
	}
}

// TryAdd registers a session and returns the ID of any session evicted
// to make room (empty string if none).
func (cl *ConnectionLimiter) TryAdd(sessionID, remoteIP string) (evictedID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.sessions[sessionID]; exists {
		return ""
	}

	cl.sessions[sessionID] = remoteIP

	if isLocalIP(remoteIP) {
		return ""
	}

	cl.external = append(cl.external, sessionID)

	if len(cl.external) > cl.maxExternal {
		evictedID = cl.external[0]
		cl.external = cl.external[1:]
		delete(cl.sessions, evictedID)
	}

	return evictedID
}

// Remove unregisters a session on disconnect.
func (cl *ConnectionLimiter) Remove(sessionID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	ip, exists := cl.sessions[sessionID]
	if !exists {
		return
	}

	delete(cl.sessions, sessionID)

	if isLocalIP(ip) {
		return
	}

	for i, id := range cl.external {
		if id == sessionID {
			cl.external = append(cl.external[:i], cl.external[i+1:]...)
			break
		}
	}
}

// isLocalIP returns true if the IP address is localhost.
func isLocalIP(ip string) bool {
	return ip == "127.0.0.1" || ip == "::1"
}
