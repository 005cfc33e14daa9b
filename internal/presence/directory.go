// Package presence maps user identities to their live connection.
package presence

import "sync"

// Directory tracks which connection currently represents each user. A user
// has at most one connection at a time: a newer connection replaces the older
// one, and removing a replaced connection leaves the newer mapping intact.
type Directory struct {
	mu     sync.RWMutex
	byUser map[string]string // user_id -> conn_id
	byConn map[string]string // conn_id -> user_id
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{
		byUser: make(map[string]string),
		byConn: make(map[string]string),
	}
}

// SetOnline maps userID to connID, replacing any previous connection for the
// user. It returns the replaced connection ID, if any.
func (d *Directory) SetOnline(userID, connID string) (replaced string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.byUser[userID]; ok && prev != connID {
		delete(d.byConn, prev)
		replaced = prev
	}

	// A connection announcing a different user stops representing the old one.
	if prevUser, ok := d.byConn[connID]; ok && prevUser != userID {
		if d.byUser[prevUser] == connID {
			delete(d.byUser, prevUser)
		}
	}

	d.byUser[userID] = connID
	d.byConn[connID] = userID
	return replaced
}

// Remove forgets connID. Removing a connection that was already replaced by
// a newer one for the same user is a no-op.
func (d *Directory) Remove(connID string) (userID string, removed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	userID, ok := d.byConn[connID]
	if !ok {
		return "", false
	}
	delete(d.byConn, connID)
	if d.byUser[userID] == connID {
		delete(d.byUser, userID)
	}
	return userID, true
}

// Lookup returns the user's current connection.
func (d *Directory) Lookup(userID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	connID, ok := d.byUser[userID]
	return connID, ok
}

// Count returns the number of users online.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byUser)
}
