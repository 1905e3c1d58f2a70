package realtime

import (
	"errors"
	"sync"
)

var ErrDirectoryClosed = errors.New("realtime: directory closed")

// Directory tracks live sessions and the conversation rooms they are
// subscribed to. A user may hold any number of sessions at once. It is owned
// by the server: created at startup and closed at shutdown.
type Directory struct {
	mu           sync.RWMutex
	sessions     map[string]*Session            // sessionID -> session
	users        map[string]map[string]*Session // userID -> sessionID -> session
	rooms        map[string]map[string]*Session // conversationID -> sessionID -> session
	sessionRooms map[string]map[string]struct{} // sessionID -> set of conversationIDs
	closed       bool
}

// NewDirectory constructs an empty Directory.
func NewDirectory() *Directory {
	return &Directory{
		sessions:     make(map[string]*Session),
		users:        make(map[string]map[string]*Session),
		rooms:        make(map[string]map[string]*Session),
		sessionRooms: make(map[string]map[string]struct{}),
	}
}

// Add registers a session.
func (d *Directory) Add(s *Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDirectoryClosed
	}
	d.sessions[s.ID] = s
	byUser := d.users[s.UserID]
	if byUser == nil {
		byUser = make(map[string]*Session)
		d.users[s.UserID] = byUser
	}
	byUser[s.ID] = s
	d.sessionRooms[s.ID] = make(map[string]struct{})
	return nil
}

// Remove drops a session and all of its room subscriptions. It returns the
// removed session, or nil if it was not tracked.
func (d *Directory) Remove(sessionID string) *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removeLocked(sessionID)
}

// Get returns a tracked session.
func (d *Directory) Get(sessionID string) (*Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[sessionID]
	return s, ok
}

// Join adds the session to the conversation room. It reports false if the
// session is not tracked.
func (d *Directory) Join(conversationID, sessionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[sessionID]
	if !ok {
		return false
	}
	d.joinLocked(conversationID, s)
	return true
}

// JoinUser adds every live session of userID to the conversation room and
// returns how many sessions it attached.
func (d *Directory) JoinUser(conversationID, userID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, s := range d.users[userID] {
		d.joinLocked(conversationID, s)
		n++
	}
	return n
}

// Leave removes the session from the conversation room.
func (d *Directory) Leave(conversationID, sessionID string) {
	d.mu.Lock()
	d.leaveLocked(conversationID, sessionID)
	d.mu.Unlock()
}

// Members returns a snapshot of the sessions subscribed to the room.
// Callers deliver outside the lock.
func (d *Directory) Members(conversationID string) []*Session {
	d.mu.RLock()
	defer d.mu.RUnlock()

	room := d.rooms[conversationID]
	out := make([]*Session, 0, len(room))
	for _, s := range room {
		out = append(out, s)
	}
	return out
}

// UserSessions returns a snapshot of the live sessions of userID.
func (d *Directory) UserSessions(userID string) []*Session {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Session, 0, len(d.users[userID]))
	for _, s := range d.users[userID] {
		out = append(out, s)
	}
	return out
}

// Rooms returns the conversation ids the session is subscribed to.
func (d *Directory) Rooms(sessionID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.sessionRooms[sessionID]))
	for id := range d.sessionRooms[sessionID] {
		out = append(out, id)
	}
	return out
}

// Len reports the number of live sessions.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

// Close closes every session and rejects further registrations.
func (d *Directory) Close() {
	d.mu.Lock()
	sessions := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.closed = true
	d.sessions = make(map[string]*Session)
	d.users = make(map[string]map[string]*Session)
	d.rooms = make(map[string]map[string]*Session)
	d.sessionRooms = make(map[string]map[string]struct{})
	d.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

func (d *Directory) joinLocked(conversationID string, s *Session) {
	room := d.rooms[conversationID]
	if room == nil {
		room = make(map[string]*Session)
		d.rooms[conversationID] = room
	}
	room[s.ID] = s

	memberships := d.sessionRooms[s.ID]
	if memberships == nil {
		memberships = make(map[string]struct{})
		d.sessionRooms[s.ID] = memberships
	}
	memberships[conversationID] = struct{}{}
}

func (d *Directory) removeLocked(sessionID string) *Session {
	s, ok := d.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(d.sessions, sessionID)

	if byUser := d.users[s.UserID]; byUser != nil {
		delete(byUser, sessionID)
		if len(byUser) == 0 {
			delete(d.users, s.UserID)
		}
	}

	for roomID := range d.sessionRooms[sessionID] {
		d.leaveLocked(roomID, sessionID)
	}
	delete(d.sessionRooms, sessionID)
	return s
}

func (d *Directory) leaveLocked(conversationID string, sessionID string) {
	room := d.rooms[conversationID]
	if room == nil {
		return
	}
	delete(room, sessionID)
	if len(room) == 0 {
		delete(d.rooms, conversationID)
	}
	if memberships, ok := d.sessionRooms[sessionID]; ok {
		delete(memberships, conversationID)
	}
}
