package sync

import (
	gosync "sync"

	"github.com/google/uuid"
)

// Token identifies one acquisition of a SyncLock.
type Token string

// SyncLock marks that a remote-originated view application is in progress.
// Every acquisition mints a fresh token and only the holder of the current
// token can release it, so a superseded completion cannot clear a lock taken
// by a later application.
type SyncLock struct {
	mu      gosync.Mutex
	ongoing bool
	token   Token
}

// Acquire marks the lock ongoing under a newly minted token.
func (l *SyncLock) Acquire() Token {
	t := Token(uuid.NewString())

	l.mu.Lock()
	defer l.mu.Unlock()
	l.ongoing = true
	l.token = t
	return t
}

// Release clears the lock if t is still the current token. It reports whether
// the lock was released.
func (l *SyncLock) Release(t Token) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.ongoing || l.token != t {
		return false
	}
	l.ongoing = false
	return true
}

// Ongoing reports whether an application is in progress.
func (l *SyncLock) Ongoing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ongoing
}

// Current returns the most recently minted token.
func (l *SyncLock) Current() Token {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.token
}
