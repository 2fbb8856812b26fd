package worker

import "sync"

// maxDialogueLocks bounds the lock map; above it, unlocked entries are
// purged lazily on the next acquisition.
const maxDialogueLocks = 500

// dialogueLocks serializes follow-up and inbound handling per dialogue.
type dialogueLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newDialogueLocks() *dialogueLocks {
	return &dialogueLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *dialogueLocks) get(dialogueID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.locks) > maxDialogueLocks {
		l.evictUnlocked()
	}
	m, ok := l.locks[dialogueID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[dialogueID] = m
	}
	return m
}

// evictUnlocked removes entries nobody currently holds. Held locks survive,
// so a dialogue mid-processing keeps its mutex identity.
func (l *dialogueLocks) evictUnlocked() {
	for id, m := range l.locks {
		if m.TryLock() {
			m.Unlock()
			delete(l.locks, id)
		}
	}
}

func (l *dialogueLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
