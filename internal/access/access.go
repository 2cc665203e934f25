package access

import "sync"

// Controller answers whether an identity may perform privileged utility
// operations (pricing, bill issuance, account deactivation). Ledgers receive
// a Controller at construction and never infer privilege from caller-side
// state.
type Controller interface {
	IsPrivileged(identity string) bool
}

// StaticList is a fixed operator allowlist.
type StaticList struct {
	mu      sync.RWMutex
	members map[string]struct{}
}

func NewStaticList(identities ...string) *StaticList {
	l := &StaticList{members: make(map[string]struct{}, len(identities))}
	for _, id := range identities {
		l.members[id] = struct{}{}
	}
	return l
}

func (l *StaticList) IsPrivileged(identity string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.members[identity]
	return ok
}

// Grant adds an identity to the allowlist.
func (l *StaticList) Grant(identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.members[identity] = struct{}{}
}

// Revoke removes an identity from the allowlist.
func (l *StaticList) Revoke(identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.members, identity)
}

var _ Controller = (*StaticList)(nil)
