package insider

import "sync"

// Session is the set of wallets already analyzed during one scan cycle, so a
// wallet holding positions in several scanned markets is scored once.
type Session struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{seen: make(map[string]struct{})}
}

// Claim marks the wallet as seen and reports whether it was new.
func (s *Session) Claim(wallet string) bool {
	if s == nil {
		return true
	}
	key := normalizeAddress(wallet)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// Seen reports whether the wallet was already claimed.
func (s *Session) Seen(wallet string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[normalizeAddress(wallet)]
	return ok
}

// Len returns the number of claimed wallets.
func (s *Session) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
