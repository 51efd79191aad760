package console

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// authFailureWindow/authFailureBurst/authBlockDuration implement the
// token-bucket auth limiter spec §4.6/§8 describes: "3 failures within
// 60 s within 60 s → 90 s block per peer identity".
const (
	authFailureWindow = 60 * time.Second
	authFailureBurst  = 3
	authBlockDuration = 90 * time.Second
)

type peerState struct {
	limiter      *rate.Limiter
	blockedUntil time.Time
}

// AuthLimiter tracks failed-auth attempts per peer identity (console
// transport + remote address, or UART line for serial) using a
// golang.org/x/time/rate token bucket: each failure consumes one of
// three tokens that refill over the 60s window; once the bucket is
// empty the peer is blocked outright for 90s.
type AuthLimiter struct {
	mu    sync.Mutex
	peers map[string]*peerState
}

// NewAuthLimiter returns an empty limiter.
func NewAuthLimiter() *AuthLimiter {
	return &AuthLimiter{peers: make(map[string]*peerState)}
}

func (a *AuthLimiter) stateFor(peer string) *peerState {
	if s, ok := a.peers[peer]; ok {
		return s
	}
	s := &peerState{limiter: rate.NewLimiter(rate.Every(authFailureWindow/authFailureBurst), authFailureBurst)}
	a.peers[peer] = s
	return s
}

// Blocked reports whether peer is currently inside its 90s penalty box;
// a blocked peer's line never reaches the parser (spec §8: "4th is
// rejected without reaching parser for 90 s").
func (a *AuthLimiter) Blocked(peer string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.stateFor(peer)
	return time.Now().Before(s.blockedUntil)
}

// RecordFailure registers one failed auth attempt, returning true if
// this failure tipped the peer into a new 90s block.
func (a *AuthLimiter) RecordFailure(peer string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.stateFor(peer)
	allowed := s.limiter.Allow()
	if !allowed || s.limiter.Tokens() < 1 {
		s.blockedUntil = time.Now().Add(authBlockDuration)
		return true
	}
	return false
}

// RecordSuccess clears a peer's failure history once it authenticates.
func (a *AuthLimiter) RecordSuccess(peer string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.peers, peer)
}
