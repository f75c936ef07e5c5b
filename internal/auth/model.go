package auth

import "time"

// Attempt is the failure counter kept per client IP.
type Attempt struct {
	IP           string
	Count        int
	FirstAttempt time.Time
	LockedUntil  *time.Time
}

func (a Attempt) lockedAt(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// Issued is a freshly minted bearer credential. ExpiresAt is epoch milliseconds.
type Issued struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}
