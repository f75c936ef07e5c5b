package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultTokenTTL    = 24 * time.Hour
	defaultMaxAttempts = 5
	defaultLockWindow  = time.Hour
)

var (
	ErrPasswordRequired = errors.New("password required")
	ErrNotConfigured    = errors.New("admin password not configured")
)

// ErrInvalidPassword is returned for a wrong password that did not trip the lock.
type ErrInvalidPassword struct {
	Remaining int
}

func (e ErrInvalidPassword) Error() string {
	return fmt.Sprintf("Invalid password. %d attempts remaining.", e.Remaining)
}

// ErrLoginLocked reports an active lock. Fresh is set when this very attempt
// caused the lock.
type ErrLoginLocked struct {
	Until            time.Time
	RemainingMinutes int
	Fresh            bool
}

func (e ErrLoginLocked) Error() string {
	if e.Fresh {
		return fmt.Sprintf("Too many failed attempts. Account locked for %s.", lockLabel(e.RemainingMinutes))
	}
	return fmt.Sprintf("Too many failed attempts. Try again in %d minutes.", e.RemainingMinutes)
}

type Service struct {
	attempts     AttemptStore
	codec        Codec
	password     string
	passwordHash []byte
	maxAttempts  int
	lockDuration time.Duration
	tokenTTL     time.Duration
	now          func() time.Time
}

func NewService(attempts AttemptStore, codec Codec, password string) *Service {
	return &Service{
		attempts:     attempts,
		codec:        codec,
		password:     password,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockWindow,
		tokenTTL:     defaultTokenTTL,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithPasswordHash makes the bcrypt hash authoritative over the plain password.
func (s *Service) WithPasswordHash(hash string) {
	if hash != "" {
		s.passwordHash = []byte(hash)
	}
}

func (s *Service) WithSecurityConfig(maxAttempts int, lockDuration time.Duration, tokenTTL time.Duration) {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.lockDuration = lockDuration
	}
	if tokenTTL > 0 {
		s.tokenTTL = tokenTTL
	}
}

// Login runs the guard for one attempt from ip. The lock is checked before the
// password, so a correct password does not bypass an active lock.
func (s *Service) Login(ctx context.Context, ip, password string) (Issued, error) {
	now := s.now()

	attempt, found, err := s.attempts.GetAttempt(ctx, ip)
	if err != nil {
		return Issued{}, err
	}
	if found && attempt.LockedUntil != nil {
		if attempt.lockedAt(now) {
			return Issued{}, ErrLoginLocked{
				Until:            *attempt.LockedUntil,
				RemainingMinutes: minutesUntil(now, *attempt.LockedUntil),
			}
		}
		if err := s.attempts.ResetAttempts(ctx, ip); err != nil {
			return Issued{}, err
		}
	}

	if password == "" {
		return Issued{}, ErrPasswordRequired
	}
	if s.password == "" && len(s.passwordHash) == 0 {
		return Issued{}, ErrNotConfigured
	}

	if s.passwordMatches(password) {
		if err := s.attempts.ResetAttempts(ctx, ip); err != nil {
			return Issued{}, err
		}
		return s.codec.Issue(now, s.tokenTTL)
	}

	attempt, err = s.attempts.RegisterFailure(ctx, ip, s.maxAttempts, s.lockDuration, now)
	if err != nil {
		return Issued{}, err
	}
	if attempt.lockedAt(now) {
		return Issued{}, ErrLoginLocked{
			Until:            *attempt.LockedUntil,
			RemainingMinutes: minutesUntil(now, *attempt.LockedUntil),
			Fresh:            attempt.Count >= s.maxAttempts,
		}
	}

	remaining := s.maxAttempts - attempt.Count
	if remaining < 0 {
		remaining = 0
	}
	return Issued{}, ErrInvalidPassword{Remaining: remaining}
}

// Verify reports the expiry (epoch ms) of a valid token.
func (s *Service) Verify(token string) (int64, bool) {
	if token == "" {
		return 0, false
	}
	return s.codec.Verify(token, s.now())
}

func (s *Service) passwordMatches(password string) bool {
	if len(s.passwordHash) > 0 {
		return bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1
}

func minutesUntil(now, until time.Time) int {
	minutes := int(math.Ceil(until.Sub(now).Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

func lockLabel(minutes int) string {
	switch {
	case minutes == 60:
		return "1 hour"
	case minutes%60 == 0:
		return fmt.Sprintf("%d hours", minutes/60)
	case minutes == 1:
		return "1 minute"
	default:
		return fmt.Sprintf("%d minutes", minutes)
	}
}
