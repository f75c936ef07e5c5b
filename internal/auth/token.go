package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	SchemeLegacy = "legacy"
	SchemeSigned = "signed"

	legacySeparator   = ":"
	legacyFragmentLen = 8
)

// Codec issues and verifies stateless admin credentials.
type Codec interface {
	Issue(now time.Time, ttl time.Duration) (Issued, error)
	// Verify reports the credential expiry (epoch ms) and whether it is valid at now.
	Verify(token string, now time.Time) (int64, bool)
}

func NewCodec(scheme, secret string) (Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret is empty")
	}

	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case "", SchemeLegacy:
		return &legacyCodec{suffix: legacySeparator + secretFragment(secret)}, nil
	case SchemeSigned:
		return &signedCodec{key: []byte(secret)}, nil
	default:
		return nil, fmt.Errorf("unknown token scheme %q", scheme)
	}
}

func secretFragment(secret string) string {
	runes := []rune(secret)
	if len(runes) > legacyFragmentLen {
		runes = runes[:legacyFragmentLen]
	}
	return string(runes)
}

// legacyCodec keeps the wire format existing clients hold:
// base64(json{admin,exp} + ":" + first 8 chars of the secret).
// The fragment is readable by anyone holding a token, so it authenticates nothing
// beyond "issued under this secret prefix".
type legacyCodec struct {
	suffix string
}

type legacyPayload struct {
	Admin bool  `json:"admin"`
	Exp   int64 `json:"exp"`
}

func (c *legacyCodec) Issue(now time.Time, ttl time.Duration) (Issued, error) {
	exp := now.Add(ttl).UnixMilli()
	payload, err := json.Marshal(legacyPayload{Admin: true, Exp: exp})
	if err != nil {
		return Issued{}, fmt.Errorf("encode token payload: %w", err)
	}

	raw := string(payload) + c.suffix
	return Issued{
		Token:     base64.StdEncoding.EncodeToString([]byte(raw)),
		ExpiresAt: exp,
	}, nil
}

func (c *legacyCodec) Verify(token string, now time.Time) (int64, bool) {
	decoded, err := base64.StdEncoding.Strict().DecodeString(strings.TrimSpace(token))
	if err != nil {
		return 0, false
	}

	text := string(decoded)
	if !strings.HasSuffix(text, c.suffix) {
		return 0, false
	}

	var payload struct {
		Admin *bool    `json:"admin"`
		Exp   *float64 `json:"exp"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSuffix(text, c.suffix)), &payload); err != nil {
		return 0, false
	}
	if payload.Admin == nil || !*payload.Admin || payload.Exp == nil {
		return 0, false
	}
	if *payload.Exp <= float64(now.UnixMilli()) {
		return 0, false
	}

	return int64(*payload.Exp), true
}

// signedCodec is the HS256 replacement for the legacy format, keyed by the full secret.
type signedCodec struct {
	key []byte
}

type signedClaims struct {
	Admin           bool  `json:"admin"`
	ExpiresAtMillis int64 `json:"exp_ms"`
	jwt.RegisteredClaims
}

func (c *signedCodec) Issue(now time.Time, ttl time.Duration) (Issued, error) {
	exp := now.Add(ttl).UnixMilli()
	claims := signedClaims{
		Admin:           true,
		ExpiresAtMillis: exp,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(time.UnixMilli(exp)),
		},
	}

	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return Issued{}, fmt.Errorf("sign jwt: %w", err)
	}

	return Issued{Token: encoded, ExpiresAt: exp}, nil
}

func (c *signedCodec) Verify(tokenStr string, now time.Time) (int64, bool) {
	claims := &signedClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(tokenStr), claims, func(token *jwt.Token) (any, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		// expiry is checked below with millisecond precision
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || !token.Valid {
		return 0, false
	}
	if !claims.Admin || claims.ExpiresAtMillis <= now.UnixMilli() {
		return 0, false
	}

	return claims.ExpiresAtMillis, true
}
