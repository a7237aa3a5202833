package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var ErrInvalidToken = errors.New("invalid token")
var ErrExpiredToken = errors.New("expired token")

// Claims bind a realtime token to one player session with a wildcard
// room-channel capability and an expiry.
type Claims struct {
	PlayerID   string `json:"player_id"`
	Capability string `json:"capability"`
	ExpiresAt  int64  `json:"expires_at"`
}

const RoomWildcard = "room:*"

// AllowsChannel checks a channel name against the capability. Only the
// trailing-wildcard form is supported.
func (c *Claims) AllowsChannel(name string) bool {
	if c.Capability == name {
		return true
	}
	prefix, ok := strings.CutSuffix(c.Capability, "*")
	return ok && strings.HasPrefix(name, prefix)
}

type Minter struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewMinter(secret string, ttl time.Duration) *Minter {
	return &Minter{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Mint issues a compact signed token: base64(claims) "." base64(hmac).
func (m *Minter) Mint(playerID string) (string, error) {
	claims := Claims{
		PlayerID:   playerID,
		Capability: RoomWildcard,
		ExpiresAt:  m.now().Add(m.ttl).Unix(),
	}
	body, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(body)
	return encoded + "." + m.sign(encoded), nil
}

// Verify checks the signature and expiry and returns the claims.
func (m *Minter) Verify(tok string) (*Claims, error) {
	encoded, sig, found := strings.Cut(tok, ".")
	if !found {
		return nil, ErrInvalidToken
	}
	if !hmac.Equal([]byte(m.sign(encoded)), []byte(sig)) {
		return nil, ErrInvalidToken
	}

	body, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if m.now().Unix() >= claims.ExpiresAt {
		return nil, ErrExpiredToken
	}
	return &claims, nil
}

func (m *Minter) sign(encoded string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
