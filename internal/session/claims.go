package session

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alanyoungcy/orderdesk/internal/domain"
)

// Claims is the identity carried in a service-issued token.
type Claims struct {
	User      domain.User
	ExpiresAt *time.Time
}

// ParseClaims decodes the payload of a JWT without verifying its signature.
// The client does not hold the signing key; the service rejects forged or
// expired tokens on the next protected call.
func ParseClaims(token string) (Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return Claims{}, fmt.Errorf("session: parse token: %w", err)
	}

	var c Claims
	if name, ok := mc["username"].(string); ok {
		c.User.Username = name
	}
	switch id := mc["user_id"].(type) {
	case float64:
		c.User.ID = int64(id)
	case string:
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			c.User.ID = n
		}
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time.UTC()
		c.ExpiresAt = &t
	}
	return c, nil
}
