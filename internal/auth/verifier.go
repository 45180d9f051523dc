// Package auth provides token verification helpers.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the authenticated caller behind a socket or HTTP request.
type Principal struct {
	UserID string
	Teams  []string
	Role   string
}

// IsTeamMember reports whether the principal belongs to teamID.
func (p Principal) IsTeamMember(teamID string) bool {
	return teamID != "" && slices.Contains(p.Teams, teamID)
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// Claims is the JWT body issued to clients. Teams travels as "tms".
type Claims struct {
	Teams []string `json:"tms"`
	Role  string   `json:"rol,omitempty"`
	jwt.RegisteredClaims
}

var (
	ErrMissingToken = errors.New("auth: missing token")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Verifier validates tokens.
// Supports modes: dev (no verify, "userId:team1,team2") and hmac (HS256 JWT).
type Verifier struct {
	Mode       string
	HMACSecret []byte
	Issuer     string
}

// NewVerifier returns a verifier for mode.
func NewVerifier(mode, secret, issuer string) *Verifier {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{Mode: mode, HMACSecret: []byte(secret), Issuer: issuer}
}

// Verify checks token and extracts the principal.
func (v *Verifier) Verify(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrMissingToken
	}
	switch v.Mode {
	case "dev":
		user, teams, _ := strings.Cut(token, ":")
		if user == "" {
			return Principal{}, fmt.Errorf("%w: expected userId:team1,team2", ErrInvalidToken)
		}
		var tms []string
		for _, t := range strings.Split(teams, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tms = append(tms, t)
			}
		}
		return Principal{UserID: user, Teams: tms, Role: "user"}, nil
	case "hmac":
		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
		if v.Issuer != "" {
			opts = append(opts, jwt.WithIssuer(v.Issuer))
		}
		var claims Claims
		_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return v.HMACSecret, nil }, opts...)
		if err != nil {
			return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if claims.Subject == "" {
			return Principal{}, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
		}
		role := strings.ToLower(claims.Role)
		if role == "" {
			role = "user"
		}
		return Principal{UserID: claims.Subject, Teams: claims.Teams, Role: role}, nil
	default:
		return Principal{}, fmt.Errorf("auth: unsupported mode %q", v.Mode)
	}
}

// Issue signs an HS256 token for p; used by tests and the demo client.
func (v *Verifier) Issue(p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Teams: p.Teams,
		Role:  p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    v.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.HMACSecret)
}
