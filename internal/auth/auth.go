package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

/*
LEARNING: HANDSHAKE AUTHENTICATION

A socket is only opened for a caller that proves two things:
  1. who they are  - an HS256 token whose "id" claim is the user id
  2. where they go - that user is a member of the requested schema

Failing either closes the handshake before the WebSocket upgrade, so the
collaboration engine only ever sees resolved (user, schema) pairs.
*/

var (
	// ErrUnauthorized means the token is missing, malformed, expired or forged
	ErrUnauthorized = errors.New("auth: invalid or expired token")

	// ErrForbidden means the user is valid but not a member of the schema
	ErrForbidden = errors.New("auth: user is not a member of this schema")
)

const userIDClaim = "id"

// Identity is the resolved caller of one connection
type Identity struct {
	UserID   string
	SchemaID string
}

// MembershipChecker answers whether a user belongs to a schema
type MembershipChecker interface {
	IsMember(ctx context.Context, userID, schemaID string) (bool, error)
}

// TokenVerifier validates access tokens and schema membership
type TokenVerifier struct {
	secret  []byte
	members MembershipChecker
	parser  *gojwt.Parser
}

// NewTokenVerifier creates a verifier for tokens signed with secret.
// A nil members skips the membership check.
func NewTokenVerifier(secret string, members MembershipChecker) *TokenVerifier {
	return &TokenVerifier{
		secret:  []byte(secret),
		members: members,
		parser:  gojwt.NewParser(gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()})),
	}
}

// UserID validates token and returns its user id
func (v *TokenVerifier) UserID(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	claims := gojwt.MapClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*gojwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	userID, _ := claims[userIDClaim].(string)
	if userID == "" {
		return "", fmt.Errorf("%w: token has no %q claim", ErrUnauthorized, userIDClaim)
	}
	return userID, nil
}

// Authenticate resolves token into an identity bound to schemaID
func (v *TokenVerifier) Authenticate(ctx context.Context, token, schemaID string) (Identity, error) {
	if strings.TrimSpace(schemaID) == "" {
		return Identity{}, fmt.Errorf("%w: empty schema id", ErrForbidden)
	}

	userID, err := v.UserID(token)
	if err != nil {
		return Identity{}, err
	}

	if v.members != nil {
		ok, err := v.members.IsMember(ctx, userID, schemaID)
		if err != nil {
			return Identity{}, fmt.Errorf("failed to check membership: %w", err)
		}
		if !ok {
			return Identity{}, ErrForbidden
		}
	}

	return Identity{UserID: userID, SchemaID: schemaID}, nil
}

// IssueToken signs an HS256 access token for userID valid for ttl
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		userIDClaim: userID,
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
	})

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// TokenFromRequest reads the token from the "token" query parameter or an
// "Authorization: Bearer" header. Browsers cannot set headers on a
// WebSocket handshake, hence the query parameter.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
