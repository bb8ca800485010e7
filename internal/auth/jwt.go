package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims are the JWT claims relay issues and verifies. Workspace and user ids
// are carried as string UUIDs.
type Claims struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates bearer tokens against a JWKS document (RS256) or a
// shared secret (HS256, development only).
type JWTVerifier struct {
	keys     map[string]*rsa.PublicKey
	secret   []byte
	issuer   string
	audience string
}

type jwksDoc struct {
	Keys []struct {
		Kid string `json:"kid"`
		Kty string `json:"kty"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

// NewJWTVerifier builds a verifier from a base64-encoded JWKS document.
// jwksB64 may be empty when a shared secret is used instead.
func NewJWTVerifier(jwksB64, secret, issuer, audience string) (*JWTVerifier, error) {
	v := &JWTVerifier{
		keys:     make(map[string]*rsa.PublicKey),
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
	}
	if jwksB64 != "" {
		raw, err := base64.StdEncoding.DecodeString(jwksB64)
		if err != nil {
			return nil, fmt.Errorf("decode JWKS: %w", err)
		}
		var doc jwksDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse JWKS: %w", err)
		}
		for _, k := range doc.Keys {
			if k.Kty != "RSA" {
				continue
			}
			pub, err := parseRSAKey(k.N, k.E)
			if err != nil {
				return nil, fmt.Errorf("parse JWKS key %s: %w", k.Kid, err)
			}
			v.keys[k.Kid] = pub
		}
	}
	if len(v.keys) == 0 && len(v.secret) == 0 {
		return nil, errors.New("no JWKS keys and no secret configured")
	}
	return v, nil
}

func parseRSAKey(nB64, eB64 string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, err
	}
	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}

// Verify parses and validates a bearer token, returning the principal.
func (v *JWTVerifier) Verify(tokenString string) (*UserContext, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "HS256"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodRSA:
			kid, _ := t.Header["kid"].(string)
			if key, ok := v.keys[kid]; ok {
				return key, nil
			}
			return nil, fmt.Errorf("unknown key id %q", kid)
		case *jwt.SigningMethodHMAC:
			if len(v.secret) == 0 {
				return nil, errors.New("HS256 not configured")
			}
			return v.secret, nil
		}
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad user_id", ErrInvalidToken)
	}
	workspaceID, err := uuid.Parse(claims.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad workspace_id", ErrInvalidToken)
	}

	return &UserContext{
		UserID:      userID,
		WorkspaceID: workspaceID,
		Email:       claims.Email,
		Role:        claims.Role,
	}, nil
}

// IssueToken mints an HS256 token for tests and local development.
func (v *JWTVerifier) IssueToken(uc *UserContext, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", errors.New("no signing secret configured")
	}
	now := time.Now()
	claims := &Claims{
		UserID:      uc.UserID.String(),
		WorkspaceID: uc.WorkspaceID.String(),
		Email:       uc.Email,
		Role:        uc.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Audience:  jwt.ClaimStrings{v.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// ExtractBearerToken pulls the token out of an Authorization header value.
func ExtractBearerToken(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("authorization header must be 'Bearer <token>'")
	}
	return strings.TrimSpace(parts[1]), nil
}
