// Package auth issues and verifies the bearer tokens used by the HTTP API and
// the WebSocket handshake.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	adapter "github.com/gwatts/gin-adapter"

	"github.com/semanticallynull/ridehail-backend/internal/apperr"
	"github.com/semanticallynull/ridehail-backend/user"
)

// Identity is the authenticated caller carried by a token.
type Identity struct {
	UserID uuid.UUID
	Role   user.Role
}

type Config struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// Claims is the payload of an issued token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs HS256 tokens.
type Issuer struct {
	cfg Config
	now func() time.Time
}

func NewIssuer(cfg Config) *Issuer {
	return &Issuer{cfg: cfg, now: time.Now}
}

func (i *Issuer) Issue(id Identity) (string, error) {
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: id.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			Issuer:    i.cfg.Issuer,
			Audience:  jwt.ClaimStrings{i.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.TTL)),
		},
	})

	signed, err := token.SignedString([]byte(i.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// roleClaims is the custom part of a validated token.
type roleClaims struct {
	Role string `json:"role"`
}

func (c *roleClaims) Validate(context.Context) error {
	if _, ok := user.ParseRole(c.Role); !ok {
		return fmt.Errorf("unknown role %q", c.Role)
	}
	return nil
}

var errInvalidToken = apperr.New(apperr.ErrUnauthenticated, "INVALID_TOKEN", "token is missing or invalid")

// Verifier checks tokens produced by an Issuer with the same Config.
type Verifier struct {
	v *validator.Validator
}

func NewVerifier(cfg Config) (*Verifier, error) {
	secret := []byte(cfg.Secret)
	v, err := validator.New(
		func(context.Context) (interface{}, error) { return secret, nil },
		validator.HS256,
		cfg.Issuer,
		[]string{cfg.Audience},
		validator.WithCustomClaims(func() validator.CustomClaims { return &roleClaims{} }),
		validator.WithAllowedClockSkew(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set up validator: %w", err)
	}
	return &Verifier{v: v}, nil
}

// Verify validates token and returns the identity it carries.
func (v *Verifier) Verify(ctx context.Context, token string) (Identity, error) {
	claims, err := v.v.ValidateToken(ctx, token)
	if err != nil {
		return Identity{}, errInvalidToken
	}
	validated, ok := claims.(*validator.ValidatedClaims)
	if !ok {
		return Identity{}, errInvalidToken
	}
	return FromClaims(validated)
}

// FromClaims extracts an Identity from claims validated by a Verifier.
func FromClaims(claims *validator.ValidatedClaims) (Identity, error) {
	id, err := uuid.Parse(claims.RegisteredClaims.Subject)
	if err != nil {
		return Identity{}, errInvalidToken
	}
	rc, ok := claims.CustomClaims.(*roleClaims)
	if !ok {
		return Identity{}, errInvalidToken
	}
	role, ok := user.ParseRole(rc.Role)
	if !ok {
		return Identity{}, errInvalidToken
	}
	return Identity{UserID: id, Role: role}, nil
}

// Middleware rejects requests without a valid bearer token. The validated
// claims are stored in the request context under jwtmiddleware.ContextKey{}.
func (v *Verifier) Middleware() gin.HandlerFunc {
	m := jwtmiddleware.New(v.v.ValidateToken, jwtmiddleware.WithErrorHandler(writeUnauthorized))
	return adapter.Wrap(m.CheckJWT)
}

func writeUnauthorized(w http.ResponseWriter, _ *http.Request, err error) {
	message := "token is invalid"
	if errors.Is(err, jwtmiddleware.ErrJWTMissing) {
		message = "authorization header is required"
	}
	body, _ := json.Marshal(map[string]string{"code": "UNAUTHORIZED", "message": message})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write(body)
}
