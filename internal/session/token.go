package session

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-account/pkg/utilities"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("you do not have permission to access this resource")
)

// AccountView is the account projection carried inside a session token.
type AccountView struct {
	ID         int64       `json:"id"`
	Email      string      `json:"email"`
	Username   string      `json:"username"`
	Role       entity.Role `json:"role"`
	IsVerified bool        `json:"isVerified"`
}

type Claims struct {
	User AccountView `json:"user"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	node   int64
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration, snowflakeNode int64) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, node: snowflakeNode, now: time.Now}
}

// Issue creates a token for the account that expires after the configured TTL.
func (i *Issuer) Issue(a *entity.Account) (string, error) {
	now := i.now()
	claims := Claims{
		User: AccountView{
			ID:         a.ID,
			Email:      a.Email,
			Username:   a.Username,
			Role:       a.Role,
			IsVerified: a.IsVerified,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(a.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        utilities.NewSnowflakeIDWithNode(i.node),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses token and checks signature and expiry. Any failure is ErrUnauthenticated.
func (i *Issuer) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return &claims, nil
}

// Permit allows role when required is empty or contains it.
func Permit(required []entity.Role, role entity.Role) error {
	if len(required) == 0 {
		return nil
	}
	for _, r := range required {
		if r == role {
			return nil
		}
	}
	return ErrForbidden
}
