package quota

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultCookieName is the cookie carrying the signed usage token.
const DefaultCookieName = "coverage_usage"

const issuer = "coverage-gateway"

type usageClaims struct {
	jwt.RegisteredClaims
	Usage string `json:"usage"`
}

// CookieCodec signs usage tokens so clients can hold them without being able
// to lower their own count.
type CookieCodec struct {
	name       string
	signingKey []byte
	secure     bool
}

// NewCookieCodec creates a codec. An empty name uses DefaultCookieName.
func NewCookieCodec(name, secret string, secure bool) *CookieCodec {
	if name == "" {
		name = DefaultCookieName
	}
	return &CookieCodec{name: name, signingKey: []byte(secret), secure: secure}
}

// Name returns the cookie name.
func (c *CookieCodec) Name() string { return c.name }

// Encode signs the token, expiring a day after its reset.
func (c *CookieCodec) Encode(t Token, resetAt time.Time) (string, error) {
	claims := usageClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(resetAt.Add(24 * time.Hour)),
		},
		Usage: t.String(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign usage token: %w", err)
	}
	return signed, nil
}

// Decode verifies a signed value and returns the token it carries.
func (c *CookieCodec) Decode(value string) (Token, error) {
	claims := &usageClaims{}
	token, err := jwt.ParseWithClaims(value, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.signingKey, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return Token{}, fmt.Errorf("failed to parse usage token: %w", err)
	}
	if !token.Valid {
		return Token{}, fmt.Errorf("invalid usage token")
	}
	return ParseToken(claims.Usage), nil
}

// Read extracts the token from the request cookie. Missing or tampered cookies
// yield a fresh token.
func (c *CookieCodec) Read(r *http.Request) Token {
	cookie, err := r.Cookie(c.name)
	if err != nil || cookie.Value == "" {
		return Token{}
	}
	t, err := c.Decode(cookie.Value)
	if err != nil {
		return Token{}
	}
	return t
}

// Write sets the signed token cookie on the response.
func (c *CookieCodec) Write(w http.ResponseWriter, t Token, resetAt time.Time) error {
	value, err := c.Encode(t, resetAt)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    value,
		Path:     "/",
		Expires:  resetAt.Add(24 * time.Hour),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
