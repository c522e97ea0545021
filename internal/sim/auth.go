package sim

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apiclient"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/session"
)

// Claims is the token payload issued by the simulator.
type Claims struct {
	jwt.RegisteredClaims
	UserType string `json:"user_type"`
}

// Account is a login the simulator accepts.
type Account struct {
	Username string
	Password string
	UserType string
}

// DefaultAccounts are the logins of a fresh simulator.
var DefaultAccounts = []Account{
	{Username: "admin", Password: "admin", UserType: session.UserTypeAdmin},
	{Username: "volunteer", Password: "volunteer", UserType: session.UserTypeVolunteer},
	{Username: "doctor", Password: "doctor", UserType: session.UserTypeDoctor},
}

// Issuer signs and checks HS256 tokens.
type Issuer struct {
	key      []byte
	ttl      time.Duration
	accounts map[string]Account
}

// NewIssuer creates an Issuer for accounts.
func NewIssuer(key []byte, ttl time.Duration, accounts []Account) *Issuer {
	m := make(map[string]Account, len(accounts))
	for _, a := range accounts {
		m[a.Username] = a
	}
	return &Issuer{key: key, ttl: ttl, accounts: m}
}

// Login checks credentials and issues a token.
func (i *Issuer) Login(username, password string) (*apiclient.LoginResponse, error) {
	a, ok := i.accounts[username]
	if !ok || a.Password != password {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid username or password")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.Username,
			Issuer:    "campdesk-sim",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		UserType: a.UserType,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return nil, err
	}
	return &apiclient.LoginResponse{Token: token, UserType: a.UserType}, nil
}

// Middleware rejects requests without a valid bearer token, or whose
// X-User-Type header disagrees with the token.
func (i *Issuer) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				return i.key, nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}
			if ut := c.Request().Header.Get(apiclient.UserTypeHeader); ut != "" && ut != claims.UserType {
				return echo.NewHTTPError(http.StatusUnauthorized, "user type does not match token")
			}

			c.Set("user_id", claims.Subject)
			c.Set("user_type", claims.UserType)
			return next(c)
		}
	}
}
