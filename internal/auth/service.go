package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/loykin/samgo/internal/config"
)

// Authenticator checks API requests against the configured credentials.
// A nil or disabled config lets every request through.
type Authenticator struct {
	enabled  bool
	username string
	hash     []byte
	tokens   [][]byte
}

func New(cfg *config.AuthConfig) *Authenticator {
	a := &Authenticator{}
	if cfg == nil || !cfg.Enabled {
		return a
	}
	a.enabled = true
	a.username = cfg.Username
	a.hash = []byte(cfg.PasswordHash)
	for _, t := range cfg.Tokens {
		if t != "" {
			a.tokens = append(a.tokens, []byte(t))
		}
	}
	return a
}

func (a *Authenticator) Enabled() bool { return a.enabled }

// Authenticate tries a bearer token first, then basic credentials.
func (a *Authenticator) Authenticate(r *http.Request) (Result, error) {
	if !a.enabled {
		return Result{Success: true}, nil
	}
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			if a.validToken([]byte(parts[1])) {
				return Result{Success: true, Method: MethodToken}, nil
			}
			return Result{}, ErrInvalidCredentials
		}
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return Result{}, ErrNoCredentials
	}
	if len(a.hash) == 0 || subtle.ConstantTimeCompare([]byte(user), []byte(a.username)) != 1 {
		return Result{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(pass)); err != nil {
		return Result{}, ErrInvalidCredentials
	}
	return Result{Success: true, Method: MethodBasic, Username: user}, nil
}

func (a *Authenticator) validToken(tok []byte) bool {
	ok := false
	for _, t := range a.tokens {
		if subtle.ConstantTimeCompare(tok, t) == 1 {
			ok = true
		}
	}
	return ok
}

// HashPassword returns the bcrypt hash to put in server.auth.password_hash.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
