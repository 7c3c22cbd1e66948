package auth

import "errors"

// Method is how a request authenticated.
type Method string

const (
	MethodBasic Method = "basic"  // username/password
	MethodToken Method = "bearer" // static API token
)

// Result represents the result of authentication
type Result struct {
	Success  bool   `json:"success"`
	Method   Method `json:"method,omitempty"`
	Username string `json:"username,omitempty"`
}

var (
	ErrNoCredentials      = errors.New("no credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)
