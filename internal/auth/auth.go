package auth

import (
	"errors"
	"net/url"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingCredentials = errors.New("missing credentials")
)

// Identity describes the principal behind a verified credential.
//
// Subject is the JWT `sub` claim; API keys are shared secrets and carry no
// per-user identity, so Subject is empty for them.
type Identity struct {
	Subject string
}

// Verifier checks a client credential (API key or bearer token).
type Verifier interface {
	Verify(credential string) (Identity, error)
}

// Mode selects how clients authenticate to the signaling endpoint.
type Mode string

const (
	ModeNone   Mode = "none"
	ModeAPIKey Mode = "api_key"
	ModeJWT    Mode = "jwt"
)

// CredentialFromQuery extracts the connection credential from the WebSocket
// upgrade request's query string. Browsers cannot set arbitrary headers on a
// WebSocket handshake, so query parameters are the primary channel; an
// in-band auth message is the fallback.
func CredentialFromQuery(mode Mode, q url.Values) (string, error) {
	switch mode {
	case ModeAPIKey:
		if apiKey := q.Get("apiKey"); apiKey != "" {
			return apiKey, nil
		}
	case ModeJWT:
		if token := q.Get("token"); token != "" {
			return token, nil
		}
	}
	return "", ErrMissingCredentials
}
