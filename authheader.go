package main

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// Scheme is an Authorization header scheme accepted by this API.
type Scheme string

const (
	SchemeBearer Scheme = "Bearer"
	SchemeBasic  Scheme = "Basic"
)

// PresentedCredential is what a caller put in the Authorization header:
// either a BearerCredential or a BasicCredential.
type PresentedCredential interface {
	scheme() Scheme
}

// BearerCredential carries an opaque access token.
type BearerCredential struct {
	AccessToken string
}

// BasicCredential carries an API client's id and secret.
type BasicCredential struct {
	ClientID     string
	ClientSecret string
}

func (BearerCredential) scheme() Scheme { return SchemeBearer }
func (BasicCredential) scheme() Scheme  { return SchemeBasic }

// parseAuthorizationHeader parses the Authorization header of h, accepting only
// the allowed schemes. It never touches storage.
func parseAuthorizationHeader(h http.Header, allowed ...Scheme) (PresentedCredential, error) {
	values := h.Values("Authorization")
	if len(values) != 1 {
		return nil, errInvalidAuthHeader
	}

	// exactly one separating space, no trimming
	parts := strings.Split(values[0], " ")
	if len(parts) != 2 {
		return nil, errInvalidAuthHeader
	}
	scheme, payload := Scheme(parts[0]), parts[1]

	if !schemeAllowed(scheme, allowed) {
		return nil, errInvalidOrUnknownAuthMethod
	}

	switch scheme {
	case SchemeBearer:
		return BearerCredential{AccessToken: payload}, nil
	case SchemeBasic:
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, errNoClientCredGiven
		}
		pair := strings.Split(string(decoded), ":")
		if len(pair) != 2 || pair[0] == "" || pair[1] == "" {
			return nil, errNoClientCredGiven
		}
		return BasicCredential{ClientID: pair[0], ClientSecret: pair[1]}, nil
	default:
		return nil, errInvalidOrUnknownAuthMethod
	}
}

func schemeAllowed(s Scheme, allowed []Scheme) bool {
	for _, a := range allowed {
		if a == s {
			return true
		}
	}
	return false
}
