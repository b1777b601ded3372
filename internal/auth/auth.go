// Package auth verifies bearer tokens issued by the identity provider and
// proxies token requests to it.
package auth

import (
	"encoding/base64"
	"errors"
	"net/url"
	"regexp"
	"strings"
)

var (
	// ErrEmptyHeader represents an empty header.
	ErrEmptyHeader = errors.New("empty header")

	// ErrIncorrectHeaderFormat means the formatting of the header was incorrect.
	ErrIncorrectHeaderFormat = errors.New("incorrect header format")

	// ErrInvalidToken means an invalid character was present in the auth token.
	// Only base64 digits are allowed.
	ErrInvalidToken = errors.New("invalid token")

	// ErrMissingParameter means that a required parameter is missing from the request.
	ErrMissingParameter = errors.New("missing parameter")
)

// validTokenRegex matches only valid token characters (i.e. base64 characters).
var validTokenRegex = regexp.MustCompile(`^[a-zA-Z0-9-._~+/]+=*$`)

type authorizationHeaderType string

const (
	authorizationHeaderTypeBasic  authorizationHeaderType = "Basic"
	authorizationHeaderTypeBearer authorizationHeaderType = "Bearer"
)

// ParseBearerAuthorizationHeader parses the Authorization header field
// and returns the authorization token, if present and valid.
//
// The Authorization header should be in the form (RFC6750 2.1)
//
//	b64token    = 1*( ALPHA / DIGIT /
//	                  "-" / "." / "_" / "~" / "+" / "/" ) *"="
//	credentials = "Bearer" 1*SP b64token
func ParseBearerAuthorizationHeader(authHeader string) (string, error) {
	return validateAuthorizationHeaderFormat(authorizationHeaderTypeBearer, authHeader)
}

// ParseBasicAuthorizationHeader returns the client ID and secret sent via
// the HTTP Basic Authorization header (RFC 6749 2.3.1). The secret may be
// empty for public clients.
func ParseBasicAuthorizationHeader(authHeader string) (string, string, error) {
	token, err := validateAuthorizationHeaderFormat(authorizationHeaderTypeBasic, authHeader)
	if err != nil {
		return "", "", err
	}

	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", "", ErrInvalidToken
	}
	clientIDStr, clientSecretStr, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", ErrInvalidToken
	}
	if clientIDStr == "" {
		return "", "", ErrMissingParameter
	}
	clientID, err := url.QueryUnescape(clientIDStr)
	if err != nil {
		return "", "", ErrInvalidToken
	}
	clientSecret, err := url.QueryUnescape(clientSecretStr)
	if err != nil {
		return "", "", ErrInvalidToken
	}

	return clientID, clientSecret, nil
}

func validateAuthorizationHeaderFormat(typ authorizationHeaderType, authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrEmptyHeader
	}
	fields := strings.Fields(authHeader)
	if len(fields) != 2 {
		return "", ErrIncorrectHeaderFormat
	}
	// The scheme is case-insensitive (RFC 7235 2.1).
	if !strings.EqualFold(fields[0], string(typ)) {
		return "", ErrIncorrectHeaderFormat
	}

	token := fields[1]
	if !validTokenRegex.MatchString(token) {
		return "", ErrInvalidToken
	}

	return token, nil
}
