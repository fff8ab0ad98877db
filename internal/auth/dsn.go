// Package auth validates the DSN public key carried by Sentry SDK requests,
// either in the X-Sentry-Auth header or the sentry_key query parameter.
package auth

import (
	"crypto/subtle"
	"net/url"
	"strconv"
	"strings"
)

// Authenticator checks extracted public keys against an allow-list.
//
// Policy: with Required=false everything passes, including an absent key.
// With Required=true and an empty allow-list, any non-empty key passes.
// Otherwise the key must match an allow-list entry; comparison is
// constant-time.
type Authenticator struct {
	required    bool
	allowedKeys []string
}

// New creates an Authenticator.
func New(required bool, allowedKeys []string) *Authenticator {
	return &Authenticator{
		required:    required,
		allowedKeys: allowedKeys,
	}
}

// ParseAuthHeader parses an X-Sentry-Auth header value into its key=value
// pairs. The "Sentry " prefix is optional and case-insensitive; pairs are
// separated by commas or whitespace and values are bare tokens.
//
//	Sentry sentry_version=7, sentry_client=sentry.python/1.0.0,
//	       sentry_key=<public_key>, sentry_secret=<secret_key>
func ParseAuthHeader(header string) map[string]string {
	pairs := make(map[string]string)
	if header == "" {
		return pairs
	}

	if len(header) >= 7 && strings.EqualFold(header[:7], "sentry ") {
		header = header[7:]
	}

	tokens := strings.FieldsFunc(header, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	for _, token := range tokens {
		key, value, ok := strings.Cut(token, "=")
		if !ok || key == "" || value == "" {
			continue
		}
		pairs[key] = strings.TrimSpace(value)
	}
	return pairs
}

// ExtractPublicKey pulls sentry_key from the auth header, falling back to
// the query parameters. Returns "" when neither carries one.
func (a *Authenticator) ExtractPublicKey(authHeader string, query url.Values) string {
	if authHeader != "" {
		if key, ok := ParseAuthHeader(authHeader)["sentry_key"]; ok {
			return key
		}
	}
	return query.Get("sentry_key")
}

// Validate applies the allow-list policy to an extracted key.
func (a *Authenticator) Validate(publicKey string) bool {
	if !a.required {
		return true
	}
	if publicKey == "" {
		return false
	}
	if len(a.allowedKeys) == 0 {
		return true
	}

	// Scan the whole list regardless of matches so timing does not reveal
	// which entry matched.
	match := 0
	for _, allowed := range a.allowedKeys {
		match |= subtle.ConstantTimeCompare([]byte(allowed), []byte(publicKey))
	}
	return match == 1
}

// ParsePublicKeyFromDSN extracts the public key (the userinfo component)
// from a DSN of the form scheme://public_key@host/project_id.
func ParsePublicKeyFromDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	parsed, err := url.Parse(dsn)
	if err != nil || parsed.User == nil {
		return ""
	}
	return parsed.User.Username()
}

// ParseProjectIDFromDSN extracts the trailing project id from a DSN.
// Returns 0 when the DSN carries no usable project id.
func ParseProjectIDFromDSN(dsn string) int {
	if dsn == "" {
		return 0
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return 0
	}
	path := strings.Trim(parsed.Path, "/")
	if path == "" {
		return 0
	}
	id, err := strconv.Atoi(path)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
