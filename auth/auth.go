// Package auth provides MEXC API authentication using HMAC-SHA256
// signatures.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Credentials holds the API key pair for signing requests.
type Credentials struct {
	APIKey    string // API key from the MEXC dashboard
	SecretKey string // secret key used as the HMAC key
}

// LoadCredentials builds credentials from an API key and secret.
func LoadCredentials(apiKey, secretKey string) (*Credentials, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if secretKey == "" {
		return nil, fmt.Errorf("secret key is required")
	}
	return &Credentials{APIKey: apiKey, SecretKey: secretKey}, nil
}

// LoadCredentialsFromEnv reads MEXC_API_KEY and MEXC_SECRET_KEY.
func LoadCredentialsFromEnv() (*Credentials, error) {
	return LoadCredentials(os.Getenv("MEXC_API_KEY"), os.Getenv("MEXC_SECRET_KEY"))
}

// SignQuery appends a millisecond timestamp and an HMAC-SHA256
// signature to the query, in the form the spot REST API verifies:
// the signature covers the encoded query string including timestamp.
func (c *Credentials) SignQuery(query url.Values) url.Values {
	return c.signQueryAt(query, time.Now())
}

// signQueryAt exists so tests can pin the timestamp.
func (c *Credentials) signQueryAt(query url.Values, now time.Time) url.Values {
	signed := url.Values{}
	for k, vs := range query {
		for _, v := range vs {
			signed.Add(k, v)
		}
	}
	signed.Set("timestamp", strconv.FormatInt(now.UnixMilli(), 10))
	signed.Set("signature", c.Sign(signed.Encode()))
	return signed
}

// Sign computes the hex HMAC-SHA256 of the payload with the secret key.
func (c *Credentials) Sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.SecretKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches payload. Used by tests and
// by anything replaying recorded requests.
func (c *Credentials) Verify(payload, signature string) bool {
	expected := c.Sign(payload)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
