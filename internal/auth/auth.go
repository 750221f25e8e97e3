// Package auth provides KuCoin API authentication using HMAC-SHA256 signatures.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// KeyVersion is the KC-API-KEY-VERSION sent with signed requests. Version 3
// keys expect the passphrase itself to be signed with the secret.
const KeyVersion = "3"

// Header names.
const (
	HeaderKey        = "KC-API-KEY"
	HeaderSign       = "KC-API-SIGN"
	HeaderTimestamp  = "KC-API-TIMESTAMP"
	HeaderPassphrase = "KC-API-PASSPHRASE"
	HeaderKeyVersion = "KC-API-KEY-VERSION"
)

// ErrIncompleteCredentials is returned when any part of the key set is missing.
var ErrIncompleteCredentials = errors.New("api key, secret and passphrase are required")

// Credentials holds the API key set for signing requests.
type Credentials struct {
	Key    string // API key from the KuCoin dashboard
	secret []byte
	// passphrase is stored pre-signed; it never changes between requests.
	passphrase string

	now func() time.Time
}

// LoadCredentials validates the key set and prepares it for signing.
func LoadCredentials(key, secret, passphrase string) (*Credentials, error) {
	key, secret, passphrase = strings.TrimSpace(key), strings.TrimSpace(secret), strings.TrimSpace(passphrase)
	if key == "" || secret == "" || passphrase == "" {
		return nil, ErrIncompleteCredentials
	}

	return &Credentials{
		Key:        key,
		secret:     []byte(secret),
		passphrase: sign([]byte(secret), passphrase),
		now:        time.Now,
	}, nil
}

// SignRequest generates authentication headers for a REST request. path must
// include the query string, if any; body is the exact request body bytes.
func (c *Credentials) SignRequest(method, path string, body []byte) map[string]string {
	timestamp := fmt.Sprintf("%d", c.now().UnixMilli())

	// Message format: timestamp + METHOD + path + body
	message := timestamp + strings.ToUpper(method) + path + string(body)

	return map[string]string{
		HeaderKey:        c.Key,
		HeaderSign:       sign(c.secret, message),
		HeaderTimestamp:  timestamp,
		HeaderPassphrase: c.passphrase,
		HeaderKeyVersion: KeyVersion,
	}
}

// sign returns the base64 HMAC-SHA256 of message.
func sign(secret []byte, message string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
