package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"
)

// Signer handles Binance API request signatures
type Signer struct {
	apiKey    string
	apiSecret string
}

// NewSigner creates a new Signer instance
func NewSigner(apiKey, apiSecret string) *Signer {
	return &Signer{apiKey: apiKey, apiSecret: apiSecret}
}

// APIKey returns the key for the X-MBX-APIKEY header.
func (s *Signer) APIKey() string { return s.apiKey }

// Sign appends the timestamp and HMAC-SHA256 signature to a query.
// Binance signs the full encoded query string, hex-encoded lowercase.
func (s *Signer) Sign(params url.Values) url.Values {
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("signature", computeHmacSha256(params.Encode(), s.apiSecret))
	return params
}

func computeHmacSha256(message string, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}
