package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

const (
	HeaderKey        = "KC-API-KEY"
	HeaderSign       = "KC-API-SIGN"
	HeaderTimestamp  = "KC-API-TIMESTAMP"
	HeaderPassphrase = "KC-API-PASSPHRASE"
	HeaderKeyVersion = "KC-API-KEY-VERSION"

	keyVersion = "2"
)

// Signer produces the authentication headers for one request.
type Signer struct {
	key        string
	secret     []byte
	passphrase string
}

// NewSigner signs the passphrase once up front; it never changes per request.
func NewSigner(key, secret, passphrase string) *Signer {
	s := &Signer{key: key, secret: []byte(secret)}
	s.passphrase = s.mac(passphrase)
	return s
}

func (s *Signer) mac(payload string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Sign returns base64(HMAC_SHA256(secret, timestamp+method+path+body)).
// path includes the query string.
func (s *Signer) Sign(timestamp, method, path, body string) string {
	return s.mac(timestamp + method + path + body)
}

// Headers builds the full header set for a request issued at now.
func (s *Signer) Headers(method, path, body string, now time.Time) map[string]string {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	return map[string]string{
		HeaderKey:        s.key,
		HeaderSign:       s.Sign(ts, method, path, body),
		HeaderTimestamp:  ts,
		HeaderPassphrase: s.passphrase,
		HeaderKeyVersion: keyVersion,
	}
}
