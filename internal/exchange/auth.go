package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
)

// Signer produces request signatures for the signed endpoints.
// The exchange expects an HMAC-SHA256 of the url-encoded query string
// (or form body), hex-encoded, appended as the signature parameter.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer from the API secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign computes the hex HMAC-SHA256 signature over payload.
// payload must be byte-identical to the query string or form body sent.
func (s *Signer) Sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignValues encodes params, signs the encoded string, and returns the
// full payload with the signature parameter appended. url.Values.Encode
// sorts keys, so the signed string matches what is sent.
func (s *Signer) SignValues(params url.Values) string {
	encoded := params.Encode()
	return encoded + "&signature=" + s.Sign(encoded)
}

// Stamp adds the timestamp and recvWindow parameters a signed request
// requires. offsetMs is the current server clock offset.
func Stamp(params url.Values, nowMs, offsetMs int64, recvWindow int) {
	params.Set("timestamp", strconv.FormatInt(nowMs+offsetMs, 10))
	if recvWindow > 0 {
		params.Set("recvWindow", strconv.Itoa(recvWindow))
	}
}
