package gateway

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// The gateway signs with an MD5 digest over a fixed field concatenation.
// The scheme is fixed by the gateway protocol; the API key never leaves the
// server side.

// CallbackSignature computes the expected digest for an inbound callback:
// md5(merchantCode + amount + merchantOrderID + apiKey). Amount is the raw
// string as sent by the gateway, not a re-formatted value.
func CallbackSignature(merchantCode, amount, merchantOrderID, apiKey string) string {
	sum := md5.Sum([]byte(merchantCode + amount + merchantOrderID + apiKey))
	return hex.EncodeToString(sum[:])
}

// StatusSignature computes the digest for an outbound status query:
// md5(merchantCode + merchantOrderID + apiKey).
func StatusSignature(merchantCode, merchantOrderID, apiKey string) string {
	sum := md5.Sum([]byte(merchantCode + merchantOrderID + apiKey))
	return hex.EncodeToString(sum[:])
}

// VerifyCallback checks a supplied callback signature. Comparison is
// case-insensitive (gateways differ on hex casing) and constant-time.
// It never panics and never errors: the answer is valid or not.
func VerifyCallback(merchantCode, amount, merchantOrderID, apiKey, signature string) bool {
	if signature == "" {
		return false
	}
	want := CallbackSignature(merchantCode, amount, merchantOrderID, apiKey)
	return hmac.Equal([]byte(want), []byte(strings.ToLower(signature)))
}
