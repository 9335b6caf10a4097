package webhook

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignFormat(t *testing.T) {
	sig := Sign("secret", 1700000000000, []byte(`{"a":1}`))
	assert.True(t, strings.HasPrefix(sig, "t=1700000000000,v1="))
	assert.Len(t, strings.TrimPrefix(sig, "t=1700000000000,v1="), 64, "hex sha256")
}

func TestVerifyRoundTrip(t *testing.T) {
	body := []byte(`{"sequence":7,"topic":"orders.created"}`)
	sig := Sign("secret", 1700000000000, body)

	assert.True(t, Verify("secret", sig, body))
	assert.False(t, Verify("wrong", sig, body))
	assert.False(t, Verify("secret", sig, []byte(`tampered`)))
}

func TestVerifyTimestampBound(t *testing.T) {
	body := []byte(`{}`)
	sig := Sign("secret", 1700000000000, body)

	// Re-stamping invalidates the signature.
	forged := strings.Replace(sig, "t=1700000000000", "t=1700000009999", 1)
	assert.False(t, Verify("secret", forged, body))
}

func TestVerifyMalformedHeader(t *testing.T) {
	assert.False(t, Verify("secret", "", nil))
	assert.False(t, Verify("secret", "v1=abc", nil))
	assert.False(t, Verify("secret", "t=notanumber,v1=abc", nil))
}
