package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Sign computes the X-Signature header value: HMAC-SHA-256 over
// "timestamp || '.' || body", rendered as "t=<unix-ms>,v1=<hex>".
func Sign(secret string, unixMs int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", unixMs)
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", unixMs, hex.EncodeToString(mac.Sum(nil)))
}

// Verify checks a received X-Signature header against the body.
// Receivers use it; it also keeps Sign honest in tests.
func Verify(secret, header string, body []byte) bool {
	var ts int64
	var v1 string
	for part := range strings.SplitSeq(header, ",") {
		if s, ok := strings.CutPrefix(part, "t="); ok {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return false
			}
			ts = n
		}
		if s, ok := strings.CutPrefix(part, "v1="); ok {
			v1 = s
		}
	}
	if ts == 0 || v1 == "" {
		return false
	}
	expected := Sign(secret, ts, body)
	return hmac.Equal([]byte(expected), []byte(fmt.Sprintf("t=%d,v1=%s", ts, v1)))
}
