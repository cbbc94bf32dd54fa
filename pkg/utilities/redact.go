package utilities

import (
	"encoding/hex"
	"os"
	"sync"

	"golang.org/x/crypto/blake2b"
)

var (
	redactOnce sync.Once
	redactKey  []byte
)

// Redact returns a short keyed BLAKE2b digest of a PII value (email, phone)
// so log lines stay correlatable without carrying the raw identifier.
// The key comes from LOG_REDACT_KEY; at most 64 bytes are used.
func Redact(v string) string {
	if v == "" {
		return ""
	}
	redactOnce.Do(func() {
		k := []byte(os.Getenv("LOG_REDACT_KEY"))
		if len(k) > blake2b.Size {
			k = k[:blake2b.Size]
		}
		redactKey = k
	})
	h, err := blake2b.New256(redactKey)
	if err != nil {
		return "redacted"
	}
	_, _ = h.Write([]byte(v))
	return hex.EncodeToString(h.Sum(nil)[:8])
}
