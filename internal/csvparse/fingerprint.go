package csvparse

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// fingerprintVersion is baked into the hash input so the formula can
// evolve without colliding with rows fingerprinted by older builds.
const fingerprintVersion = "v1"

// Fingerprint computes the stable row hash the count-delta dedup policy
// keys on. Identical rows in one file produce identical fingerprints by
// design; the fingerprint is deliberately not unique across rows.
func Fingerprint(accountID uuid.UUID, date time.Time, amount decimal.Decimal, description string) string {
	h := sha256.New()
	h.Write([]byte(fingerprintVersion))
	h.Write([]byte{'|'})
	h.Write([]byte(accountID.String()))
	h.Write([]byte{'|'})
	h.Write([]byte(date.Format("2006-01-02")))
	h.Write([]byte{'|'})
	h.Write([]byte(amount.StringFixed(4)))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.TrimSpace(description)))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:32]
}
