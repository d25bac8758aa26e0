package cbi

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const hashLength = 16

// DedupHash fingerprints a movement from its operation date, amount,
// reference, reason code and counterpart.
func DedupHash(date time.Time, amount decimal.Decimal, reference, reasonCode, counterpart string) string {
	key := strings.Join([]string{
		date.Format("2006-01-02"),
		amount.Abs().StringFixed(2),
		reference,
		reasonCode,
		counterpart,
	}, "|")
	return shortHash(key)
}

// DisambiguatedHash derives the storage key for a movement whose dedup hash
// collides with a different raw record.
func DisambiguatedHash(hash, raw string) string {
	return shortHash(hash + "|" + raw)
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:hashLength]
}
