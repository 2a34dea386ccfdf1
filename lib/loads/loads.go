package loads

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// RawLoad is one load posting as captured from the board. It is
// immutable once captured; everything derived from it (analysis,
// fingerprint) is recomputed on demand.
type RawLoad struct {
	ExternalID string    `json:"external_id"`
	Pickup     string    `json:"pickup"`
	Delivery   string    `json:"delivery"`
	Miles      float64   `json:"miles"`
	Deadhead   float64   `json:"deadhead"`
	// Rate is the quoted rate in dollars, 0 if the posting carries no quote.
	Rate       float64   `json:"rate"`
	Equipment  string    `json:"equipment"`
	PickupDate string    `json:"pickup_date"`
	CapturedAt time.Time `json:"captured_at"`
}

// Fingerprint is the dedup key for a load. Two captures hashing to the
// same fingerprint are the same real-world load even if the board
// reassigned its external id.
type Fingerprint string

func (l RawLoad) Fingerprint() Fingerprint {
	sum := sha256.Sum256([]byte(fmt.Sprintf(
		"%s|%s|%s|%.2f|%.1f|%.1f",
		l.ExternalID,
		strings.ToLower(strings.TrimSpace(l.Pickup)),
		strings.ToLower(strings.TrimSpace(l.Delivery)),
		l.Rate,
		l.Miles,
		l.Deadhead,
	)))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// SearchCriteria filters a batch before any scoring happens.
type SearchCriteria struct {
	MinMiles        float64  `json:"min_miles"`
	MaxDeadhead     float64  `json:"max_deadhead"`
	ExcludedRegions []string `json:"excluded_regions"`
}

// Matches reports whether a load survives the business filter: long
// enough, not too much empty driving, and not touching an excluded
// region on either end.
func (c SearchCriteria) Matches(l RawLoad) bool {
	if c.MinMiles > 0 && l.Miles+l.Deadhead < c.MinMiles {
		return false
	}
	if c.MaxDeadhead > 0 && l.Deadhead > c.MaxDeadhead {
		return false
	}
	pickup := strings.ToLower(l.Pickup)
	delivery := strings.ToLower(l.Delivery)
	for _, region := range c.ExcludedRegions {
		region = strings.ToLower(strings.TrimSpace(region))
		if region == "" {
			continue
		}
		if strings.Contains(pickup, region) || strings.Contains(delivery, region) {
			return false
		}
	}
	return true
}

// SentRecord is the durable trace of one dispatched notification.
// Append-only; retention deletes aged rows but nothing updates them.
type SentRecord struct {
	Fingerprint Fingerprint
	ExternalID  string
	Pickup      string
	Delivery    string
	Rate        float64
	Miles       float64
	Deadhead    float64
	Priority    string
	SentAt      time.Time
}
