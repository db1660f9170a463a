package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// IdempotencyKey identifies one intended batch: same payee, members, method and date collide
type IdempotencyKey string

// NewIdempotencyKey derives the key from the batch description. Member order does not matter.
func NewIdempotencyKey(payeeID string, memberRecordIDs []string, method PaymentMethod, paymentDate time.Time) IdempotencyKey {
	ids := make([]string, len(memberRecordIDs))
	copy(ids, memberRecordIDs)
	sort.Strings(ids)

	h := sha256.New()
	h.Write([]byte(payeeID))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.Join(ids, ",")))
	h.Write([]byte{'|'})
	h.Write([]byte(method))
	h.Write([]byte{'|'})
	h.Write([]byte(paymentDate.UTC().Format(time.DateOnly)))
	return IdempotencyKey(hex.EncodeToString(h.Sum(nil)))
}

// String returns the hex key
func (k IdempotencyKey) String() string {
	return string(k)
}

// IdempotencyLock is the durable row held while a batch is CREATED, SUBMITTED or PROCESSING.
// LeaseExpiresAt bounds how long a submission attempt may be considered live.
type IdempotencyLock struct {
	AcquiredAt     time.Time      `json:"acquired_at"`
	LeaseExpiresAt time.Time      `json:"lease_expires_at"`
	Key            IdempotencyKey `json:"key"`
	BatchID        string         `json:"batch_id"`
	Token          string         `json:"token"`
}

// LeaseExpired reports whether the submission lease has lapsed at now
func (l *IdempotencyLock) LeaseExpired(now time.Time) bool {
	return !now.Before(l.LeaseExpiresAt)
}
