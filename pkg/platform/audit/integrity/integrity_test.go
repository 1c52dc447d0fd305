package integrity

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "storefront/pkg/platform/audit"
)

func sampleRecord() audit.Record {
	return audit.Record{
		ID:        "8f14e45f-ceea-467f-a0e6-5c3b8d1a2b3c",
		ActorID:   "user-1",
		Action:    audit.ActionPaymentStatusChange,
		Entity:    audit.EntityPayment,
		EntityID:  "pay-77",
		Status:    audit.StatusSuccess,
		CreatedAt: time.Date(2024, 5, 4, 10, 30, 0, 123456000, time.UTC),
	}
}

func TestFingerprint(t *testing.T) {
	r := sampleRecord()
	h := Fingerprint(r)

	assert.Len(t, h, Size)
	assert.Equal(t, h, Fingerprint(r))
	assert.Equal(t, strings.ToLower(h), h)
}

func TestFingerprintIgnoresTimezone(t *testing.T) {
	r := sampleRecord()
	shifted := r
	shifted.CreatedAt = r.CreatedAt.In(time.FixedZone("UTC+2", 2*3600))
	assert.Equal(t, Fingerprint(r), Fingerprint(shifted))
}

func TestVerifyDetectsSingleFieldMutation(t *testing.T) {
	r := sampleRecord()
	r.Hash = Seal(r)
	require.True(t, VerifyRecord(r))

	tests := []struct {
		name   string
		mutate func(*audit.Record)
	}{
		{"id", func(r *audit.Record) { r.ID = "other" }},
		{"action", func(r *audit.Record) { r.Action = audit.ActionDelete }},
		{"entity", func(r *audit.Record) { r.Entity = audit.EntityOrder }},
		{"entity id", func(r *audit.Record) { r.EntityID = "pay-78" }},
		{"actor id", func(r *audit.Record) { r.ActorID = "user-2" }},
		{"created at", func(r *audit.Record) { r.CreatedAt = r.CreatedAt.Add(time.Microsecond) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tampered := r
			tc.mutate(&tampered)
			assert.False(t, VerifyRecord(tampered))
		})
	}
}

func TestFieldBoundariesDoNotCollide(t *testing.T) {
	a := sampleRecord()
	a.EntityID, a.ActorID = "ab", "c"
	b := sampleRecord()
	b.EntityID, b.ActorID = "a", "bc"
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	r := sampleRecord()
	assert.False(t, Verify(r, ""))
	assert.False(t, Verify(r, "abc"))
	assert.False(t, Verify(r, strings.Repeat("0", Size)))
}

func TestSnapshotsAreNotFingerprinted(t *testing.T) {
	r := sampleRecord()
	h := Fingerprint(r)
	r.After = audit.Fields{"status": "REFUNDED"}
	r.Metadata = audit.Fields{"note": "x"}
	assert.Equal(t, h, Fingerprint(r))
}
