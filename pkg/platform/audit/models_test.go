package audit

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordValidate(t *testing.T) {
	base := Record{Action: ActionUpdate, Entity: EntityOrder, Status: StatusSuccess}

	tests := []struct {
		name    string
		mutate  func(*Record)
		wantErr bool
	}{
		{"valid success", func(*Record) {}, false},
		{"valid failure", func(r *Record) { r.Status = StatusFailure; r.ErrorMessage = "declined" }, false},
		{"unknown action", func(r *Record) { r.Action = "ARCHIVE" }, true},
		{"unknown entity", func(r *Record) { r.Entity = "COUPON" }, true},
		{"unknown status", func(r *Record) { r.Status = "PARTIAL" }, true},
		{"empty status", func(r *Record) { r.Status = "" }, true},
		{"failure without message", func(r *Record) { r.Status = StatusFailure }, true},
		{"failure with blank message", func(r *Record) { r.Status = StatusFailure; r.ErrorMessage = "  " }, true},
		{"success with message", func(r *Record) { r.ErrorMessage = "oops" }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := base
			tc.mutate(&r)
			err := r.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRecord)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParseActionAndEntity(t *testing.T) {
	a, err := ParseAction(" login_failed ")
	require.NoError(t, err)
	assert.Equal(t, ActionLoginFailed, a)

	e, err := ParseEntity("Payment")
	require.NoError(t, err)
	assert.Equal(t, EntityPayment, e)

	_, err = ParseAction("purge")
	assert.ErrorIs(t, err, ErrInvalidRecord)
	_, err = ParseEntity("")
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestComputeChanges(t *testing.T) {
	tests := []struct {
		name   string
		before Fields
		after  Fields
		want   map[string]Change
	}{
		{
			name:   "changed field only",
			before: Fields{"status": "PENDING", "total": 100},
			after:  Fields{"status": "SHIPPED", "total": 100},
			want:   map[string]Change{"status": {From: "PENDING", To: "SHIPPED"}},
		},
		{
			name:   "keys on one side are not changes",
			before: Fields{"status": "PENDING", "coupon": "X"},
			after:  Fields{"status": "PENDING", "tracking": "T-1"},
			want:   map[string]Change{},
		},
		{
			name:   "json decoded numbers equal go ints",
			before: Fields{"qty": 3, "price": float32(2.5)},
			after:  Fields{"qty": float64(3), "price": 2.5},
			want:   map[string]Change{},
		},
		{
			name:   "nested value change",
			before: Fields{"address": map[string]any{"city": "Lyon"}},
			after:  Fields{"address": Fields{"city": "Paris"}},
			want: map[string]Change{"address": {
				From: map[string]any{"city": "Lyon"},
				To:   Fields{"city": "Paris"},
			}},
		},
		{
			name:   "nil to value is a change",
			before: Fields{"shipped_at": nil},
			after:  Fields{"shipped_at": "2024-01-01"},
			want:   map[string]Change{"shipped_at": {From: nil, To: "2024-01-01"}},
		},
		{
			name:   "large integers compare exactly",
			before: Fields{"order_ref": int64(9007199254740993)},
			after:  Fields{"order_ref": int64(9007199254740992)},
			want: map[string]Change{"order_ref": {
				From: int64(9007199254740993),
				To:   int64(9007199254740992),
			}},
		},
		{
			name:   "uint64 beyond int64 range",
			before: Fields{"seq": uint64(math.MaxUint64)},
			after:  Fields{"seq": uint64(math.MaxUint64 - 1)},
			want: map[string]Change{"seq": {
				From: uint64(math.MaxUint64),
				To:   uint64(math.MaxUint64 - 1),
			}},
		},
		{
			name:   "integral float equals the exact integer",
			before: Fields{"order_ref": float64(9007199254740992), "qty": uint8(7)},
			after:  Fields{"order_ref": int64(9007199254740992), "qty": int64(7)},
			want:   map[string]Change{},
		},
		{
			name:   "float does not absorb a nearby integer",
			before: Fields{"order_ref": float64(9007199254740992)},
			after:  Fields{"order_ref": uint64(9007199254740993)},
			want: map[string]Change{"order_ref": {
				From: float64(9007199254740992),
				To:   uint64(9007199254740993),
			}},
		},
		{
			name:   "fractional float is not an integer",
			before: Fields{"weight": 2.5},
			after:  Fields{"weight": 2},
			want:   map[string]Change{"weight": {From: 2.5, To: 2}},
		},
		{
			name:   "json number",
			before: Fields{"order_ref": json.Number("9007199254740993")},
			after:  Fields{"order_ref": int64(9007199254740993)},
			want:   map[string]Change{},
		},
		{name: "missing before", before: nil, after: Fields{"a": 1}, want: nil},
		{name: "missing after", before: Fields{"a": 1}, after: nil, want: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ComputeChanges(tc.before, tc.after))
		})
	}
}

func TestComputeChangesDoesNotMutateInputs(t *testing.T) {
	before := Fields{"items": []any{1, 2}}
	after := Fields{"items": []any{1, 3}}
	_ = ComputeChanges(before, after)
	assert.Equal(t, Fields{"items": []any{1, 2}}, before)
	assert.Equal(t, Fields{"items": []any{1, 3}}, after)
}

func TestFilterMatches(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r := Record{ID: "r1", Entity: EntityOrder, ActorID: "u1", Action: ActionUpdate, CreatedAt: created}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", Filter{}, true},
		{"id", Filter{ID: "r1"}, true},
		{"other id", Filter{ID: "r2"}, false},
		{"entity", Filter{Entity: EntityOrder}, true},
		{"other entity", Filter{Entity: EntityUser}, false},
		{"entities any of", Filter{Entities: []Entity{EntityUser, EntityOrder}}, true},
		{"entities empty matches nothing", Filter{Entities: []Entity{}}, false},
		{"actor", Filter{ActorID: "u2"}, false},
		{"action", Filter{Action: ActionUpdate}, true},
		{"from is inclusive", Filter{CreatedFrom: created}, true},
		{"to is exclusive", Filter{CreatedTo: created}, false},
		{"within range", Filter{CreatedFrom: created.Add(-time.Hour), CreatedTo: created.Add(time.Hour)}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.filter.Matches(r))
		})
	}
}

func TestStampTime(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	now := time.Date(2024, 3, 1, 13, 0, 0, 123456789, loc)
	stamped := StampTime(now)
	assert.Equal(t, time.UTC, stamped.Location())
	assert.Equal(t, 123456000, stamped.Nanosecond())
	assert.True(t, stamped.Equal(now.Truncate(time.Microsecond)))
}

func TestRecordJSONShape(t *testing.T) {
	r := Record{
		ID:        "r1",
		Action:    ActionLogin,
		Entity:    EntitySession,
		Status:    StatusSuccess,
		CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	b, err := json.Marshal(r)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "LOGIN", raw["action"])
	assert.Equal(t, "SESSION", raw["entity"])
	assert.NotContains(t, raw, "changes")
	assert.NotContains(t, raw, "error_message")
}
