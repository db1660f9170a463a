package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestPaymentState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to PaymentState
		want     bool
	}{
		{PaymentStateUnpriced, PaymentStatePendingPayment, true},
		{PaymentStateUnpriced, PaymentStateSubmitted, false},
		{PaymentStatePendingPayment, PaymentStatePendingPayment, true},
		{PaymentStatePendingPayment, PaymentStateSubmitted, true},
		{PaymentStatePendingPayment, PaymentStatePaid, false},
		{PaymentStateSubmitted, PaymentStateProcessing, true},
		{PaymentStateSubmitted, PaymentStatePaid, true},
		{PaymentStateSubmitted, PaymentStateFailed, true},
		{PaymentStateSubmitted, PaymentStatePendingPayment, true},
		{PaymentStateProcessing, PaymentStatePaid, true},
		{PaymentStateProcessing, PaymentStateSubmitted, false},
		{PaymentStatePaid, PaymentStateProcessing, false},
		{PaymentStatePaid, PaymentStatePendingPayment, false},
		{PaymentStateFailed, PaymentStatePendingPayment, true},
		{PaymentStateFailed, PaymentStatePaid, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPaymentState_IsLocked(t *testing.T) {
	locked := map[PaymentState]bool{
		PaymentStateUnpriced:       false,
		PaymentStatePendingPayment: false,
		PaymentStateSubmitted:      true,
		PaymentStateProcessing:     true,
		PaymentStatePaid:           true,
		PaymentStateFailed:         false,
	}
	for state, want := range locked {
		if got := state.IsLocked(); got != want {
			t.Errorf("%s.IsLocked() = %v, want %v", state, got, want)
		}
	}
	if PaymentState("LOST").IsValid() {
		t.Error("unknown state should be invalid")
	}
}

func TestHarvestRecord_CheckEligible(t *testing.T) {
	base := func() *HarvestRecord {
		return &HarvestRecord{
			ID:           "rec-1",
			PayeeID:      "payee-P",
			PaymentState: PaymentStatePendingPayment,
			Quantity:     decimal.NewFromInt(10),
			UnitPrice:    decPtr("2.50"),
			TotalValue:   decPtr("25.00"),
			HarvestDate:  time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC),
		}
	}

	tests := []struct {
		name    string
		mutate  func(r *HarvestRecord)
		payee   string
		wantErr bool
	}{
		{"eligible", func(r *HarvestRecord) {}, "payee-P", false},
		{"other payee", func(r *HarvestRecord) {}, "payee-Q", true},
		{"unpriced", func(r *HarvestRecord) { r.PaymentState = PaymentStateUnpriced }, "payee-P", true},
		{"already submitted", func(r *HarvestRecord) { r.PaymentState = PaymentStateSubmitted }, "payee-P", true},
		{"null total", func(r *HarvestRecord) { r.TotalValue = nil }, "payee-P", true},
		{"zero total", func(r *HarvestRecord) { r.TotalValue = decPtr("0") }, "payee-P", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base()
			tt.mutate(r)
			err := r.CheckEligible(tt.payee)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckEligible() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsDomainError(err, ErrorCodeRecordIneligible) {
				t.Errorf("expected RECORD_INELIGIBLE, got %v", err)
			}
		})
	}
}

func TestHarvestRecord_NilPointerSafety(t *testing.T) {
	r := &HarvestRecord{}
	if r.IsPriced() {
		t.Error("empty record should not be priced")
	}
	if !r.Value().IsZero() {
		t.Errorf("Value() = %s, want 0", r.Value())
	}
	if r.GetSettlementBatchID() != "" {
		t.Error("GetSettlementBatchID() should be empty")
	}
}
