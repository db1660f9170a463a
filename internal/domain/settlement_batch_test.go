package domain

import "testing"

func TestBatchStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to BatchStatus
		want     bool
	}{
		{BatchStatusCreated, BatchStatusSubmitted, true},
		{BatchStatusCreated, BatchStatusRejected, true},
		{BatchStatusCreated, BatchStatusCancelled, true},
		{BatchStatusCreated, BatchStatusPaid, false},
		{BatchStatusSubmitted, BatchStatusProcessing, true},
		{BatchStatusSubmitted, BatchStatusPaid, true},
		{BatchStatusSubmitted, BatchStatusCancelled, false},
		{BatchStatusProcessing, BatchStatusPaid, true},
		{BatchStatusProcessing, BatchStatusFailed, true},
		{BatchStatusProcessing, BatchStatusSubmitted, false},
		{BatchStatusPaid, BatchStatusProcessing, false},
		{BatchStatusPaid, BatchStatusFailed, false},
		{BatchStatusFailed, BatchStatusPaid, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBatchStatus_IsTerminal(t *testing.T) {
	terminal := map[BatchStatus]bool{
		BatchStatusCreated:    false,
		BatchStatusSubmitted:  false,
		BatchStatusProcessing: false,
		BatchStatusPaid:       true,
		BatchStatusFailed:     true,
		BatchStatusRejected:   true,
		BatchStatusCancelled:  true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestPaymentMethod_Classification(t *testing.T) {
	tests := []struct {
		method       PaymentMethod
		gateway      bool
		paidOnSubmit bool
	}{
		{PaymentMethodInstantTransferGateway, true, false},
		{PaymentMethodManualInstantTransfer, false, true},
		{PaymentMethodCash, false, true},
		{PaymentMethodCheck, false, true},
		{PaymentMethodBankSlip, false, false},
		{PaymentMethodWire, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			if !tt.method.IsValid() {
				t.Fatal("expected valid method")
			}
			if tt.method.UsesGateway() != tt.gateway {
				t.Errorf("UsesGateway() = %v, want %v", !tt.gateway, tt.gateway)
			}
			if tt.method.PaidOnSubmit() != tt.paidOnSubmit {
				t.Errorf("PaidOnSubmit() = %v, want %v", !tt.paidOnSubmit, tt.paidOnSubmit)
			}
		})
	}
	if PaymentMethod("barter").IsValid() {
		t.Error("unknown method should be invalid")
	}
}

func TestSettlementOutcome_BatchStatus(t *testing.T) {
	if OutcomeSettled.BatchStatus() != BatchStatusPaid {
		t.Errorf("SETTLED -> %s, want PAID", OutcomeSettled.BatchStatus())
	}
	if OutcomeRejected.BatchStatus() != BatchStatusFailed {
		t.Errorf("REJECTED -> %s, want FAILED", OutcomeRejected.BatchStatus())
	}
	if BatchStatusPaid.MemberState() != PaymentStatePaid || BatchStatusFailed.MemberState() != PaymentStateFailed {
		t.Error("terminal statuses must mirror onto members")
	}
}

func TestSettlementBatch_RejectedRecordIDs(t *testing.T) {
	b := &SettlementBatch{
		MemberRecordIDs: []string{"a", "b", "c"},
		LineRejections:  []LineRejection{{RecordID: "b", ExternalLineID: "x:b", ErrorCode: "INVALID_PAYEE_KEY"}},
	}
	rejected := b.RejectedRecordIDs()
	if !rejected["b"] || rejected["a"] || len(rejected) != 1 {
		t.Errorf("RejectedRecordIDs() = %v", rejected)
	}
	if !b.IsMember("c") || b.IsMember("z") {
		t.Error("IsMember mismatch")
	}
	if b.GetExternalReference() != "" {
		t.Error("nil reference should read as empty")
	}
}
