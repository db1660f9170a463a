package settlement

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kevin07696/harvest-settlement/internal/domain"
	"github.com/kevin07696/harvest-settlement/internal/domain/ports"
	"github.com/kevin07696/harvest-settlement/pkg/timeutil"
)

// LineMode decides how a batch is laid out as transfer lines
type LineMode string

const (
	// LineModePerRecord sends one line per member record so the network can reject
	// members individually. The lines still form one consolidated request per batch.
	LineModePerRecord LineMode = "per_record"
	// LineModeConsolidated sends a single grand-total line per batch
	LineModeConsolidated LineMode = "consolidated"
)

// IsValid reports whether m is a known line mode
func (m LineMode) IsValid() bool {
	return m == LineModePerRecord || m == LineModeConsolidated
}

// maxReferenceText is the longest free-text reference the network accepts per line
const maxReferenceText = 140

// ExternalLineID is the composite id that ties a response line back to a member record
func ExternalLineID(batchID, recordID string) string {
	return batchID + ":" + recordID
}

// buildSubmitRequest lays out batch as a network request. The result depends only on
// stored, immutable batch and member data, so a retry produces an identical request.
// The returned map sends each externalLineId to the record ids it carries.
func buildSubmitRequest(
	batch *domain.SettlementBatch,
	members []*domain.HarvestRecord,
	account *domain.PayoutAccount,
	debitAccount, referencePrefix string,
	mode LineMode,
) (*ports.SubmitRequest, map[string][]string) {
	sorted := make([]*domain.HarvestRecord, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	req := &ports.SubmitRequest{
		RequestID:    batch.IdempotencyKey.String(),
		DebitAccount: debitAccount,
		PaymentDate:  timeutil.FormatDate(batch.PaymentDate),
	}
	lines := make(map[string][]string, len(sorted))

	if mode == LineModeConsolidated {
		ids := make([]string, len(sorted))
		for i, r := range sorted {
			ids[i] = r.ID
		}
		lineID := batch.ID
		lines[lineID] = ids
		req.Transfers = []ports.Transfer{{
			Amount:         batch.TotalAmount,
			PayeeKeyType:   string(account.KeyType),
			PayeeKey:       account.Key,
			ReferenceText:  referenceText(referencePrefix, fmt.Sprintf("batch %s, %d harvest records", shortID(batch.ID), len(sorted))),
			ExternalLineID: lineID,
		}}
		return req, lines
	}

	req.Transfers = make([]ports.Transfer, 0, len(sorted))
	for _, r := range sorted {
		lineID := ExternalLineID(batch.ID, r.ID)
		lines[lineID] = []string{r.ID}
		req.Transfers = append(req.Transfers, ports.Transfer{
			Amount:         r.Value(),
			PayeeKeyType:   string(account.KeyType),
			PayeeKey:       account.Key,
			ReferenceText:  referenceText(referencePrefix, fmt.Sprintf("order %s harvest %s", r.SourceOrderID, timeutil.FormatDate(r.HarvestDate))),
			ExternalLineID: lineID,
		})
	}
	return req, lines
}

func referenceText(prefix, body string) string {
	text := strings.TrimSpace(prefix + " " + body)
	if len(text) <= maxReferenceText {
		return text
	}
	// Cut on a rune boundary so the field stays valid UTF-8.
	cut := maxReferenceText
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sortRejections(rejections []domain.LineRejection) {
	sort.Slice(rejections, func(i, j int) bool { return rejections[i].RecordID < rejections[j].RecordID })
}
