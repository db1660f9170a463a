package ports

import (
	"context"

	"github.com/kevin07696/harvest-settlement/internal/domain"
)

// PayeeDirectory resolves where the settlement network should credit a payee
type PayeeDirectory interface {
	GetPayoutAccount(ctx context.Context, db DBTX, payeeID string) (*domain.PayoutAccount, error)
}
