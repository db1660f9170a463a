package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kevin07696/harvest-settlement/internal/domain"
	"github.com/kevin07696/harvest-settlement/internal/domain/ports"
)

// PayeeDirectory implements ports.PayeeDirectory on the payees table
type PayeeDirectory struct {
	pool ports.DBTX
}

// NewPayeeDirectory creates a new payee directory
func NewPayeeDirectory(db ports.DBPort) *PayeeDirectory {
	return &PayeeDirectory{pool: db.GetDB()}
}

// GetPayoutAccount returns the payee's payout key. A payee without one yields an empty Key.
func (d *PayeeDirectory) GetPayoutAccount(ctx context.Context, db ports.DBTX, payeeID string) (*domain.PayoutAccount, error) {
	var (
		account      domain.PayoutAccount
		keyType, key pgtype.Text
	)

	err := executor(db, d.pool).QueryRow(ctx,
		`SELECT id, name, payout_key_type, payout_key FROM payees WHERE id = $1`, payeeID).
		Scan(&account.PayeeID, &account.Name, &keyType, &key)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrPayeeNotFound
		}
		return nil, fmt.Errorf("get payout account for %s: %w", payeeID, err)
	}

	account.KeyType = domain.PayoutKeyType(keyType.String)
	account.Key = key.String
	return &account, nil
}
