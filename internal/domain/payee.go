package domain

// PayoutKeyType identifies how the network addresses a payee account
type PayoutKeyType string

const (
	PayoutKeyTypeTaxID  PayoutKeyType = "tax_id"
	PayoutKeyTypePhone  PayoutKeyType = "phone"
	PayoutKeyTypeEmail  PayoutKeyType = "email"
	PayoutKeyTypeRandom PayoutKeyType = "random"
)

// PayoutAccount is where the network credits a payee
type PayoutAccount struct {
	PayeeID string        `json:"payee_id"`
	Name    string        `json:"name"`
	KeyType PayoutKeyType `json:"key_type"`
	Key     string        `json:"key"`
}
