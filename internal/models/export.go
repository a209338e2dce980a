package models

// Coin is an amount of a single denomination.
type Coin struct {
	Denom  string `json:"denom"`
	Amount uint64 `json:"amount,string"`
}

// Account is an address together with the funds it holds.
type Account struct {
	Address Addr   `json:"address"`
	Funds   []Coin `json:"funds"`
}

// Balance returns the amount of denom held by the account.
func (a Account) Balance(denom string) uint64 {
	for _, c := range a.Funds {
		if c.Denom == denom {
			return c.Amount
		}
	}
	return 0
}

// ExportPayload is the data a source service releases to its successor
// once the migration secret has been presented. It is built fresh for every
// authorized export and never stored by the source.
type ExportPayload struct {
	Name     string    `json:"name"`
	Decimals uint8     `json:"decimals"`
	Accounts []Account `json:"accounts"`
}
