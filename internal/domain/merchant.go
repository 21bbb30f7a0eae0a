package domain

// Merchant is the target of transactions. CategoryCode links it to the taxonomy.
type Merchant struct {
	ID           int64
	City         string
	State        string
	Zip          string
	CategoryCode string
}

// SameAttributes reports whether two merchant records agree on every attribute.
func (m Merchant) SameAttributes(other Merchant) bool {
	return m.City == other.City &&
		m.State == other.State &&
		m.Zip == other.Zip &&
		m.CategoryCode == other.CategoryCode
}

// Category is an entry of the merchant category taxonomy, keyed by a stable code.
type Category struct {
	Code        string
	Description string
}
