package domain

import "time"

// User is the customer node. Demographic attributes are optional: a blank
// source value stays nil and is reported by the feature adapter.
type User struct {
	ID              int64
	Age             *int
	BirthYear       *int
	Gender          string
	Address         string
	Latitude        *float64
	Longitude       *float64
	PerCapitaIncome *float64
	YearlyIncome    *float64
	TotalDebt       *float64
	CreditScore     *int
	NumCreditCards  *int

	// Derived by the labeler; never set from source records.
	Churned      bool
	LastActivity *time.Time
}

// Card is a payment card owned by exactly one user.
type Card struct {
	ID           int64
	UserID       int64
	Brand        string
	Type         string
	HasChip      bool
	CreditLimit  *float64
	AcctOpenDate *time.Time
	CardsIssued  *int
	OnDarkWeb    bool
}

// SameAttributes reports whether two user records carry identical source attributes.
func (u User) SameAttributes(other User) bool {
	return eqInt(u.Age, other.Age) &&
		eqInt(u.BirthYear, other.BirthYear) &&
		u.Gender == other.Gender &&
		u.Address == other.Address &&
		eqFloat(u.Latitude, other.Latitude) &&
		eqFloat(u.Longitude, other.Longitude) &&
		eqFloat(u.PerCapitaIncome, other.PerCapitaIncome) &&
		eqFloat(u.YearlyIncome, other.YearlyIncome) &&
		eqFloat(u.TotalDebt, other.TotalDebt) &&
		eqInt(u.CreditScore, other.CreditScore) &&
		eqInt(u.NumCreditCards, other.NumCreditCards)
}

// SameAttributes reports whether two card records carry identical source attributes.
func (c Card) SameAttributes(other Card) bool {
	return c.UserID == other.UserID &&
		c.Brand == other.Brand &&
		c.Type == other.Type &&
		c.HasChip == other.HasChip &&
		eqFloat(c.CreditLimit, other.CreditLimit) &&
		eqTime(c.AcctOpenDate, other.AcctOpenDate) &&
		eqInt(c.CardsIssued, other.CardsIssued) &&
		c.OnDarkWeb == other.OnDarkWeb
}

func eqInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
