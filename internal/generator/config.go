package generator

import "time"

// Config drives the synthetic data generator.
type Config struct {
	NumUsers     int
	NumMerchants int
	// MaxCardsPerUser bounds the cards issued to one user; every user gets at least one.
	MaxCardsPerUser int
	// TransactionsPerUser is the mean number of transactions of an active user.
	TransactionsPerUser int
	// DormantFraction of users stop transacting DormantDays or more before End.
	DormantFraction float64
	// NeverActiveFraction of users hold cards but never transact.
	NeverActiveFraction float64
	DormantDays         int
	// WindowDays is the length of the observed history ending at End.
	WindowDays int
	End        time.Time
	Seed       int64
}

// DefaultConfig returns a small dataset with a visible churn signal.
func DefaultConfig() Config {
	return Config{
		NumUsers:            2000,
		NumMerchants:        300,
		MaxCardsPerUser:     3,
		TransactionsPerUser: 40,
		DormantFraction:     0.15,
		NeverActiveFraction: 0.01,
		DormantDays:         45,
		WindowDays:          365,
		End:                 time.Date(2019, time.October, 31, 23, 59, 0, 0, time.UTC),
		Seed:                42,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.NumUsers <= 0 {
		c.NumUsers = def.NumUsers
	}
	if c.NumMerchants <= 0 {
		c.NumMerchants = def.NumMerchants
	}
	if c.MaxCardsPerUser <= 0 {
		c.MaxCardsPerUser = def.MaxCardsPerUser
	}
	if c.TransactionsPerUser <= 0 {
		c.TransactionsPerUser = def.TransactionsPerUser
	}
	if c.DormantFraction < 0 {
		c.DormantFraction = 0
	}
	if c.NeverActiveFraction < 0 {
		c.NeverActiveFraction = 0
	}
	if c.DormantDays <= 0 {
		c.DormantDays = def.DormantDays
	}
	if c.WindowDays <= c.DormantDays {
		c.WindowDays = c.DormantDays * 4
	}
	if c.End.IsZero() {
		c.End = def.End
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c
}
