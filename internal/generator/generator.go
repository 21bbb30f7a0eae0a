// Package generator synthesises card transaction datasets in the input format
// of the pipeline, with a controllable share of dormant users.
package generator

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/vanshika/churngraph/internal/domain"
)

const day = 24 * time.Hour

// Activity is the ground-truth behaviour assigned to a generated user.
type Activity int

const (
	Active Activity = iota
	Dormant
	NeverActive
)

// Dataset contains generated records and the activity assigned to each user.
type Dataset struct {
	Users        []domain.User
	Cards        []domain.Card
	Merchants    []domain.Merchant
	Categories   []domain.Category
	Transactions []domain.Transaction
	Activity     map[int64]Activity
}

// IDs returns the sorted ids of users with the given activity.
func (d Dataset) IDs(a Activity) []int64 {
	var out []int64
	for id, got := range d.Activity {
		if got == a {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Generator produces synthetic users, cards, merchants and transactions.
type Generator struct {
	cfg           Config
	rand          *rand.Rand
	nameFragments nameFragments
}

// New returns a configured Generator instance.
func New(cfg Config) *Generator {
	cfg = cfg.withDefaults()
	return &Generator{
		cfg:           cfg,
		rand:          rand.New(rand.NewSource(cfg.Seed)),
		nameFragments: defaultNameFragments(),
	}
}

// Generate synthesises a dataset. The same Config always yields the same
// dataset. It respects context cancellation.
func (g *Generator) Generate(ctx context.Context) (Dataset, error) {
	ds := Dataset{
		Categories: defaultCategories(),
		Activity:   make(map[int64]Activity, g.cfg.NumUsers),
	}

	ds.Merchants = make([]domain.Merchant, g.cfg.NumMerchants)
	for i := range ds.Merchants {
		ds.Merchants[i] = domain.Merchant{
			ID:           int64(10000 + i),
			City:         g.pick(g.nameFragments.cities),
			State:        g.pick(g.nameFragments.states),
			Zip:          fmt.Sprintf("%05d", 10000+g.rand.Intn(89999)),
			CategoryCode: ds.Categories[g.rand.Intn(len(ds.Categories))].Code,
		}
	}

	ds.Users = make([]domain.User, g.cfg.NumUsers)
	var nextCard int64 = 1
	userCards := make([][]int64, g.cfg.NumUsers)
	for i := range ds.Users {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		u := g.randomUser(int64(i))
		cards := 1 + g.rand.Intn(g.cfg.MaxCardsPerUser)
		u.NumCreditCards = intPtr(cards)
		ds.Users[i] = u
		for c := 0; c < cards; c++ {
			ds.Cards = append(ds.Cards, g.randomCard(nextCard, u.ID))
			userCards[i] = append(userCards[i], nextCard)
			nextCard++
		}

		switch r := g.rand.Float64(); {
		case r < g.cfg.NeverActiveFraction:
			ds.Activity[u.ID] = NeverActive
		case r < g.cfg.NeverActiveFraction+g.cfg.DormantFraction:
			ds.Activity[u.ID] = Dormant
		default:
			ds.Activity[u.ID] = Active
		}
	}

	for i, u := range ds.Users {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		ds.Transactions = append(ds.Transactions, g.userTransactions(u.ID, ds.Activity[u.ID], userCards[i], ds.Merchants)...)
	}

	sort.SliceStable(ds.Transactions, func(i, j int) bool {
		return ds.Transactions[i].Timestamp.Before(ds.Transactions[j].Timestamp)
	})
	for i := range ds.Transactions {
		ds.Transactions[i].ID = int64(7475327 + i)
	}
	return ds, nil
}

func (g *Generator) randomUser(id int64) domain.User {
	age := 18 + g.rand.Intn(70)
	birthYear := g.cfg.End.Year() - age
	perCapita := float64(10000 + g.rand.Intn(40000))
	yearly := perCapita * (1.5 + g.rand.Float64())
	debt := yearly * g.rand.Float64() * 2
	lat := 25 + g.rand.Float64()*22
	lon := -122 + g.rand.Float64()*50
	return domain.User{
		ID:              id,
		Age:             intPtr(age),
		BirthYear:       intPtr(birthYear),
		Gender:          g.pick([]string{"Female", "Male"}),
		Address:         fmt.Sprintf("%d %s %s", g.rand.Intn(9999)+1, g.pick(g.nameFragments.streetNames), g.pick(g.nameFragments.streetSuffix)),
		Latitude:        &lat,
		Longitude:       &lon,
		PerCapitaIncome: &perCapita,
		YearlyIncome:    &yearly,
		TotalDebt:       &debt,
		CreditScore:     intPtr(480 + g.rand.Intn(371)),
	}
}

func (g *Generator) randomCard(id, userID int64) domain.Card {
	limit := float64(500 + g.rand.Intn(20000))
	opened := time.Date(g.cfg.End.Year()-1-g.rand.Intn(15), time.Month(1+g.rand.Intn(12)), 1, 0, 0, 0, 0, time.UTC)
	return domain.Card{
		ID:           id,
		UserID:       userID,
		Brand:        g.pick([]string{"Visa", "Mastercard", "Amex", "Discover"}),
		Type:         g.pick([]string{"Debit", "Credit", "Debit (Prepaid)"}),
		HasChip:      g.rand.Float64() < 0.9,
		CreditLimit:  &limit,
		AcctOpenDate: &opened,
		CardsIssued:  intPtr(1 + g.rand.Intn(2)),
		OnDarkWeb:    false,
	}
}

// userTransactions draws the history of one user. Active users transact up to
// End; dormant users stop at least DormantDays before End.
func (g *Generator) userTransactions(userID int64, activity Activity, cards []int64, merchants []domain.Merchant) []domain.Transaction {
	if activity == NeverActive {
		return nil
	}

	start := g.cfg.End.Add(-time.Duration(g.cfg.WindowDays) * day)
	last := g.cfg.End
	if activity == Dormant {
		gap := g.cfg.DormantDays + 1 + g.rand.Intn(g.cfg.WindowDays-g.cfg.DormantDays)
		last = g.cfg.End.Add(-time.Duration(gap) * day)
	}
	span := last.Sub(start)
	if span <= 0 {
		span = day
		start = last.Add(-day)
	}

	favourites := make([]domain.Merchant, 3+g.rand.Intn(4))
	for i := range favourites {
		favourites[i] = merchants[g.rand.Intn(len(merchants))]
	}

	n := 1 + g.rand.Intn(2*g.cfg.TransactionsPerUser)
	if activity == Dormant {
		n = 1 + n/3
	}
	out := make([]domain.Transaction, n)
	for i := range out {
		m := favourites[g.rand.Intn(len(favourites))]
		ts := start.Add(time.Duration(g.rand.Int63n(int64(span)))).Truncate(time.Minute)
		if i == 0 && activity == Active {
			// Active users have a recent transaction so they stay active at End.
			ts = g.cfg.End.Add(-time.Duration(g.rand.Intn(7*24*60)) * time.Minute)
		}
		client := userID
		ch := g.randomChannel()
		out[i] = domain.Transaction{
			CardID:      cards[g.rand.Intn(len(cards))],
			MerchantID:  m.ID,
			ClientID:    &client,
			AmountCents: int64(100 + g.rand.Intn(30000)),
			Timestamp:   ts,
			Channel:     ch,
			Online:      ch == domain.ChannelOnline,
			Chip:        ch == domain.ChannelChip,
		}
		if g.rand.Float64() < 0.02 {
			out[i].Errors = []string{g.pick([]string{"Insufficient Balance", "Bad PIN", "Technical Glitch"})}
		}
	}
	return out
}

func (g *Generator) randomChannel() domain.Channel {
	channels := []domain.Channel{domain.ChannelSwipe, domain.ChannelChip, domain.ChannelOnline}
	return channels[g.rand.Intn(len(channels))]
}

func (g *Generator) pick(options []string) string {
	return options[g.rand.Intn(len(options))]
}

func intPtr(v int) *int { return &v }

func defaultCategories() []domain.Category {
	return []domain.Category{
		{Code: "4121", Description: "Taxicabs and Limousines"},
		{Code: "4829", Description: "Money Transfer"},
		{Code: "4900", Description: "Utilities - Electric, Gas, Water, Sanitary"},
		{Code: "5300", Description: "Wholesale Clubs"},
		{Code: "5411", Description: "Grocery Stores, Supermarkets"},
		{Code: "5499", Description: "Miscellaneous Food Stores"},
		{Code: "5541", Description: "Service Stations"},
		{Code: "5812", Description: "Eating Places and Restaurants"},
		{Code: "5814", Description: "Fast Food Restaurants"},
		{Code: "5912", Description: "Drug Stores and Pharmacies"},
		{Code: "7832", Description: "Motion Picture Theaters"},
	}
}

type nameFragments struct {
	streetNames  []string
	streetSuffix []string
	cities       []string
	states       []string
}

func defaultNameFragments() nameFragments {
	return nameFragments{
		streetNames:  []string{"Market", "Mission", "Broadway", "Fifth", "Sunset", "Park", "Cedar", "Oak", "Pine", "Ash"},
		streetSuffix: []string{"St", "Ave", "Blvd", "Ln", "Rd", "Way"},
		cities:       []string{"San Francisco", "New York", "Seattle", "Austin", "Chicago", "Miami", "Denver", "Boston", "Los Angeles"},
		states:       []string{"CA", "NY", "WA", "TX", "IL", "FL", "CO", "MA"},
	}
}
