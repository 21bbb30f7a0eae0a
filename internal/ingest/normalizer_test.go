package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/churngraph/internal/domain"
	"github.com/vanshika/churngraph/internal/logging"
)

const (
	testUsers = `id,current_age,birth_year,gender,address,latitude,longitude,per_capita_income,yearly_income,total_debt,credit_score,num_credit_cards
825,53,1966,Female,462 Rose Lane,34.15,-117.76,$29278,$59696,$127613,787,5
1746,53,1966,Female,2891 Essex Drive,40.76,-73.74,$37891,$77254,$191349,701,5
1718,81,1938,Female,58 Birch Lane,34.02,-117.89,$22681,,$196,698,5
x9,,,,,,,,,,,
`
	testCards = `id,client_id,card_brand,card_type,has_chip,credit_limit,acct_open_date,card_on_dark_web
4524,825,Visa,Debit,YES,$24295,09/2002,No
2731,825,Visa,Debit,YES,$21968,04/2014,No
3373,1746,Mastercard,Credit,NO,$9100,07/2003,No
`
	testTransactions = `id,date,client_id,card_id,amount,use_chip,merchant_id,merchant_city,merchant_state,zip,mcc,errors
7475327,2010-01-01 00:01:00,825,4524,$-77.00,Swipe Transaction,59935,Beulah,ND,58523.0,5499,
7475328,2010-01-01 00:02:00,825,2731,$14.57,Online Transaction,67570,ONLINE,,,5311,
7475329,2010-01-01 00:02:00,1746,3373,,Chip Transaction,27092,Vista,CA,92084.0,4829,
7475331,2010-01-01 00:05:00,1746,3373,$200.00,Chip Transaction,27092,Vista,CA,92084.0,4829,"Bad PIN,Insufficient Balance"
`
)

func newTestNormalizer(report *domain.RunReport) *Normalizer {
	return NewNormalizer(2, logging.Discard(), report)
}

func TestNormalizeDropsMalformedRowsAndCountsThem(t *testing.T) {
	report := domain.NewRunReport()
	n := newTestNormalizer(report)

	ds, err := n.Normalize(context.Background(), Inputs{
		Users:        strings.NewReader(testUsers),
		Cards:        strings.NewReader(testCards),
		Transactions: strings.NewReader(testTransactions),
	})
	require.NoError(t, err)

	require.Len(t, ds.Users, 3)
	assert.Equal(t, int64(825), ds.Users[0].ID)
	require.NotNil(t, ds.Users[0].YearlyIncome)
	assert.InDelta(t, 59696.0, *ds.Users[0].YearlyIncome, 1e-9)
	assert.Nil(t, ds.Users[2].YearlyIncome, "blank optional value stays nil")

	require.Len(t, ds.Cards, 3)
	assert.True(t, ds.Cards[0].HasChip)
	require.NotNil(t, ds.Cards[0].AcctOpenDate)
	assert.Equal(t, 2002, ds.Cards[0].AcctOpenDate.Year())

	// The row with a blank amount is excluded.
	require.Len(t, ds.Transactions, 3)
	ids := []int64{ds.Transactions[0].ID, ds.Transactions[1].ID, ds.Transactions[2].ID}
	assert.Equal(t, []int64{7475327, 7475328, 7475331}, ids)
	assert.Equal(t, int64(-7700), ds.Transactions[0].AmountCents)
	assert.True(t, ds.Transactions[1].Online)
	assert.Equal(t, []string{"Bad PIN", "Insufficient Balance"}, ds.Transactions[2].Errors)

	assert.Equal(t, 2, report.Rejected(domain.StageNormalize, "MalformedRecord"))
	summary := report.Summary()
	require.NotEmpty(t, summary.Samples)
	joined := ""
	for _, s := range summary.Samples {
		joined += s.Message + "\n"
	}
	assert.Contains(t, joined, `field "amount"`)
	assert.Contains(t, joined, `field "id"`)

	assert.True(t, ds.MerchantsDerived)
	assert.False(t, ds.ClosedTaxonomy)
	require.Len(t, ds.Merchants, 3)
	assert.Equal(t, "58523", ds.Merchants[0].Zip)
	codes := make([]string, 0, len(ds.Categories))
	for _, c := range ds.Categories {
		codes = append(codes, c.Code)
	}
	assert.Equal(t, []string{"4829", "5311", "5499"}, codes)
}

func TestNormalizeRejectsMissingRequiredColumn(t *testing.T) {
	n := newTestNormalizer(nil)
	_, err := n.Normalize(context.Background(), Inputs{
		Users:        strings.NewReader(testUsers),
		Cards:        strings.NewReader("id,card_brand\n1,Visa\n"),
		Transactions: strings.NewReader(testTransactions),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSchema)
	assert.Contains(t, err.Error(), "client_id")
}

func TestNormalizeUsesExplicitMerchantsAndTaxonomy(t *testing.T) {
	n := newTestNormalizer(nil)
	ds, err := n.Normalize(context.Background(), Inputs{
		Users:        strings.NewReader(testUsers),
		Cards:        strings.NewReader(testCards),
		Transactions: strings.NewReader(testTransactions),
		Merchants:    strings.NewReader("id,merchant_city,merchant_state,zip,mcc\n59935,Beulah,ND,58523,5499\n"),
		Categories:   strings.NewReader(`{"5499": "Miscellaneous Food Stores", "5311": "Department Stores"}`),
	})
	require.NoError(t, err)

	assert.False(t, ds.MerchantsDerived)
	require.Len(t, ds.Merchants, 1)
	assert.True(t, ds.ClosedTaxonomy)
	require.Len(t, ds.Categories, 2)
	assert.Equal(t, domain.Category{Code: "5311", Description: "Department Stores"}, ds.Categories[0])
}

func TestNormalizeIsIndependentOfWorkerCount(t *testing.T) {
	var b strings.Builder
	b.WriteString("id,date,card_id,amount,merchant_id\n")
	for i := 0; i < 2000; i++ {
		amount := "$1.00"
		if i%7 == 0 {
			amount = "oops"
		}
		b.WriteString(strings.Join([]string{strconv.Itoa(i), "2015-06-01", "4524", amount, "1"}, ","))
		b.WriteString("\n")
	}
	run := func(workers int) []domain.Transaction {
		n := NewNormalizer(workers, logging.Discard(), nil)
		ds, err := n.Normalize(context.Background(), Inputs{
			Users:        strings.NewReader(testUsers),
			Cards:        strings.NewReader(testCards),
			Transactions: strings.NewReader(b.String()),
		})
		require.NoError(t, err)
		return ds.Transactions
	}
	assert.Equal(t, run(1), run(8))
}

func TestResolveSourcesAndDigests(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		UsersFile:        testUsers,
		CardsFile:        testCards,
		TransactionsFile: testTransactions,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}

	src, err := ResolveSources(dir, Sources{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, UsersFile), src.Users)
	assert.Empty(t, src.Merchants)
	assert.Empty(t, src.Categories)

	digests, err := src.Digests()
	require.NoError(t, err)
	assert.Len(t, digests, 3)
	assert.Len(t, digests[UsersFile], 64)

	ds, err := newTestNormalizer(nil).Load(context.Background(), src)
	require.NoError(t, err)
	assert.Len(t, ds.Transactions, 3)

	_, err = ResolveSources(t.TempDir(), Sources{})
	assert.ErrorIs(t, err, ErrMissingDataset)
}
