package generator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/churngraph/internal/domain"
	"github.com/vanshika/churngraph/internal/ingest"
	"github.com/vanshika/churngraph/internal/logging"
)

func smallConfig() Config {
	return Config{
		NumUsers:            60,
		NumMerchants:        20,
		MaxCardsPerUser:     2,
		TransactionsPerUser: 8,
		DormantFraction:     0.3,
		NeverActiveFraction: 0.05,
		DormantDays:         40,
		WindowDays:          200,
		End:                 time.Date(2019, time.October, 31, 12, 0, 0, 0, time.UTC),
		Seed:                7,
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	a, err := New(smallConfig()).Generate(context.Background())
	require.NoError(t, err)
	b, err := New(smallConfig()).Generate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, a.Users, b.Users)
	assert.Equal(t, a.Transactions, b.Transactions)
	assert.Equal(t, a.Activity, b.Activity)
}

func TestGenerateHonoursActivity(t *testing.T) {
	cfg := smallConfig()
	ds, err := New(cfg).Generate(context.Background())
	require.NoError(t, err)
	require.Len(t, ds.Users, cfg.NumUsers)
	require.NotEmpty(t, ds.IDs(Dormant))
	require.NotEmpty(t, ds.IDs(Active))

	last := make(map[int64]time.Time)
	for _, tx := range ds.Transactions {
		require.NotNil(t, tx.ClientID)
		if tx.Timestamp.After(last[*tx.ClientID]) {
			last[*tx.ClientID] = tx.Timestamp
		}
		assert.False(t, tx.Timestamp.After(cfg.End))
	}

	for _, id := range ds.IDs(Dormant) {
		assert.Greater(t, cfg.End.Sub(last[id]), time.Duration(cfg.DormantDays)*day, "user %d", id)
	}
	for _, id := range ds.IDs(Active) {
		assert.LessOrEqual(t, cfg.End.Sub(last[id]), 7*day, "user %d", id)
	}
	for _, id := range ds.IDs(NeverActive) {
		_, ok := last[id]
		assert.False(t, ok, "user %d", id)
	}

	for i := 1; i < len(ds.Transactions); i++ {
		assert.Greater(t, ds.Transactions[i].ID, ds.Transactions[i-1].ID)
		assert.False(t, ds.Transactions[i].Timestamp.Before(ds.Transactions[i-1].Timestamp))
	}
}

func TestGenerateRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(smallConfig()).Generate(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWrittenDatasetNormalizes(t *testing.T) {
	ds, err := New(smallConfig()).Generate(context.Background())
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, WriteDataset(ds, dir, WriteOptions{Merchants: true, Categories: true}))
	for _, name := range []string{ingest.UsersFile, ingest.CardsFile, ingest.TransactionsFile, ingest.MerchantsFile, ingest.CategoriesFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
	}

	src, err := ingest.ResolveSources(dir, ingest.Sources{})
	require.NoError(t, err)
	report := domain.NewRunReport()
	got, err := ingest.NewNormalizer(2, logging.Discard(), report).Load(context.Background(), src)
	require.NoError(t, err)

	assert.Zero(t, report.TotalRejected())
	assert.Len(t, got.Users, len(ds.Users))
	assert.Len(t, got.Cards, len(ds.Cards))
	assert.Len(t, got.Merchants, len(ds.Merchants))
	assert.True(t, got.ClosedTaxonomy)
	require.Len(t, got.Transactions, len(ds.Transactions))
	for i, tx := range got.Transactions {
		want := ds.Transactions[i]
		assert.Equal(t, want.ID, tx.ID)
		assert.Equal(t, want.AmountCents, tx.AmountCents)
		assert.True(t, want.Timestamp.Equal(tx.Timestamp), "tx %d", tx.ID)
		assert.Equal(t, want.Channel, tx.Channel)
	}
}

func TestWriteWithoutOptionalFiles(t *testing.T) {
	ds, err := New(smallConfig()).Generate(context.Background())
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, WriteDataset(ds, dir, WriteOptions{}))
	_, err = os.Stat(filepath.Join(dir, ingest.MerchantsFile))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, ingest.CategoriesFile))
	assert.True(t, os.IsNotExist(err))
}
