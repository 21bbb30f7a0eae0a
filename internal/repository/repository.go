// Package repository persists snapshots into the property-graph store and
// reads the interaction graph back.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/vanshika/churngraph/internal/batch"
	"github.com/vanshika/churngraph/internal/builder"
	"github.com/vanshika/churngraph/internal/domain"
	"github.com/vanshika/churngraph/internal/graph"
)

const defaultBatchSize = 500

// Repository encapsulates graph persistence operations.
type Repository struct {
	client    graph.Client
	batchSize int
}

// New instantiates a Repository backed by the supplied graph client.
func New(client graph.Client, batchSize int) *Repository {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Repository{client: client, batchSize: batchSize}
}

// SyncStats reports what a sync wrote.
type SyncStats struct {
	Users        int
	Cards        int
	Merchants    int
	Categories   int
	Transactions int
	// Edges is the number of interaction edges after recomputation.
	Edges int64
	// Removed counts interaction edges of older versions that were deleted.
	Removed int64
}

// EnsureSchema creates the identity constraints the MERGE statements rely on.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaCypher {
		if _, err := r.client.ExecuteWrite(ctx, stmt, nil); err != nil {
			return domain.Unavailable("graph store", fmt.Errorf("ensure schema: %w", err))
		}
	}
	return nil
}

// SyncSnapshot upserts every entity and relationship of snap keyed by identity,
// then recomputes INTERACTS_WITH by a full aggregation stamped with the
// snapshot version and deletes edges of older versions. Running it twice
// leaves the store unchanged.
func (r *Repository) SyncSnapshot(ctx context.Context, snap *builder.Snapshot) (SyncStats, error) {
	stats := SyncStats{
		Users:        len(snap.Users),
		Cards:        len(snap.Cards),
		Merchants:    len(snap.Merchants),
		Categories:   len(snap.Categories),
		Transactions: len(snap.Transactions),
	}

	steps := []struct {
		name  string
		query string
		rows  []map[string]any
	}{
		{"categories", upsertCategoriesCypher, categoryRows(snap.Categories)},
		{"users", upsertUsersCypher, userRows(snap.Users)},
		{"cards", upsertCardsCypher, cardRows(snap.Cards)},
		{"merchants", upsertMerchantsCypher, merchantRows(snap.Merchants)},
		{"transactions", upsertTransactionsCypher, transactionRows(snap.Transactions)},
	}
	for _, step := range steps {
		if err := r.writeBatches(ctx, step.query, step.rows, nil); err != nil {
			return SyncStats{}, domain.Unavailable("graph store", fmt.Errorf("upsert %s: %w", step.name, err))
		}
	}

	params := map[string]any{"version": snap.Version()}
	res, err := r.client.ExecuteWrite(ctx, recomputeInteractionsCypher, params)
	if err != nil {
		return SyncStats{}, domain.Unavailable("graph store", fmt.Errorf("recompute interactions: %w", err))
	}
	if len(res.Records) > 0 {
		stats.Edges, _ = res.Records[0].Int64("edges")
	}

	res, err = r.client.ExecuteWrite(ctx, deleteStaleInteractionsCypher, params)
	if err != nil {
		return SyncStats{}, domain.Unavailable("graph store", fmt.Errorf("delete stale interactions: %w", err))
	}
	if len(res.Records) > 0 {
		stats.Removed, _ = res.Records[0].Int64("removed")
	}
	return stats, nil
}

// WriteLabels stores the churn flag and last activity of each user.
func (r *Repository) WriteLabels(ctx context.Context, users []domain.User, reference time.Time) error {
	rows := make([]map[string]any, 0, len(users))
	for _, u := range users {
		rows = append(rows, map[string]any{
			"id":           u.ID,
			"churned":      u.Churned,
			"lastActivity": formatTimePtr(u.LastActivity),
		})
	}
	extra := map[string]any{"referenceDate": formatTime(reference)}
	if err := r.writeBatches(ctx, writeLabelsCypher, rows, extra); err != nil {
		return domain.Unavailable("graph store", fmt.Errorf("write labels: %w", err))
	}
	return nil
}

// ReadInteractionEdges returns the interaction edges stamped with version,
// or every edge when version is empty, ordered by (user, merchant).
func (r *Repository) ReadInteractionEdges(ctx context.Context, version string) ([]domain.InteractionEdge, error) {
	res, err := r.client.ExecuteRead(ctx, readInteractionsCypher, map[string]any{"version": version})
	if err != nil {
		return nil, domain.Unavailable("graph store", fmt.Errorf("read interactions: %w", err))
	}
	edges := make([]domain.InteractionEdge, 0, len(res.Records))
	for _, rec := range res.Records {
		userID, okU := rec.Int64("userId")
		merchantID, okM := rec.Int64("merchantId")
		if !okU || !okM {
			continue
		}
		weight, _ := rec.Int64("weight")
		e := domain.InteractionEdge{UserID: userID, MerchantID: merchantID, Weight: weight}
		if ts := toTimePtr(rec["lastSeen"]); ts != nil {
			e.LastSeen = *ts
		}
		edges = append(edges, e)
	}
	return edges, nil
}

func (r *Repository) writeBatches(ctx context.Context, query string, rows []map[string]any, extra map[string]any) error {
	for _, span := range batch.Chunks(len(rows), r.batchSize) {
		params := map[string]any{"rows": rows[span[0]:span[1]]}
		for k, v := range extra {
			params[k] = v
		}
		if _, err := r.client.ExecuteWrite(ctx, query, params); err != nil {
			return fmt.Errorf("rows %d-%d: %w", span[0], span[1], err)
		}
	}
	return nil
}

func categoryRows(categories []domain.Category) []map[string]any {
	rows := make([]map[string]any, 0, len(categories))
	for _, c := range categories {
		rows = append(rows, map[string]any{"code": c.Code, "description": c.Description})
	}
	return rows
}

func userRows(users []domain.User) []map[string]any {
	rows := make([]map[string]any, 0, len(users))
	for _, u := range users {
		rows = append(rows, map[string]any{
			"id": u.ID,
			"props": map[string]any{
				"currentAge":      intOrNil(u.Age),
				"birthYear":       intOrNil(u.BirthYear),
				"gender":          u.Gender,
				"address":         u.Address,
				"latitude":        floatOrNil(u.Latitude),
				"longitude":       floatOrNil(u.Longitude),
				"perCapitaIncome": floatOrNil(u.PerCapitaIncome),
				"yearlyIncome":    floatOrNil(u.YearlyIncome),
				"totalDebt":       floatOrNil(u.TotalDebt),
				"creditScore":     intOrNil(u.CreditScore),
				"numCreditCards":  intOrNil(u.NumCreditCards),
			},
		})
	}
	return rows
}

func cardRows(cards []domain.Card) []map[string]any {
	rows := make([]map[string]any, 0, len(cards))
	for _, c := range cards {
		rows = append(rows, map[string]any{
			"id":     c.ID,
			"userId": c.UserID,
			"props": map[string]any{
				"brand":        c.Brand,
				"type":         c.Type,
				"hasChip":      c.HasChip,
				"creditLimit":  floatOrNil(c.CreditLimit),
				"acctOpenDate": formatTimePtr(c.AcctOpenDate),
				"cardsIssued":  intOrNil(c.CardsIssued),
				"onDarkWeb":    c.OnDarkWeb,
			},
		})
	}
	return rows
}

func merchantRows(merchants []domain.Merchant) []map[string]any {
	rows := make([]map[string]any, 0, len(merchants))
	for _, m := range merchants {
		rows = append(rows, map[string]any{
			"id":           m.ID,
			"categoryCode": m.CategoryCode,
			"props": map[string]any{
				"city":  m.City,
				"state": m.State,
				"zip":   m.Zip,
			},
		})
	}
	return rows
}

func transactionRows(txs []domain.Transaction) []map[string]any {
	rows := make([]map[string]any, 0, len(txs))
	for _, tx := range txs {
		rows = append(rows, map[string]any{
			"id":         tx.ID,
			"cardId":     tx.CardID,
			"merchantId": tx.MerchantID,
			"props": map[string]any{
				"amountCents": tx.AmountCents,
				"timestamp":   formatTime(tx.Timestamp),
				"channel":     string(tx.Channel),
				"online":      tx.Online,
				"chip":        tx.Chip,
				"errors":      append([]string{}, tx.Errors...),
			},
		})
	}
	return rows
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func floatOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// formatTime uses a fixed-width layout so stored timestamps order lexically.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return formatTime(*t)
}

func toTimePtr(val any) *time.Time {
	switch v := val.(type) {
	case time.Time:
		return &v
	case string:
		if v == "" {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			return &parsed
		}
	}
	return nil
}
