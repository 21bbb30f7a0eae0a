// Package builder resolves normalized records into the entity graph and derives
// the User↔Merchant interaction edges.
package builder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/vanshika/churngraph/internal/batch"
	"github.com/vanshika/churngraph/internal/config"
	"github.com/vanshika/churngraph/internal/domain"
	"github.com/vanshika/churngraph/internal/ingest"
)

// Report note names.
const (
	NoteMergeConflicts        = "merge_conflicts"
	NoteDuplicateRecords      = "duplicate_records"
	NoteDuplicateTransactions = "duplicate_transactions"
)

// Options configures a Builder.
type Options struct {
	MergePolicy string
	Workers     int
	BatchSize   int
}

// Builder turns a Dataset into a Snapshot.
type Builder struct {
	opts   Options
	logger *slog.Logger
	report *domain.RunReport
}

// New constructs a Builder. Unset options fall back to first_write_wins and
// the default worker count.
func New(opts Options, logger *slog.Logger, report *domain.RunReport) *Builder {
	if opts.MergePolicy == "" {
		opts.MergePolicy = config.MergeFirstWriteWins
	}
	if opts.Workers <= 0 {
		opts.Workers = batch.DefaultWorkers
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	if report == nil {
		report = domain.NewRunReport()
	}
	return &Builder{opts: opts, logger: logger.With("component", "builder"), report: report}
}

// Build resolves entities, validates references and aggregates interaction
// edges. Records failing validation are excluded and counted; Build itself
// only fails on cancellation or an unknown merge policy.
func (b *Builder) Build(ctx context.Context, ds ingest.Dataset) (*Snapshot, error) {
	if b.opts.MergePolicy != config.MergeFirstWriteWins && b.opts.MergePolicy != config.MergeLastWriteWins {
		return nil, fmt.Errorf("unknown merge policy %q", b.opts.MergePolicy)
	}
	start := time.Now()

	categories, st := resolve(ds.Categories,
		func(c domain.Category) string { return c.Code },
		func(a, c domain.Category) bool { return a == c },
		lessString, b.opts.MergePolicy)
	b.noteMerge("category", st)
	categoryCodes := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		categoryCodes[c.Code] = struct{}{}
	}

	users, st := resolve(ds.Users,
		func(u domain.User) int64 { return u.ID },
		domain.User.SameAttributes,
		lessInt64, b.opts.MergePolicy)
	b.noteMerge("user", st)
	userIDs := make(map[int64]struct{}, len(users))
	for _, u := range users {
		userIDs[u.ID] = struct{}{}
	}

	validCards := make([]domain.Card, 0, len(ds.Cards))
	for _, c := range ds.Cards {
		if _, ok := userIDs[c.UserID]; !ok {
			b.reject("card", c.ID, "client_id", fmt.Sprintf("user %d does not exist", c.UserID))
			continue
		}
		validCards = append(validCards, c)
	}
	cards, st := resolve(validCards,
		func(c domain.Card) int64 { return c.ID },
		domain.Card.SameAttributes,
		lessInt64, b.opts.MergePolicy)
	b.noteMerge("card", st)
	owner := make(map[int64]int64, len(cards))
	for _, c := range cards {
		owner[c.ID] = c.UserID
	}

	validMerchants := make([]domain.Merchant, 0, len(ds.Merchants))
	for _, m := range ds.Merchants {
		if ds.ClosedTaxonomy {
			if _, ok := categoryCodes[m.CategoryCode]; !ok {
				b.reject("merchant", m.ID, "mcc", fmt.Sprintf("category %q is not in the taxonomy", m.CategoryCode))
				continue
			}
		}
		validMerchants = append(validMerchants, m)
	}
	merchants, st := resolve(validMerchants,
		func(m domain.Merchant) int64 { return m.ID },
		domain.Merchant.SameAttributes,
		lessInt64, b.opts.MergePolicy)
	b.noteMerge("merchant", st)
	merchantIDs := make(map[int64]struct{}, len(merchants))
	for _, m := range merchants {
		merchantIDs[m.ID] = struct{}{}
	}

	txs, err := b.validateTransactions(ctx, ds.Transactions, owner, merchantIDs)
	if err != nil {
		return nil, err
	}

	edges := AggregateEdges(txs, owner)
	lastActivity := make(map[int64]time.Time, len(users))
	for _, e := range edges {
		if e.LastSeen.After(lastActivity[e.UserID]) {
			lastActivity[e.UserID] = e.LastSeen
		}
	}
	for i := range users {
		users[i].Churned = false
		users[i].LastActivity = nil
		if ts, ok := lastActivity[users[i].ID]; ok {
			users[i].LastActivity = &ts
		}
	}

	b.report.Accept(domain.StageBuild, len(users)+len(cards)+len(merchants)+len(categories)+len(txs))
	snap := newSnapshot(users, cards, merchants, categories, txs, edges)
	stats := snap.Stats()
	b.logger.Info("graph built",
		"users", stats.Users,
		"cards", stats.Cards,
		"merchants", stats.Merchants,
		"transactions", stats.Transactions,
		"interaction_edges", stats.Edges,
		"rejected", b.report.Rejected(domain.StageBuild, "DanglingReference"),
		"version", snap.Version(),
		"duration", time.Since(start).String(),
	)
	return snap, nil
}

// validateTransactions drops duplicate ids, then checks references in
// parallel batches. The accepted set is returned sorted by id.
func (b *Builder) validateTransactions(ctx context.Context, in []domain.Transaction, owner map[int64]int64, merchants map[int64]struct{}) ([]domain.Transaction, error) {
	seen := make(map[int64]struct{}, len(in))
	unique := make([]domain.Transaction, 0, len(in))
	for _, tx := range in {
		if _, dup := seen[tx.ID]; dup {
			b.report.Note(domain.StageBuild, NoteDuplicateTransactions, 1)
			continue
		}
		seen[tx.ID] = struct{}{}
		unique = append(unique, tx)
	}

	errs := make([]error, len(unique))
	chunks := batch.Chunks(len(unique), b.opts.BatchSize)
	err := batch.Run(ctx, b.opts.Workers, len(chunks), func(idx int) error {
		for i := chunks[idx][0]; i < chunks[idx][1]; i++ {
			errs[i] = checkTransaction(unique[i], owner, merchants)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("validate transactions: %w", err)
	}

	out := make([]domain.Transaction, 0, len(unique))
	for i, tx := range unique {
		if errs[i] != nil {
			b.report.Reject(domain.StageBuild, errs[i])
			b.logger.Warn("transaction rejected", "transaction_id", tx.ID, "error", errs[i])
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func checkTransaction(tx domain.Transaction, owner map[int64]int64, merchants map[int64]struct{}) error {
	dangling := func(field, reason string) error {
		return &domain.RecordError{
			Stage:  domain.StageBuild,
			Entity: "transaction",
			Key:    strconv.FormatInt(tx.ID, 10),
			Field:  field,
			Reason: reason,
			Kind:   domain.ErrDanglingReference,
		}
	}
	userID, ok := owner[tx.CardID]
	if !ok {
		return dangling("card_id", fmt.Sprintf("card %d does not exist", tx.CardID))
	}
	if _, ok := merchants[tx.MerchantID]; !ok {
		return dangling("merchant_id", fmt.Sprintf("merchant %d does not exist", tx.MerchantID))
	}
	if tx.ClientID != nil && *tx.ClientID != userID {
		return dangling("client_id", fmt.Sprintf("client %d does not own card %d (owner %d)", *tx.ClientID, tx.CardID, userID))
	}
	return nil
}

func (b *Builder) reject(entity string, id int64, field, reason string) {
	err := &domain.RecordError{
		Stage:  domain.StageBuild,
		Entity: entity,
		Key:    strconv.FormatInt(id, 10),
		Field:  field,
		Reason: reason,
		Kind:   domain.ErrDanglingReference,
	}
	b.report.Reject(domain.StageBuild, err)
	b.logger.Warn("record rejected", "entity", entity, "id", id, "error", err)
}

func (b *Builder) noteMerge(entity string, st mergeStats) {
	if st.duplicates == 0 {
		return
	}
	b.report.Note(domain.StageBuild, NoteDuplicateRecords, st.duplicates)
	b.report.Note(domain.StageBuild, NoteMergeConflicts, st.conflicts)
	if st.conflicts > 0 {
		b.logger.Warn("conflicting attributes on repeated records",
			"entity", entity, "conflicts", st.conflicts, "policy", b.opts.MergePolicy)
	}
}
