// Package ingest turns raw delimited input files into typed domain records.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vanshika/churngraph/internal/batch"
	"github.com/vanshika/churngraph/internal/domain"
)

const rowsPerBatch = 512

// Dataset is the typed record stream produced from one set of input files.
// Records keep source order; duplicates are left for the builder to resolve.
type Dataset struct {
	Users        []domain.User
	Cards        []domain.Card
	Merchants    []domain.Merchant
	Categories   []domain.Category
	Transactions []domain.Transaction

	// ClosedTaxonomy is set when categories came from an explicit taxonomy file.
	ClosedTaxonomy bool
	// MerchantsDerived is set when merchants were reconstructed from transaction rows.
	MerchantsDerived bool
}

// Inputs holds readers for each input. Merchants and Categories may be nil.
type Inputs struct {
	Users        io.Reader
	Cards        io.Reader
	Transactions io.Reader
	Merchants    io.Reader
	Categories   io.Reader
}

// Normalizer coerces raw rows to typed records, dropping and counting rows
// whose required fields cannot be coerced.
type Normalizer struct {
	workers int
	logger  *slog.Logger
	report  *domain.RunReport
}

// NewNormalizer constructs a Normalizer. report receives accepted and rejected counts.
func NewNormalizer(workers int, logger *slog.Logger, report *domain.RunReport) *Normalizer {
	if workers <= 0 {
		workers = batch.DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	if report == nil {
		report = domain.NewRunReport()
	}
	return &Normalizer{workers: workers, logger: logger.With("component", "normalizer"), report: report}
}

// Load opens the files named by src and normalises them.
func (n *Normalizer) Load(ctx context.Context, src Sources) (Dataset, error) {
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	open := func(path string) (io.Reader, error) {
		if path == "" {
			return nil, nil
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		closers = append(closers, f)
		return f, nil
	}

	var (
		in  Inputs
		err error
	)
	if in.Users, err = open(src.Users); err != nil {
		return Dataset{}, err
	}
	if in.Cards, err = open(src.Cards); err != nil {
		return Dataset{}, err
	}
	if in.Transactions, err = open(src.Transactions); err != nil {
		return Dataset{}, err
	}
	if in.Merchants, err = open(src.Merchants); err != nil {
		return Dataset{}, err
	}
	if in.Categories, err = open(src.Categories); err != nil {
		return Dataset{}, err
	}
	return n.Normalize(ctx, in)
}

// Normalize parses every input. Missing required columns abort with
// domain.ErrSchema; row-level failures are reported and skipped.
func (n *Normalizer) Normalize(ctx context.Context, in Inputs) (Dataset, error) {
	if in.Users == nil || in.Cards == nil || in.Transactions == nil {
		return Dataset{}, fmt.Errorf("%w: users, cards and transactions inputs are required", domain.ErrSchema)
	}

	var ds Dataset
	var err error

	if ds.Users, err = normalizeFile(ctx, n, UsersFile, in.Users, parseUser, "id"); err != nil {
		return Dataset{}, err
	}
	if ds.Cards, err = normalizeFile(ctx, n, CardsFile, in.Cards, parseCard, "id", "client_id"); err != nil {
		return Dataset{}, err
	}

	txRows, err := normalizeFile(ctx, n, TransactionsFile, in.Transactions, parseTransactionRow,
		"id", "date", "card_id", "amount", "merchant_id")
	if err != nil {
		return Dataset{}, err
	}
	ds.Transactions = make([]domain.Transaction, len(txRows))
	for i, tr := range txRows {
		ds.Transactions[i] = tr.tx
	}

	if in.Merchants != nil {
		if ds.Merchants, err = normalizeFile(ctx, n, MerchantsFile, in.Merchants, parseMerchant, "id"); err != nil {
			return Dataset{}, err
		}
	} else {
		ds.MerchantsDerived = true
		ds.Merchants = make([]domain.Merchant, len(txRows))
		for i, tr := range txRows {
			ds.Merchants[i] = tr.merchant
		}
		n.report.Note(domain.StageNormalize, "derived_merchants", len(ds.Merchants))
	}

	if in.Categories != nil {
		if ds.Categories, err = decodeCategories(in.Categories); err != nil {
			return Dataset{}, err
		}
		ds.ClosedTaxonomy = true
		n.report.Accept(domain.StageNormalize, len(ds.Categories))
	} else {
		ds.Categories = deriveCategories(ds.Merchants)
	}

	n.logger.Info("normalization complete",
		"users", len(ds.Users),
		"cards", len(ds.Cards),
		"transactions", len(ds.Transactions),
		"merchants", len(ds.Merchants),
		"categories", len(ds.Categories),
		"closed_taxonomy", ds.ClosedTaxonomy,
		"rejected", n.report.Rejected(domain.StageNormalize, "MalformedRecord"),
	)
	return ds, nil
}

// normalizeFile parses rows of one file in parallel batches and returns the
// accepted records in source order.
func normalizeFile[T any](ctx context.Context, n *Normalizer, name string, r io.Reader, parse func(*table, row) (T, error), required ...string) ([]T, error) {
	t, err := readTable(name, r, required...)
	if err != nil {
		return nil, err
	}
	for _, recErr := range t.broken {
		n.reject(recErr)
	}

	results := make([]T, len(t.rows))
	errs := make([]error, len(t.rows))
	chunks := batch.Chunks(len(t.rows), rowsPerBatch)
	err = batch.Run(ctx, n.workers, len(chunks), func(idx int) error {
		for i := chunks[idx][0]; i < chunks[idx][1]; i++ {
			results[i], errs[i] = parse(t, t.rows[i])
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", name, err)
	}

	out := make([]T, 0, len(results))
	for i := range results {
		if errs[i] != nil {
			n.reject(errs[i])
			continue
		}
		out = append(out, results[i])
	}
	n.report.Accept(domain.StageNormalize, len(out))
	n.logger.Debug("file normalized", "file", name, "rows", len(t.rows)+len(t.broken), "accepted", len(out))
	return out, nil
}

func (n *Normalizer) reject(err error) {
	n.report.Reject(domain.StageNormalize, err)
	n.logger.Debug("record dropped", "error", err)
}

// rowParser reads typed fields from a row and remembers the first failure.
type rowParser struct {
	t      *table
	r      row
	entity string
	key    string
	err    *domain.RecordError
}

func newRowParser(t *table, r row, entity string) *rowParser {
	return &rowParser{t: t, r: r, entity: entity}
}

func (p *rowParser) fail(field string, err error) {
	if p.err != nil {
		return
	}
	reason := err.Error()
	if errors.Is(err, errBlank) {
		reason = "required value is blank"
	}
	p.err = &domain.RecordError{
		Stage:  domain.StageNormalize,
		Entity: p.entity,
		Key:    p.key,
		Line:   p.r.line,
		Field:  field,
		Reason: reason,
		Kind:   domain.ErrMalformedRecord,
	}
}

func (p *rowParser) result() error {
	if p.err == nil {
		return nil
	}
	p.err.Key = p.key
	return p.err
}

func (p *rowParser) str(field string) string {
	return p.t.get(p.r, field)
}

func (p *rowParser) id(field string) int64 {
	v, err := ParseID(p.str(field))
	if err != nil {
		p.fail(field, err)
	}
	return v
}

func (p *rowParser) key64(field string) int64 {
	raw := p.str(field)
	v := p.id(field)
	if p.err == nil {
		p.key = raw
	}
	return v
}

func (p *rowParser) optInt(field string) *int {
	v, err := optionalInt(p.str(field))
	if err != nil {
		p.fail(field, err)
	}
	return v
}

func (p *rowParser) optInt64(field string) *int64 {
	v, err := optionalInt64(p.str(field))
	if err != nil {
		p.fail(field, err)
	}
	return v
}

func (p *rowParser) optFloat(field string) *float64 {
	v, err := optionalFloat(p.str(field))
	if err != nil {
		p.fail(field, err)
	}
	return v
}

func (p *rowParser) optCurrency(field string) *float64 {
	v, err := optionalCurrency(p.str(field))
	if err != nil {
		p.fail(field, err)
	}
	return v
}

func (p *rowParser) optDate(field string) *time.Time {
	v, err := optionalDate(p.str(field))
	if err != nil {
		p.fail(field, err)
	}
	return v
}

func (p *rowParser) optBool(field string) bool {
	v, err := optionalBool(p.str(field))
	if err != nil {
		p.fail(field, err)
	}
	return v
}

func parseUser(t *table, r row) (domain.User, error) {
	p := newRowParser(t, r, "user")
	u := domain.User{
		ID:              p.key64("id"),
		Age:             p.optInt("current_age"),
		BirthYear:       p.optInt("birth_year"),
		Gender:          p.str("gender"),
		Address:         p.str("address"),
		Latitude:        p.optFloat("latitude"),
		Longitude:       p.optFloat("longitude"),
		PerCapitaIncome: p.optCurrency("per_capita_income"),
		YearlyIncome:    p.optCurrency("yearly_income"),
		TotalDebt:       p.optCurrency("total_debt"),
		CreditScore:     p.optInt("credit_score"),
		NumCreditCards:  p.optInt("num_credit_cards"),
	}
	return u, p.result()
}

func parseCard(t *table, r row) (domain.Card, error) {
	p := newRowParser(t, r, "card")
	c := domain.Card{
		ID:           p.key64("id"),
		UserID:       p.id("client_id"),
		Brand:        p.str("card_brand"),
		Type:         p.str("card_type"),
		HasChip:      p.optBool("has_chip"),
		CreditLimit:  p.optCurrency("credit_limit"),
		AcctOpenDate: p.optDate("acct_open_date"),
		CardsIssued:  p.optInt("num_cards_issued"),
		OnDarkWeb:    p.optBool("card_on_dark_web"),
	}
	return c, p.result()
}

func parseMerchant(t *table, r row) (domain.Merchant, error) {
	p := newRowParser(t, r, "merchant")
	m := domain.Merchant{
		ID:           p.key64("id"),
		City:         p.str("merchant_city"),
		State:        p.str("merchant_state"),
		Zip:          normalizeZip(p.str("zip")),
		CategoryCode: p.str("mcc"),
	}
	return m, p.result()
}

// transactionRow carries a transaction and the merchant attributes seen on its row.
type transactionRow struct {
	tx       domain.Transaction
	merchant domain.Merchant
}

func parseTransactionRow(t *table, r row) (transactionRow, error) {
	p := newRowParser(t, r, "transaction")
	tx := domain.Transaction{
		ID:         p.key64("id"),
		CardID:     p.id("card_id"),
		MerchantID: p.id("merchant_id"),
		ClientID:   p.optInt64("client_id"),
		Errors:     splitList(p.str("errors")),
	}

	if ts, err := ParseDate(p.str("date")); err != nil {
		p.fail("date", err)
	} else {
		tx.Timestamp = ts
	}
	if cents, err := ParseCurrency(p.str("amount")); err != nil {
		p.fail("amount", err)
	} else {
		tx.AmountCents = cents
	}
	if raw := p.str("use_chip"); raw != "" {
		ch, err := ParseChannel(raw)
		if err != nil {
			p.fail("use_chip", err)
		}
		tx.Channel = ch
		tx.Online = ch == domain.ChannelOnline
		tx.Chip = ch == domain.ChannelChip
	}

	m := domain.Merchant{
		ID:           tx.MerchantID,
		City:         p.str("merchant_city"),
		State:        p.str("merchant_state"),
		Zip:          normalizeZip(p.str("zip")),
		CategoryCode: p.str("mcc"),
	}
	return transactionRow{tx: tx, merchant: m}, p.result()
}

// normalizeZip drops a trailing ".0" left by spreadsheet exports.
func normalizeZip(zip string) string {
	if strings.HasSuffix(zip, ".0") {
		if _, err := strconv.Atoi(strings.TrimSuffix(zip, ".0")); err == nil {
			return strings.TrimSuffix(zip, ".0")
		}
	}
	return zip
}

func decodeCategories(r io.Reader) ([]domain.Category, error) {
	var raw map[string]string
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrSchema, CategoriesFile, err)
	}
	out := make([]domain.Category, 0, len(raw))
	for code, desc := range raw {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		out = append(out, domain.Category{Code: code, Description: strings.TrimSpace(desc)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func deriveCategories(merchants []domain.Merchant) []domain.Category {
	seen := make(map[string]struct{})
	var out []domain.Category
	for _, m := range merchants {
		if m.CategoryCode == "" {
			continue
		}
		if _, ok := seen[m.CategoryCode]; ok {
			continue
		}
		seen[m.CategoryCode] = struct{}{}
		out = append(out, domain.Category{Code: m.CategoryCode})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
