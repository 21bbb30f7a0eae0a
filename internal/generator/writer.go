package generator

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vanshika/churngraph/internal/domain"
	"github.com/vanshika/churngraph/internal/ingest"
)

// WriteOptions selects the optional files written next to users, cards and transactions.
type WriteOptions struct {
	Merchants  bool
	Categories bool
}

// WriteDataset serializes the dataset as input files under dir.
func WriteDataset(dataset Dataset, dir string, opts WriteOptions) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := writeCSV(filepath.Join(dir, ingest.UsersFile), userHeader, len(dataset.Users), func(i int) []string {
		return userRecord(dataset.Users[i])
	}); err != nil {
		return err
	}
	if err := writeCSV(filepath.Join(dir, ingest.CardsFile), cardHeader, len(dataset.Cards), func(i int) []string {
		return cardRecord(dataset.Cards[i])
	}); err != nil {
		return err
	}

	merchants := make(map[int64]domain.Merchant, len(dataset.Merchants))
	for _, m := range dataset.Merchants {
		merchants[m.ID] = m
	}
	if err := writeCSV(filepath.Join(dir, ingest.TransactionsFile), transactionHeader, len(dataset.Transactions), func(i int) []string {
		tx := dataset.Transactions[i]
		return transactionRecord(tx, merchants[tx.MerchantID])
	}); err != nil {
		return err
	}

	if opts.Merchants {
		if err := writeCSV(filepath.Join(dir, ingest.MerchantsFile), merchantHeader, len(dataset.Merchants), func(i int) []string {
			return merchantRecord(dataset.Merchants[i])
		}); err != nil {
			return err
		}
	}
	if opts.Categories {
		taxonomy := make(map[string]string, len(dataset.Categories))
		for _, c := range dataset.Categories {
			taxonomy[c.Code] = c.Description
		}
		if err := writeJSON(filepath.Join(dir, ingest.CategoriesFile), taxonomy); err != nil {
			return err
		}
	}
	return nil
}

var (
	userHeader = []string{"id", "current_age", "birth_year", "gender", "address", "latitude", "longitude",
		"per_capita_income", "yearly_income", "total_debt", "credit_score", "num_credit_cards"}
	cardHeader = []string{"id", "client_id", "card_brand", "card_type", "has_chip", "num_cards_issued",
		"credit_limit", "acct_open_date", "card_on_dark_web"}
	transactionHeader = []string{"id", "date", "client_id", "card_id", "amount", "use_chip", "merchant_id",
		"merchant_city", "merchant_state", "zip", "mcc", "errors"}
	merchantHeader = []string{"id", "merchant_city", "merchant_state", "zip", "mcc"}
)

func userRecord(u domain.User) []string {
	return []string{
		id(u.ID), intString(u.Age), intString(u.BirthYear), u.Gender, u.Address,
		floatString(u.Latitude), floatString(u.Longitude),
		dollars(u.PerCapitaIncome), dollars(u.YearlyIncome), dollars(u.TotalDebt),
		intString(u.CreditScore), intString(u.NumCreditCards),
	}
}

func cardRecord(c domain.Card) []string {
	opened := ""
	if c.AcctOpenDate != nil {
		opened = c.AcctOpenDate.Format("01/2006")
	}
	return []string{
		id(c.ID), id(c.UserID), c.Brand, c.Type, yesNo(c.HasChip), intString(c.CardsIssued),
		dollars(c.CreditLimit), opened, yesNo(c.OnDarkWeb),
	}
}

func transactionRecord(tx domain.Transaction, m domain.Merchant) []string {
	client := ""
	if tx.ClientID != nil {
		client = id(*tx.ClientID)
	}
	return []string{
		id(tx.ID), tx.Timestamp.Format("2006-01-02 15:04"), client, id(tx.CardID),
		"$" + decimal.New(tx.AmountCents, -2).StringFixed(2), channelLabel(tx.Channel), id(tx.MerchantID),
		m.City, m.State, m.Zip, m.CategoryCode, strings.Join(tx.Errors, ","),
	}
}

func merchantRecord(m domain.Merchant) []string {
	return []string{id(m.ID), m.City, m.State, m.Zip, m.CategoryCode}
}

func channelLabel(ch domain.Channel) string {
	switch ch {
	case domain.ChannelSwipe:
		return "Swipe Transaction"
	case domain.ChannelChip:
		return "Chip Transaction"
	case domain.ChannelOnline:
		return "Online Transaction"
	default:
		return ""
	}
}

func id(v int64) string { return strconv.FormatInt(v, 10) }

func intString(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func floatString(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}

func dollars(v *float64) string {
	if v == nil {
		return ""
	}
	return "$" + decimal.NewFromFloat(*v).StringFixed(0)
}

func yesNo(v bool) string {
	if v {
		return "YES"
	}
	return "NO"
}

func writeCSV(path string, header []string, n int, record func(i int) []string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	for i := 0; i < n; i++ {
		if err := w.Write(record(i)); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return file.Close()
}

func writeJSON(path string, data any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode json for %s: %w", path, err)
	}
	return nil
}
