package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrMissingDataset is returned when a required input file cannot be found.
var ErrMissingDataset = errors.New("dataset not found")

// Default file names inside a data directory.
const (
	UsersFile        = "users.csv"
	CardsFile        = "cards.csv"
	TransactionsFile = "transactions.csv"
	MerchantsFile    = "merchants.csv"
	CategoriesFile   = "categories.json"
)

// Sources locates the input files of one run. Merchants and Categories are optional.
type Sources struct {
	Users        string
	Cards        string
	Transactions string
	Merchants    string
	Categories   string
}

// ResolveSources fills unset paths in explicit from dir. Explicit paths must
// exist; optional files are left empty when absent from dir.
func ResolveSources(dir string, explicit Sources) (Sources, error) {
	resolve := func(explicitPath, fallbackFile string, required bool) (string, error) {
		if explicitPath != "" {
			if _, err := os.Stat(explicitPath); err != nil {
				return "", fmt.Errorf("stat %s: %w", explicitPath, err)
			}
			return explicitPath, nil
		}
		path := filepath.Join(dir, fallbackFile)
		if _, err := os.Stat(path); err != nil {
			if !required {
				return "", nil
			}
			return "", fmt.Errorf("%w: %s", ErrMissingDataset, path)
		}
		return path, nil
	}

	var (
		out Sources
		err error
	)
	if out.Users, err = resolve(explicit.Users, UsersFile, true); err != nil {
		return Sources{}, err
	}
	if out.Cards, err = resolve(explicit.Cards, CardsFile, true); err != nil {
		return Sources{}, err
	}
	if out.Transactions, err = resolve(explicit.Transactions, TransactionsFile, true); err != nil {
		return Sources{}, err
	}
	if out.Merchants, err = resolve(explicit.Merchants, MerchantsFile, false); err != nil {
		return Sources{}, err
	}
	if out.Categories, err = resolve(explicit.Categories, CategoriesFile, false); err != nil {
		return Sources{}, err
	}
	return out, nil
}

// Digests returns the SHA-256 of every configured file keyed by base name.
func (s Sources) Digests() (map[string]string, error) {
	out := make(map[string]string, 5)
	for _, path := range []string{s.Users, s.Cards, s.Transactions, s.Merchants, s.Categories} {
		if path == "" {
			continue
		}
		sum, err := fileDigest(path)
		if err != nil {
			return nil, err
		}
		out[filepath.Base(path)] = sum
	}
	return out, nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
