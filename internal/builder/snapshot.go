package builder

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/vanshika/churngraph/internal/domain"
)

// Snapshot is the immutable graph produced by one build. Entity slices are
// sorted by identity key; edges by (user, merchant).
type Snapshot struct {
	Users        []domain.User
	Cards        []domain.Card
	Merchants    []domain.Merchant
	Categories   []domain.Category
	Transactions []domain.Transaction
	Edges        []domain.InteractionEdge

	version string
}

// Stats summarises the size of a snapshot.
type Stats struct {
	Users        int   `json:"users" yaml:"users"`
	Cards        int   `json:"cards" yaml:"cards"`
	Merchants    int   `json:"merchants" yaml:"merchants"`
	Categories   int   `json:"categories" yaml:"categories"`
	Transactions int   `json:"transactions" yaml:"transactions"`
	Edges        int   `json:"interaction_edges" yaml:"interaction_edges"`
	TotalWeight  int64 `json:"total_edge_weight" yaml:"total_edge_weight"`
}

func newSnapshot(users []domain.User, cards []domain.Card, merchants []domain.Merchant, categories []domain.Category, txs []domain.Transaction, edges []domain.InteractionEdge) *Snapshot {
	s := &Snapshot{
		Users:        users,
		Cards:        cards,
		Merchants:    merchants,
		Categories:   categories,
		Transactions: txs,
		Edges:        edges,
	}
	s.version = s.computeVersion()
	return s
}

// Version identifies the interaction graph. Two builds over the same input
// have the same version.
func (s *Snapshot) Version() string {
	return s.version
}

// Stats returns entity and edge counts.
func (s *Snapshot) Stats() Stats {
	st := Stats{
		Users:        len(s.Users),
		Cards:        len(s.Cards),
		Merchants:    len(s.Merchants),
		Categories:   len(s.Categories),
		Transactions: len(s.Transactions),
		Edges:        len(s.Edges),
	}
	for _, e := range s.Edges {
		st.TotalWeight += e.Weight
	}
	return st
}

// LatestTransaction returns the maximum accepted transaction timestamp.
func (s *Snapshot) LatestTransaction() (time.Time, bool) {
	var latest time.Time
	found := false
	for _, tx := range s.Transactions {
		if !found || tx.Timestamp.After(latest) {
			latest = tx.Timestamp
			found = true
		}
	}
	return latest, found
}

// WithUsers returns a copy of the snapshot carrying users in place of its own.
// The interaction graph, and therefore the version, is shared.
func (s *Snapshot) WithUsers(users []domain.User) *Snapshot {
	cp := *s
	cp.Users = users
	return &cp
}

func (s *Snapshot) computeVersion() string {
	h := sha256.New()
	fmt.Fprintf(h, "users=%d cards=%d merchants=%d categories=%d transactions=%d\n",
		len(s.Users), len(s.Cards), len(s.Merchants), len(s.Categories), len(s.Transactions))
	for _, e := range s.Edges {
		fmt.Fprintf(h, "%d,%d,%d,%d\n", e.UserID, e.MerchantID, e.Weight, e.LastSeen.Unix())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// AggregateEdges computes Interaction Edges over the complete transaction set
// in a single pass. owner maps card id to user id; transactions on unknown
// cards are skipped.
func AggregateEdges(txs []domain.Transaction, owner map[int64]int64) []domain.InteractionEdge {
	type pair struct{ user, merchant int64 }
	acc := make(map[pair]*domain.InteractionEdge)
	for _, tx := range txs {
		userID, ok := owner[tx.CardID]
		if !ok {
			continue
		}
		k := pair{userID, tx.MerchantID}
		e, ok := acc[k]
		if !ok {
			e = &domain.InteractionEdge{UserID: userID, MerchantID: tx.MerchantID}
			acc[k] = e
		}
		e.Weight++
		if tx.Timestamp.After(e.LastSeen) {
			e.LastSeen = tx.Timestamp
		}
	}

	edges := make([]domain.InteractionEdge, 0, len(acc))
	for _, e := range acc {
		edges = append(edges, *e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].UserID != edges[j].UserID {
			return edges[i].UserID < edges[j].UserID
		}
		return edges[i].MerchantID < edges[j].MerchantID
	})
	return edges
}
