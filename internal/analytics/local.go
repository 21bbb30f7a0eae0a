package analytics

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/mat"

	"github.com/vanshika/churngraph/internal/domain"
)

// Defaults for the in-process engine.
const (
	DefaultDamping   = 0.85
	DefaultTolerance = 1e-6
)

// Local computes features in process: FastRP embeddings and weighted PageRank
// centrality over the bipartite User–Merchant graph.
type Local struct {
	// IterationWeights scale the propagated projections; index 0 applies to
	// the raw random projection.
	IterationWeights []float64
	Damping          float64
	Tolerance        float64
}

// NewLocal returns a Local engine with FastRP weights [0, 1, 1].
func NewLocal() *Local {
	return &Local{
		IterationWeights: []float64{0, 1, 1},
		Damping:          DefaultDamping,
		Tolerance:        DefaultTolerance,
	}
}

// nodeIndex assigns dense indices: users first (sorted), then merchants (sorted).
type nodeIndex struct {
	users     []int64
	merchants []int64
	user      map[int64]int
	merchant  map[int64]int
}

func buildIndex(req Request) nodeIndex {
	userSet := make(map[int64]struct{}, len(req.UserIDs))
	merchantSet := make(map[int64]struct{})
	for _, id := range req.UserIDs {
		userSet[id] = struct{}{}
	}
	for _, e := range req.Edges {
		userSet[e.UserID] = struct{}{}
		merchantSet[e.MerchantID] = struct{}{}
	}
	idx := nodeIndex{
		users:     sortedKeys(userSet),
		merchants: sortedKeys(merchantSet),
		user:      make(map[int64]int, len(userSet)),
		merchant:  make(map[int64]int, len(merchantSet)),
	}
	for i, id := range idx.users {
		idx.user[id] = i
	}
	for i, id := range idx.merchants {
		idx.merchant[id] = len(idx.users) + i
	}
	return idx
}

func (n nodeIndex) size() int { return len(n.users) + len(n.merchants) }

// Analyze implements Engine.
func (l *Local) Analyze(ctx context.Context, req Request) (Result, error) {
	idx := buildIndex(req)
	res := Result{
		SnapshotVersion: req.SnapshotVersion,
		Embeddings:      make(map[int64][]float64, len(idx.users)),
		Centrality:      make(map[int64]float64, len(idx.users)),
	}
	if len(idx.users) == 0 {
		return res, nil
	}

	emb, err := l.fastRP(ctx, idx, req)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	rank := l.pageRank(idx, req.Edges)

	for i, id := range idx.users {
		res.Embeddings[id] = append([]float64(nil), emb.RawRowView(i)...)
		res.Centrality[id] = stable(rank[int64(i)])
	}
	return res, nil
}

type neighbour struct {
	node   int
	weight float64
}

// fastRP propagates a sparse random projection along degree-normalised
// weighted adjacency and sums the L2-normalised iterates.
func (l *Local) fastRP(ctx context.Context, idx nodeIndex, req Request) (*mat.Dense, error) {
	n, d := idx.size(), req.Dimension

	adj := make([][]neighbour, n)
	degree := make([]float64, n)
	for _, e := range req.Edges {
		u, m := idx.user[e.UserID], idx.merchant[e.MerchantID]
		w := float64(e.Weight)
		adj[u] = append(adj[u], neighbour{m, w})
		adj[m] = append(adj[m], neighbour{u, w})
		degree[u] += w
		degree[m] += w
	}

	rng := rand.New(rand.NewSource(req.Seed))
	scale := math.Sqrt(3)
	current := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		row := current.RawRowView(i)
		for j := range row {
			switch r := rng.Float64(); {
			case r < 1.0/6:
				row[j] = scale
			case r < 2.0/6:
				row[j] = -scale
			}
		}
	}

	out := mat.NewDense(n, d, nil)
	for step, weight := range l.IterationWeights {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if step > 0 {
			next := mat.NewDense(n, d, nil)
			for i := 0; i < n; i++ {
				if degree[i] == 0 {
					continue
				}
				row := next.RawRowView(i)
				for _, nb := range adj[i] {
					floats.AddScaled(row, nb.weight/degree[i], current.RawRowView(nb.node))
				}
				if norm := floats.Norm(row, 2); norm > 0 {
					floats.Scale(1/norm, row)
				}
			}
			current = next
		}
		if weight == 0 {
			continue
		}
		for i := 0; i < n; i++ {
			floats.AddScaled(out.RawRowView(i), weight, current.RawRowView(i))
		}
	}
	return out, nil
}

// pageRank runs weighted PageRank with each interaction edge in both directions.
// Results are keyed by dense node index.
func (l *Local) pageRank(idx nodeIndex, edges []domain.InteractionEdge) map[int64]float64 {
	g := simple.NewWeightedDirectedGraph(0, 0)
	for i := 0; i < idx.size(); i++ {
		g.AddNode(simple.Node(int64(i)))
	}
	for _, e := range edges {
		u := simple.Node(int64(idx.user[e.UserID]))
		m := simple.Node(int64(idx.merchant[e.MerchantID]))
		w := float64(e.Weight)
		g.SetWeightedEdge(g.NewWeightedEdge(u, m, w))
		g.SetWeightedEdge(g.NewWeightedEdge(m, u, w))
	}
	damping, tol := l.Damping, l.Tolerance
	if damping <= 0 || damping >= 1 {
		damping = DefaultDamping
	}
	if tol <= 0 {
		tol = DefaultTolerance
	}
	return network.PageRankSparse(g, damping, tol)
}

// stable rounds away last-bit drift: PageRank sums in map order.
func stable(v float64) float64 {
	return math.Round(v*1e12) / 1e12
}

func sortedKeys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
