package matcher

import (
	"sync"

	"github.com/coder/hnsw"
)

const (
	hnswMaxNeighbors = 16
	hnswCandidates   = 8
)

// Index accelerates matching for large galleries with an HNSW graph.
// Below the size floor it is a plain exact scan; above it, the graph
// proposes candidates and the exact scan over those candidates decides,
// so threshold and tie-break semantics are identical either way.
//
// The graph is rebuilt whenever the registry's snapshot generation moves,
// which keeps the index from outliving what the registry currently
// reports.
type Index struct {
	floor int

	mu    sync.Mutex
	gen   uint64
	graph *hnsw.Graph[string]
}

// NewIndex creates an index that engages at the given gallery size.
func NewIndex(floor int) *Index {
	if floor <= 0 {
		floor = 512
	}
	return &Index{floor: floor}
}

// Match identifies the query against the snapshot (gallery, gen).
func (ix *Index) Match(query []float32, gallery []Candidate, gen uint64, tolerance float64) (Match, error) {
	if len(gallery) < ix.floor {
		return Best(query, gallery, tolerance)
	}

	ix.mu.Lock()
	if ix.graph == nil || ix.gen != gen {
		ix.rebuild(gallery, gen)
	}
	neighbors := ix.graph.Search(query, hnswCandidates)
	ix.mu.Unlock()

	candidates := make([]Candidate, 0, len(neighbors))
	for _, n := range neighbors {
		candidates = append(candidates, Candidate{StudentID: n.Key, Embedding: n.Value})
	}
	return Best(query, candidates, tolerance)
}

func (ix *Index) rebuild(gallery []Candidate, gen uint64) {
	g := hnsw.NewGraph[string]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.Distance = hnsw.EuclideanDistance
	for _, c := range gallery {
		if len(c.Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(c.StudentID, c.Embedding))
	}
	ix.graph = g
	ix.gen = gen
}
