// Package matcher compares a query embedding against a registry snapshot.
// Matching is a pure function over the gallery it is handed; it holds no
// state of its own beyond the optional ANN index in index.go.
package matcher

import (
	"errors"
	"math"
)

// ErrNoMatch means no gallery entry was close enough, or the best match
// was ambiguous. The two cases surface identically: an ambiguous match is
// treated as no match rather than a guess.
var ErrNoMatch = errors.New("no matching student")

// tieEpsilon is the distance delta under which two candidates count as
// equidistant.
const tieEpsilon = 1e-6

// Candidate is one gallery entry.
type Candidate struct {
	StudentID string
	Embedding []float32
}

// Match is a successful identification.
type Match struct {
	StudentID string
	Distance  float64
}

// EuclideanDistance between two vectors. Mismatched or empty vectors are
// infinitely far apart.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Best scans the whole gallery and returns the nearest candidate strictly
// below tolerance. Entries without an embedding are skipped. If the runner-up
// from a different student is equidistant within tieEpsilon the result is
// ambiguous and ErrNoMatch is returned.
func Best(query []float32, gallery []Candidate, tolerance float64) (Match, error) {
	best := Match{Distance: math.Inf(1)}
	runnerUp := math.Inf(1)

	for _, c := range gallery {
		if len(c.Embedding) == 0 {
			continue
		}
		d := EuclideanDistance(query, c.Embedding)
		switch {
		case d < best.Distance:
			if best.StudentID != "" && best.StudentID != c.StudentID {
				runnerUp = best.Distance
			}
			best = Match{StudentID: c.StudentID, Distance: d}
		case c.StudentID != best.StudentID && d < runnerUp:
			runnerUp = d
		}
	}

	if math.IsInf(best.Distance, 1) || best.Distance >= tolerance {
		return Match{}, ErrNoMatch
	}
	if runnerUp-best.Distance <= tieEpsilon {
		// Two different students at effectively the same distance:
		// refusing beats marking the wrong one present.
		return Match{}, ErrNoMatch
	}
	return best, nil
}
