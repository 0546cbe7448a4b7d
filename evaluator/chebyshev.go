// Package evaluator implements the Chebyshev-inequality anomaly scorer:
// per-host, per-statemachine learning samples (normalized transition
// proportions) and detection profiles (mean/variance), scored against new
// conversations with a Chebyshev tail-probability bound.
//
// Grounded on spec.md §4.3 and the `struct evaluator` callback shape in
// original_source's structs.h (learn/detect/create_profile over an
// opaque per-host segment); the statistical-accumulator style (running
// sum → mean → second pass → variance) matches the two-pass counter
// idiom in _examples/m-lab-etl/tcp/tcp.go's Tracker/JitterTracker types.
package evaluator

// Observation is the generic T×K counter view an Evaluator needs from a
// finished conversation. It deliberately knows nothing about TCP states or
// transition semantics — spec.md §4.1: "Evaluators operate on counts per
// label per timeslot and have no knowledge of TCP semantics."
type Observation interface {
	TimeslotCount() int
	TransitionCount() int
	AggrValue(ts, trans int) float64
	AggrCount(ts, trans int) uint64
	SetAggrValue(ts, trans int, v float64)
}

// Location names the (timeslot, transition) cell responsible for a
// detection score.
type Location struct {
	Timeslot   int
	Transition int
}

// devFloor is the 0.01 deviation floor from spec.md §4.3: below it, the
// Chebyshev bound is clamped to p=1 (score 0) to avoid dividing by a
// near-zero deviation.
const devFloor = 0.01

// sample is one learning-phase observation: a T×K matrix of normalized
// per-timeslot proportions.
type sample [][]float64

// Profile is the per-host, per-statemachine detection matrix: mean and
// variance per (ts, trans) cell, derived once at mode change.
type Profile struct {
	Mean     [][]float64
	Variance [][]float64
}

// HostSegment is the per-host, per-statemachine storage an evaluator owns:
// the learning sample list (retained through DETECTION, per spec.md §3's
// lifecycle note) and the derived detection profile.
type HostSegment struct {
	samples []sample
	Profile Profile
}

// Chebyshev is the evaluator instance bound to one statemachine's
// timeslot/transition dimensions.
type Chebyshev struct {
	name            string
	timeslotCount   int
	transitionCount int
}

// New constructs a Chebyshev evaluator sized to match a statemachine's
// timeslot schedule and transition alphabet.
func New(name string, timeslotCount, transitionCount int) *Chebyshev {
	return &Chebyshev{name: name, timeslotCount: timeslotCount, transitionCount: transitionCount}
}

func (e *Chebyshev) Name() string { return e.name }

// NewSegment allocates a fresh, empty per-host segment for this evaluator.
func (e *Chebyshev) NewSegment() *HostSegment {
	return &HostSegment{
		Profile: Profile{
			Mean:     make2D(e.timeslotCount, e.transitionCount),
			Variance: make2D(e.timeslotCount, e.transitionCount),
		},
	}
}

func make2D(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

// Learn accumulates one finished conversation's normalized transition
// proportions into the host segment's learning list (spec.md §4.3
// "Per-host learning segment").
func (e *Chebyshev) Learn(seg *HostSegment, obs Observation) {
	row := e.normalize(obs)
	seg.samples = append(seg.samples, row)
}

// normalize computes, per timeslot row, the mean-per-transition (aggr_value
// / aggr_cnt, zero when aggr_cnt is zero) and then normalizes the row to
// sum to 1 (left all-zero if the row sum is zero).
func (e *Chebyshev) normalize(obs Observation) sample {
	row := make2D(e.timeslotCount, e.transitionCount)
	for ts := 0; ts < e.timeslotCount; ts++ {
		var sum float64
		for trans := 0; trans < e.transitionCount; trans++ {
			cnt := obs.AggrCount(ts, trans)
			var mean float64
			if cnt != 0 {
				mean = obs.AggrValue(ts, trans) / float64(cnt)
			}
			row[ts][trans] = mean
			sum += mean
		}
		if sum > 0 {
			for trans := range row[ts] {
				row[ts][trans] /= sum
			}
		}
	}
	return row
}

// CreateProfile derives the detection profile (mean, variance per cell)
// from the accumulated learning samples, per spec.md §4.3. A segment with
// no learning samples is left at its zero profile.
func (e *Chebyshev) CreateProfile(seg *HostSegment) {
	n := len(seg.samples)
	if n == 0 {
		return
	}
	mean := seg.Profile.Mean
	variance := seg.Profile.Variance

	for ts := 0; ts < e.timeslotCount; ts++ {
		for trans := 0; trans < e.transitionCount; trans++ {
			var sum float64
			for _, s := range seg.samples {
				sum += s[ts][trans]
			}
			mean[ts][trans] = sum / float64(n)
		}
	}
	for ts := 0; ts < e.timeslotCount; ts++ {
		for trans := 0; trans < e.transitionCount; trans++ {
			var sum float64
			for _, s := range seg.samples {
				d := s[ts][trans] - mean[ts][trans]
				sum += d * d
			}
			variance[ts][trans] = sum / float64(n)
		}
	}
}

// Detect normalizes the incoming conversation the same way Learn does,
// destructively writing the normalized proportion back into the
// conversation via SetAggrValue (spec.md §4.3 and §9: acceptable only
// because a detected conversation is emitted once and then discarded), and
// returns the maximum Chebyshev anomaly score across all (ts, trans)
// cells along with the first-encountered (row-major) cell that achieves it.
func (e *Chebyshev) Detect(seg *HostSegment, obs Observation) (float64, Location) {
	row := e.normalize(obs)

	var maxScore float64
	var loc Location
	first := true

	for ts := 0; ts < e.timeslotCount; ts++ {
		for trans := 0; trans < e.transitionCount; trans++ {
			value := row[ts][trans]
			obs.SetAggrValue(ts, trans, value)

			mean := seg.Profile.Mean[ts][trans]
			variance := seg.Profile.Variance[ts][trans]
			dev := value - mean

			var p float64
			if dev < 0 {
				dev = -dev
			}
			if dev > devFloor {
				p = variance / (dev * dev)
			} else {
				p = 1
			}
			if p > 1 {
				p = 1
			}
			score := 1 - p

			if first || score > maxScore {
				maxScore = score
				loc = Location{Timeslot: ts, Transition: trans}
				first = false
			}
		}
	}
	return maxScore, loc
}
