package evaluator_test

import (
	"math"
	"testing"

	"github.com/m-lab/statetrans/evaluator"
)

// fakeObs is a hand-written T x K counter view, grounded on fake/ style test
// doubles elsewhere in the pack rather than a mocking framework.
type fakeObs struct {
	aggrValue [][]float64
	aggrCount [][]uint64
}

func newFakeObs(ts, k int) *fakeObs {
	o := &fakeObs{aggrValue: make([][]float64, ts), aggrCount: make([][]uint64, ts)}
	for i := range o.aggrValue {
		o.aggrValue[i] = make([]float64, k)
		o.aggrCount[i] = make([]uint64, k)
	}
	return o
}

func (o *fakeObs) TimeslotCount() int                   { return len(o.aggrValue) }
func (o *fakeObs) TransitionCount() int                 { return len(o.aggrValue[0]) }
func (o *fakeObs) AggrValue(ts, trans int) float64      { return o.aggrValue[ts][trans] }
func (o *fakeObs) AggrCount(ts, trans int) uint64       { return o.aggrCount[ts][trans] }
func (o *fakeObs) SetAggrValue(ts, trans int, v float64) { o.aggrValue[ts][trans] = v }

func (o *fakeObs) set(ts, trans int, value float64, count uint64) {
	o.aggrValue[ts][trans] = value
	o.aggrCount[ts][trans] = count
}

const T, K = 2, 3

func TestLearnNormalizesRowToSumOne(t *testing.T) {
	ce := evaluator.New("tcp", T, K)
	seg := ce.NewSegment()

	obs := newFakeObs(T, K)
	obs.set(0, 0, 10, 1) // mean 10
	obs.set(0, 1, 30, 1) // mean 30
	obs.set(0, 2, 0, 0)  // mean 0 (zero count)
	// row 1 left all zero: every aggr_cnt is 0.

	ce.Learn(seg, obs)

	// The stored sample is not exported; inspect it through CreateProfile,
	// whose mean over a single sample equals that sample (normalization
	// invariant #4).
	ce.CreateProfile(seg)

	sum := seg.Profile.Mean[0][0] + seg.Profile.Mean[0][1] + seg.Profile.Mean[0][2]
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("normalized row sum = %v, want 1 (single-sample mean equals the sample itself)", sum)
	}
	for _, v := range seg.Profile.Mean[1] {
		if v != 0 {
			t.Fatalf("timeslot 1 had no transitions; mean row must stay all zero, got %v", seg.Profile.Mean[1])
		}
	}
}

func TestCreateProfileEmptyLearningLeavesZeroProfile(t *testing.T) {
	ce := evaluator.New("tcp", T, K)
	seg := ce.NewSegment()
	ce.CreateProfile(seg)

	for ts := 0; ts < T; ts++ {
		for trans := 0; trans < K; trans++ {
			if seg.Profile.Mean[ts][trans] != 0 || seg.Profile.Variance[ts][trans] != 0 {
				t.Fatalf("empty learning profile must stay zero, got mean=%v variance=%v",
					seg.Profile.Mean[ts][trans], seg.Profile.Variance[ts][trans])
			}
		}
	}
}

func TestDetectScoreRange(t *testing.T) {
	ce := evaluator.New("tcp", T, K)
	seg := ce.NewSegment()

	for i := 0; i < 10; i++ {
		obs := newFakeObs(T, K)
		obs.set(0, 0, 1, 1)
		ce.Learn(seg, obs)
	}
	ce.CreateProfile(seg)

	inputs := []*fakeObs{
		newFakeObs(T, K),
		func() *fakeObs { o := newFakeObs(T, K); o.set(0, 0, 1, 1); return o }(),
		func() *fakeObs { o := newFakeObs(T, K); o.set(0, 1, 100, 1); return o }(),
	}
	for _, obs := range inputs {
		score, _ := ce.Detect(seg, obs)
		if score < 0 || score > 1 {
			t.Fatalf("Detect() score = %v, want in [0, 1]", score)
		}
	}
}

func TestDetectIdenticalReplayScoresZero(t *testing.T) {
	// spec.md §8 S5: a conversation whose proportions exactly equal the
	// learned mean scores 0 everywhere, because |dev| <= 0.01 forces p=1.
	ce := evaluator.New("tcp", T, K)
	seg := ce.NewSegment()

	for i := 0; i < 30; i++ {
		obs := newFakeObs(T, K)
		obs.set(0, 0, 3, 1) // mean 3 out of (3+1)=4 -> proportion 0.75
		obs.set(0, 1, 1, 1) // proportion 0.25
		ce.Learn(seg, obs)
	}
	ce.CreateProfile(seg)

	replay := newFakeObs(T, K)
	replay.set(0, 0, 3, 1)
	replay.set(0, 1, 1, 1)
	score, _ := ce.Detect(seg, replay)
	if score != 0 {
		t.Fatalf("identical replay score = %v, want 0", score)
	}
}

func TestDetectAnomalyScoresNearOne(t *testing.T) {
	// spec.md §8 S6: a conversation whose profile differs substantially
	// from a tightly-converged learned mean must score close to 1.
	ce := evaluator.New("tcp", T, K)
	seg := ce.NewSegment()

	for i := 0; i < 30; i++ {
		obs := newFakeObs(T, K)
		obs.set(0, 0, 1, 1) // mean 1, proportion 1 every time: variance 0
		ce.Learn(seg, obs)
	}
	ce.CreateProfile(seg)

	anomalous := newFakeObs(T, K)
	anomalous.set(0, 0, 0, 1) // proportion 0, far from the learned mean of 1
	anomalous.set(0, 1, 0, 0)
	score, loc := ce.Detect(seg, anomalous)
	if score < 0.99 {
		t.Fatalf("anomalous score = %v, want close to 1 (variance 0, large deviation)", score)
	}
	if loc.Timeslot != 0 {
		t.Fatalf("anomaly location timeslot = %d, want 0", loc.Timeslot)
	}
}

func TestDetectFirstWinsRowMajorTieBreak(t *testing.T) {
	ce := evaluator.New("tcp", T, K)
	seg := ce.NewSegment() // zero profile everywhere: every cell ties at the same score.

	obs := newFakeObs(T, K)
	_, loc := ce.Detect(seg, obs)
	if loc.Timeslot != 0 || loc.Transition != 0 {
		t.Fatalf("tie-break location = %+v, want (0, 0), the first cell in row-major order", loc)
	}
}

func TestDetectWritesNormalizedValueBack(t *testing.T) {
	// spec.md §4.3/§9: Detect destructively overwrites AggrValue with the
	// normalized proportion.
	ce := evaluator.New("tcp", T, K)
	seg := ce.NewSegment()

	obs := newFakeObs(T, K)
	obs.set(0, 0, 3, 1)
	obs.set(0, 1, 1, 1)
	ce.Detect(seg, obs)

	if obs.AggrValue(0, 0) != 0.75 || obs.AggrValue(0, 1) != 0.25 {
		t.Fatalf("post-Detect AggrValue = (%v, %v), want normalized proportions (0.75, 0.25)",
			obs.AggrValue(0, 0), obs.AggrValue(0, 1))
	}
}
