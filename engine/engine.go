// Package engine binds TCP state machines and Chebyshev evaluators over a
// shared timeslot schedule, owns per-host profile storage, drives the
// LEARNING -> DETECTION mode switch, and emits anomaly reports.
//
// Grounded on spec.md §4.2's literal responsibility/init/per-packet/mode-
// change procedure and on the interface/factory wiring style of
// _examples/m-lab-etl/worker/worker.go (pluggable Source/Sink/Annotator
// bound by a Factory) — Binding here plays the analogous role of binding a
// StateMachine to its Evaluators.
package engine

import (
	"log"
	"time"

	"github.com/m-lab/go/logx"

	"github.com/m-lab/statetrans/evaluator"
	"github.com/m-lab/statetrans/internal/statelog"
	"github.com/m-lab/statetrans/metrics"
	"github.com/m-lab/statetrans/packet"
	"github.com/m-lab/statetrans/statemachine"
)

var sparseLogger = log.New(log.Writer(), "engine: ", log.LstdFlags|log.Lshortfile)
var sparse20 = logx.NewLogEvery(sparseLogger, 20*time.Second)

// Mode is the Engine's operating mode, per spec.md §4.2.
type Mode int

const (
	Learning Mode = iota
	Detection
)

func (m Mode) String() string {
	if m == Detection {
		return "DETECTION"
	}
	return "LEARNING"
}

// StateMachine is what the Engine requires of a conversation tracker. The
// TCP implementation in package statemachine satisfies this directly.
type StateMachine interface {
	Name() string
	OnPacket(pkt *packet.PacketInfo)
	NextFinished(now int64) *statemachine.Conversation
	CleanTimedout(now int64)
}

// Evaluator is what the Engine requires of an anomaly scorer. The
// Chebyshev implementation in package evaluator satisfies this directly.
type Evaluator interface {
	Name() string
	NewSegment() *evaluator.HostSegment
	Learn(seg *evaluator.HostSegment, obs evaluator.Observation)
	CreateProfile(seg *evaluator.HostSegment)
	Detect(seg *evaluator.HostSegment, obs evaluator.Observation) (float64, evaluator.Location)
}

// Binding ties one StateMachine to the Evaluators that score its finished
// conversations (spec.md §4.3: an evaluator instance is already sized to
// one statemachine's timeslot/transition dimensions).
type Binding struct {
	StateMachine StateMachine
	Evaluators   []Evaluator
}

// AnomalyReport is the Engine's internal anomaly record; §6's wire codec
// (package uplink) serializes it to the 'A' message.
type AnomalyReport struct {
	EmittedAt        time.Time
	Score            float64
	V6               bool
	SrcIP, DstIP     []byte
	SrcPort, DstPort uint16
	Location         evaluator.Location
	StateMachine     string
}

// Sink receives anomaly reports the Engine decides to emit.
type Sink interface {
	EmitAnomaly(r AnomalyReport)
}

// Engine is the detection orchestrator: spec.md §4.2.
type Engine struct {
	mode      Mode
	threshold float64
	bindings  []Binding
	sink      Sink
	log       *statelog.Logger

	// profiles[mode][profileKey][bindingKey] -> per-host, per-evaluator segment.
	learning  map[string]map[string]*evaluator.HostSegment
	detection map[string]map[string]*evaluator.HostSegment
}

// New constructs an Engine in LEARNING mode. It takes no timeslot schedule
// of its own: each Binding's StateMachine and Evaluators are expected to
// already be constructed against the same schedule.
func New(bindings []Binding, threshold float64, sink Sink, logger *statelog.Logger) *Engine {
	return &Engine{
		mode:      Learning,
		threshold: threshold,
		bindings:  bindings,
		sink:      sink,
		log:       logger,
		learning:  make(map[string]map[string]*evaluator.HostSegment),
		detection: make(map[string]map[string]*evaluator.HostSegment),
	}
}

// SetThreshold updates the detection threshold, e.g. on an inbound
// configuration message (spec.md §6).
func (e *Engine) SetThreshold(t float64) { e.threshold = t }

// Mode reports the current operating mode.
func (e *Engine) Mode() Mode { return e.mode }

func bindingKey(smName, evalName string) string { return smName + "/" + evalName }

func (e *Engine) hostProfiles(profileKey string) map[string]*evaluator.HostSegment {
	pool := e.learning
	if e.mode == Detection {
		pool = e.detection
	}
	host, ok := pool[profileKey]
	if !ok {
		host = make(map[string]*evaluator.HostSegment)
		pool[profileKey] = host
		metrics.HostCount.Set(float64(len(pool)))
	}
	return host
}

func (e *Engine) segmentFor(host map[string]*evaluator.HostSegment, b Binding, ev Evaluator) *evaluator.HostSegment {
	key := bindingKey(b.StateMachine.Name(), ev.Name())
	seg, ok := host[key]
	if !ok {
		seg = ev.NewSegment()
		host[key] = seg
	}
	return seg
}

// HandlePacket implements spec.md §4.2's per-packet procedure.
func (e *Engine) HandlePacket(pkt *packet.PacketInfo) {
	now := pkt.TimestampUs()
	for _, b := range e.bindings {
		b.StateMachine.OnPacket(pkt)

		for {
			conv := b.StateMachine.NextFinished(now)
			if conv == nil {
				break
			}
			e.process(b, conv)
		}

		b.StateMachine.CleanTimedout(now)
	}
}

func (e *Engine) process(b Binding, conv *statemachine.Conversation) {
	host := e.hostProfiles(conv.ProfileKey())

	var maxScore float64
	var loc evaluator.Location
	scored := false

	for _, ev := range b.Evaluators {
		seg := e.segmentFor(host, b, ev)
		switch e.mode {
		case Learning:
			ev.Learn(seg, conv)
			metrics.LearningSampleCount.WithLabelValues(b.StateMachine.Name(), ev.Name()).Inc()
		case Detection:
			score, l := ev.Detect(seg, conv)
			if !scored || score > maxScore {
				maxScore, loc, scored = score, l, true
			}
		}
	}

	if e.mode != Detection || !scored {
		return
	}
	if maxScore < e.threshold {
		metrics.BelowThresholdCount.WithLabelValues(b.StateMachine.Name()).Inc()
		sparse20.Logf("engine: %s conversation scored %.3f below threshold %.3f", b.StateMachine.Name(), maxScore, e.threshold)
		return
	}
	e.emit(b, conv, maxScore, loc)
}

func (e *Engine) emit(b Binding, conv *statemachine.Conversation, score float64, loc evaluator.Location) {
	report := AnomalyReport{
		EmittedAt:    time.Now(),
		Score:        score,
		V6:           conv.ID.V6,
		SrcIP:        conv.ID.SrcIPBytes(),
		DstIP:        conv.ID.DstIPBytes(),
		SrcPort:      conv.ID.SrcPort,
		DstPort:      conv.ID.DstPort,
		Location:     loc,
		StateMachine: b.StateMachine.Name(),
	}
	if e.log != nil {
		e.log.Infof("anomaly score=%.3f ts=%d trans=%d host=%s", score, loc.Timeslot, loc.Transition, conv.ProfileKey())
	}
	metrics.AnomalyCount.WithLabelValues(b.StateMachine.Name()).Inc()
	if e.sink != nil {
		e.sink.EmitAnomaly(report)
	}
}

// ChangeMode implements spec.md §4.2's mode-change procedure. Only
// LEARNING -> DETECTION is supported; any other request is logged and
// ignored (spec.md §7).
func (e *Engine) ChangeMode(to Mode) {
	if e.mode != Learning || to != Detection {
		if e.log != nil {
			e.log.Warnf("ignoring unsupported mode transition %s -> %s", e.mode, to)
		}
		return
	}

	e.detection = make(map[string]map[string]*evaluator.HostSegment)
	for profileKey, host := range e.learning {
		detHost := make(map[string]*evaluator.HostSegment)
		for _, b := range e.bindings {
			for _, ev := range b.Evaluators {
				key := bindingKey(b.StateMachine.Name(), ev.Name())
				learnSeg, ok := host[key]
				if !ok {
					continue
				}
				ev.CreateProfile(learnSeg)
				detHost[key] = learnSeg
			}
		}
		e.detection[profileKey] = detHost
	}
	e.mode = Detection
	metrics.Mode.Set(1)
	metrics.HostCount.Set(float64(len(e.detection)))
	if e.log != nil {
		e.log.Infof("mode change: LEARNING -> DETECTION (%d hosts)", len(e.detection))
	}
}
