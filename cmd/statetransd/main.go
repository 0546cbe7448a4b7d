// statetransd is the host-resident anomaly detector's run-loop binary: it
// wires a packet source through the reorder buffer into the Engine, drives
// the LEARNING -> DETECTION switch on a timer, and maintains the uplink
// connection to the upstream controller.
//
// Grounded on _examples/m-lab-etl/cmd/etl_worker/etl_worker.go's main()
// wiring style (flag.Parse, prometheusx.MustStartPrometheus, rtx.Must for
// fatal startup checks); the reader/writer goroutine split around the
// uplink connection uses golang.org/x/sync/errgroup the way
// _examples/m-lab-etl/active/poller.go fans worker goroutines out under a
// single cancelable group.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/statetrans/config"
	"github.com/m-lab/statetrans/engine"
	"github.com/m-lab/statetrans/evaluator"
	"github.com/m-lab/statetrans/internal/statelog"
	"github.com/m-lab/statetrans/metrics"
	"github.com/m-lab/statetrans/packet"
	"github.com/m-lab/statetrans/packet/pcapsource"
	"github.com/m-lab/statetrans/packetbuffer"
	"github.com/m-lab/statetrans/statemachine"
	"github.com/m-lab/statetrans/uplink"
)

var (
	pcapFile = flag.String("pcap", "", "path to a pcap capture file to replay through the detector")
	localMAC = flag.String("local_mac", "", "this host's capture interface MAC address, e.g. 02:00:00:00:00:01")
	iface    = flag.String("iface", "eth0", "capture interface name recorded on decoded layers")
)

// inboundMsg carries whichever one of (uplink.Config, uplink.BlockCommand)
// ReadMessage produced, for delivery to the single goroutine that owns the
// Engine (spec.md §4.1's "statemachines are single-threaded collaborators").
type inboundMsg struct {
	cfg   *uplink.Config
	block *uplink.BlockCommand
}

func main() {
	flag.Parse()
	cfg, err := config.Parse()
	rtx.Must(err, "failed to parse configuration")

	prometheusx.MustStartPrometheus(cfg.MetricsAddr)

	logFile, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	rtx.Must(err, "failed to open "+cfg.LogFile)
	defer logFile.Close()
	logger := statelog.New(logFile)

	tcpSM := statemachine.NewTCP("tcp", cfg.Timeslots, statemachine.DefaultTimeouts)
	chebyshev := evaluator.New("chebyshev", tcpSM.TimeslotCount(), int(statemachine.TransitionCount))
	bindings := []engine.Binding{{StateMachine: tcpSM, Evaluators: []engine.Evaluator{chebyshev}}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	inbound := make(chan inboundMsg, 16)
	var sink engine.Sink

	if cfg.UplinkAddr != "" {
		us := &uplinkSink{}
		sink = us
		g.Go(func() error {
			maintainUplink(gctx, cfg.UplinkAddr, cfg.ReconnectDelay, us, inbound, logger)
			return nil
		})
	} else {
		close(inbound)
	}

	eng := engine.New(bindings, cfg.Threshold, sink, logger)

	learnTimer := time.NewTimer(cfg.LearnDuration)
	defer learnTimer.Stop()

	packets := make(chan *packet.PacketInfo, 64)
	if *pcapFile != "" {
		g.Go(func() error { return replayPcap(gctx, *pcapFile, *iface, *localMAC, packets) })
	} else {
		logger.Warnf("no -pcap file given; statetransd has no packet source and will idle")
		close(packets)
	}

	runEngine(eng, logger, learnTimer.C, inbound, packets, cfg.ReorderWindow)

	cancel()
	if err := g.Wait(); err != nil {
		logger.Errorf("statetransd: %v", err)
	}
}

// uplinkSink is the engine.Sink the run loop hands to the Engine: it
// forwards EmitAnomaly to whichever *uplink.Adapter currently owns the live
// connection, so reconnects (maintainUplink) can swap the underlying
// connection without the Engine ever seeing an interface change.
type uplinkSink struct {
	mu      sync.Mutex
	adapter *uplink.Adapter
}

func (s *uplinkSink) EmitAnomaly(r engine.AnomalyReport) {
	s.mu.Lock()
	a := s.adapter
	s.mu.Unlock()
	if a != nil {
		a.EmitAnomaly(r)
	}
}

func (s *uplinkSink) set(a *uplink.Adapter) {
	s.mu.Lock()
	s.adapter = a
	s.mu.Unlock()
}

// maintainUplink owns the uplink connection's lifecycle for as long as ctx
// is live: dial, run one connection's reader/writer goroutines to
// completion, then redial after reconnectDelay, counting every successful
// redial past the first connection in metrics.UplinkReconnectCount. The
// first dial failure is fatal (matches the prior one-shot behavior); an
// uplink.ErrEmptyMessage from any connection is fatal per spec.md §7
// regardless of how many reconnects preceded it. Every other read or write
// error is logged and treated as a recoverable disconnect.
func maintainUplink(ctx context.Context, addr string, reconnectDelay time.Duration, sink *uplinkSink, inbound chan<- inboundMsg, logger *statelog.Logger) {
	reconnecting := false
	for {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			if !reconnecting {
				rtx.Must(err, "failed to connect to uplink controller at "+addr)
			}
			logger.Warnf("uplink: redial to %s failed: %v", addr, err)
			if !sleepOrDone(ctx, reconnectDelay) {
				return
			}
			continue
		}
		if reconnecting {
			metrics.UplinkReconnectCount.Inc()
		}

		adapter := uplink.NewAdapter(conn)
		sink.set(adapter)
		if _, err := conn.Write(uplink.EncodeConfigRequest()); err != nil {
			logger.Warnf("uplink: failed to send initial config request: %v", err)
		}

		connCtx, connCancel := context.WithCancel(ctx)
		cg, cgctx := errgroup.WithContext(connCtx)
		cg.Go(func() error { return writeLoop(cgctx, conn, adapter) })
		cg.Go(func() error { return readLoop(cgctx, adapter, inbound) })
		connErr := cg.Wait()
		connCancel()
		// Clear the sink before tearing down the connection, not after: once
		// EmitAnomaly can no longer reach this adapter, closing just the
		// socket (not Outbox) is safe even if a send into it was already
		// in flight when the connection dropped.
		sink.set(nil)
		conn.Close()

		rtx.Must(errOrNilIfEmpty(connErr), "uplink controller sent an empty message")

		reconnecting = true
		if ctx.Err() != nil {
			return
		}
		logger.Warnf("uplink: connection to %s lost: %v; reconnecting in %s", addr, connErr, reconnectDelay)
		if !sleepOrDone(ctx, reconnectDelay) {
			return
		}
	}
}

// errOrNilIfEmpty returns err unchanged if it wraps uplink.ErrEmptyMessage,
// or nil otherwise, so rtx.Must aborts only on the fatal case spec.md §7
// names and leaves every other disconnect to maintainUplink's reconnect path.
func errOrNilIfEmpty(err error) error {
	if errors.Is(err, uplink.ErrEmptyMessage) {
		return err
	}
	return nil
}

// sleepOrDone waits out d, or returns false early if ctx is canceled first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// runEngine is the Engine's single owning goroutine: every mutation of eng
// (HandlePacket, ChangeMode, SetThreshold) happens here, serialized by the
// select, so the Engine and its StateMachines never see concurrent calls.
func runEngine(eng *engine.Engine, logger *statelog.Logger, learnDone <-chan time.Time, inbound <-chan inboundMsg, packets <-chan *packet.PacketInfo, reorderWindow int) {
	buf := packetbuffer.NewSize(reorderWindow)

	for packets != nil || inbound != nil || learnDone != nil {
		select {
		case _, ok := <-learnDone:
			if ok {
				eng.ChangeMode(engine.Detection)
			}
			learnDone = nil

		case msg, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			applyInbound(eng, logger, msg)

		case pkt, ok := <-packets:
			if !ok {
				packets = nil
				continue
			}
			if evicted := buf.Add(pkt); evicted != nil {
				eng.HandlePacket(evicted)
			}
		}
	}
}

func applyInbound(eng *engine.Engine, logger *statelog.Logger, msg inboundMsg) {
	switch {
	case msg.cfg != nil:
		eng.SetThreshold(msg.cfg.Threshold)
		logger.Infof("uplink: threshold updated to %.3f, learn_seconds=%d", msg.cfg.Threshold, msg.cfg.LearnSeconds)
	case msg.block != nil:
		verb := "unblock"
		if msg.block.Block {
			verb = "block"
		}
		// Dispatching the iptables rule itself is a side-collaborator action
		// outside the detector core (spec.md §9 Non-goals); statetransd only
		// logs the directive here.
		logger.Infof("uplink: %s %s", verb, net.IP(msg.block.IP))
	}
}

func writeLoop(ctx context.Context, conn net.Conn, a *uplink.Adapter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-a.Outbox():
			if !ok {
				return nil
			}
			if _, err := conn.Write(msg); err != nil {
				return fmt.Errorf("uplink write: %w", err)
			}
		}
	}
}

func readLoop(ctx context.Context, a *uplink.Adapter, out chan<- inboundMsg) error {
	for {
		cfg, block, err := a.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return fmt.Errorf("uplink read: %w", err)
			}
		}
		select {
		case out <- inboundMsg{cfg: cfg, block: block}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func replayPcap(ctx context.Context, path, iface, mac string, out chan<- *packet.PacketInfo) error {
	defer close(out)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("replayPcap: %w", err)
	}
	var hw net.HardwareAddr
	if mac != "" {
		hw, err = net.ParseMAC(mac)
		if err != nil {
			return fmt.Errorf("replayPcap: invalid -local_mac %q: %w", mac, err)
		}
	}
	src, err := pcapsource.Open(data, iface, hw)
	if err != nil {
		return fmt.Errorf("replayPcap: %w", err)
	}

	for {
		pkt, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("replayPcap: %w", err)
		}
		select {
		case out <- pkt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
