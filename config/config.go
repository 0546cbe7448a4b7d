// Package config defines statetransd's flag-based configuration and the
// spec.md §6 defaults applied when no uplink configuration message has
// arrived yet.
//
// Grounded on the `flag` + `github.com/m-lab/go/flagx` (`ArgsFromEnv`)
// pattern used across every m-lab-etl cmd/ entrypoint
// (e.g. _examples/m-lab-etl/cmd/parse/parse.go,
// _examples/m-lab-etl/cmd/cli/cli.go).
package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/m-lab/go/flagx"
)

// Defaults from spec.md §6 "Defaults (used when no config arrives)".
const (
	DefaultThreshold       = 0.95
	DefaultLearnDuration   = 90 * time.Second
	DefaultReorderCapacity = 20
	DefaultReconnectDelay  = 5 * time.Second
)

// DefaultTimeslots is the default timeslot schedule (microsecond interval
// widths), spec.md §3/§6.
var DefaultTimeslots = []int64{1, 10, 100, 1000, 10000, 100000, 1000000}

// Config holds statetransd's startup configuration. Threshold may be
// overridden at runtime by an inbound uplink 'C' message (spec.md §6); the
// learning duration that message carries is logged but does not change the
// running learn timer, which always uses LearnDuration. Config itself is
// only the flag-derived baseline.
type Config struct {
	Threshold      float64
	LearnDuration  time.Duration
	Timeslots      []int64
	ReorderWindow  int
	LogFile        string
	UplinkAddr     string
	MetricsAddr    string
	ProfileKeyLen  int
	ReconnectDelay time.Duration
}

// timeslotList is a flag.Value holding a comma-separated list of microsecond
// interval widths, e.g. "1,10,100,1000,10000,100000,1000000". Modeled on
// the repeated-flag.Value idiom m-lab/go/flagx's own array types use
// (StringArray/DurationArray), hand-rolled here because the schedule is a
// single comma list rather than a repeated flag occurrence.
type timeslotList []int64

func (t *timeslotList) String() string {
	parts := make([]string, len(*t))
	for i, v := range *t {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, ",")
}

func (t *timeslotList) Set(s string) error {
	fields := strings.Split(s, ",")
	out := make([]int64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
		if err != nil {
			return fmt.Errorf("config: invalid timeslot width %q: %w", f, err)
		}
		out = append(out, v)
	}
	*t = out
	return nil
}

var (
	threshold     = flag.Float64("threshold", DefaultThreshold, "anomaly score threshold in [0,1] for emitting a report")
	learnSeconds  = flag.Int("learn_seconds", int(DefaultLearnDuration/time.Second), "LEARNING-mode duration before switching to DETECTION")
	reorderWindow = flag.Int("reorder_window", DefaultReorderCapacity, "packet reorder FIFO capacity")
	logFile       = flag.String("logfile", "statetrans.log", "path to the append-only state log")
	uplinkAddr    = flag.String("uplink", "", "address of the upstream controller (host:port)")
	metricsAddr   = flag.String("metrics_address", ":9090", "Prometheus metrics listen address")
	reconnectSecs = flag.Int("uplink_reconnect_seconds", int(DefaultReconnectDelay/time.Second), "delay between uplink reconnect attempts after a dropped connection")
	timeslots     = func() *timeslotList {
		t := timeslotList(append([]int64(nil), DefaultTimeslots...))
		flag.Var(&t, "timeslots", "comma-separated timeslot interval widths, in microseconds")
		return &t
	}()
)

// Parse reads flags (and any STATETRANSD_* environment-sourced flags via
// flagx.ArgsFromEnv) into a Config.
func Parse() (*Config, error) {
	flag.Parse()
	if err := flagx.ArgsFromEnv(flag.CommandLine); err != nil {
		return nil, err
	}
	return &Config{
		Threshold:      *threshold,
		LearnDuration:  time.Duration(*learnSeconds) * time.Second,
		Timeslots:      append([]int64(nil), (*timeslots)...),
		ReorderWindow:  *reorderWindow,
		LogFile:        *logFile,
		UplinkAddr:     *uplinkAddr,
		MetricsAddr:    *metricsAddr,
		ProfileKeyLen:  6,
		ReconnectDelay: time.Duration(*reconnectSecs) * time.Second,
	}, nil
}
