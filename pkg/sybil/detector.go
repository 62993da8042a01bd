// Package sybil flags abnormal peer clustering around an address. The test
// is statistical: estimate the network size from probe-key samples, derive
// the common-prefix-length distribution an honest close group should show,
// and measure the Kullback-Leibler divergence of the observed group against
// it. Only peer keys and distance math are consumed, never record contents.
package sybil

import (
	"math"
	"sync"

	"github.com/hyp3rd/ewrap"
	"go.uber.org/zap"

	"github.com/maidsafe/antstore/internal/sentinel"
	"github.com/maidsafe/antstore/pkg/protocol"
)

const (
	// DefaultThreshold is the divergence above which a neighborhood is
	// flagged. It is a tuning parameter, not a derived constant.
	DefaultThreshold = 0.6

	// keyBits is the width of the address space.
	keyBits = protocol.NameLen * 8

	// qFloor replaces zero theoretical mass so the divergence stays finite
	// when observed peers land where no honest peer should.
	qFloor = 1e-10
)

// Key is a raw kbucket key. Callers derive it from a peer address via
// NetworkAddress.Key.
type Key = [protocol.NameLen]byte

// Config tunes the detector.
type Config struct {
	// CloseGroupSize is the k the close-group queries use.
	CloseGroupSize int
	// Threshold is the divergence above which the group is flagged.
	Threshold float64
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{CloseGroupSize: 8, Threshold: DefaultThreshold}
}

// Result is the outcome of one neighborhood check.
type Result struct {
	// NetworkSize is the estimated total peer count.
	NetworkSize float64
	// Divergence is the KL divergence of the observed CPL histogram
	// against the theoretical one.
	Divergence float64
	// Flagged reports whether the divergence exceeds the threshold.
	Flagged bool
}

// Detector holds the background-maintained probe table and judges close
// groups against it.
type Detector struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	probes map[Key][]Key
}

// New creates a detector. Probe samples must be recorded before the first
// check.
func New(cfg Config, logger *zap.Logger) *Detector {
	if cfg.CloseGroupSize <= 0 {
		cfg.CloseGroupSize = DefaultConfig().CloseGroupSize
	}

	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Detector{
		cfg:    cfg,
		logger: logger,
		probes: make(map[Key][]Key),
	}
}

// RecordProbe stores the close group observed around a random probe key.
// The probe table is refreshed independently of any check.
func (d *Detector) RecordProbe(probe Key, closest []Key) {
	group := make([]Key, len(closest))
	copy(group, closest)

	d.mu.Lock()
	d.probes[probe] = group
	d.mu.Unlock()
}

// EstimateNetworkSize fits the uniform-random-peer model to the probe
// table: under it the i-th closest peer sits at an expected fraction
// i/(n+1) of the key space, so the least-squares n has a closed form.
func (d *Detector) EstimateNetworkSize() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.probes) == 0 {
		return 0, ewrap.Wrap(sentinel.ErrParamCannotBeEmpty, "probe table")
	}

	k := d.cfg.CloseGroupSize
	sums := make([]float64, k)
	counts := make([]int, k)

	for probe, group := range d.probes {
		for i := 0; i < k && i < len(group); i++ {
			sums[i] += protocol.KeyDistance(probe, group[i]).Float()
			counts[i]++
		}
	}

	var num, den float64

	for i := 0; i < k; i++ {
		if counts[i] == 0 {
			continue
		}

		avg := sums[i] / float64(counts[i])
		rank := float64(i + 1)
		num += rank * avg
		den += rank * rank
	}

	if num <= 0 {
		return 0, ewrap.Wrap(sentinel.ErrParamCannotBeEmpty, "probe distances")
	}

	n := den/num - 1
	if n < float64(k) {
		n = float64(k)
	}

	return n, nil
}

// Check judges the close group returned for target. The group's CPL
// histogram is compared against the theoretical one for the estimated
// network size.
func (d *Detector) Check(target Key, closest []Key) (Result, error) {
	if len(closest) == 0 {
		return Result{}, ewrap.Wrap(sentinel.ErrParamCannotBeEmpty, "close group")
	}

	n, err := d.EstimateNetworkSize()
	if err != nil {
		return Result{}, err
	}

	theoretical := theoreticalCPL(n, len(closest))
	observed := observedCPL(target, closest)
	divergence := klDivergence(observed, theoretical)

	result := Result{
		NetworkSize: n,
		Divergence:  divergence,
		Flagged:     divergence > d.cfg.Threshold,
	}

	if result.Flagged {
		d.logger.Warn("close group shows sybil-like clustering",
			zap.Float64("divergence", divergence),
			zap.Float64("network_size", n))
	}

	return result, nil
}

// theoreticalCPL builds the expected CPL histogram of the k closest peers
// around any key in a network of n uniform peers: the expected number of
// peers sharing exactly l leading bits is n/2^(l+1), and the close group
// occupies the highest CPLs first.
func theoreticalCPL(n float64, k int) []float64 {
	hist := make([]float64, keyBits+1)
	remaining := float64(k)

	for l := keyBits; l >= 0 && remaining > 0; l-- {
		expected := n / math.Pow(2, float64(l+1))
		if expected > remaining {
			expected = remaining
		}

		hist[l] = expected
		remaining -= expected
	}

	return normalize(hist)
}

// observedCPL histograms the common prefix lengths of the actual group.
func observedCPL(target Key, closest []Key) []float64 {
	hist := make([]float64, keyBits+1)

	for _, peer := range closest {
		cpl := protocol.KeyDistance(target, peer).CommonPrefixLen()
		hist[cpl]++
	}

	return normalize(hist)
}

// klDivergence computes D(p || q) in nats, flooring empty theoretical bins
// so the sum stays finite.
func klDivergence(p, q []float64) float64 {
	var sum float64

	for i := range p {
		if p[i] == 0 {
			continue
		}

		qi := q[i]
		if qi < qFloor {
			qi = qFloor
		}

		sum += p[i] * math.Log(p[i]/qi)
	}

	return sum
}

func normalize(hist []float64) []float64 {
	var total float64

	for _, v := range hist {
		total += v
	}

	if total == 0 {
		return hist
	}

	for i := range hist {
		hist[i] /= total
	}

	return hist
}
