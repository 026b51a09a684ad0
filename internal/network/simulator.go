package network

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// MaxSimulatedLagMS bounds the user-adjustable lag control.
	MaxSimulatedLagMS = 500
)

// ErrPacketLost reports that the simulated transport dropped an action before it ran.
var ErrPacketLost = errors.New("network: packet lost")

// State is the process-wide view of the simulated network.
type State struct {
	IsConnected      bool    `json:"is_connected"`
	IsSyncing        bool    `json:"is_syncing"`
	SimulatedLagMS   int     `json:"simulated_lag_ms"`
	LatencyMS        int     `json:"latency_ms"`
	PacketLossRate   float64 `json:"packet_loss_rate"`
	AckRate          float64 `json:"ack_rate"`
	DeliveredPackets int64   `json:"delivered_packets"`
	LostPackets      int64   `json:"lost_packets"`
}

// SleepFunc suspends the caller for the given duration or until ctx is done.
type SleepFunc func(ctx context.Context, duration time.Duration) error

// Config describes the dependencies and defaults of a Simulator.
type Config struct {
	MinLatency      time.Duration
	MaxLatency      time.Duration
	LossProbability float64
	SimulatedLagMS  int
	Random          *rand.Rand
	Sleep           SleepFunc
	Logger          *zap.Logger
}

type callOptions struct {
	minLatency      time.Duration
	maxLatency      time.Duration
	lossProbability float64
}

// Option overrides the simulator defaults for a single call site.
type Option func(*callOptions)

// WithLatencyRange draws the latency of a call from [minimum, maximum] instead of the defaults.
func WithLatencyRange(minimum, maximum time.Duration) Option {
	return func(options *callOptions) {
		if minimum < 0 {
			minimum = 0
		}
		if maximum < minimum {
			maximum = minimum
		}
		options.minLatency = minimum
		options.maxLatency = maximum
	}
}

// Simulator gates actions behind a sampled latency and a probabilistic loss.
type Simulator struct {
	mu            sync.Mutex
	rng           *rand.Rand
	sleep         SleepFunc
	logger        *zap.Logger
	defaults      callOptions
	state         State
	forcedOffline bool
}

// NewSimulator constructs a connected Simulator.
func NewSimulator(cfg Config) *Simulator {
	minLatency := cfg.MinLatency
	if minLatency < 0 {
		minLatency = 0
	}
	maxLatency := cfg.MaxLatency
	if maxLatency < minLatency {
		maxLatency = minLatency
	}

	rng := cfg.Random
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	lossProbability := clampProbability(cfg.LossProbability)
	return &Simulator{
		rng:    rng,
		sleep:  sleep,
		logger: logger,
		defaults: callOptions{
			minLatency:      minLatency,
			maxLatency:      maxLatency,
			lossProbability: lossProbability,
		},
		state: State{
			IsConnected:    true,
			SimulatedLagMS: clampLag(cfg.SimulatedLagMS),
			PacketLossRate: lossProbability,
			AckRate:        100,
		},
	}
}

// Simulate waits for a sampled latency and then either runs action or fails with ErrPacketLost.
// The latency stat is updated on every call. The simulator never retries.
func Simulate[T any](ctx context.Context, simulator *Simulator, action func() (T, error), options ...Option) (T, error) {
	var zero T
	callOpts := simulator.resolve(options)

	latency := simulator.sampleLatency(callOpts)
	simulator.recordLatency(latency)

	if err := simulator.sleep(ctx, latency); err != nil {
		return zero, err
	}

	if simulator.drawLoss(callOpts.lossProbability) {
		simulator.logger.Debug("simulated packet lost", zap.Duration("latency", latency))
		return zero, ErrPacketLost
	}
	return action()
}

// Do is the non-generic form of Simulate for actions without a result.
func (s *Simulator) Do(ctx context.Context, action func() error, options ...Option) error {
	_, err := Simulate(ctx, s, func() (struct{}, error) {
		return struct{}{}, action()
	}, options...)
	return err
}

// SampleLatency draws a latency using the simulator defaults biased by the simulated lag.
func (s *Simulator) SampleLatency() time.Duration {
	return s.sampleLatency(s.defaults)
}

// State returns a copy of the current network state.
func (s *Simulator) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetSimulatedLag updates the lag control and returns the clamped value.
func (s *Simulator) SetSimulatedLag(lagMS int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.SimulatedLagMS = clampLag(lagMS)
	return s.state.SimulatedLagMS
}

// SetConnected is the manual connect/disconnect toggle. While disconnected every call is lost.
func (s *Simulator) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forcedOffline = !connected
	s.state.IsConnected = connected
}

// MarkDisconnected flips the connection flag after an observed loss without pinning it offline.
func (s *Simulator) MarkDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.IsConnected = false
}

// Heal restores the connection flag unless the user forced the session offline.
func (s *Simulator) Heal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forcedOffline {
		return false
	}
	s.state.IsConnected = true
	return true
}

// SetSyncing toggles the syncing indicator.
func (s *Simulator) SetSyncing(syncing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.IsSyncing = syncing
}

func (s *Simulator) resolve(options []Option) callOptions {
	callOpts := s.defaults
	for _, option := range options {
		if option != nil {
			option(&callOpts)
		}
	}
	return callOpts
}

func (s *Simulator) sampleLatency(callOpts callOptions) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	span := int64(callOpts.maxLatency - callOpts.minLatency)
	latency := callOpts.minLatency
	if span > 0 {
		latency += time.Duration(s.rng.Int63n(span + 1))
	}
	return latency + time.Duration(s.state.SimulatedLagMS)*time.Millisecond
}

func (s *Simulator) recordLatency(latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LatencyMS = int(latency / time.Millisecond)
}

func (s *Simulator) drawLoss(probability float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	lost := !s.state.IsConnected || s.rng.Float64() < probability
	if lost {
		s.state.LostPackets++
	} else {
		s.state.DeliveredPackets++
	}
	total := s.state.LostPackets + s.state.DeliveredPackets
	s.state.AckRate = float64(s.state.DeliveredPackets) / float64(total) * 100
	return lost
}

// Sleep waits for duration or until ctx is done.
func Sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func clampLag(lagMS int) int {
	if lagMS < 0 {
		return 0
	}
	if lagMS > MaxSimulatedLagMS {
		return MaxSimulatedLagMS
	}
	return lagMS
}

func clampProbability(probability float64) float64 {
	if probability < 0 {
		return 0
	}
	if probability > 1 {
		return 1
	}
	return probability
}
