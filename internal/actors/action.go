package actors

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// ErrInvalidWeights indicates that no action has a positive weight.
var ErrInvalidWeights = errors.New("actors: action weights must sum to a positive value")

// Action is an autonomous behaviour an actor can pick.
type Action string

const (
	ActionEdit   Action = "edit"
	ActionCursor Action = "cursor"
	ActionChat   Action = "chat"
	ActionIdle   Action = "idle"
)

// Weights is the relative likelihood of each action.
type Weights struct {
	Edit   float64
	Cursor float64
	Chat   float64
	Idle   float64
}

type weightedAction struct {
	action     Action
	cumulative float64
}

// Sampler draws actions from a discrete distribution.
type Sampler struct {
	table []weightedAction
	total float64
}

// NewSampler builds a sampler; non-positive weights exclude their action.
func NewSampler(weights Weights) (*Sampler, error) {
	sampler := &Sampler{}
	for _, entry := range []struct {
		action Action
		weight float64
	}{
		{ActionEdit, weights.Edit},
		{ActionCursor, weights.Cursor},
		{ActionChat, weights.Chat},
		{ActionIdle, weights.Idle},
	} {
		if entry.weight <= 0 {
			continue
		}
		sampler.total += entry.weight
		sampler.table = append(sampler.table, weightedAction{action: entry.action, cumulative: sampler.total})
	}
	if sampler.total <= 0 {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidWeights, weights)
	}
	return sampler, nil
}

// Pick maps a uniform draw in [0, 1) onto an action.
func (s *Sampler) Pick(draw float64) Action {
	target := draw * s.total
	for _, entry := range s.table {
		if target < entry.cumulative {
			return entry.action
		}
	}
	return s.table[len(s.table)-1].action
}

// lockedRand serializes access to a *rand.Rand shared by every actor goroutine.
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newLockedRand(rng *rand.Rand) *lockedRand {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &lockedRand{rng: rng}
}

func (r *lockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

func (r *lockedRand) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(n)
}

// Between draws a duration uniformly from [minimum, maximum].
func (r *lockedRand) Between(minimum, maximum time.Duration) time.Duration {
	if maximum <= minimum {
		return minimum
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return minimum + time.Duration(r.rng.Int63n(int64(maximum-minimum)+1))
}
