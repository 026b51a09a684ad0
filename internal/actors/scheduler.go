package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/notemate/internal/activity"
	"github.com/MarcoPoloResearchLab/notemate/internal/editor"
	"github.com/MarcoPoloResearchLab/notemate/internal/network"
	"github.com/MarcoPoloResearchLab/notemate/internal/users"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultQueueSize     = 8
	defaultCursorSpacing = 5

	opSchedulerNew = "actors.scheduler.new"
	opPerform      = "actors.perform"
	opEnqueue      = "actors.enqueue"
)

var (
	errMissingStore    = errors.New("document store is required")
	errMissingNetwork  = errors.New("network simulator is required")
	errMissingUsers    = errors.New("user service is required")
	errMissingActivity = errors.New("activity log and chat are required")
	errNoActors        = errors.New("at least one remote actor is required")
)

// Timing groups the delays that pace the simulated collaborators.
type Timing struct {
	StartDelay    time.Duration
	IntervalMin   time.Duration
	IntervalMax   time.Duration
	RecoveryDelay time.Duration
	ReadPause     time.Duration
	TypoPause     time.Duration
	FixPause      time.Duration
	ComposeMin    time.Duration
	ComposeMax    time.Duration
	ReplyMin      time.Duration
	ReplyMax      time.Duration
	GenericReply  time.Duration
}

// DefaultTiming returns the pacing used by an interactive session.
func DefaultTiming() Timing {
	return Timing{
		StartDelay:    2 * time.Second,
		IntervalMin:   2 * time.Second,
		IntervalMax:   8 * time.Second,
		RecoveryDelay: 1500 * time.Millisecond,
		ReadPause:     400 * time.Millisecond,
		TypoPause:     500 * time.Millisecond,
		FixPause:      300 * time.Millisecond,
		ComposeMin:    time.Second,
		ComposeMax:    2 * time.Second,
		ReplyMin:      800 * time.Millisecond,
		ReplyMax:      1600 * time.Millisecond,
		GenericReply:  1500 * time.Millisecond,
	}
}

// Config describes the dependencies of a Scheduler.
type Config struct {
	Store           *editor.Store
	Network         *network.Simulator
	Users           *users.Service
	Log             *activity.Log
	Chat            *activity.Chat
	Actors          []users.Profile
	LocalUserID     editor.UserID
	Timing          Timing
	TypoProbability float64
	Weights         Weights
	Script          Script
	QueueSize       int
	Random          *rand.Rand
	Sleep           network.SleepFunc
	Logger          *zap.Logger
}

// Scheduler animates every remote actor. Each actor owns a queue drained by a single worker,
// so at most one of its actions is in flight at a time.
type Scheduler struct {
	store           *editor.Store
	network         *network.Simulator
	users           *users.Service
	log             *activity.Log
	chat            *activity.Chat
	localUserID     editor.UserID
	timing          Timing
	typoProbability float64
	sampler         *Sampler
	script          Script
	rng             *lockedRand
	sleep           network.SleepFunc
	logger          *zap.Logger

	agents []*agent
	byID   map[editor.UserID]*agent

	mu              sync.Mutex
	lastHandledChat string
}

type agent struct {
	profile   users.Profile
	queue     chan task
	lines     []string
	lineIndex int
}

type task struct {
	action  Action
	delay   time.Duration
	message string
}

// NewScheduler validates cfg and prepares one queue per actor.
func NewScheduler(cfg Config) (*Scheduler, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("%s: %w", opSchedulerNew, errMissingStore)
	case cfg.Network == nil:
		return nil, fmt.Errorf("%s: %w", opSchedulerNew, errMissingNetwork)
	case cfg.Users == nil:
		return nil, fmt.Errorf("%s: %w", opSchedulerNew, errMissingUsers)
	case cfg.Log == nil || cfg.Chat == nil:
		return nil, fmt.Errorf("%s: %w", opSchedulerNew, errMissingActivity)
	case len(cfg.Actors) == 0:
		return nil, fmt.Errorf("%s: %w", opSchedulerNew, errNoActors)
	}

	sampler, err := NewSampler(cfg.Weights)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opSchedulerNew, err)
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = network.Sleep
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	scheduler := &Scheduler{
		store:           cfg.Store,
		network:         cfg.Network,
		users:           cfg.Users,
		log:             cfg.Log,
		chat:            cfg.Chat,
		localUserID:     cfg.LocalUserID,
		timing:          cfg.Timing,
		typoProbability: cfg.TypoProbability,
		sampler:         sampler,
		script:          cfg.Script,
		rng:             newLockedRand(cfg.Random),
		sleep:           sleep,
		logger:          logger,
		byID:            make(map[editor.UserID]*agent, len(cfg.Actors)),
	}
	for _, profile := range cfg.Actors {
		if profile.ID == cfg.LocalUserID {
			continue
		}
		actor := &agent{
			profile: profile,
			queue:   make(chan task, queueSize),
			lines:   cfg.Script.linesFor(profile.ID),
		}
		scheduler.agents = append(scheduler.agents, actor)
		scheduler.byID[profile.ID] = actor
	}
	if len(scheduler.agents) == 0 {
		return nil, fmt.Errorf("%s: %w", opSchedulerNew, errNoActors)
	}
	return scheduler, nil
}

// Run places every actor's cursor, then drives the workers, the opening timeline and
// the autonomous loops until ctx is done. Actors leave the session when it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.join()
	defer s.leave()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, actor := range s.agents {
		group.Go(func() error {
			return s.work(groupCtx, actor)
		})
		group.Go(func() error {
			return s.loop(groupCtx, actor)
		})
	}
	group.Go(func() error {
		return s.playOpening(groupCtx)
	})

	err := group.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Enqueue schedules an action for actorID after delay. It reports false when the actor is
// unknown or its queue is full.
func (s *Scheduler) Enqueue(actorID editor.UserID, action Action, delay time.Duration, message string) bool {
	actor, ok := s.byID[actorID]
	if !ok {
		return false
	}
	return s.enqueue(actor, task{action: action, delay: delay, message: message})
}

// HandleMessage runs the reactive layer for a chat message. Only new messages from the local
// user are considered. The first keyword contained in the message picks the reply; without a
// match a generic reply follows half of the time.
func (s *Scheduler) HandleMessage(message activity.Message) bool {
	if message.UserID != s.localUserID {
		return false
	}
	s.mu.Lock()
	if message.ID == s.lastHandledChat {
		s.mu.Unlock()
		return false
	}
	s.lastHandledChat = message.ID
	s.mu.Unlock()

	content := strings.ToLower(message.Content)
	responder := s.agents[s.rng.Intn(len(s.agents))]
	for _, reaction := range s.script.Reactions {
		if reaction.Keyword == "" || !strings.Contains(content, strings.ToLower(reaction.Keyword)) {
			continue
		}
		if len(reaction.Responses) == 0 {
			return false
		}
		reply := reaction.Responses[s.rng.Intn(len(reaction.Responses))]
		delay := s.rng.Between(s.timing.ReplyMin, s.timing.ReplyMax)
		return s.enqueue(responder, task{action: ActionChat, delay: delay, message: reply})
	}

	if len(s.script.Generic) == 0 || s.rng.Float64() <= 0.5 {
		return false
	}
	reply := s.script.Generic[s.rng.Intn(len(s.script.Generic))]
	return s.enqueue(responder, task{action: ActionChat, delay: s.timing.GenericReply, message: reply})
}

func (s *Scheduler) join() {
	for index, actor := range s.agents {
		s.store.SetCursor(editor.Cursor{
			UserID:    actor.profile.ID,
			Position:  editor.Position{Line: (index + 1) * defaultCursorSpacing, Column: 1},
			LatencyMS: s.latencyMS(),
			Visible:   true,
		})
		s.log.AddUser(activity.EntryConnect, actorOf(actor.profile), "joined the session", "")
	}
}

func (s *Scheduler) leave() {
	for _, actor := range s.agents {
		s.store.RemoveCursor(actor.profile.ID)
		if err := s.users.SetStatus(actor.profile.ID, users.StatusOffline); err != nil {
			s.logger.Warn("actor status not updated", zap.String("actor_id", actor.profile.ID.String()), zap.Error(err))
		}
		s.log.AddUser(activity.EntryDisconnect, actorOf(actor.profile), "left the session", "")
	}
}

func (s *Scheduler) work(ctx context.Context, actor *agent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case next := <-actor.queue:
			if err := s.perform(ctx, actor, next); err != nil {
				return err
			}
		}
	}
}

func (s *Scheduler) loop(ctx context.Context, actor *agent) error {
	if err := s.sleep(ctx, s.timing.StartDelay+s.script.span()); err != nil {
		return err
	}
	for {
		if err := s.sleep(ctx, s.rng.Between(s.timing.IntervalMin, s.timing.IntervalMax)); err != nil {
			return err
		}
		s.enqueue(actor, task{action: s.sampler.Pick(s.rng.Float64())})
	}
}

func (s *Scheduler) playOpening(ctx context.Context) error {
	if err := s.sleep(ctx, s.timing.StartDelay); err != nil {
		return err
	}
	var elapsed time.Duration
	for _, step := range s.script.Opening {
		if wait := step.Offset - elapsed; wait > 0 {
			if err := s.sleep(ctx, wait); err != nil {
				return err
			}
			elapsed = step.Offset
		}
		action := ActionEdit
		if step.Message != "" {
			action = ActionChat
		}
		s.Enqueue(step.ActorID, action, 0, step.Message)
	}
	return nil
}

func (s *Scheduler) enqueue(actor *agent, next task) bool {
	select {
	case actor.queue <- next:
		return true
	default:
		s.logger.Debug("actor queue full",
			zap.String("operation", opEnqueue),
			zap.String("actor_id", actor.profile.ID.String()),
			zap.String("action", string(next.action)))
		return false
	}
}

func (s *Scheduler) latencyMS() int {
	return int(s.network.SampleLatency() / time.Millisecond)
}

func actorOf(profile users.Profile) activity.Actor {
	return activity.Actor{ID: profile.ID, Name: profile.Name, Color: profile.Color}
}
