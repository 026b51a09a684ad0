package users

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/notemate/internal/editor"
	"go.uber.org/zap"
)

// ErrUnknownUser indicates the identifier is not part of the session roster.
var ErrUnknownUser = errors.New("users: unknown user")

// ErrInvalidRoster indicates the roster is empty or contains duplicate identifiers.
var ErrInvalidRoster = errors.New("users: invalid roster")

// Status is the presence state of a participant.
type Status string

const (
	StatusOnline  Status = "online"
	StatusTyping  Status = "typing"
	StatusIdle    Status = "idle"
	StatusOffline Status = "offline"
)

// ParseStatus maps user input onto a Status.
func ParseStatus(value string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusOnline:
		return StatusOnline, nil
	case StatusTyping:
		return StatusTyping, nil
	case StatusIdle:
		return StatusIdle, nil
	case StatusOffline:
		return StatusOffline, nil
	default:
		return "", fmt.Errorf("users: unknown status %q", value)
	}
}

// Profile is the fixed identity of a roster member.
type Profile struct {
	ID    editor.UserID `json:"id"`
	Name  string        `json:"name"`
	Color string        `json:"color"`
}

// User is a roster member together with its live presence state.
type User struct {
	Profile
	Status       Status    `json:"status"`
	ActionsCount int       `json:"actions_count"`
	LastActivity time.Time `json:"last_activity"`
}

// Timer is the handle returned by an AfterFunc implementation.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules fn after d. time.AfterFunc satisfies it through a small adapter.
type AfterFunc func(d time.Duration, fn func()) Timer

type pendingTimer struct {
	timer Timer
}

// Observer is notified after a participant's presence state changes.
type Observer interface {
	UserChanged(user User)
}

// ServiceConfig describes the roster and presence timing.
type ServiceConfig struct {
	Roster        []Profile
	TypingTimeout time.Duration
	IdleAfter     time.Duration
	Clock         func() time.Time
	AfterFunc     AfterFunc
	Observer      Observer
	Logger        *zap.Logger
}

// Service tracks the status of every participant. Users are created from the roster and never removed.
type Service struct {
	mu            sync.Mutex
	order         []editor.UserID
	users         map[editor.UserID]*User
	typingTimers  map[editor.UserID]*pendingTimer
	typingTimeout time.Duration
	idleAfter     time.Duration
	now           func() time.Time
	afterFunc     AfterFunc
	observer      Observer
	logger        *zap.Logger
	stopped       bool
}

// NewService builds the roster with every participant online.
func NewService(cfg ServiceConfig) (*Service, error) {
	if len(cfg.Roster) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidRoster)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	afterFunc := cfg.AfterFunc
	if afterFunc == nil {
		afterFunc = func(d time.Duration, fn func()) Timer {
			return time.AfterFunc(d, fn)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &Service{
		users:         make(map[editor.UserID]*User, len(cfg.Roster)),
		typingTimers:  make(map[editor.UserID]*pendingTimer),
		typingTimeout: cfg.TypingTimeout,
		idleAfter:     cfg.IdleAfter,
		now:           clock,
		afterFunc:     afterFunc,
		observer:      cfg.Observer,
		logger:        logger,
	}
	startedAt := clock()
	for _, profile := range cfg.Roster {
		if profile.ID == "" {
			return nil, fmt.Errorf("%w: empty id", ErrInvalidRoster)
		}
		if _, exists := service.users[profile.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidRoster, profile.ID)
		}
		service.order = append(service.order, profile.ID)
		service.users[profile.ID] = &User{Profile: profile, Status: StatusOnline, LastActivity: startedAt}
	}
	return service, nil
}

// Users returns every participant in roster order.
func (s *Service) Users() []User {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]User, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, *s.users[id])
	}
	return result
}

// User returns a single participant.
func (s *Service) User(id editor.UserID) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return User{}, false
	}
	return *user, true
}

// OnlineCount returns how many participants are not offline.
func (s *Service) OnlineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, user := range s.users {
		if user.Status != StatusOffline {
			count++
		}
	}
	return count
}

// SetStatus moves a participant to status and records activity.
func (s *Service) SetStatus(id editor.UserID, status Status) error {
	s.mu.Lock()
	user, ok := s.users[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownUser, id)
	}
	if status != StatusTyping {
		s.stopTypingTimerLocked(id)
	}
	user.Status = status
	user.LastActivity = s.now()
	snapshot := *user
	s.mu.Unlock()

	s.notify(snapshot)
	return nil
}

// MarkTyping switches a participant to typing and re-arms the timer that returns it to online.
// Each call cancels the pending timer.
func (s *Service) MarkTyping(id editor.UserID) error {
	s.mu.Lock()
	user, ok := s.users[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownUser, id)
	}
	s.stopTypingTimerLocked(id)
	user.Status = StatusTyping
	user.LastActivity = s.now()
	if !s.stopped && s.typingTimeout > 0 {
		pending := &pendingTimer{}
		s.typingTimers[id] = pending
		pending.timer = s.afterFunc(s.typingTimeout, func() {
			s.typingExpired(id, pending)
		})
	}
	snapshot := *user
	s.mu.Unlock()

	s.notify(snapshot)
	return nil
}

// RecordAction increments a participant's action counter and records activity.
// An idle participant comes back online.
func (s *Service) RecordAction(id editor.UserID) error {
	s.mu.Lock()
	user, ok := s.users[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownUser, id)
	}
	user.ActionsCount++
	user.LastActivity = s.now()
	if user.Status == StatusIdle {
		user.Status = StatusOnline
	}
	snapshot := *user
	s.mu.Unlock()

	s.notify(snapshot)
	return nil
}

// SweepIdle moves online participants without activity for the idle timeout to idle.
// It returns the ids that changed.
func (s *Service) SweepIdle() []editor.UserID {
	if s.idleAfter <= 0 {
		return nil
	}
	s.mu.Lock()
	now := s.now()
	var changed []User
	for _, id := range s.order {
		user := s.users[id]
		if user.Status == StatusOnline && now.Sub(user.LastActivity) >= s.idleAfter {
			user.Status = StatusIdle
			changed = append(changed, *user)
		}
	}
	s.mu.Unlock()

	ids := make([]editor.UserID, 0, len(changed))
	for _, user := range changed {
		ids = append(ids, user.ID)
		s.notify(user)
	}
	return ids
}

// Stop cancels every pending typing timer. Later MarkTyping calls do not arm new timers.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id := range s.typingTimers {
		s.stopTypingTimerLocked(id)
	}
}

func (s *Service) typingExpired(id editor.UserID, pending *pendingTimer) {
	s.mu.Lock()
	if current, ok := s.typingTimers[id]; !ok || current != pending {
		s.mu.Unlock()
		return
	}
	delete(s.typingTimers, id)
	user := s.users[id]
	if user.Status != StatusTyping {
		s.mu.Unlock()
		return
	}
	user.Status = StatusOnline
	snapshot := *user
	s.mu.Unlock()

	s.logger.Debug("typing stopped", zap.String("user_id", id.String()))
	s.notify(snapshot)
}

func (s *Service) stopTypingTimerLocked(id editor.UserID) {
	if pending, ok := s.typingTimers[id]; ok {
		pending.timer.Stop()
		delete(s.typingTimers, id)
	}
}

func (s *Service) notify(user User) {
	if s.observer != nil {
		s.observer.UserChanged(user)
	}
}
