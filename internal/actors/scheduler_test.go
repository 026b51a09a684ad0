package actors

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/notemate/internal/activity"
	"github.com/MarcoPoloResearchLab/notemate/internal/editor"
	"github.com/MarcoPoloResearchLab/notemate/internal/network"
	"github.com/MarcoPoloResearchLab/notemate/internal/users"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	scheduler *Scheduler
	store     *editor.Store
	network   *network.Simulator
	users     *users.Service
	log       *activity.Log
	chat      *activity.Chat
}

type fixtureOptions struct {
	text            string
	lossProbability float64
	typoProbability float64
	timing          Timing
	sleep           network.SleepFunc
	networkSleep    network.SleepFunc
	actors          []users.Profile
}

// shortSleep skips delays under a minute and blocks on longer ones until ctx is done.
func shortSleep(ctx context.Context, duration time.Duration) error {
	if duration < time.Minute {
		return ctx.Err()
	}
	<-ctx.Done()
	return ctx.Err()
}

func newFixture(t *testing.T, options fixtureOptions) fixture {
	t.Helper()
	store, err := editor.NewStore(editor.StoreConfig{LocalUserID: users.LocalUserID, InitialText: options.text})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	networkSleep := options.networkSleep
	if networkSleep == nil {
		networkSleep = shortSleep
	}
	simulator := network.NewSimulator(network.Config{
		LossProbability: options.lossProbability,
		Random:          rand.New(rand.NewSource(7)),
		Sleep:           networkSleep,
	})
	roster, err := users.NewService(users.ServiceConfig{Roster: users.DefaultRoster()})
	if err != nil {
		t.Fatalf("failed to create users: %v", err)
	}
	t.Cleanup(roster.Stop)
	log := activity.NewLog(activity.LogConfig{})
	chat := activity.NewChat(activity.ChatConfig{Mirror: log})

	sleep := options.sleep
	if sleep == nil {
		sleep = shortSleep
	}
	actors := options.actors
	if actors == nil {
		actors = users.DefaultRoster()
	}
	scheduler, err := NewScheduler(Config{
		Store:           store,
		Network:         simulator,
		Users:           roster,
		Log:             log,
		Chat:            chat,
		Actors:          actors,
		LocalUserID:     users.LocalUserID,
		Timing:          options.timing,
		TypoProbability: options.typoProbability,
		Weights:         Weights{Edit: 0.4, Cursor: 0.2, Chat: 0.3, Idle: 0.1},
		Script:          DefaultScript(),
		Random:          rand.New(rand.NewSource(42)),
		Sleep:           sleep,
	})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	return fixture{scheduler: scheduler, store: store, network: simulator, users: roster, log: log, chat: chat}
}

func (f fixture) agent(t *testing.T, id editor.UserID) *agent {
	t.Helper()
	actor, ok := f.scheduler.byID[id]
	if !ok {
		t.Fatalf("unknown actor %s", id)
	}
	return actor
}

// idleTiming keeps the opening timeline and the autonomous loops parked for the whole test.
func idleTiming() Timing {
	timing := DefaultTiming()
	timing.StartDelay = time.Hour
	timing.IntervalMin = time.Hour
	timing.IntervalMax = time.Hour
	return timing
}

func profileOf(t *testing.T, id editor.UserID) users.Profile {
	t.Helper()
	for _, profile := range users.DefaultRoster() {
		if profile.ID == id {
			return profile
		}
	}
	t.Fatalf("profile %s not in roster", id)
	return users.Profile{}
}

func hasEntry(entries []activity.Entry, entryType activity.EntryType, message string) bool {
	for _, entry := range entries {
		if entry.Type == entryType && entry.Message == message {
			return true
		}
	}
	return false
}

func TestSamplerHonoursWeights(t *testing.T) {
	sampler, err := NewSampler(Weights{Edit: 1, Chat: 1})
	if err != nil {
		t.Fatalf("unexpected sampler error: %v", err)
	}
	testCases := []struct {
		draw     float64
		expected Action
	}{
		{draw: 0, expected: ActionEdit},
		{draw: 0.49, expected: ActionEdit},
		{draw: 0.5, expected: ActionChat},
		{draw: 0.999, expected: ActionChat},
	}
	for _, testCase := range testCases {
		if action := sampler.Pick(testCase.draw); action != testCase.expected {
			t.Fatalf("draw %v: expected %s, got %s", testCase.draw, testCase.expected, action)
		}
	}

	if _, err := NewSampler(Weights{}); !errors.Is(err, ErrInvalidWeights) {
		t.Fatalf("expected ErrInvalidWeights, got %v", err)
	}
}

func TestNewSchedulerRejectsMissingDependencies(t *testing.T) {
	if _, err := NewScheduler(Config{}); err == nil {
		t.Fatalf("expected error for empty config")
	}
}

func TestSchedulerSkipsLocalActor(t *testing.T) {
	f := newFixture(t, fixtureOptions{timing: DefaultTiming()})
	if len(f.scheduler.agents) != 2 {
		t.Fatalf("expected two remote agents, got %d", len(f.scheduler.agents))
	}
	if f.scheduler.Enqueue(users.LocalUserID, ActionEdit, 0, "") {
		t.Fatalf("local user must not be schedulable")
	}
}

func TestTypoProducesThreeOperations(t *testing.T) {
	f := newFixture(t, fixtureOptions{text: "todo: write agenda", typoProbability: 1, timing: DefaultTiming()})
	bob := f.agent(t, users.BobUserID)

	if err := f.scheduler.perform(context.Background(), bob, task{action: ActionEdit}); err != nil {
		t.Fatalf("perform failed: %v", err)
	}

	if text := f.store.Text(); text != "todo: write agenda [DONE]" {
		t.Fatalf("unexpected text %q", text)
	}
	if version := f.store.Version(); version != 4 {
		t.Fatalf("expected three versioned operations, got version %d", version)
	}
	if !hasEntry(f.log.Entries(), activity.EntryEdit, "fixed a typo") {
		t.Fatalf("expected typo log entry")
	}
	user, _ := f.users.User(users.BobUserID)
	if user.ActionsCount != 1 || user.Status != users.StatusOnline {
		t.Fatalf("unexpected user state %#v", user)
	}
	if f.network.State().IsSyncing {
		t.Fatalf("expected syncing flag to be cleared")
	}
}

func TestEditOnEmptyDocumentAddsIdea(t *testing.T) {
	f := newFixture(t, fixtureOptions{timing: DefaultTiming()})
	charlie := f.agent(t, users.CharlieUserID)

	if err := f.scheduler.perform(context.Background(), charlie, task{action: ActionEdit}); err != nil {
		t.Fatalf("perform failed: %v", err)
	}

	if text := f.store.Text(); text != "\n* Important point to discuss" {
		t.Fatalf("unexpected text %q", text)
	}
	if version := f.store.Version(); version != 2 {
		t.Fatalf("expected a single operation, got version %d", version)
	}
	cursor, ok := f.store.Cursor(users.CharlieUserID)
	if !ok || cursor.Position != (editor.Position{Line: 2, Column: 29}) {
		t.Fatalf("expected cursor at end of insert, got %#v", cursor)
	}
}

func TestPacketLossHidesCursorAndHeals(t *testing.T) {
	var (
		mu               sync.Mutex
		visibleDuringGap = true
		connectedDuring  = true
		f                fixture
	)
	timing := DefaultTiming()
	sleep := func(ctx context.Context, duration time.Duration) error {
		if duration == timing.RecoveryDelay {
			mu.Lock()
			cursor, _ := f.store.Cursor(users.BobUserID)
			visibleDuringGap = cursor.Visible
			connectedDuring = f.network.State().IsConnected
			mu.Unlock()
		}
		return ctx.Err()
	}
	f = newFixture(t, fixtureOptions{text: "abc", lossProbability: 1, timing: timing, sleep: sleep})
	f.scheduler.join()

	if err := f.scheduler.perform(context.Background(), f.agent(t, users.BobUserID), task{action: ActionEdit}); err != nil {
		t.Fatalf("perform failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if visibleDuringGap || connectedDuring {
		t.Fatalf("expected hidden cursor and disconnected flag during recovery")
	}
	if f.store.Text() != "abc" || f.store.Version() != 1 {
		t.Fatalf("lost action must not touch the document")
	}
	if !f.network.State().IsConnected {
		t.Fatalf("expected connection to heal")
	}
	cursor, _ := f.store.Cursor(users.BobUserID)
	if !cursor.Visible {
		t.Fatalf("expected cursor to be restored")
	}
	if !hasEntry(f.log.Entries(), activity.EntrySystem, "packet loss detected") {
		t.Fatalf("expected packet loss log entry")
	}
}

func TestForcedDisconnectLosesActionsUntilReconnect(t *testing.T) {
	f := newFixture(t, fixtureOptions{timing: DefaultTiming()})
	bob := f.agent(t, users.BobUserID)
	f.network.SetConnected(false)

	for attempt := 0; attempt < 3; attempt++ {
		if err := f.scheduler.perform(context.Background(), bob, task{action: ActionEdit}); err != nil {
			t.Fatalf("perform failed: %v", err)
		}
	}
	if f.store.Version() != 1 {
		t.Fatalf("expected every action to be lost while disconnected")
	}
	if f.network.State().IsConnected {
		t.Fatalf("forced disconnect must not self-heal")
	}
	if lost := f.network.State().LostPackets; lost != 3 {
		t.Fatalf("expected three lost packets, got %d", lost)
	}

	f.network.SetConnected(true)
	if err := f.scheduler.perform(context.Background(), bob, task{action: ActionEdit}); err != nil {
		t.Fatalf("perform failed: %v", err)
	}
	if f.store.Version() != 2 {
		t.Fatalf("expected action to succeed after reconnect")
	}
}

func TestIdleActionIsLostWhileDisconnected(t *testing.T) {
	f := newFixture(t, fixtureOptions{timing: DefaultTiming()})
	bob := f.agent(t, users.BobUserID)
	f.network.SetConnected(false)

	if err := f.scheduler.perform(context.Background(), bob, task{action: ActionIdle}); err != nil {
		t.Fatalf("perform failed: %v", err)
	}

	user, _ := f.users.User(users.BobUserID)
	if user.Status == users.StatusIdle {
		t.Fatalf("idle status must not apply while disconnected")
	}
	if lost := f.network.State().LostPackets; lost != 1 {
		t.Fatalf("expected one lost packet, got %d", lost)
	}
	if !hasEntry(f.log.Entries(), activity.EntrySystem, "packet loss detected") {
		t.Fatalf("expected packet loss log entry")
	}
}

func TestChatActionPostsNextConversationLine(t *testing.T) {
	f := newFixture(t, fixtureOptions{timing: DefaultTiming()})
	charlie := f.agent(t, users.CharlieUserID)

	if err := f.scheduler.perform(context.Background(), charlie, task{action: ActionChat}); err != nil {
		t.Fatalf("perform failed: %v", err)
	}

	last, ok := f.chat.Last()
	if !ok {
		t.Fatalf("expected a chat message")
	}
	if last.UserID != users.CharlieUserID || last.Content != "Yes Bob, the editor integration feels really smooth!" {
		t.Fatalf("unexpected message %#v", last)
	}
	if f.chat.Unread() != 1 {
		t.Fatalf("expected unread counter to increase")
	}
	if len(f.chat.Typing()) != 0 {
		t.Fatalf("expected typing indicator to clear")
	}
	if !hasEntry(f.log.Entries(), activity.EntryChat, "is writing a message...") {
		t.Fatalf("expected composing log entry")
	}
}

func TestCursorAndIdleActions(t *testing.T) {
	f := newFixture(t, fixtureOptions{text: "line one\nline two", timing: DefaultTiming()})
	bob := f.agent(t, users.BobUserID)

	if err := f.scheduler.perform(context.Background(), bob, task{action: ActionCursor}); err != nil {
		t.Fatalf("perform failed: %v", err)
	}
	cursor, ok := f.store.Cursor(users.BobUserID)
	if !ok || !cursor.Visible {
		t.Fatalf("expected visible cursor")
	}
	if cursor.Position.Line < 1 || cursor.Position.Line > 2 || cursor.Position.Column < 1 || cursor.Position.Column > 9 {
		t.Fatalf("cursor out of bounds %#v", cursor.Position)
	}

	if err := f.scheduler.perform(context.Background(), bob, task{action: ActionIdle}); err != nil {
		t.Fatalf("perform failed: %v", err)
	}
	user, _ := f.users.User(users.BobUserID)
	if user.Status != users.StatusIdle {
		t.Fatalf("expected idle status, got %s", user.Status)
	}
}

func TestHandleMessageRepliesToKeyword(t *testing.T) {
	f := newFixture(t, fixtureOptions{timing: DefaultTiming()})
	message := activity.Message{ID: "m-1", UserID: users.LocalUserID, Content: "Hello team, can you help?"}

	if !f.scheduler.HandleMessage(message) {
		t.Fatalf("expected a reply to be scheduled")
	}
	if f.scheduler.HandleMessage(message) {
		t.Fatalf("the same message must not be handled twice")
	}

	var queued []task
	for _, actor := range f.scheduler.agents {
		select {
		case next := <-actor.queue:
			queued = append(queued, next)
		default:
		}
	}
	if len(queued) != 1 {
		t.Fatalf("expected exactly one queued reply, got %d", len(queued))
	}
	reply := queued[0]
	if reply.action != ActionChat || reply.delay < 800*time.Millisecond || reply.delay > 1600*time.Millisecond {
		t.Fatalf("unexpected reply task %#v", reply)
	}
	greetings := DefaultScript().Reactions[0].Responses
	if !strings.Contains(strings.Join(greetings, "|"), reply.message) {
		t.Fatalf("expected a greeting reply, got %q", reply.message)
	}
}

func TestHandleMessageIgnoresRemoteAuthors(t *testing.T) {
	f := newFixture(t, fixtureOptions{timing: DefaultTiming()})
	if f.scheduler.HandleMessage(activity.Message{ID: "m-2", UserID: users.BobUserID, Content: "hello"}) {
		t.Fatalf("remote messages must not trigger replies")
	}
}

func TestRunPlaysOpeningTimeline(t *testing.T) {
	timing := DefaultTiming()
	timing.StartDelay = 0
	timing.IntervalMin = time.Hour
	timing.IntervalMax = time.Hour
	f := newFixture(t, fixtureOptions{text: "# Meeting notes\n- [ ] prepare the agenda", timing: timing})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.scheduler.Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(f.chat.Messages()) >= 2 && f.store.Version() >= 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	messages := f.chat.Messages()
	if len(messages) < 2 {
		t.Fatalf("expected opening chat lines, got %d", len(messages))
	}
	if f.store.Version() < 3 {
		t.Fatalf("expected both opening edits, got version %d", f.store.Version())
	}
	if !hasEntry(f.log.Entries(), activity.EntryConnect, "joined the session") {
		t.Fatalf("expected join log entries")
	}
}

func TestActorRunsOneActionAtATime(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	networkSleep := func(ctx context.Context, _ time.Duration) error {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			observed := maxInFlight.Load()
			if current <= observed || maxInFlight.CompareAndSwap(observed, current) {
				break
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Millisecond):
			return nil
		}
	}
	f := newFixture(t, fixtureOptions{
		text:         "# Notes\n- first item",
		timing:       idleTiming(),
		networkSleep: networkSleep,
		actors:       []users.Profile{profileOf(t, users.LocalUserID), profileOf(t, users.BobUserID)},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.scheduler.Run(ctx)
	}()

	const edits = 5
	for index := 0; index < edits; index++ {
		if !f.scheduler.Enqueue(users.BobUserID, ActionEdit, 0, "") {
			t.Fatalf("edit %d not queued", index)
		}
	}
	if !f.scheduler.HandleMessage(activity.Message{ID: "m-3", UserID: users.LocalUserID, Content: "hello there"}) {
		t.Fatalf("expected a reply to be scheduled")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if user, _ := f.users.User(users.BobUserID); user.ActionsCount >= edits+1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	user, _ := f.users.User(users.BobUserID)
	if user.ActionsCount < edits+1 {
		t.Fatalf("expected every queued action to run, got %d", user.ActionsCount)
	}
	if peak := maxInFlight.Load(); peak != 1 {
		t.Fatalf("expected one action in flight at a time, saw %d", peak)
	}
}

func TestRunRemovesActorsOnShutdown(t *testing.T) {
	f := newFixture(t, fixtureOptions{text: "abc", timing: idleTiming()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.scheduler.Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := f.store.Cursor(users.BobUserID); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := f.store.Cursor(users.BobUserID); !ok {
		t.Fatalf("expected actors to join")
	}
	version := f.store.Version()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if cursors := f.store.Cursors(); len(cursors) != 0 {
		t.Fatalf("expected every remote cursor removed, got %#v", cursors)
	}
	if f.store.Version() != version {
		t.Fatalf("leaving must not bump the version")
	}
	for _, id := range []editor.UserID{users.BobUserID, users.CharlieUserID} {
		user, _ := f.users.User(id)
		if user.Status != users.StatusOffline {
			t.Fatalf("expected %s offline, got %s", id, user.Status)
		}
	}
	if !hasEntry(f.log.Entries(), activity.EntryDisconnect, "left the session") {
		t.Fatalf("expected leave log entries")
	}
}
