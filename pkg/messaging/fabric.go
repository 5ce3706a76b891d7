// Package messaging delivers envelopes between named participants. Each
// participant owns a FIFO mailbox drained by its own delivery goroutine.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"underwriter/pkg/logx"
	"underwriter/pkg/proto"
)

var (
	// ErrUnknownReceiver is returned when an envelope names no registered participant.
	ErrUnknownReceiver = errors.New("unknown receiver")
	// ErrDuplicateParticipant is returned when a name is registered twice.
	ErrDuplicateParticipant = errors.New("participant already registered")
	// ErrStopped is returned by Send after Stop.
	ErrStopped = errors.New("fabric stopped")
)

// Session statuses.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
)

// Handler processes one envelope delivered to a participant.
type Handler interface {
	HandleMessage(ctx context.Context, env *proto.Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env *proto.Envelope) error

func (f HandlerFunc) HandleMessage(ctx context.Context, env *proto.Envelope) error {
	return f(ctx, env)
}

// Recorder observes every accepted envelope.
type Recorder interface {
	WriteEnvelope(env *proto.Envelope) error
}

// Session is bookkeeping for one application's conversation.
type Session struct {
	ApplicationID string         `json:"application_id"`
	Status        string         `json:"status"`
	InitialData   map[string]any `json:"initial_data,omitempty"`
	FinalResult   map[string]any `json:"final_result,omitempty"`
	MessageCount  int            `json:"message_count"`
	CreatedAt     time.Time      `json:"created_at"`
	ClosedAt      time.Time      `json:"closed_at,omitempty"`
}

// ParticipantInfo describes a registered participant.
type ParticipantInfo struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	Queued       int      `json:"queued"`
}

type participant struct {
	name         string
	handler      Handler
	capabilities []string
	box          *mailbox
}

// Fabric routes envelopes to participant mailboxes.
type Fabric struct {
	mu           sync.RWMutex
	participants map[string]*participant
	sessions     map[string]*Session
	history      map[string][]*proto.Envelope
	recorder     Recorder
	logger       *logx.Logger

	running bool
	stopped bool
	runCtx  context.Context //nolint:containedctx // delivery loops started after Start share it
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Fabric.
type Option func(*Fabric)

// WithRecorder sets the envelope recorder, typically the event log.
func WithRecorder(r Recorder) Option {
	return func(f *Fabric) { f.recorder = r }
}

// New creates an idle fabric.
func New(logger *logx.Logger, opts ...Option) *Fabric {
	if logger == nil {
		logger = logx.NewLogger("messaging")
	}
	f := &Fabric{
		participants: make(map[string]*participant),
		sessions:     make(map[string]*Session),
		history:      make(map[string][]*proto.Envelope),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register creates a mailbox for name. Participants registered after Start
// begin delivery immediately.
func (f *Fabric) Register(name string, h Handler, capabilities []string) error {
	if name == "" {
		return fmt.Errorf("participant name is required")
	}
	if h == nil {
		return fmt.Errorf("participant %s: handler is required", name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.participants[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateParticipant, name)
	}
	p := &participant{
		name:         name,
		handler:      h,
		capabilities: append([]string(nil), capabilities...),
		box:          newMailbox(),
	}
	f.participants[name] = p
	f.logger.Info("Registered participant %s with capabilities %v", name, capabilities)

	if f.running {
		f.startLocked(p)
	}
	return nil
}

// Has reports whether name is registered.
func (f *Fabric) Has(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.participants[name]
	return ok
}

// Send stamps env and queues it for its receiver. An unknown receiver is
// logged and the envelope dropped.
func (f *Fabric) Send(_ context.Context, env *proto.Envelope) error {
	if env == nil {
		return fmt.Errorf("nil envelope")
	}
	env.Stamp()

	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return ErrStopped
	}
	if env.ApplicationID != "" {
		f.history[env.ApplicationID] = append(f.history[env.ApplicationID], env.Clone())
		if s, ok := f.sessions[env.ApplicationID]; ok {
			s.MessageCount++
		}
	}
	p, ok := f.participants[env.Receiver]
	f.mu.Unlock()

	if !ok {
		f.logger.Error("Dropping %s %s from %s: unknown receiver %q", env.Type, env.ID, env.Sender, env.Receiver)
		return fmt.Errorf("%w: %s", ErrUnknownReceiver, env.Receiver)
	}

	if f.recorder != nil {
		if err := f.recorder.WriteEnvelope(env); err != nil {
			f.logger.Warn("Failed to record envelope %s: %v", env.ID, err)
		}
	}

	if !p.box.push(env) {
		return ErrStopped
	}
	f.logger.Debug("Queued %s %s: %s -> %s", env.Type, env.ID, env.Sender, env.Receiver)
	return nil
}

// Start launches one delivery goroutine per participant.
func (f *Fabric) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return fmt.Errorf("fabric is already running")
	}
	if f.stopped {
		return ErrStopped
	}
	f.runCtx, f.cancel = context.WithCancel(ctx)
	f.running = true
	for _, p := range f.participants {
		f.startLocked(p)
	}
	f.logger.Info("Started delivery for %d participants", len(f.participants))
	return nil
}

func (f *Fabric) startLocked(p *participant) {
	f.wg.Add(1)
	go f.deliver(f.runCtx, p)
}

func (f *Fabric) deliver(ctx context.Context, p *participant) {
	defer f.wg.Done()
	for {
		env, ok := p.box.pop(ctx)
		if !ok {
			return
		}
		f.handle(ctx, p, env)
	}
}

func (f *Fabric) handle(ctx context.Context, p *participant, env *proto.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Handler %s panicked on %s %s: %v", p.name, env.Type, env.ID, r)
		}
	}()
	if err := p.handler.HandleMessage(ctx, env); err != nil {
		f.logger.Error("Handler %s failed on %s %s: %v", p.name, env.Type, env.ID, err)
	}
}

// Stop closes every mailbox and waits for queued envelopes to drain or for
// ctx to end, whichever is first.
func (f *Fabric) Stop(ctx context.Context) error {
	f.mu.Lock()
	if !f.running {
		f.stopped = true
		f.mu.Unlock()
		return nil
	}
	f.running = false
	f.stopped = true
	for _, p := range f.participants {
		p.box.close()
	}
	cancel := f.cancel
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		f.logger.Info("Fabric stopped")
		return nil
	case <-ctx.Done():
		cancel()
		f.logger.Warn("Fabric stop timed out")
		return ctx.Err()
	}
}

// CreateSession starts bookkeeping for an application.
func (f *Fabric) CreateSession(applicationID string, initial map[string]any) *Session {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := &Session{
		ApplicationID: applicationID,
		Status:        SessionActive,
		InitialData:   initial,
		CreatedAt:     time.Now().UTC(),
	}
	f.sessions[applicationID] = s
	copied := *s
	return &copied
}

// CloseSession marks a session completed. Queued envelopes are unaffected.
func (f *Fabric) CloseSession(applicationID string, final map[string]any) (*Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.sessions[applicationID]
	if !ok {
		return nil, false
	}
	s.Status = SessionCompleted
	s.FinalResult = final
	s.ClosedAt = time.Now().UTC()
	copied := *s
	return &copied, true
}

// Session returns a copy of the session for applicationID.
func (f *Fabric) Session(applicationID string) (*Session, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.sessions[applicationID]
	if !ok {
		return nil, false
	}
	copied := *s
	return &copied, true
}

// History returns copies of every envelope sent for applicationID, in send order.
func (f *Fabric) History(applicationID string) []*proto.Envelope {
	f.mu.RLock()
	defer f.mu.RUnlock()
	src := f.history[applicationID]
	out := make([]*proto.Envelope, len(src))
	for i, env := range src {
		out[i] = env.Clone()
	}
	return out
}

// Participants lists registered participants sorted by name.
func (f *Fabric) Participants() []ParticipantInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]ParticipantInfo, 0, len(f.participants))
	for _, p := range f.participants {
		out = append(out, ParticipantInfo{
			Name:         p.name,
			Capabilities: append([]string(nil), p.capabilities...),
			Queued:       p.box.len(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DumpHeads returns up to n queued envelopes per participant.
func (f *Fabric) DumpHeads(n int) map[string][]*proto.Envelope {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string][]*proto.Envelope, len(f.participants))
	for name, p := range f.participants {
		out[name] = p.box.heads(n)
	}
	return out
}
