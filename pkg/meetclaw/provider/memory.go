package provider

import (
	"context"
	"sync"
	"time"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/apperr"
)

// Memory is an in-process call provider. It keeps calls, users and members
// in maps and pushes custom-data changes to subscribers. Used by
// "serve --provider memory" and throughout the tests.
type Memory struct {
	mu       sync.Mutex
	apiKey   string
	secret   string
	callType string
	calls    map[string]*memCall
	users    map[string]User
	subs     map[string][]chan map[string]any
	failures map[string]error
	now      func() time.Time
	seq      int
}

type memCall struct {
	call           Call
	recordings     []Recording
	transcriptions []Transcription
	joins          []JoinOptions
	customWrites   int
	ended          bool
}

// NewMemory creates an empty in-memory provider.
func NewMemory(apiKey, secret string) *Memory {
	return &Memory{
		apiKey:   apiKey,
		secret:   secret,
		callType: "default",
		calls:    make(map[string]*memCall),
		users:    make(map[string]User),
		subs:     make(map[string][]chan map[string]any),
		failures: make(map[string]error),
		now:      time.Now,
	}
}

func (m *Memory) APIKey() string   { return m.apiKey }
func (m *Memory) CallType() string { return m.callType }

// FailOn makes the named operation (e.g. "StartRecording") return err.
// A nil err clears the failure.
func (m *Memory) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

func (m *Memory) fail(op string) error {
	return m.failures[op]
}

// tick returns strictly increasing timestamps so member order is stable.
func (m *Memory) tick() time.Time {
	m.seq++
	return m.now().Add(time.Duration(m.seq) * time.Microsecond)
}

func (m *Memory) lookup(callID string) (*memCall, error) {
	c, ok := m.calls[callID]
	if !ok {
		return nil, apperr.NotFound("call %s not found", callID)
	}
	return c, nil
}

func (m *Memory) snapshot(c *memCall) *Call {
	out := c.call
	out.Custom = cloneMap(c.call.Custom)
	out.Members = make([]Member, len(c.call.Members))
	for i, mem := range c.call.Members {
		if u, ok := m.users[mem.UserID]; ok {
			mem.User = u
		}
		out.Members[i] = mem
	}
	return &out
}

func (m *Memory) GetOrCreateCall(ctx context.Context, callID string, req GetOrCreateRequest) (*Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetOrCreateCall"); err != nil {
		return nil, err
	}
	c, ok := m.calls[callID]
	if !ok {
		c = &memCall{call: Call{
			Type:      m.callType,
			ID:        callID,
			CID:       CID(m.callType, callID),
			Custom:    cloneMap(req.Custom),
			CreatedAt: m.now(),
		}}
		for _, mr := range req.Members {
			c.call.Members = append(c.call.Members, Member{UserID: mr.UserID, Role: mr.Role, CreatedAt: m.tick()})
		}
		m.calls[callID] = c
	}
	if req.Settings != nil && !c.ended {
		if req.Settings.Recording != nil && req.Settings.Recording.Mode == "auto-on" {
			c.call.Recording = true
		}
		if req.Settings.Transcription != nil && req.Settings.Transcription.Mode == "auto-on" {
			c.call.Transcribing = true
		}
	}
	return m.snapshot(c), nil
}

func (m *Memory) GetCall(ctx context.Context, callID string) (*Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetCall"); err != nil {
		return nil, err
	}
	c, err := m.lookup(callID)
	if err != nil {
		return nil, err
	}
	return m.snapshot(c), nil
}

// UpdateCallCustom replaces the call's custom object, as the provider does.
func (m *Memory) UpdateCallCustom(ctx context.Context, callID string, custom map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateCallCustom"); err != nil {
		return err
	}
	c, err := m.lookup(callID)
	if err != nil {
		return err
	}
	c.call.Custom = cloneMap(custom)
	c.customWrites++
	for _, ch := range m.subs[callID] {
		select {
		case ch <- cloneMap(custom):
		default:
		}
	}
	return nil
}

func (m *Memory) UpsertUsers(ctx context.Context, users ...User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpsertUsers"); err != nil {
		return err
	}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return nil
}

func (m *Memory) UpdateCallMembers(ctx context.Context, callID string, add []MemberRequest, remove []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateCallMembers"); err != nil {
		return err
	}
	c, err := m.lookup(callID)
	if err != nil {
		return err
	}

	if len(remove) > 0 {
		drop := make(map[string]bool, len(remove))
		for _, id := range remove {
			drop[id] = true
		}
		kept := c.call.Members[:0]
		for _, mem := range c.call.Members {
			if !drop[mem.UserID] {
				kept = append(kept, mem)
			}
		}
		c.call.Members = kept
	}

	for _, mr := range add {
		found := false
		for i := range c.call.Members {
			if c.call.Members[i].UserID == mr.UserID {
				c.call.Members[i].Role = mr.Role
				found = true
			}
		}
		if !found {
			c.call.Members = append(c.call.Members, Member{UserID: mr.UserID, Role: mr.Role, CreatedAt: m.tick()})
		}
	}
	return nil
}

func (m *Memory) StartRecording(ctx context.Context, callID string) error {
	return m.setFlag("StartRecording", callID, func(c *Call) { c.Recording = true })
}

func (m *Memory) StartTranscription(ctx context.Context, callID string) error {
	return m.setFlag("StartTranscription", callID, func(c *Call) { c.Transcribing = true })
}

func (m *Memory) setFlag(op, callID string, set func(*Call)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(op); err != nil {
		return err
	}
	c, err := m.lookup(callID)
	if err != nil {
		return err
	}
	set(&c.call)
	return nil
}

func (m *Memory) EndCall(ctx context.Context, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("EndCall"); err != nil {
		return err
	}
	c, err := m.lookup(callID)
	if err != nil {
		return err
	}
	c.ended = true
	c.call.Recording = false
	c.call.Transcribing = false
	return nil
}

func (m *Memory) ListRecordings(ctx context.Context, callID string) ([]Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListRecordings"); err != nil {
		return nil, err
	}
	c, err := m.lookup(callID)
	if err != nil {
		return nil, err
	}
	return append([]Recording(nil), c.recordings...), nil
}

func (m *Memory) ListTranscriptions(ctx context.Context, callID string) ([]Transcription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListTranscriptions"); err != nil {
		return nil, err
	}
	c, err := m.lookup(callID)
	if err != nil {
		return nil, err
	}
	return append([]Transcription(nil), c.transcriptions...), nil
}

func (m *Memory) JoinCall(ctx context.Context, callID string, opts JoinOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("JoinCall"); err != nil {
		return err
	}
	c, err := m.lookup(callID)
	if err != nil {
		return err
	}
	if c.ended {
		return apperr.Conflict("call %s has ended", callID)
	}
	c.joins = append(c.joins, opts)
	return nil
}

func (m *Memory) CreateUserToken(userID string, ttl time.Duration) (string, time.Time, error) {
	return UserToken(m.secret, userID, ttl, m.now())
}

// SubscribeCustom streams custom-data replacements for callID until ctx ends.
func (m *Memory) SubscribeCustom(ctx context.Context, callID string) (<-chan map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SubscribeCustom"); err != nil {
		return nil, err
	}
	ch := make(chan map[string]any, 16)
	m.subs[callID] = append(m.subs[callID], ch)

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[callID]
		for i, s := range subs {
			if s == ch {
				m.subs[callID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// ---------- Test and dev helpers ----------

// AddRecording registers a finished recording for callID.
func (m *Memory) AddRecording(callID string, r Recording) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.calls[callID]; ok {
		c.recordings = append(c.recordings, r)
	}
}

// AddTranscription registers a finished transcript for callID.
func (m *Memory) AddTranscription(callID string, t Transcription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.calls[callID]; ok {
		c.transcriptions = append(c.transcriptions, t)
	}
}

// AppendMember appends a raw member, duplicates included.
func (m *Memory) AppendMember(callID string, mem Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.calls[callID]; ok {
		if mem.CreatedAt.IsZero() {
			mem.CreatedAt = m.tick()
		}
		c.call.Members = append(c.call.Members, mem)
	}
}

// Joins returns the join requests seen for callID.
func (m *Memory) Joins(callID string) []JoinOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.calls[callID]; ok {
		return append([]JoinOptions(nil), c.joins...)
	}
	return nil
}

// CustomWrites returns how many times the custom object of callID was written.
func (m *Memory) CustomWrites(callID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.calls[callID]; ok {
		return c.customWrites
	}
	return 0
}

// Ended reports whether EndCall was called for callID.
func (m *Memory) Ended(callID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	return ok && c.ended
}

// User returns a previously upserted user.
func (m *Memory) User(id string) (User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return u, ok
}
