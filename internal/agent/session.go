package agent

import "sync"

const (
	// maxTurns bounds the conversational context fed to the router.
	maxTurns = 6
	// maxResponseRunes bounds each stored agent response.
	maxResponseRunes = 300
)

// Turn is one completed interaction: what the student said, what the
// agent replied (truncated), and which tool produced the reply.
type Turn struct {
	Prompt   string
	Response string
	Tool     Intent
}

// PendingExercise is an exercise posed to the student whose answer has
// not arrived yet. A bare reply while one is pending is graded against it.
type PendingExercise struct {
	ExerciseID string
	TopicID    string
	Task       string
}

// Session is the per-student conversational state: a fixed-capacity ring
// of recent turns plus the pending exercise, if any. It does not survive
// process restarts.
//
// A session is mutated by one active turn at a time in normal use;
// concurrent turns for the same legajo interleave in arrival order.
type Session struct {
	Legajo string

	mu      sync.Mutex
	turns   []Turn
	pending *PendingExercise
}

// Append records a completed turn, evicting the oldest once the ring is
// full. The response is truncated to bound router prompt size.
func (s *Session) Append(prompt, response string, tool Intent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = append(s.turns, Turn{
		Prompt:   prompt,
		Response: truncateResponse(response),
		Tool:     tool,
	})
	if len(s.turns) > maxTurns {
		s.turns = s.turns[len(s.turns)-maxTurns:]
	}
}

// Snapshot returns the recent turns oldest-first.
func (s *Session) Snapshot() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]Turn, len(s.turns))
	copy(cp, s.turns)
	return cp
}

// LastTool reports the tool of the most recent turn.
func (s *Session) LastTool() (Intent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.turns) == 0 {
		return IntentUnknown, false
	}
	return s.turns[len(s.turns)-1].Tool, true
}

// SetPending marks an exercise as awaiting an answer.
func (s *Session) SetPending(p *PendingExercise) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = p
}

// Pending returns the exercise awaiting an answer, or nil.
func (s *Session) Pending() *PendingExercise {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// ClearPending removes the pending exercise.
func (s *Session) ClearPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

func truncateResponse(response string) string {
	runes := []rune(response)
	if len(runes) <= maxResponseRunes {
		return response
	}
	return string(runes[:maxResponseRunes-3]) + "..."
}

// Sessions is the process-wide session registry keyed by legajo.
type Sessions struct {
	mu sync.Mutex
	m  map[string]*Session
}

// NewSessions creates an empty registry.
func NewSessions() *Sessions {
	return &Sessions{m: make(map[string]*Session)}
}

// Get returns the session for a legajo, creating it on first contact.
func (r *Sessions) Get(legajo string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[legajo]
	if !ok {
		s = &Session{Legajo: legajo}
		r.m[legajo] = s
	}
	return s
}
