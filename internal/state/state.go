// Package state holds the per-session mutable state shared across the core:
// latest thought summary, transient status line, skill allow-list, and todos.
// Whitelisted sub-fields persist to disk with a short debounce.
package state

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/magpie-ai/magpie/internal/lockfile"
	"github.com/magpie-ai/magpie/internal/observability"
)

// DefaultDebounce is the delay between a mutation and the persisted write.
const DefaultDebounce = 120 * time.Millisecond

// Thought is the parsed summary of the model's latest thought part.
type Thought struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

// Todo is one entry of the session todo list.
type Todo struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// persisted is the on-disk subset of the session state.
type persisted struct {
	SkillAllowlist []string `json:"skill_allowlist,omitempty"`
	Todos          []Todo   `json:"todos,omitempty"`
}

// Service is the lock-protected session state. Construct with NewService;
// the zero value is not usable.
type Service struct {
	mu sync.Mutex

	thought         *Thought
	suppressThought int
	status          string
	skills          []string
	todos           []Todo

	path     string
	debounce time.Duration
	timer    *time.Timer
	logger   *observability.Logger
}

// NewService creates a state service. If path is empty, persistence is
// disabled and the service is purely in-memory.
func NewService(path string, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.Nop()
	}
	s := &Service{path: path, debounce: DefaultDebounce, logger: logger}
	s.load()
	return s
}

func (s *Service) load() {
	if s.path == "" {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	s.skills = p.SkillAllowlist
	s.todos = p.Todos
}

// SetThought records the latest parsed thought unless suppression is active.
func (s *Service) SetThought(t Thought) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suppressThought > 0 {
		return
	}
	s.thought = &t
}

// Thought returns the latest recorded thought.
func (s *Service) Thought() (Thought, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thought == nil {
		return Thought{}, false
	}
	return *s.thought, true
}

// PushThoughtSuppression raises the suppression depth. Sub-agent turns
// suppress thought updates so the outer session keeps its own summary.
func (s *Service) PushThoughtSuppression() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppressThought++
}

// PopThoughtSuppression lowers the suppression depth.
func (s *Service) PopThoughtSuppression() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suppressThought > 0 {
		s.suppressThought--
	}
}

// SetStatus records a transient human-readable status line, e.g.
// "network hiccup, retrying 2/3".
func (s *Service) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Status returns the transient status line.
func (s *Service) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetSkillAllowlist records the skill-constraint tool allow-list and
// schedules a persisted write.
func (s *Service) SetSkillAllowlist(toolNames []string) {
	s.mu.Lock()
	s.skills = append([]string(nil), toolNames...)
	s.scheduleWriteLocked()
	s.mu.Unlock()
}

// SkillAllowlist returns the current skill-constraint allow-list.
func (s *Service) SkillAllowlist() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.skills...)
}

// SetTodos replaces the todo list and schedules a persisted write.
func (s *Service) SetTodos(todos []Todo) {
	s.mu.Lock()
	s.todos = append([]Todo(nil), todos...)
	s.scheduleWriteLocked()
	s.mu.Unlock()
}

// Todos returns the current todo list.
func (s *Service) Todos() []Todo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Todo(nil), s.todos...)
}

func (s *Service) scheduleWriteLocked() {
	if s.path == "" {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.flush)
}

func (s *Service) flush() {
	s.mu.Lock()
	p := persisted{
		SkillAllowlist: append([]string(nil), s.skills...),
		Todos:          append([]Todo(nil), s.todos...),
	}
	path := s.path
	s.mu.Unlock()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return
	}
	if err := lockfile.WithLock(path, func() error {
		return lockfile.WriteAtomic(path, data, 0o644)
	}); err != nil {
		s.logger.Debug(context.Background(), "state write failed", "error", err)
	}
}

// Flush forces any pending persisted write to complete now.
func (s *Service) Flush() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	path := s.path
	s.mu.Unlock()
	if path == "" {
		return
	}
	s.flush()
}
