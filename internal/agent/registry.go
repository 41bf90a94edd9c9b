// Package agent provides the executive agent registry: one agent per role,
// with status, metrics and a bounded conversation memory.
package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/execdesk/execdesk/internal/common/errors"
	"github.com/execdesk/execdesk/internal/common/logger"
)

// Status represents an agent's availability.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusError    Status = "error"
)

// Metrics accumulates per-agent query counters and latency totals.
type Metrics struct {
	TotalQueries      int           `json:"total_queries"`
	SuccessfulQueries int           `json:"successful_queries"`
	FailedQueries     int           `json:"failed_queries"`
	TotalLatency      time.Duration `json:"total_latency"`
}

// AverageLatency returns the mean response latency across all queries.
func (m *Metrics) AverageLatency() time.Duration {
	if m.TotalQueries == 0 {
		return 0
	}
	return m.TotalLatency / time.Duration(m.TotalQueries)
}

// ConversationEntry is one remembered exchange in an agent's bounded memory.
type ConversationEntry struct {
	Sender    string         `json:"sender"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Agent is a role-specialized responder. Agents are created at startup from
// configuration and live for the process lifetime.
type Agent struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name"`

	mu         sync.Mutex
	status     Status
	lastActive time.Time
	metrics    Metrics
	history    []ConversationEntry
	maxHistory int
}

// Status returns the agent's current status.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// SetStatus updates the agent's status.
func (a *Agent) SetStatus(s Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = s
}

// LastActive returns the instant of the agent's most recent activity.
func (a *Agent) LastActive() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastActive
}

// Metrics returns a copy of the agent's cumulative metrics.
func (a *Agent) Metrics() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics
}

// RecordQuery records the outcome of one LLM query handled by this agent.
func (a *Agent) RecordQuery(latency time.Duration, success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics.TotalQueries++
	if success {
		a.metrics.SuccessfulQueries++
	} else {
		a.metrics.FailedQueries++
	}
	a.metrics.TotalLatency += latency
	a.lastActive = time.Now().UTC()
}

// Remember appends an entry to the agent's conversation memory, trimming the
// oldest entries beyond the configured maximum.
func (a *Agent) Remember(entry ConversationEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, entry)
	if len(a.history) > a.maxHistory {
		a.history = a.history[len(a.history)-a.maxHistory:]
	}
}

// History returns a copy of the agent's conversation memory, oldest first.
func (a *Agent) History() []ConversationEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ConversationEntry, len(a.history))
	copy(out, a.history)
	return out
}

// Strategy returns the role strategy for this agent.
func (a *Agent) Strategy() *Strategy {
	return StrategyFor(a.Role)
}

// Registry owns the process's agents: exactly one per role.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Agent
	byRole  map[Role]*Agent
	byName  map[string]string // display name -> agent id
	logger  *logger.Logger
	maxHist int
}

// NewRegistry creates a registry populated with one active agent per role.
func NewRegistry(maxHistoryLength int, log *logger.Logger) *Registry {
	r := &Registry{
		byID:    make(map[string]*Agent),
		byRole:  make(map[Role]*Agent),
		byName:  make(map[string]string),
		logger:  log,
		maxHist: maxHistoryLength,
	}
	for _, role := range AllRoles() {
		strat := StrategyFor(role)
		a := &Agent{
			ID:          uuid.New().String(),
			Role:        role,
			DisplayName: strat.DisplayName,
			status:      StatusActive,
			lastActive:  time.Now().UTC(),
			maxHistory:  maxHistoryLength,
		}
		r.byID[a.ID] = a
		r.byRole[role] = a
		r.byName[strat.DisplayName] = a.ID
	}
	log.Info("Loaded agent registry", zap.Int("agents", len(r.byID)))
	return r
}

// Get returns the agent with the given id.
func (r *Registry) Get(agentID string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[agentID]
	if !ok {
		return nil, errors.NotFound("agent", agentID)
	}
	return a, nil
}

// ByRole returns the agent holding the given role.
func (r *Registry) ByRole(role Role) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byRole[role]
	if !ok {
		return nil, errors.NotFound("agent", string(role))
	}
	return a, nil
}

// Exists reports whether an agent id is registered.
func (r *Registry) Exists(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[agentID]
	return ok
}

// ResolveName maps an agent display name to its id. Message recipients are
// always agent ids; this lookup exists for callers that only know the name.
func (r *Registry) ResolveName(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

// List returns all agents in role order.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.byRole))
	for _, role := range AllRoles() {
		if a, ok := r.byRole[role]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Director returns the CEO agent, the fallback assignee for requests that no
// role claims with enough confidence.
func (r *Registry) Director() *Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byRole[RoleCEO]
}
