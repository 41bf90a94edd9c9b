// Package delegation maps inbound user requests to the executive agent best
// suited to answer them, creating the tracking task and announcing it on the
// message bus.
package delegation

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/execdesk/execdesk/internal/agent"
	"github.com/execdesk/execdesk/internal/bus"
	"github.com/execdesk/execdesk/internal/common/errors"
	"github.com/execdesk/execdesk/internal/common/logger"
	"github.com/execdesk/execdesk/internal/task"
)

// baseWeight is the per-matched-keyword contribution to a role's raw score.
const baseWeight = 0.2

// titleLimit caps the generated task title length.
const titleLimit = 60

// tokenPattern matches case-folded word-character runs of length >= 2. The
// keyword index uses the same tokenizer so delegation and retrieval agree on
// what a "word" is.
var tokenPattern = regexp.MustCompile(`\w{2,}`)

// Tokenize splits text into lowercase word tokens.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// Engine scores user requests against role lexicons and assigns them.
// Scoring is pure over (text, hint, registry snapshot); the engine never
// blocks on I/O.
type Engine struct {
	registry  *agent.Registry
	tasks     *task.Manager
	bus       *bus.Bus
	threshold float64
	maxDepth  int
	logger    *logger.Logger
}

// NewEngine creates a delegation engine.
func NewEngine(registry *agent.Registry, tasks *task.Manager, b *bus.Bus, threshold float64, maxDepth int, log *logger.Logger) *Engine {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	return &Engine{
		registry:  registry,
		tasks:     tasks,
		bus:       b,
		threshold: threshold,
		maxDepth:  maxDepth,
		logger:    log,
	}
}

// RoleScore is one role's normalized confidence for a request.
type RoleScore struct {
	Role    agent.Role `json:"role"`
	Score   float64    `json:"score"`
	Matched []string   `json:"matched,omitempty"`
}

// Resolution is the outcome of delegating one request.
type Resolution struct {
	Agent  *agent.Agent
	Task   *task.Task
	Score  float64
	Scores []RoleScore // all roles, descending score
}

// Score computes the normalized lexicon score for every role, descending.
// A role's raw score is matched-keyword-count x base weight plus the role's
// confidence boost when at least one keyword matched, clamped to [0, 1].
func (e *Engine) Score(text string) []RoleScore {
	tokens := Tokenize(text)
	seen := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		seen[tok] = true
	}

	scores := make([]RoleScore, 0, len(agent.AllRoles()))
	for _, role := range agent.AllRoles() {
		strat := agent.StrategyFor(role)
		var matched []string
		for _, kw := range strat.Lexicon {
			if seen[kw] {
				matched = append(matched, kw)
			}
		}
		score := 0.0
		if len(matched) > 0 {
			score = float64(len(matched))*baseWeight + strat.Boost
			if score > 1 {
				score = 1
			}
		}
		scores = append(scores, RoleScore{Role: role, Score: score, Matched: matched})
	}
	// Stable sort keeps AllRoles order on ties, so the CEO wins ties by
	// appearing first.
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})
	return scores
}

// Resolve picks the assignee for a request without creating a task. An
// explicit role hint pins the assignment when the role's agent is active;
// otherwise the highest lexicon score at or above the threshold wins, and
// below threshold the request falls back to the CEO.
func (e *Engine) Resolve(text, roleHint string) (*agent.Agent, []RoleScore, error) {
	scores := e.Score(text)

	if roleHint != "" {
		role, err := agent.ParseRole(roleHint)
		if err != nil {
			return nil, nil, errors.ValidationError("role", err.Error())
		}
		a, err := e.registry.ByRole(role)
		if err == nil && a.Status() == agent.StatusActive {
			return a, scores, nil
		}
		// inactive or missing pinned agent falls through to scoring
	}

	best := scores[0]
	if best.Score >= e.threshold {
		a, err := e.registry.ByRole(best.Role)
		if err == nil && a.Status() == agent.StatusActive {
			return a, scores, nil
		}
	}

	director := e.registry.Director()
	if director == nil {
		return nil, nil, errors.ServiceUnavailable("delegation")
	}
	return director, scores, nil
}

// Delegate resolves the assignee, creates the tracking task and publishes a
// task message to the assignee. createdBy identifies the originator
// ("system" for external users).
func (e *Engine) Delegate(ctx context.Context, text, roleHint, createdBy string) (*Resolution, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.ValidationError("message", "must not be empty")
	}
	if createdBy == "" {
		createdBy = "system"
	}

	assignee, scores, err := e.Resolve(text, roleHint)
	if err != nil {
		return nil, err
	}

	t, err := e.tasks.Create(ctx, task.CreateParams{
		Title:       taskTitle(text),
		Description: text,
		AssignedTo:  assignee.ID,
		CreatedBy:   createdBy,
		Priority:    3,
	})
	if err != nil {
		return nil, err
	}

	msg := bus.NewMessage(createdBy, []string{assignee.ID}, text, bus.KindTask, map[string]any{
		"task_id": t.ID,
	})
	if err := e.bus.Publish(msg); err != nil {
		return nil, err
	}

	e.logger.Info("delegated request",
		zap.String("task_id", t.ID),
		zap.String("role", string(assignee.Role)),
		zap.Float64("score", scores[0].Score))

	return &Resolution{Agent: assignee, Task: t, Score: scores[0].Score, Scores: scores}, nil
}

// Redelegate lets an agent hand a task it received on to another executive.
// The new task is linked to its parent via metadata.delegated_from, and the
// chain depth is bounded to stop delegation loops.
func (e *Engine) Redelegate(ctx context.Context, parentTaskID, text, roleHint, delegatorID string) (*Resolution, error) {
	parent, err := e.tasks.Get(ctx, parentTaskID)
	if err != nil {
		return nil, err
	}
	depth, err := e.chainDepth(ctx, parent)
	if err != nil {
		return nil, err
	}
	if depth >= e.maxDepth {
		return nil, errors.Conflict(fmt.Sprintf("delegation depth limit (%d) reached for task %s", e.maxDepth, parentTaskID))
	}

	assignee, scores, err := e.Resolve(text, roleHint)
	if err != nil {
		return nil, err
	}

	t, err := e.tasks.Create(ctx, task.CreateParams{
		Title:       taskTitle(text),
		Description: text,
		AssignedTo:  assignee.ID,
		CreatedBy:   delegatorID,
		Priority:    parent.Priority,
		Metadata:    map[string]any{"delegated_from": parentTaskID},
	})
	if err != nil {
		return nil, err
	}

	msg := bus.NewMessage(delegatorID, []string{assignee.ID}, text, bus.KindTask, map[string]any{
		"task_id":        t.ID,
		"delegated_from": parentTaskID,
	})
	if err := e.bus.Publish(msg); err != nil {
		return nil, err
	}

	e.logger.Info("redelegated task",
		zap.String("parent_task_id", parentTaskID),
		zap.String("task_id", t.ID),
		zap.String("role", string(assignee.Role)),
		zap.Int("depth", depth+1))

	return &Resolution{Agent: assignee, Task: t, Score: scores[0].Score, Scores: scores}, nil
}

// chainDepth walks delegated_from links back to the root task.
func (e *Engine) chainDepth(ctx context.Context, t *task.Task) (int, error) {
	depth := 0
	cur := t
	for {
		parentID, ok := cur.Metadata["delegated_from"].(string)
		if !ok || parentID == "" {
			return depth, nil
		}
		depth++
		if depth >= e.maxDepth {
			return depth, nil
		}
		parent, err := e.tasks.Get(ctx, parentID)
		if err != nil {
			if errors.IsNotFound(err) {
				return depth, nil
			}
			return 0, err
		}
		cur = parent
	}
}

// taskTitle derives a task title from the request text, truncated on a rune
// boundary.
func taskTitle(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= titleLimit {
		return text
	}
	return string(runes[:titleLimit])
}
