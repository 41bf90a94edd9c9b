package coordinator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/execdesk/execdesk/internal/agent"
	"github.com/execdesk/execdesk/internal/bus"
	"github.com/execdesk/execdesk/internal/common/errors"
	"github.com/execdesk/execdesk/internal/common/logger"
	"github.com/execdesk/execdesk/internal/delegation"
	"github.com/execdesk/execdesk/internal/kb"
	"github.com/execdesk/execdesk/internal/task"
)

// RequestStatus is the lifecycle of one pending request.
type RequestStatus string

const (
	StatusGenerating RequestStatus = "generating"
	StatusComplete   RequestStatus = "complete"
	StatusError      RequestStatus = "error"
)

// contextTopK is how many retrieval snippets are folded into the system
// prompt when the knowledge base is consulted.
const contextTopK = 4

// llmAttempts bounds retries of transient backend failures per request.
const llmAttempts = 3

// PendingRequest tracks one submitted user message. Terminal states are
// write-once: the first writer of Complete or Error wins and later writes
// are dropped.
type PendingRequest struct {
	MessageID       string         `json:"message_id"`
	UserText        string         `json:"user_text"`
	TargetRole      string         `json:"target_role,omitempty"`
	AssignedAgentID string         `json:"assigned_agent_id"`
	AssignedRole    agent.Role     `json:"assigned_role"`
	TaskID          string         `json:"task_id"`
	Status          RequestStatus  `json:"status"`
	ResponseText    string         `json:"response,omitempty"`
	Error           string         `json:"error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// SubmitParams carries one user request into the coordinator.
type SubmitParams struct {
	Message   string
	RoleHint  string
	UseKB     bool
	ModelHint string
	Params    GenerateParams
}

type job struct {
	messageID string
	ctx       context.Context
	cancel    context.CancelFunc
}

// jobSpec holds the per-request generation settings, dropped once the
// request reaches a terminal state.
type jobSpec struct {
	params GenerateParams
	useKB  bool
}

// Coordinator accepts user messages, fans the LLM work out to a bounded
// worker pool, and answers polls by message id.
type Coordinator struct {
	registry  *agent.Registry
	engine    *delegation.Engine
	store     *kb.Store
	tasks     *task.Manager
	bus       *bus.Bus
	generator Generator
	logger    *logger.Logger
	timeout   time.Duration

	mu       sync.Mutex
	requests map[string]*PendingRequest
	cancels  map[string]context.CancelFunc
	specs    map[string]jobSpec

	jobs chan job
	wg   sync.WaitGroup
	stop context.CancelFunc
}

// New creates a coordinator and starts its worker pool.
func New(registry *agent.Registry, engine *delegation.Engine, store *kb.Store, tasks *task.Manager, b *bus.Bus, generator Generator, workers int, timeout time.Duration, log *logger.Logger) *Coordinator {
	if workers <= 0 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	poolCtx, stop := context.WithCancel(context.Background())
	c := &Coordinator{
		registry:  registry,
		engine:    engine,
		store:     store,
		tasks:     tasks,
		bus:       b,
		generator: generator,
		logger:    log,
		timeout:   timeout,
		requests:  make(map[string]*PendingRequest),
		cancels:   make(map[string]context.CancelFunc),
		specs:     make(map[string]jobSpec),
		jobs:      make(chan job, workers*4),
		stop:      stop,
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.worker(poolCtx)
	}
	log.Info("started request coordinator", zap.Int("workers", workers))
	return c
}

// Shutdown stops accepting work and waits for in-flight jobs.
func (c *Coordinator) Shutdown() {
	c.stop()
	close(c.jobs)
	c.wg.Wait()
}

// Submit registers a request and enqueues its LLM job. Non-blocking: the
// returned message id is immediately pollable.
func (c *Coordinator) Submit(ctx context.Context, p SubmitParams) (string, error) {
	if strings.TrimSpace(p.Message) == "" {
		return "", errors.ValidationError("message", "must not be empty")
	}

	res, err := c.engine.Delegate(ctx, p.Message, p.RoleHint, "")
	if err != nil {
		return "", err
	}

	messageID := uuid.New().String()
	req := &PendingRequest{
		MessageID:       messageID,
		UserText:        p.Message,
		TargetRole:      p.RoleHint,
		AssignedAgentID: res.Agent.ID,
		AssignedRole:    res.Agent.Role,
		TaskID:          res.Task.ID,
		Status:          StatusGenerating,
		CreatedAt:       time.Now().UTC(),
	}

	genParams := p.Params
	if p.ModelHint != "" {
		genParams.Model = p.ModelHint
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.requests[messageID] = req
	c.cancels[messageID] = cancel
	c.specs[messageID] = jobSpec{params: genParams, useKB: p.UseKB}
	c.mu.Unlock()

	j := job{messageID: messageID, ctx: jobCtx, cancel: cancel}
	select {
	case c.jobs <- j:
	default:
		// queue full: fail fast instead of blocking the caller, and cancel
		// the tracking task so it does not linger as pending
		c.setTerminal(messageID, StatusError, "", "worker queue is full")
		cancel()
		if _, terr := c.tasks.UpdateStatus(ctx, res.Task.ID, task.StatusCancelled, nil, "rejected: worker queue full"); terr != nil {
			c.logger.Warn("failed to cancel rejected task",
				zap.String("task_id", res.Task.ID), zap.Error(terr))
		}
		return "", errors.ServiceUnavailable("request coordinator")
	}

	c.logger.Info("accepted request",
		zap.String("message_id", messageID),
		zap.String("task_id", res.Task.ID),
		zap.String("role", string(res.Agent.Role)))
	return messageID, nil
}

// Poll returns a copy of the request's current state. Terminal states are
// stable across repeated polls.
func (c *Coordinator) Poll(messageID string) (*PendingRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.requests[messageID]
	if !ok {
		return nil, errors.NotFound("request", messageID)
	}
	cp := *req
	return &cp, nil
}

// Cancel aborts a generating request. Cancelling a finished request is a
// no-op.
func (c *Coordinator) Cancel(messageID string) (*PendingRequest, error) {
	c.mu.Lock()
	req, ok := c.requests[messageID]
	if !ok {
		c.mu.Unlock()
		return nil, errors.NotFound("request", messageID)
	}
	cancel := c.cancels[messageID]
	c.mu.Unlock()

	if c.setTerminal(messageID, StatusError, "", "cancelled") {
		if cancel != nil {
			cancel()
		}
		if _, err := c.tasks.UpdateStatus(context.Background(), req.TaskID, task.StatusCancelled, nil, "cancelled by user"); err != nil {
			c.logger.Warn("failed to cancel task",
				zap.String("task_id", req.TaskID), zap.Error(err))
		}
		c.logger.Info("cancelled request", zap.String("message_id", messageID))
	}
	return c.Poll(messageID)
}

// setTerminal performs the write-once transition to a terminal state.
// Returns false when the request was already terminal.
func (c *Coordinator) setTerminal(messageID string, status RequestStatus, response, errText string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.requests[messageID]
	if !ok || req.Status != StatusGenerating {
		return false
	}
	req.Status = status
	req.ResponseText = response
	req.Error = errText
	now := time.Now().UTC()
	req.CompletedAt = &now
	delete(c.cancels, messageID)
	delete(c.specs, messageID)
	return true
}

func (c *Coordinator) worker(poolCtx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-poolCtx.Done():
			return
		case j, ok := <-c.jobs:
			if !ok {
				return
			}
			c.run(j)
			j.cancel()
		}
	}
}

// run executes one request end to end: task to in_progress, gather context,
// call the backend with bounded retries, publish the outcome.
func (c *Coordinator) run(j job) {
	c.mu.Lock()
	req, ok := c.requests[j.messageID]
	if !ok || req.Status != StatusGenerating {
		c.mu.Unlock()
		return
	}
	userText := req.UserText
	agentID := req.AssignedAgentID
	taskID := req.TaskID
	c.mu.Unlock()

	assignee, err := c.registry.Get(agentID)
	if err != nil {
		c.finish(j.messageID, taskID, nil, 0, "", err)
		return
	}

	if _, err := c.tasks.UpdateStatus(j.ctx, taskID, task.StatusInProgress, nil, ""); err != nil {
		c.logger.Warn("failed to start task",
			zap.String("task_id", taskID), zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(j.ctx, c.timeout)
	defer cancel()

	var snippets []string
	if c.store != nil && c.specFor(j.messageID).useKB {
		snippets = c.retrieveContext(ctx, userText)
	}
	systemPrompt := assignee.Strategy().SystemPrompt(snippets)

	start := time.Now()
	response, err := c.generate(ctx, systemPrompt, userText, j.messageID)
	latency := time.Since(start)

	if err != nil && ctx.Err() == context.DeadlineExceeded {
		err = errors.InternalError(timeoutError(c.timeout), err)
	}
	c.finish(j.messageID, taskID, assignee, latency, response, err)
}

// retrieveContext pulls the top snippets for the request. Retrieval
// failures degrade to an uninformed answer rather than failing the request.
func (c *Coordinator) retrieveContext(ctx context.Context, query string) []string {
	results, err := c.store.Search(ctx, query, contextTopK, 0.7, 0.3, nil)
	if err != nil {
		c.logger.Warn("context retrieval failed", zap.Error(err))
		return nil
	}
	snippets := make([]string, 0, len(results))
	for _, r := range results {
		snippets = append(snippets, r.Content)
	}
	return snippets
}

// generate calls the backend, retrying transient failures with exponential
// backoff up to llmAttempts total attempts.
func (c *Coordinator) generate(ctx context.Context, systemPrompt, userPrompt, messageID string) (string, error) {
	var response string
	operation := func() error {
		var err error
		response, err = c.generator.Generate(ctx, systemPrompt, userPrompt, c.specFor(messageID).params)
		if err == nil {
			return nil
		}
		if errors.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), llmAttempts-1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return response, nil
}

func (c *Coordinator) specFor(messageID string) jobSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.specs[messageID]
}

// finish records the terminal state, updates the task and agent metrics,
// and publishes the response on the bus.
func (c *Coordinator) finish(messageID, taskID string, assignee *agent.Agent, latency time.Duration, response string, err error) {
	if err != nil {
		if !c.setTerminal(messageID, StatusError, "", err.Error()) {
			return // lost the race to cancel
		}
		if assignee != nil {
			assignee.RecordQuery(latency, false)
		}
		if _, terr := c.tasks.UpdateStatus(context.Background(), taskID, task.StatusFailed, nil, err.Error()); terr != nil {
			c.logger.Warn("failed to fail task",
				zap.String("task_id", taskID), zap.Error(terr))
		}
		c.logger.Error("request failed",
			zap.String("message_id", messageID),
			zap.Error(err))
		return
	}

	if !c.setTerminal(messageID, StatusComplete, response, "") {
		return
	}
	assignee.RecordQuery(latency, true)
	assignee.Remember(agent.ConversationEntry{
		Sender:    "user",
		Content:   response,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]any{"message_id": messageID},
	})
	if _, terr := c.tasks.UpdateStatus(context.Background(), taskID, task.StatusCompleted, nil, ""); terr != nil {
		c.logger.Warn("failed to complete task",
			zap.String("task_id", taskID), zap.Error(terr))
	}

	director := c.registry.Director()
	recipients := []string{director.ID}
	msg := bus.NewMessage(assignee.ID, recipients, response, bus.KindResponse, map[string]any{
		"message_id": messageID,
		"task_id":    taskID,
	})
	if perr := c.bus.Publish(msg); perr != nil {
		c.logger.Warn("failed to publish response",
			zap.String("message_id", messageID), zap.Error(perr))
	}

	c.logger.Info("request complete",
		zap.String("message_id", messageID),
		zap.Duration("latency", latency))
}

// Requests returns a snapshot of all pending requests, newest first.
func (c *Coordinator) Requests() []*PendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*PendingRequest, 0, len(c.requests))
	for _, r := range c.requests {
		cp := *r
		out = append(out, &cp)
	}
	return out
}
