package coordinator_test

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execdesk/execdesk/internal/agent"
	"github.com/execdesk/execdesk/internal/bus"
	"github.com/execdesk/execdesk/internal/common/config"
	"github.com/execdesk/execdesk/internal/common/errors"
	"github.com/execdesk/execdesk/internal/common/logger"
	"github.com/execdesk/execdesk/internal/coordinator"
	"github.com/execdesk/execdesk/internal/delegation"
	"github.com/execdesk/execdesk/internal/kb"
	"github.com/execdesk/execdesk/internal/task"
	"github.com/execdesk/execdesk/internal/task/repository"
)

// fakeGenerator scripts the backend: a function per call, in order, with
// the last function reused once the script runs out.
type fakeGenerator struct {
	calls int32
	fn    func(ctx context.Context, call int32) (string, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, _, _ string, _ coordinator.GenerateParams) (string, error) {
	n := atomic.AddInt32(&g.calls, 1)
	return g.fn(ctx, n)
}

type fixture struct {
	registry *agent.Registry
	bus      *bus.Bus
	tasks    *task.Manager
	coord    *coordinator.Coordinator
}

func newFixture(t *testing.T, gen coordinator.Generator, timeout time.Duration) *fixture {
	return newFixtureWorkers(t, gen, timeout, 2)
}

func newFixtureWorkers(t *testing.T, gen coordinator.Generator, timeout time.Duration, workers int) *fixture {
	t.Helper()
	log := logger.NewNop()
	registry := agent.NewRegistry(50, log)
	b := bus.New(100, log)
	tasks := task.NewManager(repository.NewMemoryRepository(), registry, log)
	engine := delegation.NewEngine(registry, tasks, b, 0.4, 3, log)
	store, err := kb.NewStore(config.KnowledgeConfig{
		Collection: "test", ChunkSize: 200, ChunkOverlap: 40, EmbeddingDim: 64,
	}, kb.NewHashEmbedder(64), log)
	require.NoError(t, err)

	coord := coordinator.New(registry, engine, store, tasks, b, gen, workers, timeout, log)
	t.Cleanup(coord.Shutdown)
	return &fixture{registry: registry, bus: b, tasks: tasks, coord: coord}
}

func pollUntilTerminal(t *testing.T, c *coordinator.Coordinator, messageID string) *coordinator.PendingRequest {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		req, err := c.Poll(messageID)
		require.NoError(t, err)
		if req.Status != coordinator.StatusGenerating {
			return req
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("request never reached a terminal state")
	return nil
}

func TestSubmitAndComplete(t *testing.T) {
	gen := &fakeGenerator{fn: func(context.Context, int32) (string, error) {
		return "ship it behind a feature flag", nil
	}}
	f := newFixture(t, gen, 5*time.Second)

	id, err := f.coord.Submit(context.Background(), coordinator.SubmitParams{
		Message: "Should we deploy the new api to production this week?",
	})
	require.NoError(t, err)

	req := pollUntilTerminal(t, f.coord, id)
	assert.Equal(t, coordinator.StatusComplete, req.Status)
	assert.Equal(t, "ship it behind a feature flag", req.ResponseText)
	assert.Equal(t, agent.RoleCTO, req.AssignedRole)
	require.NotNil(t, req.CompletedAt)

	// task completed
	tk, err := f.tasks.Get(context.Background(), req.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, tk.Status)
	assert.Equal(t, 1.0, tk.Progress)

	// agent metrics recorded
	a, err := f.registry.Get(req.AssignedAgentID)
	require.NoError(t, err)
	m := a.Metrics()
	assert.Equal(t, 1, m.TotalQueries)
	assert.Equal(t, 1, m.SuccessfulQueries)

	// response published to the director
	director := f.registry.Director()
	inbox := f.bus.MessagesFor(director.ID, false)
	require.NotEmpty(t, inbox)
	found := false
	for _, msg := range inbox {
		if msg.Kind == bus.KindResponse && msg.Metadata["message_id"] == id {
			found = true
		}
	}
	assert.True(t, found, "response message published on the bus")
}

func TestPollIsIdempotentWhenComplete(t *testing.T) {
	gen := &fakeGenerator{fn: func(context.Context, int32) (string, error) {
		return "done", nil
	}}
	f := newFixture(t, gen, 5*time.Second)

	id, err := f.coord.Submit(context.Background(), coordinator.SubmitParams{Message: "status of the deploy?"})
	require.NoError(t, err)
	first := pollUntilTerminal(t, f.coord, id)
	second, err := f.coord.Poll(id)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.ResponseText, second.ResponseText)
	assert.Equal(t, first.CompletedAt, second.CompletedAt)
}

func TestSubmitValidation(t *testing.T) {
	gen := &fakeGenerator{fn: func(context.Context, int32) (string, error) { return "", nil }}
	f := newFixture(t, gen, time.Second)

	_, err := f.coord.Submit(context.Background(), coordinator.SubmitParams{Message: "  "})
	assert.True(t, errors.IsBadRequest(err))

	_, err = f.coord.Poll("missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestGeneratorFailureMarksError(t *testing.T) {
	gen := &fakeGenerator{fn: func(context.Context, int32) (string, error) {
		return "", errors.InternalError("model exploded", nil)
	}}
	f := newFixture(t, gen, 5*time.Second)

	id, err := f.coord.Submit(context.Background(), coordinator.SubmitParams{Message: "what is our cash runway?"})
	require.NoError(t, err)

	req := pollUntilTerminal(t, f.coord, id)
	assert.Equal(t, coordinator.StatusError, req.Status)
	assert.Contains(t, req.Error, "model exploded")
	assert.Empty(t, req.ResponseText)

	tk, err := f.tasks.Get(context.Background(), req.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, tk.Status)

	a, err := f.registry.Get(req.AssignedAgentID)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Metrics().FailedQueries)
}

func TestTransientFailureIsRetried(t *testing.T) {
	gen := &fakeGenerator{fn: func(_ context.Context, call int32) (string, error) {
		if call < 3 {
			return "", errors.Transient("backend busy", nil)
		}
		return "recovered", nil
	}}
	f := newFixture(t, gen, 10*time.Second)

	id, err := f.coord.Submit(context.Background(), coordinator.SubmitParams{Message: "deploy status?"})
	require.NoError(t, err)

	req := pollUntilTerminal(t, f.coord, id)
	assert.Equal(t, coordinator.StatusComplete, req.Status)
	assert.Equal(t, "recovered", req.ResponseText)
	assert.Equal(t, int32(3), atomic.LoadInt32(&gen.calls))
}

func TestNonTransientFailureIsNotRetried(t *testing.T) {
	gen := &fakeGenerator{fn: func(context.Context, int32) (string, error) {
		return "", errors.BadRequest("malformed prompt")
	}}
	f := newFixture(t, gen, 5*time.Second)

	id, err := f.coord.Submit(context.Background(), coordinator.SubmitParams{Message: "question"})
	require.NoError(t, err)

	req := pollUntilTerminal(t, f.coord, id)
	assert.Equal(t, coordinator.StatusError, req.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&gen.calls))
}

func TestRequestTimeout(t *testing.T) {
	gen := &fakeGenerator{fn: func(ctx context.Context, _ int32) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	f := newFixture(t, gen, 50*time.Millisecond)

	id, err := f.coord.Submit(context.Background(), coordinator.SubmitParams{Message: "slow question"})
	require.NoError(t, err)

	req := pollUntilTerminal(t, f.coord, id)
	assert.Equal(t, coordinator.StatusError, req.Status)
	assert.Contains(t, req.Error, "timeout")
}

func TestCancelDuringGeneration(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gen := &fakeGenerator{fn: func(ctx context.Context, _ int32) (string, error) {
		close(started)
		select {
		case <-release:
			return "too late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}}
	f := newFixture(t, gen, 10*time.Second)

	id, err := f.coord.Submit(context.Background(), coordinator.SubmitParams{Message: "question"})
	require.NoError(t, err)
	<-started

	req, err := f.coord.Cancel(id)
	require.NoError(t, err)
	assert.Equal(t, coordinator.StatusError, req.Status)
	assert.Equal(t, "cancelled", req.Error)
	close(release)

	// the late generator result must not overwrite the cancellation
	time.Sleep(50 * time.Millisecond)
	final, err := f.coord.Poll(id)
	require.NoError(t, err)
	assert.Equal(t, coordinator.StatusError, final.Status)
	assert.Equal(t, "cancelled", final.Error)
	assert.Empty(t, final.ResponseText)

	tk, err := f.tasks.Get(context.Background(), req.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, tk.Status)
}

func TestQueueFullRejectsAndCancelsTask(t *testing.T) {
	release := make(chan struct{})
	gen := &fakeGenerator{fn: func(ctx context.Context, _ int32) (string, error) {
		select {
		case <-release:
			return "ok", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}}
	// one worker, queue capacity 4: a blocked generator saturates the pool
	f := newFixtureWorkers(t, gen, 10*time.Second, 1)

	var rejected error
	for i := 0; i < 10 && rejected == nil; i++ {
		_, err := f.coord.Submit(context.Background(), coordinator.SubmitParams{Message: "deploy the api"})
		rejected = err
	}
	close(release)

	require.Error(t, rejected, "a saturated pool must reject submissions")
	assert.Equal(t, http.StatusServiceUnavailable, errors.GetHTTPStatus(rejected))

	// the rejected submission's tracking task is cancelled, not left pending
	all, err := f.tasks.AllTasks(context.Background())
	require.NoError(t, err)
	cancelled := 0
	for _, tk := range all {
		if tk.Status == task.StatusCancelled {
			cancelled++
			require.NotEmpty(t, tk.Notes)
			assert.Contains(t, tk.Notes[0].Content, "queue full")
		}
	}
	assert.Equal(t, 1, cancelled)
}

func TestCancelFinishedRequestIsNoOp(t *testing.T) {
	gen := &fakeGenerator{fn: func(context.Context, int32) (string, error) {
		return "answer", nil
	}}
	f := newFixture(t, gen, 5*time.Second)

	id, err := f.coord.Submit(context.Background(), coordinator.SubmitParams{Message: "question"})
	require.NoError(t, err)
	pollUntilTerminal(t, f.coord, id)

	req, err := f.coord.Cancel(id)
	require.NoError(t, err)
	assert.Equal(t, coordinator.StatusComplete, req.Status)
	assert.Equal(t, "answer", req.ResponseText)
}

func TestExplicitRoleHint(t *testing.T) {
	gen := &fakeGenerator{fn: func(context.Context, int32) (string, error) {
		return "from the cfo", nil
	}}
	f := newFixture(t, gen, 5*time.Second)

	id, err := f.coord.Submit(context.Background(), coordinator.SubmitParams{
		Message:  "deploy the kubernetes api", // technical text
		RoleHint: "cfo",
	})
	require.NoError(t, err)
	req := pollUntilTerminal(t, f.coord, id)
	assert.Equal(t, agent.RoleCFO, req.AssignedRole)
}
