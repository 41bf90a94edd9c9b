package agent_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execdesk/execdesk/internal/agent"
	apperrors "github.com/execdesk/execdesk/internal/common/errors"
	"github.com/execdesk/execdesk/internal/common/logger"
)

func newTestRegistry(t *testing.T) *agent.Registry {
	t.Helper()
	return agent.NewRegistry(50, logger.NewNop())
}

func TestRegistryHasOneAgentPerRole(t *testing.T) {
	r := newTestRegistry(t)

	agents := r.List()
	require.Len(t, agents, len(agent.AllRoles()))
	assert.Equal(t, agent.RoleCEO, agents[0].Role)

	seen := make(map[agent.Role]bool)
	for _, a := range agents {
		assert.False(t, seen[a.Role], "duplicate role %s", a.Role)
		seen[a.Role] = true
		assert.Equal(t, agent.StatusActive, a.Status())
		assert.NotEmpty(t, a.ID)
		assert.NotEmpty(t, a.DisplayName)
	}
}

func TestGetAndExists(t *testing.T) {
	r := newTestRegistry(t)

	cto, err := r.ByRole(agent.RoleCTO)
	require.NoError(t, err)

	got, err := r.Get(cto.ID)
	require.NoError(t, err)
	assert.Same(t, cto, got)
	assert.True(t, r.Exists(cto.ID))

	_, err = r.Get("nope")
	assert.True(t, apperrors.IsNotFound(err))
	assert.False(t, r.Exists("nope"))
}

func TestResolveName(t *testing.T) {
	r := newTestRegistry(t)

	cfo, err := r.ByRole(agent.RoleCFO)
	require.NoError(t, err)

	id, ok := r.ResolveName("Chief Financial Officer")
	require.True(t, ok)
	assert.Equal(t, cfo.ID, id)

	_, ok = r.ResolveName("Chief Vibes Officer")
	assert.False(t, ok)
}

func TestDirectorIsCEO(t *testing.T) {
	r := newTestRegistry(t)

	director := r.Director()
	require.NotNil(t, director)
	assert.Equal(t, agent.RoleCEO, director.Role)
}

func TestParseRole(t *testing.T) {
	cases := map[string]agent.Role{
		"ceo":              agent.RoleCEO,
		"Director":         agent.RoleCEO,
		" CTO ":            agent.RoleCTO,
		"support":          agent.RoleCustomerService,
		"customer-service": agent.RoleCustomerService,
	}
	for in, want := range cases {
		got, err := agent.ParseRole(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, got)
	}

	_, err := agent.ParseRole("intern")
	assert.Error(t, err)
}

func TestRecordQueryMetrics(t *testing.T) {
	r := newTestRegistry(t)
	a, err := r.ByRole(agent.RoleSales)
	require.NoError(t, err)

	a.RecordQuery(100*time.Millisecond, true)
	a.RecordQuery(300*time.Millisecond, false)

	m := a.Metrics()
	assert.Equal(t, 2, m.TotalQueries)
	assert.Equal(t, 1, m.SuccessfulQueries)
	assert.Equal(t, 1, m.FailedQueries)
	assert.Equal(t, 200*time.Millisecond, m.AverageLatency())
	assert.False(t, a.LastActive().IsZero())
}

func TestRememberTrimsToMaxHistory(t *testing.T) {
	r := agent.NewRegistry(3, logger.NewNop())
	a, err := r.ByRole(agent.RoleCOO)
	require.NoError(t, err)

	for _, content := range []string{"a", "b", "c", "d", "e"} {
		a.Remember(agent.ConversationEntry{Sender: "user", Content: content, Timestamp: time.Now()})
	}

	history := a.History()
	require.Len(t, history, 3)
	assert.Equal(t, "c", history[0].Content)
	assert.Equal(t, "e", history[2].Content)
}

func TestSystemPromptFoldsInContext(t *testing.T) {
	strat := agent.StrategyFor(agent.RoleCTO)

	bare := strat.SystemPrompt(nil)
	assert.NotEmpty(t, bare)
	assert.NotContains(t, bare, "[1]")

	withCtx := strat.SystemPrompt([]string{"deploys run on Tuesdays", "staging mirrors prod"})
	assert.Contains(t, withCtx, bare)
	assert.Contains(t, withCtx, "[1] deploys run on Tuesdays")
	assert.Contains(t, withCtx, "[2] staging mirrors prod")
}
