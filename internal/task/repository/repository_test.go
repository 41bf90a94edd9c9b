package repository_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/execdesk/execdesk/internal/common/errors"
	"github.com/execdesk/execdesk/internal/task"
	"github.com/execdesk/execdesk/internal/task/repository"
)

func newTask(title, assignee string) *task.Task {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &task.Task{
		ID:         uuid.New().String(),
		Title:      title,
		AssignedTo: assignee,
		CreatedBy:  "ceo-1",
		Priority:   3,
		Status:     task.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// both implementations must satisfy the same contract
func repositories(t *testing.T) map[string]repository.Repository {
	t.Helper()
	sqlite, err := repository.NewSQLiteRepository(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]repository.Repository{
		"memory": repository.NewMemoryRepository(),
		"sqlite": sqlite,
	}
}

func TestPing(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, repo.Ping(context.Background()))
		})
	}

	// a closed sqlite store reports unreachable
	closed, err := repository.NewSQLiteRepository(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	require.NoError(t, closed.Close())
	assert.Error(t, closed.Ping(context.Background()))
}

func TestCreateGetRoundTrip(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			tk := newTask("Ship the release", "cto-1")
			tk.Description = "cut a tag and deploy"
			tk.Dependencies = []string{"dep-1", "dep-2"}
			tk.Metadata = map[string]any{"source": "chat"}
			tk.Notes = []task.Note{{Content: "kickoff", Timestamp: tk.CreatedAt}}
			due := tk.CreatedAt.Add(48 * time.Hour)
			tk.DueDate = &due

			require.NoError(t, repo.Create(ctx, tk))

			got, err := repo.Get(ctx, tk.ID)
			require.NoError(t, err)
			assert.Equal(t, tk.Title, got.Title)
			assert.Equal(t, tk.Description, got.Description)
			assert.Equal(t, task.StatusPending, got.Status)
			assert.Equal(t, []string{"dep-1", "dep-2"}, got.Dependencies)
			assert.Equal(t, "chat", got.Metadata["source"])
			require.Len(t, got.Notes, 1)
			assert.Equal(t, "kickoff", got.Notes[0].Content)
			require.NotNil(t, got.DueDate)
			assert.WithinDuration(t, due, *got.DueDate, time.Second)
		})
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.Get(context.Background(), "missing")
			assert.True(t, apperrors.IsNotFound(err))
		})
	}
}

func TestUpdatePersistsLifecycleFields(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			tk := newTask("Quarterly forecast", "cfo-1")
			require.NoError(t, repo.Create(ctx, tk))

			tk.Status = task.StatusCompleted
			tk.Progress = 1
			done := time.Now().UTC().Truncate(time.Millisecond)
			tk.CompletedAt = &done
			tk.UpdatedAt = done
			tk.Notes = append(tk.Notes, task.Note{Content: "signed off", Timestamp: done})
			require.NoError(t, repo.Update(ctx, tk))

			got, err := repo.Get(ctx, tk.ID)
			require.NoError(t, err)
			assert.Equal(t, task.StatusCompleted, got.Status)
			assert.Equal(t, 1.0, got.Progress)
			require.NotNil(t, got.CompletedAt)
			assert.WithinDuration(t, done, *got.CompletedAt, time.Second)
			assert.Len(t, got.Notes, 1)
		})
	}
}

func TestUpdateMissingIsNotFound(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			err := repo.Update(context.Background(), newTask("ghost", "cto-1"))
			assert.True(t, apperrors.IsNotFound(err))
		})
	}
}

func TestDelete(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			tk := newTask("Temporary", "coo-1")
			require.NoError(t, repo.Create(ctx, tk))
			require.NoError(t, repo.Delete(ctx, tk.ID))

			_, err := repo.Get(ctx, tk.ID)
			assert.True(t, apperrors.IsNotFound(err))
			assert.True(t, apperrors.IsNotFound(repo.Delete(ctx, tk.ID)))
		})
	}
}

func TestListingsKeepCreationOrder(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first := newTask("first", "cto-1")
			second := newTask("second", "cfo-1")
			third := newTask("third", "cto-1")
			// spread creation timestamps so ordering is observable
			second.CreatedAt = first.CreatedAt.Add(time.Millisecond)
			second.UpdatedAt = second.CreatedAt
			third.CreatedAt = first.CreatedAt.Add(2 * time.Millisecond)
			third.UpdatedAt = third.CreatedAt

			for _, tk := range []*task.Task{first, second, third} {
				require.NoError(t, repo.Create(ctx, tk))
			}

			all, err := repo.ListAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, first.ID, all[0].ID)
			assert.Equal(t, third.ID, all[2].ID)

			mine, err := repo.ListByAssignee(ctx, "cto-1")
			require.NoError(t, err)
			require.Len(t, mine, 2)
			assert.Equal(t, first.ID, mine[0].ID)
			assert.Equal(t, third.ID, mine[1].ID)
		})
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks.db")

	repo, err := repository.NewSQLiteRepository(path)
	require.NoError(t, err)
	tk := newTask("Survive restart", "cto-1")
	require.NoError(t, repo.Create(ctx, tk))
	require.NoError(t, repo.Close())

	reopened, err := repository.NewSQLiteRepository(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "Survive restart", got.Title)
}
