package file

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	fp := NewPersistence("/tmp/test")
	assert.Equal(t, "/tmp/test", fp.root)

	fp = NewPersistence("file:///tmp/test")
	assert.Equal(t, "/tmp/test", fp.root)
}

func TestPersistence_HealthCheck(t *testing.T) {
	assert.NoError(t, NewPersistence(t.TempDir()).HealthCheck(t.Context()))
	assert.Error(t, NewPersistence(filepath.Join(t.TempDir(), "missing")).HealthCheck(t.Context()))
}

func TestWorkflowRepository_SaveAndFind(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.WorkflowRepository()

	active := &models.Workflow{
		ID:      "wf-active",
		Name:    "Welcome",
		Status:  models.WorkflowStatusActive,
		Trigger: models.WorkflowTrigger{Type: models.TriggerTypeContactCreated},
		Steps: []*models.Step{
			{ID: "s1", Type: models.StepTypeAction, Action: &models.ActionConfig{Channel: models.ChannelEmail, Template: "hi"}},
		},
	}
	draft := &models.Workflow{
		ID:      "wf-draft",
		Name:    "Draft",
		Status:  models.WorkflowStatusDraft,
		Trigger: models.WorkflowTrigger{Type: models.TriggerTypeContactCreated},
	}
	tagged := &models.Workflow{
		ID:      "wf-tag",
		Name:    "Tagged",
		Status:  models.WorkflowStatusActive,
		Trigger: models.WorkflowTrigger{Type: models.TriggerTypeTagAdded, Conditions: map[string]any{"tag": "vip"}},
	}

	for _, wf := range []*models.Workflow{active, draft, tagged} {
		require.NoError(t, repo.Save(t.Context(), wf))
	}

	got, err := repo.GetByID(t.Context(), "wf-active")
	require.NoError(t, err)
	assert.Equal(t, "Welcome", got.Name)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, models.ChannelEmail, got.Steps[0].Action.Channel)
	assert.False(t, got.CreatedAt.IsZero())

	found, err := repo.FindMany(t.Context(), persistence.WorkflowFilter{
		Status:      models.WorkflowStatusActive,
		TriggerType: models.TriggerTypeContactCreated,
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "wf-active", found[0].ID)

	all, err := repo.FindMany(t.Context(), persistence.WorkflowFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestWorkflowRepository_NotFound(t *testing.T) {
	repo := NewPersistence(t.TempDir()).WorkflowRepository()

	_, err := repo.GetByID(t.Context(), "nope")
	assert.True(t, persistence.IsWorkflowNotFound(err))

	err = repo.Delete(t.Context(), "nope")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_RejectsPathTraversal(t *testing.T) {
	repo := NewPersistence(t.TempDir()).WorkflowRepository()

	_, err := repo.GetByID(t.Context(), "../etc/passwd")
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrInvalidID)
}

func TestContactRepository_FindByCreationDay(t *testing.T) {
	repo := NewPersistence(t.TempDir()).ContactRepository()

	contacts := []*models.Contact{
		{ID: "c1", CreatedAt: time.Date(2020, time.March, 14, 10, 0, 0, 0, time.UTC), Tags: []string{"vip"}},
		{ID: "c2", CreatedAt: time.Date(2021, time.March, 15, 10, 0, 0, 0, time.UTC)},
		{ID: "c3", CreatedAt: time.Date(2019, time.March, 14, 23, 0, 0, 0, time.UTC)},
	}

	for _, c := range contacts {
		require.NoError(t, repo.Save(t.Context(), c))
	}

	found, err := repo.FindMany(t.Context(), persistence.ContactFilter{
		CreatedOn: []persistence.MonthDay{{Month: time.March, Day: 14}},
	})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "c1", found[0].ID)
	assert.Equal(t, "c3", found[1].ID)

	vip, err := repo.FindMany(t.Context(), persistence.ContactFilter{Tag: "vip"})
	require.NoError(t, err)
	require.Len(t, vip, 1)
	assert.Equal(t, "c1", vip[0].ID)

	require.NoError(t, repo.Delete(t.Context(), "c1"))

	_, err = repo.GetByID(t.Context(), "c1")
	assert.True(t, persistence.IsContactNotFound(err))
}

func newExecution(id, workflowID, contactID string) *models.Execution {
	return &models.Execution{
		ID:            id,
		WorkflowID:    workflowID,
		ContactID:     contactID,
		CurrentStepID: "s1",
		Status:        models.ExecutionStatusRunning,
		StartedAt:     time.Now().UTC(),
	}
}

func TestExecutionRepository_CreateRejectsSecondActiveExecution(t *testing.T) {
	repo := NewPersistence(t.TempDir()).ExecutionRepository()

	first := newExecution("e1", "wf", "c1")
	require.NoError(t, repo.Create(t.Context(), first))
	assert.Equal(t, 1, first.Version)

	err := repo.Create(t.Context(), newExecution("e2", "wf", "c1"))
	assert.True(t, persistence.IsActiveExecutionExists(err))

	require.NoError(t, repo.Create(t.Context(), newExecution("e3", "wf", "c2")))

	first.Status = models.ExecutionStatusCompleted
	require.NoError(t, repo.Update(t.Context(), first))

	assert.NoError(t, repo.Create(t.Context(), newExecution("e4", "wf", "c1")))
}

func TestExecutionRepository_UpdateIsVersionChecked(t *testing.T) {
	repo := NewPersistence(t.TempDir()).ExecutionRepository()

	exec := newExecution("e1", "wf", "c1")
	require.NoError(t, repo.Create(t.Context(), exec))

	stale, err := repo.GetByID(t.Context(), "e1")
	require.NoError(t, err)

	exec.CurrentStepID = "s2"
	require.NoError(t, repo.Update(t.Context(), exec))
	assert.Equal(t, 2, exec.Version)

	stale.Status = models.ExecutionStatusCancelled
	err = repo.Update(t.Context(), stale)
	assert.True(t, persistence.IsVersionConflict(err))

	stored, err := repo.GetByID(t.Context(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "s2", stored.CurrentStepID)
	assert.Equal(t, models.ExecutionStatusRunning, stored.Status)
}

func TestExecutionRepository_ConcurrentUpdatesHaveOneWinner(t *testing.T) {
	repo := NewPersistence(t.TempDir()).ExecutionRepository()

	exec := newExecution("e1", "wf", "c1")
	require.NoError(t, repo.Create(t.Context(), exec))

	const writers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	for range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			attempt, err := repo.GetByID(t.Context(), "e1")
			if err != nil {
				return
			}

			attempt.Version = 1

			if repo.Update(t.Context(), attempt) == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestExecutionRepository_FindDue(t *testing.T) {
	repo := NewPersistence(t.TempDir()).ExecutionRepository()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := newExecution("due", "wf", "c1")
	due.Status = models.ExecutionStatusWaitingDelay
	due.ResumeAt = &past

	later := newExecution("later", "wf", "c2")
	later.Status = models.ExecutionStatusWaitingDelay
	later.ResumeAt = &future

	running := newExecution("running", "wf", "c3")

	for _, e := range []*models.Execution{due, later, running} {
		require.NoError(t, repo.Create(t.Context(), e))
	}

	found, err := repo.FindMany(t.Context(), persistence.ExecutionFilter{
		Statuses:        []models.ExecutionStatus{models.ExecutionStatusWaitingDelay},
		ResumeDueBefore: &now,
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "due", found[0].ID)

	byContact, err := repo.FindMany(t.Context(), persistence.ExecutionFilter{ContactID: "c3"})
	require.NoError(t, err)
	require.Len(t, byContact, 1)
	assert.Equal(t, "running", byContact[0].ID)
}

func TestExecutionRepository_FindStartedSince(t *testing.T) {
	repo := NewPersistence(t.TempDir()).ExecutionRepository()
	midnight := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	yesterday := newExecution("yesterday", "wf", "c1")
	yesterday.Status = models.ExecutionStatusCompleted
	yesterday.StartedAt = midnight.Add(-time.Minute)

	today := newExecution("today", "wf", "c2")
	today.Status = models.ExecutionStatusCompleted
	today.StartedAt = midnight

	for _, e := range []*models.Execution{yesterday, today} {
		require.NoError(t, repo.Create(t.Context(), e))
	}

	found, err := repo.FindMany(t.Context(), persistence.ExecutionFilter{WorkflowID: "wf", StartedSince: &midnight})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "today", found[0].ID)
}
