package workflow

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/drip/pkg/dispatcher"
	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/persistence/file"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

// recordingDispatcher records deliveries and fails messages whose rendered body is in failOn.
type recordingDispatcher struct {
	mu     sync.Mutex
	sent   []dispatcher.Message
	ops    []dispatcher.ContactOperation
	failOn map[string]error
}

func (d *recordingDispatcher) Send(_ context.Context, msg dispatcher.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err, ok := d.failOn[msg.Template]; ok {
		return err
	}

	d.sent = append(d.sent, msg)

	return nil
}

func (d *recordingDispatcher) MutateContact(_ context.Context, _ string, op dispatcher.ContactOperation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ops = append(d.ops, op)

	return nil
}

// templates lists the bodies sent so far, in order.
func (d *recordingDispatcher) templates() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]string, 0, len(d.sent))
	for _, msg := range d.sent {
		out = append(out, msg.Template)
	}

	return out
}

var errStoreUnavailable = errors.New("store unavailable")

// flakyStore fails the next failUpdates execution updates.
type flakyStore struct {
	persistence.Persistence
	executions *flakyExecutions
}

func (s *flakyStore) ExecutionRepository() persistence.ExecutionRepository {
	return s.executions
}

type flakyExecutions struct {
	persistence.ExecutionRepository

	mu          sync.Mutex
	failUpdates int
}

func (r *flakyExecutions) Update(ctx context.Context, execution *models.Execution) error {
	r.mu.Lock()
	if r.failUpdates > 0 {
		r.failUpdates--
		r.mu.Unlock()

		return errStoreUnavailable
	}
	r.mu.Unlock()

	return r.ExecutionRepository.Update(ctx, execution)
}

type fixture struct {
	store      persistence.Persistence
	clock      *clockwork.FakeClock
	dispatcher *recordingDispatcher
	engine     *Engine
	triggers   *TriggerService
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()

	f := &fixture{
		store:      file.NewPersistence(t.TempDir()),
		clock:      clockwork.NewFakeClockAt(epoch),
		dispatcher: &recordingDispatcher{failOn: map[string]error{}},
	}

	opts = append([]EngineOption{WithClock(f.clock)}, opts...)
	f.engine = NewEngine(f.store, f.dispatcher, testLogger(), opts...)
	f.triggers = NewTriggerService(f.store, f.engine, testLogger())

	return f
}

func (f *fixture) saveWorkflow(t *testing.T, workflow *models.Workflow) *models.Workflow {
	t.Helper()

	if workflow.Status == "" {
		workflow.Status = models.WorkflowStatusActive
	}

	if workflow.Trigger.Type == "" {
		workflow.Trigger.Type = models.TriggerTypeContactCreated
	}

	if workflow.Name == "" {
		workflow.Name = workflow.ID
	}

	require.NoError(t, f.store.WorkflowRepository().Save(t.Context(), workflow))

	return workflow
}

func (f *fixture) saveContact(t *testing.T, contact *models.Contact) *models.Contact {
	t.Helper()

	require.NoError(t, f.store.ContactRepository().Save(t.Context(), contact))

	return contact
}

func (f *fixture) execution(t *testing.T, id string) *models.Execution {
	t.Helper()

	execution, err := f.store.ExecutionRepository().GetByID(t.Context(), id)
	require.NoError(t, err)

	return execution
}

func (f *fixture) executionsOf(t *testing.T, workflowID string) []*models.Execution {
	t.Helper()

	executions, err := f.store.ExecutionRepository().FindMany(t.Context(), persistence.ExecutionFilter{WorkflowID: workflowID})
	require.NoError(t, err)

	return executions
}

func sendEmail(id, template, next string) *models.Step {
	return &models.Step{
		ID:     id,
		Type:   models.StepTypeAction,
		Action: &models.ActionConfig{Channel: models.ChannelEmail, Template: template},
		Next:   next,
	}
}

func delay(id, duration, next string) *models.Step {
	return &models.Step{
		ID:    id,
		Type:  models.StepTypeDelay,
		Delay: &models.DelayConfig{Duration: duration},
		Next:  next,
	}
}

func branch(id string, condition *models.ConditionConfig) *models.Step {
	return &models.Step{ID: id, Type: models.StepTypeCondition, Condition: condition}
}

func welcomeSeries() *models.Workflow {
	return &models.Workflow{
		ID:   "welcome-series",
		Name: "WelcomeSeries",
		Steps: []*models.Step{
			sendEmail("welcome", "welcome", "wait"),
			delay("wait", "2d", "tips"),
			sendEmail("tips", "tips", ""),
		},
	}
}
