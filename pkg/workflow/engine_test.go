package workflow

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukex/drip/pkg/events"
	"github.com/dukex/drip/pkg/mocks"
	"github.com/dukex/drip/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEngine_StartIsIdempotentPerContact(t *testing.T) {
	f := newFixture(t)
	workflow := f.saveWorkflow(t, welcomeSeries())
	contact := f.saveContact(t, &models.Contact{ID: "c1", Email: "ana@example.com"})

	first, err := f.engine.Start(t.Context(), workflow, contact, Trigger{Type: models.TriggerTypeContactCreated})
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.engine.Start(t.Context(), workflow, contact, Trigger{Type: models.TriggerTypeContactCreated})
	require.NoError(t, err)
	assert.Nil(t, second)

	assert.Len(t, f.executionsOf(t, workflow.ID), 1)
	assert.Equal(t, []string{"welcome"}, f.dispatcher.templates())
}

func TestEngine_StartRefusesInactiveWorkflow(t *testing.T) {
	f := newFixture(t)
	contact := f.saveContact(t, &models.Contact{ID: "c1", Email: "ana@example.com"})

	for _, status := range []models.WorkflowStatus{models.WorkflowStatusDraft, models.WorkflowStatusPaused, models.WorkflowStatusArchived} {
		workflow := welcomeSeries()
		workflow.Status = status

		execution, err := f.engine.Start(t.Context(), workflow, contact, Trigger{})
		require.ErrorIs(t, err, ErrWorkflowNotActive)
		assert.Nil(t, execution)
	}

	assert.Empty(t, f.dispatcher.templates())
}

func TestEngine_StartRefusesEmptyWorkflow(t *testing.T) {
	f := newFixture(t)
	workflow := f.saveWorkflow(t, &models.Workflow{ID: "empty"})
	contact := f.saveContact(t, &models.Contact{ID: "c1"})

	_, err := f.engine.Start(t.Context(), workflow, contact, Trigger{})
	assert.ErrorIs(t, err, ErrWorkflowNoSteps)
}

func TestEngine_SequentialStepping(t *testing.T) {
	f := newFixture(t)
	workflow := f.saveWorkflow(t, &models.Workflow{
		ID: "sequence",
		Steps: []*models.Step{
			sendEmail("a", "A", "wait"),
			delay("wait", "2d", "b"),
			sendEmail("b", "B", ""),
		},
	})
	contact := f.saveContact(t, &models.Contact{ID: "c1", Email: "ana@example.com"})

	execution, err := f.engine.Start(t.Context(), workflow, contact, Trigger{Type: models.TriggerTypeContactCreated})
	require.NoError(t, err)

	stored := f.execution(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusWaitingDelay, stored.Status)
	assert.Equal(t, "wait", stored.CurrentStepID)
	require.NotNil(t, stored.ResumeAt)
	assert.True(t, stored.ResumeAt.Equal(epoch.Add(48*time.Hour)))
	assert.Equal(t, []string{"A"}, f.dispatcher.templates())

	f.clock.Advance(48 * time.Hour)

	resumed, err := f.engine.Resume(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)
	assert.Equal(t, []string{"A", "B"}, f.dispatcher.templates())

	stored = f.execution(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	assert.Nil(t, stored.ResumeAt)
	require.NotNil(t, stored.CompletedAt)
}

func TestEngine_NoEarlyResume(t *testing.T) {
	f := newFixture(t)
	workflow := f.saveWorkflow(t, welcomeSeries())
	contact := f.saveContact(t, &models.Contact{ID: "c1", Email: "ana@example.com"})

	execution, err := f.engine.Start(t.Context(), workflow, contact, Trigger{})
	require.NoError(t, err)

	before := f.execution(t, execution.ID)

	f.clock.Advance(48*time.Hour - time.Minute)

	resumed, err := f.engine.Resume(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusWaitingDelay, resumed.Status)

	after := f.execution(t, execution.ID)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, []string{"welcome"}, f.dispatcher.templates())
}

func TestEngine_TerminalExecutionsAreNotResumedOrCancelled(t *testing.T) {
	f := newFixture(t)
	workflow := f.saveWorkflow(t, &models.Workflow{ID: "single", Steps: []*models.Step{sendEmail("only", "only", "")}})
	contact := f.saveContact(t, &models.Contact{ID: "c1", Email: "ana@example.com"})

	execution, err := f.engine.Start(t.Context(), workflow, contact, Trigger{})
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusCompleted, execution.Status)

	version := f.execution(t, execution.ID).Version

	f.clock.Advance(365 * 24 * time.Hour)

	resumed, err := f.engine.Resume(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)

	cancelled, err := f.engine.Cancel(t.Context(), execution.ID, "manual")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, cancelled.Status)

	assert.Equal(t, version, f.execution(t, execution.ID).Version)
	assert.Equal(t, []string{"only"}, f.dispatcher.templates())
}

func TestEngine_ConditionBranching(t *testing.T) {
	newWorkflow := func() *models.Workflow {
		return &models.Workflow{
			ID: "branching",
			Steps: []*models.Step{
				branch("is-vip", &models.ConditionConfig{
					Field:     "tags",
					Operator:  models.OperatorContains,
					Value:     "vip",
					TrueNext:  "vip-offer",
					FalseNext: "regular-offer",
				}),
				sendEmail("vip-offer", "T", ""),
				sendEmail("regular-offer", "F", ""),
			},
		}
	}

	tests := []struct {
		name     string
		tags     []string
		expected []string
	}{
		{"true branch", []string{"lead", "vip"}, []string{"T"}},
		{"false branch", []string{"lead"}, []string{"F"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			workflow := f.saveWorkflow(t, newWorkflow())
			contact := f.saveContact(t, &models.Contact{ID: "c1", Email: "ana@example.com", Tags: tt.tags})

			execution, err := f.engine.Start(t.Context(), workflow, contact, Trigger{})
			require.NoError(t, err)
			assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
			assert.Equal(t, tt.expected, f.dispatcher.templates())
		})
	}
}

func TestEngine_ConditionExpressionAndContextFields(t *testing.T) {
	f := newFixture(t)
	workflow := f.saveWorkflow(t, &models.Workflow{
		ID:        "expression",
		Variables: map[string]any{"threshold": 10},
		Steps: []*models.Step{
			branch("from-tag", &models.ConditionConfig{
				Field:     "trigger.tag",
				Operator:  models.OperatorEquals,
				Value:     "webinar",
				TrueNext:  "check-plan",
				FalseNext: "",
			}),
			branch("check-plan", &models.ConditionConfig{
				Expression: `{{ eq .contact.custom_fields.plan "pro" }}`,
				TrueNext:   "pro",
				FalseNext:  "free",
			}),
			sendEmail("pro", "pro", ""),
			sendEmail("free", "free", ""),
		},
	})
	contact := f.saveContact(t, &models.Contact{ID: "c1", Email: "ana@example.com", CustomFields: map[string]any{"plan": "pro"}})

	_, err := f.engine.Start(t.Context(), workflow, contact, Trigger{
		Type: models.TriggerTypeTagAdded,
		Data: map[string]any{"tag": "webinar"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pro"}, f.dispatcher.templates())
}

func TestEngine_ConditionOnMissingFieldFails(t *testing.T) {
	f := newFixture(t)
	workflow := f.saveWorkflow(t, &models.Workflow{
		ID: "missing-field",
		Steps: []*models.Step{
			branch("score", &models.ConditionConfig{Field: "custom_fields.score", Operator: models.OperatorGreaterThan, Value: 5, TrueNext: "a", FalseNext: "b"}),
			sendEmail("a", "a", ""),
			sendEmail("b", "b", ""),
		},
	})
	contact := f.saveContact(t, &models.Contact{ID: "c1", Email: "ana@example.com"})

	execution, err := f.engine.Start(t.Context(), workflow, contact, Trigger{})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.Error, "condition field not found")
	assert.Empty(t, f.dispatcher.templates())
}

func TestEngine_DispatchFailureFailsExecution(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.failOn["welcome"] = errors.New("smtp unavailable")
	workflow := f.saveWorkflow(t, welcomeSeries())
	contact := f.saveContact(t, &models.Contact{ID: "c1", Email: "ana@example.com"})

	execution, err := f.engine.Start(t.Context(), workflow, contact, Trigger{})
	require.NoError(t, err)

	stored := f.execution(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Equal(t, "welcome", stored.CurrentStepID)
	assert.Contains(t, stored.Error, "smtp unavailable")
	assert.NotNil(t, stored.CompletedAt)
}

func TestEngine_StoreErrorAfterDispatchFailsExecution(t *testing.T) {
	f := newFixture(t)
	workflow := f.saveWorkflow(t, welcomeSeries())
	contact := f.saveContact(t, &models.Contact{ID: "c1", Email: "ana@example.com"})

	store := &flakyStore{
		Persistence: f.store,
		executions:  &flakyExecutions{ExecutionRepository: f.store.ExecutionRepository(), failUpdates: 1},
	}
	engine := NewEngine(store, f.dispatcher, testLogger(), WithClock(f.clock))

	execution, err := engine.Start(t.Context(), workflow, contact, Trigger{})
	require.NoError(t, err)

	stored := f.execution(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Equal(t, "welcome", stored.CurrentStepID)
	assert.Contains(t, stored.Error, errStoreUnavailable.Error())
	assert.Equal(t, []string{"welcome"}, f.dispatcher.templates())

	again, err := engine.Start(t.Context(), workflow, contact, Trigger{})
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.NotEqual(t, execution.ID, again.ID)
}

func TestEngine_TemplateErrorFailsExecution(t *testing.T) {
	f := newFixture(t)
	workflow := f.saveWorkflow(t, &models.Workflow{
		ID:    "bad-template",
		Steps: []*models.Step{sendEmail("hello", "Hi {{ .contact.nickname }}", "")},
	})
	contact := f.saveContact(t, &models.Contact{ID: "c1", Email: "ana@example.com"})

	execution, err := f.engine.Start(t.Context(), workflow, contact, Trigger{})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.Error, "template")
}

func TestEngine_MissingTargetFailsExecution(t *testing.T) {
	f := newFixture(t)
	workflow := f.saveWorkflow(t, &models.Workflow{
		ID: "sms",
		Steps: []*models.Step{{
			ID: "text", Type: models.StepTypeAction,
			Action: &models.ActionConfig{Channel: models.ChannelSMS, Template: "hi"},
		}},
	})
	contact := f.saveContact(t, &models.Contact{ID: "c1", Email: "ana@example.com"})

	execution, err := f.engine.Start(t.Context(), workflow, contact, Trigger{})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.Error, "phone")
}

func TestEngine_RendersMessage(t *testing.T) {
	f := newFixture(t)
	workflow := f.saveWorkflow(t, &models.Workflow{
		ID:        "rendered",
		Variables: map[string]any{"coupon": "WELCOME10"},
		Steps: []*models.Step{{
			ID:   "hello",
			Type: models.StepTypeAction,
			Action: &models.ActionConfig{
				Channel:   models.ChannelEmail,
				Subject:   "Welcome {{ .contact.first_name }}",
				Template:  "welcome-email",
				Variables: map[string]string{"coupon": "{{ .variables.coupon }}"},
			},
		}},
	})
	contact := f.saveContact(t, &models.Contact{ID: "c1", Email: "ana@example.com", FirstName: "Ana"})

	execution, err := f.engine.Start(t.Context(), workflow, contact, Trigger{})
	require.NoError(t, err)

	require.Len(t, f.dispatcher.sent, 1)
	msg := f.dispatcher.sent[0]
	assert.Equal(t, "ana@example.com", msg.Target)
	assert.Equal(t, "Welcome Ana", msg.Subject)
	assert.Equal(t, "welcome-email", msg.Template)
	assert.Equal(t, "WELCOME10", msg.Variables["coupon"])
	assert.Equal(t, execution.ID, msg.ExecutionID)
	assert.Equal(t, "hello", msg.StepID)
}

func TestEngine_ContactOperations(t *testing.T) {
	f := newFixture(t)
	workflow := f.saveWorkflow(t, &models.Workflow{
		ID: "mutations",
		Steps: []*models.Step{
			{ID: "tag", Type: models.StepTypeAction, Action: &models.ActionConfig{Operation: models.OperationAddTag, Tag: "{{ .trigger.formId }}-lead"}, Next: "stage"},
			{ID: "stage", Type: models.StepTypeAction, Action: &models.ActionConfig{Operation: models.OperationMoveDealStage, Stage: "qualified"}},
		},
	})
	contact := f.saveContact(t, &models.Contact{ID: "c1"})

	execution, err := f.engine.Start(t.Context(), workflow, contact, Trigger{Type: models.TriggerTypeFormSubmitted, Data: map[string]any{"formId": "demo"}})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)

	require.Len(t, f.dispatcher.ops, 2)
	assert.Equal(t, models.OperationAddTag, f.dispatcher.ops[0].Type)
	assert.Equal(t, "demo-lead", f.dispatcher.ops[0].Tag)
	assert.Equal(t, "qualified", f.dispatcher.ops[1].Stage)
}

func TestEngine_DelayRelativeToContactField(t *testing.T) {
	f := newFixture(t)
	workflow := f.saveWorkflow(t, &models.Workflow{
		ID: "follow-up",
		Steps: []*models.Step{
			{ID: "wait", Type: models.StepTypeDelay, Delay: &models.DelayConfig{Duration: "2d", Field: "last_contacted_at"}, Next: "nudge"},
			sendEmail("nudge", "nudge", ""),
		},
	})

	recent := epoch.Add(-time.Hour)
	stale := epoch.Add(-72 * time.Hour)

	recentContact := f.saveContact(t, &models.Contact{ID: "recent", Email: "r@example.com", LastContactedAt: &recent})
	staleContact := f.saveContact(t, &models.Contact{ID: "stale", Email: "s@example.com", LastContactedAt: &stale})
	neverContact := f.saveContact(t, &models.Contact{ID: "never", Email: "n@example.com"})

	waiting, err := f.engine.Start(t.Context(), workflow, recentContact, Trigger{})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusWaitingDelay, waiting.Status)
	assert.True(t, waiting.ResumeAt.Equal(recent.Add(48*time.Hour)))

	elapsed, err := f.engine.Start(t.Context(), workflow, staleContact, Trigger{})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, elapsed.Status)

	failed, err := f.engine.Start(t.Context(), workflow, neverContact, Trigger{})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, failed.Status)

	assert.Equal(t, []string{"nudge"}, f.dispatcher.templates())
}

func TestEngine_ResumeCancelsWhenContactDeleted(t *testing.T) {
	f := newFixture(t)
	workflow := f.saveWorkflow(t, welcomeSeries())
	contact := f.saveContact(t, &models.Contact{ID: "c1", Email: "ana@example.com"})

	execution, err := f.engine.Start(t.Context(), workflow, contact, Trigger{})
	require.NoError(t, err)

	require.NoError(t, f.store.ContactRepository().Delete(t.Context(), "c1"))
	f.clock.Advance(48 * time.Hour)

	resumed, err := f.engine.Resume(t.Context(), execution.ID)
	require.NoError(t, err)

	stored := f.execution(t, resumed.ID)
	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)
	assert.Equal(t, "contact deleted", stored.CancelReason)
	assert.Equal(t, []string{"welcome"}, f.dispatcher.templates())
}

func TestEngine_ResumeCancelsWhenWorkflowArchivedOrDeleted(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, f *fixture, workflow *models.Workflow)
		reason string
	}{
		{
			name: "archived",
			mutate: func(t *testing.T, f *fixture, workflow *models.Workflow) {
				workflow.Status = models.WorkflowStatusArchived
				require.NoError(t, f.store.WorkflowRepository().Save(t.Context(), workflow))
			},
			reason: "workflow archived",
		},
		{
			name: "deleted",
			mutate: func(t *testing.T, f *fixture, workflow *models.Workflow) {
				require.NoError(t, f.store.WorkflowRepository().Delete(t.Context(), workflow.ID))
			},
			reason: "workflow deleted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			workflow := f.saveWorkflow(t, welcomeSeries())
			contact := f.saveContact(t, &models.Contact{ID: "c1", Email: "ana@example.com"})

			execution, err := f.engine.Start(t.Context(), workflow, contact, Trigger{})
			require.NoError(t, err)

			tt.mutate(t, f, workflow)
			f.clock.Advance(48 * time.Hour)

			resumed, err := f.engine.Resume(t.Context(), execution.ID)
			require.NoError(t, err)
			assert.Equal(t, models.ExecutionStatusCancelled, resumed.Status)
			assert.Equal(t, tt.reason, resumed.CancelReason)
			assert.Equal(t, []string{"welcome"}, f.dispatcher.templates())
		})
	}
}

func TestEngine_PausedWorkflowKeepsInFlightExecutions(t *testing.T) {
	f := newFixture(t)
	workflow := f.saveWorkflow(t, welcomeSeries())
	contact := f.saveContact(t, &models.Contact{ID: "c1", Email: "ana@example.com"})

	execution, err := f.engine.Start(t.Context(), workflow, contact, Trigger{})
	require.NoError(t, err)

	workflow.Status = models.WorkflowStatusPaused
	require.NoError(t, f.store.WorkflowRepository().Save(t.Context(), workflow))
	f.clock.Advance(48 * time.Hour)

	resumed, err := f.engine.Resume(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)
	assert.Equal(t, []string{"welcome", "tips"}, f.dispatcher.templates())
}

func TestEngine_ExecutionsUseStepSnapshot(t *testing.T) {
	f := newFixture(t)
	workflow := f.saveWorkflow(t, welcomeSeries())
	contact := f.saveContact(t, &models.Contact{ID: "c1", Email: "ana@example.com"})

	execution, err := f.engine.Start(t.Context(), workflow, contact, Trigger{})
	require.NoError(t, err)

	edited := welcomeSeries()
	edited.Steps[2] = sendEmail("tips", "tips-v2", "")
	edited.Version = 2
	f.saveWorkflow(t, edited)

	f.clock.Advance(48 * time.Hour)

	_, err = f.engine.Resume(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"welcome", "tips"}, f.dispatcher.templates())
}

func TestEngine_ConcurrentResumesDispatchOnce(t *testing.T) {
	f := newFixture(t)
	workflow := f.saveWorkflow(t, welcomeSeries())
	contact := f.saveContact(t, &models.Contact{ID: "c1", Email: "ana@example.com"})

	execution, err := f.engine.Start(t.Context(), workflow, contact, Trigger{})
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, _ = f.engine.Resume(t.Context(), execution.ID)
		}()
	}

	wg.Wait()

	assert.Equal(t, []string{"welcome", "tips"}, f.dispatcher.templates())
	assert.Equal(t, models.ExecutionStatusCompleted, f.execution(t, execution.ID).Status)
}

func TestEngine_CancelStopsWaitingExecution(t *testing.T) {
	f := newFixture(t)
	workflow := f.saveWorkflow(t, welcomeSeries())
	contact := f.saveContact(t, &models.Contact{ID: "c1", Email: "ana@example.com"})

	execution, err := f.engine.Start(t.Context(), workflow, contact, Trigger{})
	require.NoError(t, err)

	cancelled, err := f.engine.Cancel(t.Context(), execution.ID, "unsubscribed")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
	assert.Equal(t, "unsubscribed", cancelled.CancelReason)
	assert.Nil(t, cancelled.ResumeAt)

	f.clock.Advance(48 * time.Hour)

	_, err = f.engine.Resume(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"welcome"}, f.dispatcher.templates())

	// the pair is free again
	restarted, err := f.engine.Start(t.Context(), workflow, contact, Trigger{})
	require.NoError(t, err)
	assert.NotNil(t, restarted)
}

func TestEngine_CancelByWorkflowAndContact(t *testing.T) {
	f := newFixture(t)
	welcome := f.saveWorkflow(t, welcomeSeries())
	other := welcomeSeries()
	other.ID = "other"
	other = f.saveWorkflow(t, other)

	ana := f.saveContact(t, &models.Contact{ID: "ana", Email: "ana@example.com"})
	bob := f.saveContact(t, &models.Contact{ID: "bob", Email: "bob@example.com"})

	for _, workflow := range []*models.Workflow{welcome, other} {
		for _, contact := range []*models.Contact{ana, bob} {
			_, err := f.engine.Start(t.Context(), workflow, contact, Trigger{})
			require.NoError(t, err)
		}
	}

	count, err := f.engine.CancelByWorkflow(t.Context(), welcome.ID, "workflow archived")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = f.engine.CancelByContact(t.Context(), "bob", "contact deleted")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	for _, execution := range f.executionsOf(t, other.ID) {
		if execution.ContactID == "ana" {
			assert.Equal(t, models.ExecutionStatusWaitingDelay, execution.Status)
		} else {
			assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
		}
	}
}

func TestEngine_StepBudget(t *testing.T) {
	f := newFixture(t, WithMaxSteps(5))
	workflow := f.saveWorkflow(t, &models.Workflow{
		ID: "loop",
		Steps: []*models.Step{
			{ID: "tag", Type: models.StepTypeAction, Action: &models.ActionConfig{Operation: models.OperationAddTag, Tag: "x"}, Next: "tag"},
		},
	})
	contact := f.saveContact(t, &models.Contact{ID: "c1"})

	execution, err := f.engine.Start(t.Context(), workflow, contact, Trigger{})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.Error, "step budget exceeded")
	assert.Len(t, f.dispatcher.ops, 5)
}

func TestEngine_UnknownNextStepFails(t *testing.T) {
	f := newFixture(t)
	workflow := f.saveWorkflow(t, &models.Workflow{
		ID:    "dangling",
		Steps: []*models.Step{sendEmail("a", "a", "nowhere")},
	})
	contact := f.saveContact(t, &models.Contact{ID: "c1", Email: "ana@example.com"})

	execution, err := f.engine.Start(t.Context(), workflow, contact, Trigger{})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.Error, "nowhere")
}

func TestEngine_PublishesLifecycleEvents(t *testing.T) {
	bus := &mocks.MockEventBus{}

	var (
		mu   sync.Mutex
		seen []events.EventType
	)

	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		defer mu.Unlock()

		seen = append(seen, args.Get(2).(interface{ GetType() events.EventType }).GetType())
	}).Return(nil)

	f := newFixture(t, WithPublisher(bus))
	workflow := f.saveWorkflow(t, welcomeSeries())
	contact := f.saveContact(t, &models.Contact{ID: "c1", Email: "ana@example.com"})

	execution, err := f.engine.Start(t.Context(), workflow, contact, Trigger{})
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)

	_, err = f.engine.Resume(t.Context(), execution.ID)
	require.NoError(t, err)

	assert.Equal(t, []events.EventType{
		events.ExecutionStartedEvent,
		events.ExecutionWaitingEvent,
		events.ExecutionResumedEvent,
		events.ExecutionCompletedEvent,
	}, seen)
}

func TestEngine_PublishFailureDoesNotFailExecution(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	f := newFixture(t, WithPublisher(bus))
	workflow := f.saveWorkflow(t, &models.Workflow{ID: "single", Steps: []*models.Step{sendEmail("only", "only", "")}})
	contact := f.saveContact(t, &models.Contact{ID: "c1", Email: "ana@example.com"})

	execution, err := f.engine.Start(t.Context(), workflow, contact, Trigger{})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
}

func TestEngine_ResumeUnknownExecution(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Resume(t.Context(), "missing")
	assert.Error(t, err)
}
