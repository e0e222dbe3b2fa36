//go:build integration

package web_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/dukex/drip/pkg/mocks"
	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence/postgresql"
	"github.com/dukex/drip/pkg/services"
	"github.com/dukex/drip/pkg/web"
	"github.com/dukex/drip/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupIntegrationApp(t *testing.T) *testAPI {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	t.Cleanup(cancel)

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("drip_web"),
		postgres.WithUsername("drip"),
		postgres.WithPassword("drip"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dbURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := postgresql.NewPersistence(ctx, logger, dbURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close(context.Background())
	})

	clock := clockwork.NewFakeClockAt(epoch)

	dispatcher := &mocks.MockDispatcher{}
	dispatcher.On("Send", mock.Anything, mock.Anything).Return(nil)

	engine := workflow.NewEngine(store, dispatcher, logger, workflow.WithClock(clock))
	bus := &mocks.MockEventBus{}

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(store, engine, logger, services.WithWorkflowClock(clock)),
		services.NewExecution(store, engine, clock, logger),
		bus,
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := fiber.New()
	handlers.Register(app)

	return &testAPI{app: app, store: store, clock: clock, engine: engine, bus: bus}
}

func TestWorkflowLifecycle_Integration(t *testing.T) {
	api := setupIntegrationApp(t)

	created := api.createWorkflow(t, welcomeRequest())

	status, body := api.do(t, http.MethodPost, "/workflows/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	active, err := api.store.WorkflowRepository().GetByID(t.Context(), created.ID)
	require.NoError(t, err)

	contact := &models.Contact{ID: "ana", Email: "ana@example.com"}
	require.NoError(t, api.store.ContactRepository().Save(t.Context(), contact))

	execution, err := api.engine.Start(t.Context(), active, contact, workflow.Trigger{Type: models.TriggerTypeContactCreated})
	require.NoError(t, err)

	var listed struct {
		Executions []models.Execution `json:"executions"`
	}

	status, body = api.do(t, http.MethodGet, "/executions?workflow_id="+created.ID+"&status=waiting_delay", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed.Executions, 1)
	assert.Equal(t, execution.ID, listed.Executions[0].ID)

	api.clock.Advance(48 * time.Hour)

	status, body = api.do(t, http.MethodPost, "/executions/"+execution.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var resumed models.Execution
	require.NoError(t, json.Unmarshal(body, &resumed))
	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)

	status, _ = api.do(t, http.MethodPost, "/workflows/"+created.ID+"/archive", nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = api.do(t, http.MethodDelete, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = api.do(t, http.MethodGet, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestWorkflowValidation_Integration(t *testing.T) {
	api := setupIntegrationApp(t)

	draft := welcomeRequest()
	draft.Steps[1].Next = "nowhere"
	created := api.createWorkflow(t, draft)

	status, body := api.do(t, http.MethodPost, "/workflows/"+created.ID+"/activate", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), "nowhere")

	stored, err := api.store.WorkflowRepository().GetByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusDraft, stored.Status)
}
