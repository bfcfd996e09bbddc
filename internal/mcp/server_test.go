package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovenKiller/lithelper/internal/batch"
	"github.com/ovenKiller/lithelper/internal/metadata"
	"github.com/ovenKiller/lithelper/internal/notify"
	"github.com/ovenKiller/lithelper/internal/organize"
	"github.com/ovenKiller/lithelper/internal/scheduler"
	"github.com/ovenKiller/lithelper/internal/task"
)

// newTestServer wires a real dispatcher and organizer behind the MCP tools.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	bus := notify.NewBus(nil)
	coordinator := metadata.NewCoordinator(10*time.Millisecond, nil)
	storage := organize.NewLocalStorage(t.TempDir())

	cfg := scheduler.ExecutorConfig{
		MaxConcurrency:    2,
		ExecutionCapacity: 10,
		WaitingCapacity:   10,
		IdleInterval:      5 * time.Millisecond,
		YieldInterval:     time.Millisecond,
	}
	deps := scheduler.ExecutorDeps{Bus: bus}

	dispatcher := scheduler.NewDispatcher(nil)

	organizeExec := scheduler.NewExecutor(organize.NewHandler(organize.StaticAIClient{}, storage, nil), cfg, deps)
	require.NoError(t, dispatcher.Register(task.KindOrganizePaper, organizeExec))

	extractExec := scheduler.NewExecutor(metadata.NewExtractorHandler(coordinator, metadata.IdentityEnricher{}, nil), cfg, deps)
	require.NoError(t, dispatcher.Register(task.KindMetadataExtraction, extractExec))

	organizer := batch.NewOrganizer(batch.OrganizerDeps{
		Submitter:   dispatcher,
		Coordinator: coordinator,
		Bus:         bus,
		Storage:     storage,
		WaitTimeout: 3 * time.Second,
	})
	t.Cleanup(organizer.Close)

	dispatcher.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		require.NoError(t, dispatcher.Stop(ctx))
	})

	return NewServer(ServerDeps{
		Organizer:             organizer,
		Dispatcher:            dispatcher,
		DefaultTargetLanguage: "Chinese",
		DefaultStandard:       "ACM",
	})
}

func TestNewServer_RegistersTools(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	assert.Equal(t, []string{"lithelper_organize", "lithelper_batch_status"}, srv.ListToolNames())
}

func TestHandleOrganize_EndToEnd(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	ctx := context.Background()

	input := OrganizeInput{
		Papers: []PaperInput{
			{ID: "p1", Title: "First", Abstract: "first abstract"},
			{ID: "p2", Title: "Second", Abstract: "second abstract"},
		},
		Classify:      true,
		TaskDirectory: "run1",
	}

	result, output, err := srv.handleOrganize(ctx, nil, input)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)
	require.NotEmpty(t, output.BatchID)

	// Poll the status tool until the batch lands.
	deadline := time.Now().Add(5 * time.Second)

	var status ToolOutput

	for time.Now().Before(deadline) {
		_, status, err = srv.handleBatchStatus(ctx, nil, BatchStatusInput{BatchID: output.BatchID})
		require.NoError(t, err)

		if status.Status == batch.StatusCompleted.String() || status.Status == batch.StatusFailed.String() {
			break
		}

		time.Sleep(20 * time.Millisecond)
	}

	require.Equal(t, batch.StatusCompleted.String(), status.Status)
	require.NotNil(t, status.Progress)
	assert.Equal(t, 2, status.Progress.Total)
	assert.Equal(t, 2, status.Progress.Done)
	require.Len(t, status.Papers, 2)
	assert.Equal(t, "completed", status.Papers[0].Status)
}

func TestHandleOrganize_AppliesDefaults(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	opts := srv.buildOptions(OrganizeInput{Translate: true, Classify: true})

	assert.Equal(t, "Chinese", opts.Translation.TargetLanguage)
	assert.Equal(t, "ACM", opts.Classification.SelectedStandard)

	explicit := srv.buildOptions(OrganizeInput{
		Translate:              true,
		TargetLanguage:         "French",
		Classify:               true,
		ClassificationStandard: "arXiv",
	})

	assert.Equal(t, "French", explicit.Translation.TargetLanguage)
	assert.Equal(t, "arXiv", explicit.Classification.SelectedStandard)
}

func TestHandleBatchStatus_UnknownBatch(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	result, _, err := srv.handleBatchStatus(context.Background(), nil, BatchStatusInput{BatchID: "ghost"})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}

func TestTextResult_IsValidJSON(t *testing.T) {
	t.Parallel()

	result := textResult(ToolOutput{BatchID: "b1", Status: "pending"})

	require.Len(t, result.Content, 1)

	text, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)

	var decoded ToolOutput

	require.NoError(t, json.Unmarshal([]byte(text.Text), &decoded))
	assert.Equal(t, "b1", decoded.BatchID)
	assert.Equal(t, "pending", decoded.Status)
}
