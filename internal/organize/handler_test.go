package organize_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovenKiller/lithelper/internal/organize"
	"github.com/ovenKiller/lithelper/internal/task"
	"github.com/ovenKiller/lithelper/pkg/paper"
)

// stubAI fails selected stages and records calls.
type stubAI struct {
	failTranslate bool
	failClassify  bool
}

func (s stubAI) TranslateAbstract(_ context.Context, text, lang string) (string, error) {
	if s.failTranslate {
		return "", errors.New("translation backend down")
	}

	return "[" + lang + "] " + text, nil
}

func (s stubAI) Classify(_ context.Context, _ paper.Paper, standard string) (string, error) {
	if s.failClassify {
		return "", errors.New("classification backend down")
	}

	return "Information Systems (" + standard + ")", nil
}

func samplePaper() paper.Paper {
	return paper.Paper{
		ID:       "p1",
		Title:    "A Study of Queues",
		Authors:  "Ada Lovelace",
		Abstract: "We study queues.",
	}
}

func organizeTask(t *testing.T, papers []paper.Paper, opts organize.Options) *task.Task {
	t.Helper()

	return task.New("organize_paper_p1_1", task.KindOrganizePaper, organize.Params{Papers: papers, Options: opts})
}

func actionByName(outcome organize.PaperOutcome, name string) (organize.ActionResult, bool) {
	for _, action := range outcome.Actions {
		if action.Action == name {
			return action, true
		}
	}

	return organize.ActionResult{}, false
}

func TestHandler_Identity(t *testing.T) {
	t.Parallel()

	h := organize.NewHandler(organize.StaticAIClient{}, nil, nil)

	assert.Equal(t, "organize", h.Name())
	assert.Equal(t, []task.Kind{task.KindOrganizePaper}, h.Kinds())
}

func TestHandler_Validate(t *testing.T) {
	t.Parallel()

	h := organize.NewHandler(organize.StaticAIClient{}, nil, nil)

	empty := organizeTask(t, nil, organize.Options{})
	assert.ErrorIs(t, h.Validate(empty), organize.ErrNoPapers)

	noLanguage := organizeTask(t, []paper.Paper{samplePaper()}, organize.Options{
		Translation: organize.TranslationOptions{Enabled: true},
	})
	assert.ErrorIs(t, h.Validate(noLanguage), organize.ErrNoTargetLanguage)

	noStandard := organizeTask(t, []paper.Paper{samplePaper()}, organize.Options{
		Classification: organize.ClassificationOptions{Enabled: true},
	})
	assert.ErrorIs(t, h.Validate(noStandard), organize.ErrNoStandard)

	ok := organizeTask(t, []paper.Paper{samplePaper()}, organize.Options{})
	assert.NoError(t, h.Validate(ok))
}

func TestHandler_AllStagesSucceed(t *testing.T) {
	t.Parallel()

	storage := organize.NewLocalStorage(t.TempDir())
	h := organize.NewHandler(stubAI{}, storage, nil)

	opts := organize.Options{
		Translation:    organize.TranslationOptions{Enabled: true, TargetLanguage: "Chinese"},
		Classification: organize.ClassificationOptions{Enabled: true, SelectedStandard: "ACM"},
		Storage:        organize.StorageOptions{TaskDirectory: "run1"},
	}

	raw, err := h.Execute(context.Background(), organizeTask(t, []paper.Paper{samplePaper()}, opts))
	require.NoError(t, err)

	result, ok := raw.(*organize.Result)
	require.True(t, ok)
	assert.True(t, result.Success)
	require.Len(t, result.Papers, 1)

	outcome := result.Papers[0]
	assert.Equal(t, "p1", outcome.PaperID)
	assert.Equal(t, "We study queues.", outcome.Processed.OriginalAbstract)
	assert.Equal(t, "[Chinese] We study queues.", outcome.Processed.TranslatedAbstract)
	assert.Equal(t, "Chinese", outcome.Processed.TargetLanguage)
	assert.Equal(t, "Information Systems (ACM)", outcome.Processed.Classification)
	assert.Equal(t, "ACM", outcome.Processed.ClassificationStandard)

	for _, name := range []string{"storage", "translation", "classification"} {
		action, found := actionByName(outcome, name)
		require.True(t, found, name)
		assert.True(t, action.Success, name)
	}

	assert.Equal(t, "run1", outcome.Storage.TaskDirectory)
}

func TestHandler_StageFailuresAreIndependent(t *testing.T) {
	t.Parallel()

	h := organize.NewHandler(stubAI{failTranslate: true}, nil, nil)

	opts := organize.Options{
		Translation:    organize.TranslationOptions{Enabled: true, TargetLanguage: "Chinese"},
		Classification: organize.ClassificationOptions{Enabled: true, SelectedStandard: "ACM"},
	}

	raw, err := h.Execute(context.Background(), organizeTask(t, []paper.Paper{samplePaper()}, opts))
	require.NoError(t, err)

	result := raw.(*organize.Result)
	require.Len(t, result.Papers, 1)

	outcome := result.Papers[0]

	translation, found := actionByName(outcome, "translation")
	require.True(t, found)
	assert.False(t, translation.Success)
	assert.NotEmpty(t, translation.Error)
	assert.Empty(t, outcome.Processed.TranslatedAbstract)

	// Classification still ran despite the translation failure.
	classification, found := actionByName(outcome, "classification")
	require.True(t, found)
	assert.True(t, classification.Success)
	assert.Equal(t, "Information Systems (ACM)", outcome.Processed.Classification)
}

func TestHandler_DisabledStagesAreSkipped(t *testing.T) {
	t.Parallel()

	h := organize.NewHandler(stubAI{failTranslate: true, failClassify: true}, nil, nil)

	raw, err := h.Execute(context.Background(), organizeTask(t, []paper.Paper{samplePaper()}, organize.Options{}))
	require.NoError(t, err)

	result := raw.(*organize.Result)
	require.Len(t, result.Papers, 1)

	assert.Empty(t, result.Papers[0].Actions)
	assert.Empty(t, result.Papers[0].Processed.TranslatedAbstract)
	assert.Empty(t, result.Papers[0].Processed.Classification)
}

func TestStaticAIClient_Deterministic(t *testing.T) {
	t.Parallel()

	client := organize.StaticAIClient{}
	p := samplePaper()

	translated, err := client.TranslateAbstract(context.Background(), p.Abstract, "Chinese")
	require.NoError(t, err)
	assert.Equal(t, p.Abstract, translated)

	first, err := client.Classify(context.Background(), p, "ACM")
	require.NoError(t, err)

	second, err := client.Classify(context.Background(), p, "ACM")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, first, "(ACM)")
}

func TestLocalStorage_CreateAndSave(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	storage := organize.NewLocalStorage(root)

	dir, err := storage.CreateSubDirectory("run1")
	require.NoError(t, err)
	assert.Equal(t, "run1", dir.TaskDirectory)
	assert.DirExists(t, dir.FullPath)

	saved, err := storage.SaveCSVFile([]byte("Title\n"), "batch_x_2026-08-25.csv", "run1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "run1", "batch_x_2026-08-25.csv"), saved.FullPath)

	data, readErr := os.ReadFile(saved.FullPath)
	require.NoError(t, readErr)
	assert.Equal(t, "Title\n", string(data))
}

func TestLocalStorage_RejectsEscapingPaths(t *testing.T) {
	t.Parallel()

	storage := organize.NewLocalStorage(t.TempDir())

	_, err := storage.CreateSubDirectory("../outside")
	assert.Error(t, err)

	_, err = storage.SaveCSVFile([]byte("x"), "../../etc/escape.csv", "run1")
	assert.Error(t, err)
}
