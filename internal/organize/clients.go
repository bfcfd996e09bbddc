package organize

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"github.com/ovenKiller/lithelper/pkg/paper"
)

// AIClient is the external AI collaborator for translation and classification.
// Implementations are opaque to the pipeline; an empty translation result
// preserves the original abstract downstream.
type AIClient interface {
	// TranslateAbstract translates text into targetLanguage.
	TranslateAbstract(ctx context.Context, text, targetLanguage string) (string, error)
	// Classify produces a category for the paper under the given standard.
	Classify(ctx context.Context, p paper.Paper, standard string) (string, error)
}

// DirResult describes a created or confirmed storage subdirectory.
type DirResult struct {
	TaskDirectory string `json:"taskDirectory,omitempty"`
	FullPath      string `json:"fullPath,omitempty"`
}

// SaveResult describes a saved artifact file.
type SaveResult struct {
	Filename   string `json:"filename"`
	FullPath   string `json:"fullPath"`
	DownloadID string `json:"downloadId,omitempty"`
}

// Storage is the filesystem glue the pipeline and the batch finalizer use.
type Storage interface {
	// CreateSubDirectory creates (or confirms) the named subdirectory.
	CreateSubDirectory(name string) (DirResult, error)
	// SaveCSVFile writes data under taskDirectory with the given filename.
	SaveCSVFile(data []byte, filename, taskDirectory string) (SaveResult, error)
}

// categoryCount bounds the deterministic placeholder category index.
var placeholderCategories = []string{
	"General Literature", "Information Systems", "Computing Methodologies",
	"Theory of Computation", "Applied Computing",
}

// StaticAIClient is the deterministic placeholder collaborator used when no
// real AI backend is wired. Translation returns the input unchanged;
// classification hashes the paper identity into a stable category.
type StaticAIClient struct{}

// TranslateAbstract implements AIClient by returning the text unchanged.
func (StaticAIClient) TranslateAbstract(_ context.Context, text, _ string) (string, error) {
	return text, nil
}

// Classify implements AIClient with a stable hash over title and standard.
func (StaticAIClient) Classify(_ context.Context, p paper.Paper, standard string) (string, error) {
	h := fnv.New32a()
	h.Write([]byte(p.Title))
	h.Write([]byte(standard))

	category := placeholderCategories[h.Sum32()%uint32(len(placeholderCategories))]

	return fmt.Sprintf("%s (%s)", category, standard), nil
}

// storageDirPermissions is the mode for created storage directories.
const storageDirPermissions = 0o755

// storageFilePermissions is the mode for saved artifacts.
const storageFilePermissions = 0o644

// LocalStorage implements Storage on the local filesystem under a root
// directory. Paths outside the root are rejected.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates local storage rooted at dir.
func NewLocalStorage(dir string) *LocalStorage {
	return &LocalStorage{root: dir}
}

func (s *LocalStorage) resolve(parts ...string) (string, error) {
	joined := filepath.Join(append([]string{s.root}, parts...)...)

	rel, err := filepath.Rel(s.root, joined)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes storage root", filepath.Join(parts...))
	}

	return joined, nil
}

// CreateSubDirectory implements Storage.CreateSubDirectory.
func (s *LocalStorage) CreateSubDirectory(name string) (DirResult, error) {
	full, err := s.resolve(name)
	if err != nil {
		return DirResult{}, err
	}

	mkdirErr := os.MkdirAll(full, storageDirPermissions)
	if mkdirErr != nil {
		return DirResult{}, fmt.Errorf("create subdirectory %s: %w", name, mkdirErr)
	}

	return DirResult{TaskDirectory: name, FullPath: full}, nil
}

// SaveCSVFile implements Storage.SaveCSVFile.
func (s *LocalStorage) SaveCSVFile(data []byte, filename, taskDirectory string) (SaveResult, error) {
	full, err := s.resolve(taskDirectory, filename)
	if err != nil {
		return SaveResult{}, err
	}

	mkdirErr := os.MkdirAll(filepath.Dir(full), storageDirPermissions)
	if mkdirErr != nil {
		return SaveResult{}, fmt.Errorf("create directory for %s: %w", filename, mkdirErr)
	}

	writeErr := os.WriteFile(full, data, storageFilePermissions)
	if writeErr != nil {
		return SaveResult{}, fmt.Errorf("save %s: %w", filename, writeErr)
	}

	return SaveResult{Filename: filename, FullPath: full}, nil
}
