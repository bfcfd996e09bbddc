// Package commands implements CLI command handlers for lithelper.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/ovenKiller/lithelper/pkg/paper"
)

// Sentinel errors for input loading.
var (
	// ErrInvalidInputFile indicates the papers file failed schema validation.
	ErrInvalidInputFile = errors.New("invalid papers file")
	// ErrUnsupportedInputFormat indicates an input extension other than json/yaml.
	ErrUnsupportedInputFormat = errors.New("unsupported input format")
)

// papersSchema validates the papers file shape before unmarshalling.
const papersSchema = `{
  "type": "object",
  "required": ["papers"],
  "properties": {
    "papers": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "title"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "title": {"type": "string", "minLength": 1},
          "authors": {"type": "string"},
          "abstract": {"type": "string"},
          "allVersionsUrl": {"type": "string"},
          "pdfUrl": {"type": "string"}
        }
      }
    }
  }
}`

// papersDocument is the papers file payload.
type papersDocument struct {
	Papers []paper.Paper `json:"papers"`
}

// LoadPapersFile reads a JSON or YAML papers file, validates it against the
// papers schema, and returns the papers.
func LoadPapersFile(path string) ([]paper.Paper, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read papers file: %w", err)
	}

	jsonRaw, convertErr := toJSON(path, raw)
	if convertErr != nil {
		return nil, convertErr
	}

	validateErr := validatePapersDocument(jsonRaw)
	if validateErr != nil {
		return nil, validateErr
	}

	var doc papersDocument

	unmarshalErr := json.Unmarshal(jsonRaw, &doc)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("decode papers file: %w", unmarshalErr)
	}

	return doc.Papers, nil
}

// toJSON normalizes the input into JSON bytes based on the file extension.
func toJSON(path string, raw []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return raw, nil
	case ".yaml", ".yml":
		var doc any

		yamlErr := yaml.Unmarshal(raw, &doc)
		if yamlErr != nil {
			return nil, fmt.Errorf("decode yaml: %w", yamlErr)
		}

		jsonRaw, marshalErr := json.Marshal(doc)
		if marshalErr != nil {
			return nil, fmt.Errorf("convert yaml: %w", marshalErr)
		}

		return jsonRaw, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedInputFormat, filepath.Ext(path))
	}
}

// validatePapersDocument checks the document against the papers schema and
// reports every violation in one error.
func validatePapersDocument(jsonRaw []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(papersSchema),
		gojsonschema.NewBytesLoader(jsonRaw),
	)
	if err != nil {
		return fmt.Errorf("validate papers file: %w", err)
	}

	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}

	return fmt.Errorf("%w: %s", ErrInvalidInputFile, strings.Join(messages, "; "))
}
