package llm

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/threadsage/server/internal/agent/model"
	errx "github.com/threadsage/server/internal/core/error"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schema is a named JSON Schema an LLM response must satisfy.
type Schema struct {
	Name string
	Doc  string

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

var (
	GenerateInternalSchema = mustLoad("generate_internal")
	GenerateExternalSchema = mustLoad("generate_external")
	DecompositionSchema    = mustLoad("decomposition")
	CombinationSchema      = mustLoad("combination")
)

// GenerateSchema returns the decision schema for mode. Only EXTERNAL allows web_search.
func GenerateSchema(mode model.Mode) *Schema {
	if mode == model.ModeExternal {
		return GenerateExternalSchema
	}
	return GenerateInternalSchema
}

// NewSchema wraps a raw JSON Schema document.
func NewSchema(name, doc string) *Schema {
	return &Schema{Name: name, Doc: doc}
}

func mustLoad(name string) *Schema {
	b, err := schemaFS.ReadFile("schemas/" + name + ".json")
	if err != nil {
		panic(fmt.Sprintf("load schema %s: %v", name, err))
	}
	return NewSchema(name, string(b))
}

func (s *Schema) compile() (*jsonschema.Schema, error) {
	s.once.Do(func() {
		resource := s.Name + ".json"
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(resource, strings.NewReader(s.Doc)); err != nil {
			s.err = fmt.Errorf("add schema resource: %w", err)
			return
		}
		s.compiled, s.err = compiler.Compile(resource)
		if s.err != nil {
			s.err = fmt.Errorf("compile %s schema: %w", s.Name, s.err)
		}
	})
	return s.compiled, s.err
}

// Validate checks data against the schema.
func (s *Schema) Validate(data []byte) error {
	compiled, err := s.compile()
	if err != nil {
		return errx.New(errx.KindConfig, "schema."+s.Name, err, "invalid schema")
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return errx.New(errx.KindSchema, "schema."+s.Name, err, "response is not valid JSON")
	}
	if err := compiled.Validate(doc); err != nil {
		return errx.New(errx.KindSchema, "schema."+s.Name, err, "response does not match schema")
	}
	return nil
}

// extractJSON strips markdown fences and any prose around the outermost object.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
