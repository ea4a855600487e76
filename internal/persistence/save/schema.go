package save

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://sushiclicker.com/schemas/"

var (
	schemasOnce sync.Once
	schemas     map[int]*jsonschema.Schema
	schemasErr  error
)

func compileSchemas() (map[int]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		out := map[int]*jsonschema.Schema{}
		for v := 1; v <= CurrentVersion; v++ {
			name := fmt.Sprintf("save.v%d.schema.json", v)
			raw, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				schemasErr = err
				return
			}
			if err := c.AddResource(schemaBase+name, bytes.NewReader(raw)); err != nil {
				schemasErr = fmt.Errorf("schema %s: %w", name, err)
				return
			}
			s, err := c.Compile(schemaBase + name)
			if err != nil {
				schemasErr = fmt.Errorf("schema %s: %w", name, err)
				return
			}
			out[v] = s
		}
		schemas = out
	})
	return schemas, schemasErr
}

// SchemaJSON returns the embedded JSON schema for a save version.
func SchemaJSON(version int) ([]byte, error) {
	return schemaFS.ReadFile(fmt.Sprintf("schemas/save.v%d.schema.json", version))
}

func validate(version int, body []byte) error {
	all, err := compileSchemas()
	if err != nil {
		return err
	}
	s, ok := all[version]
	if !ok {
		return fmt.Errorf("%w: no schema for version %d", ErrVersionMismatch, version)
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptSave, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: v%d schema: %v", ErrCorruptSave, version, err)
	}
	return nil
}
