package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBase = "https://sushiclicker.com/schemas/"

var schemaFiles = map[string]string{
	TypeHello:   "hello.schema.json",
	TypeWelcome: "welcome.schema.json",
	TypeCmd:     "cmd.schema.json",
	TypeAck:     "ack.schema.json",
	TypeState:   "state.schema.json",
}

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

func schemas() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		out := map[string]*jsonschema.Schema{}
		for _, name := range schemaFiles {
			raw, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				compileErr = err
				return
			}
			if err := c.AddResource(schemaBase+name, bytes.NewReader(raw)); err != nil {
				compileErr = fmt.Errorf("%s: %w", name, err)
				return
			}
		}
		for typ, name := range schemaFiles {
			s, err := c.Compile(schemaBase + name)
			if err != nil {
				compileErr = fmt.Errorf("%s: %w", name, err)
				return
			}
			out[typ] = s
		}
		compiled = out
	})
	return compiled, compileErr
}

// Validate checks raw against the schema for message type typ.
func Validate(typ string, raw []byte) error {
	all, err := schemas()
	if err != nil {
		return err
	}
	s, ok := all[typ]
	if !ok {
		return fmt.Errorf("no schema for message type %q", typ)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return s.Validate(doc)
}
