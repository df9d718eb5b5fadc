package store

import (
	"bytes"
	"embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemasFS embed.FS

const (
	turnSchema     = "conversation_turn.json"
	exchangeSchema = "llm_exchange.json"
)

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		c.AssertFormat = true

		names := []string{turnSchema, exchangeSchema}
		for _, name := range names {
			data, err := schemasFS.ReadFile("schemas/" + name)
			if err != nil {
				schemasErr = fmt.Errorf("store: read schema %s: %w", name, err)
				return
			}
			if err := c.AddResource(name, bytes.NewReader(data)); err != nil {
				schemasErr = fmt.Errorf("store: add schema %s: %w", name, err)
				return
			}
		}

		compiled := make(map[string]*jsonschema.Schema, len(names))
		for _, name := range names {
			sch, err := c.Compile(name)
			if err != nil {
				schemasErr = fmt.Errorf("store: compile schema %s: %w", name, err)
				return
			}
			compiled[name] = sch
		}
		schemas = compiled
	})
	return schemas, schemasErr
}

// validate checks doc against the named embedded schema.
func validate(entity, schema string, doc map[string]any) error {
	compiled, err := compileSchemas()
	if err != nil {
		return err
	}
	if err := compiled[schema].Validate(doc); err != nil {
		return &ValidationError{Entity: entity, Err: err}
	}
	return nil
}
