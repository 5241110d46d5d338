package observerproto

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var (
	schemaOnce sync.Once
	schemaErr  error
	schemas    map[string]*jsonschema.Schema
)

func compileSchemas() {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		schemaErr = err
		return
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	var names []string
	for _, e := range entries {
		b, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			schemaErr = err
			return
		}
		if err := c.AddResource(e.Name(), bytes.NewReader(b)); err != nil {
			schemaErr = fmt.Errorf("schema %s: %w", e.Name(), err)
			return
		}
		names = append(names, e.Name())
	}
	out := make(map[string]*jsonschema.Schema, len(names))
	for _, n := range names {
		s, err := c.Compile(n)
		if err != nil {
			schemaErr = fmt.Errorf("compile %s: %w", n, err)
			return
		}
		out[strings.ToUpper(strings.TrimSuffix(n, ".schema.json"))] = s
	}
	schemas = out
}

// Schema returns the compiled schema for a message type, e.g. "MOVE".
func Schema(msgType string) (*jsonschema.Schema, bool, error) {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return nil, false, schemaErr
	}
	s, ok := schemas[msgType]
	return s, ok, nil
}

// Validate checks raw against the schema for msgType. Types without a schema
// pass.
func Validate(msgType string, raw []byte) error {
	s, ok, err := Schema(msgType)
	if err != nil || !ok {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return s.Validate(v)
}
