// Package schema validates wallet files and manifest documents against the
// JSON schemas embedded in the binary.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema names.
const (
	WalletFileV1      = "wallet-file-v1"
	SessionManifestV1 = "session-manifest-v1"
)

var (
	ErrUnknownSchema   = errors.New("schema: unknown schema")
	ErrInvalidDocument = errors.New("schema: document does not match schema")
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const baseURL = "https://sessionvault.local/schema/"

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

func load() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		entries, err := schemaFS.ReadDir("schemas")
		if err != nil {
			compileErr = fmt.Errorf("schema: read embedded schemas: %w", err)
			return
		}

		names := make([]string, 0, len(entries))
		for _, e := range entries {
			data, err := schemaFS.ReadFile("schemas/" + e.Name())
			if err != nil {
				compileErr = fmt.Errorf("schema: read %s: %w", e.Name(), err)
				return
			}
			if err := compiler.AddResource(baseURL+e.Name(), bytes.NewReader(data)); err != nil {
				compileErr = fmt.Errorf("schema: add %s: %w", e.Name(), err)
				return
			}
			names = append(names, strings.TrimSuffix(e.Name(), ".schema.json"))
		}

		out := make(map[string]*jsonschema.Schema, len(names))
		for _, name := range names {
			s, err := compiler.Compile(baseURL + name + ".schema.json")
			if err != nil {
				compileErr = fmt.Errorf("schema: compile %s: %w", name, err)
				return
			}
			out[name] = s
		}
		compiled = out
	})
	return compiled, compileErr
}

// Names returns the embedded schema names in sorted order.
func Names() []string {
	schemas, err := load()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks a JSON document against the named schema. Schema
// violations wrap ErrInvalidDocument; malformed JSON is reported as-is.
func Validate(name string, data []byte) error {
	schemas, err := load()
	if err != nil {
		return err
	}
	s, ok := schemas[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSchema, name)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("schema: decode %s document: %w", name, err)
	}

	if err := s.Validate(instance); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("%w: %s: %s", ErrInvalidDocument, name, describe(verr))
		}
		return fmt.Errorf("%w: %s: %v", ErrInvalidDocument, name, err)
	}
	return nil
}

// ValidateValue marshals v and validates it against the named schema.
func ValidateValue(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("schema: encode %s document: %w", name, err)
	}
	return Validate(name, data)
}

// describe flattens the innermost causes into one line.
func describe(verr *jsonschema.ValidationError) string {
	var parts []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			parts = append(parts, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return strings.Join(parts, "; ")
}
