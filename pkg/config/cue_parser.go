package config

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// CUEParser reads .cue configuration files, checking them against the
// #Config schema before decoding.
type CUEParser struct {
	ctx       *cue.Context
	schema    cue.Value
	schemaErr error
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	schema, err := compileSchema(ctx)
	return &CUEParser{
		ctx:       ctx,
		schema:    schema,
		schemaErr: err,
	}
}

// ParseFile reads path and decodes it onto cfg.
func (cp *CUEParser) ParseFile(path string, cfg *Config) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return cp.Parse(path, content, cfg)
}

// Parse compiles src, unifies it with the schema and decodes the result onto
// cfg. Settings absent from src keep their current values in cfg. Schema
// violations are returned as ValidationErrors with file positions.
func (cp *CUEParser) Parse(filename string, src []byte, cfg *Config) error {
	if cp.schemaErr != nil {
		return cp.schemaErr
	}

	val := cp.ctx.CompileBytes(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return cp.convertCUEErrors(err)
	}

	unified := cp.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cp.convertCUEErrors(err)
	}

	if err := unified.Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filename, err)
	}
	return nil
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func (cp *CUEParser) convertCUEErrors(err error) ValidationErrors {
	var validationErrors ValidationErrors

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int

		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:    file,
			Line:    line,
			Column:  column,
			Path:    strings.Join(e.Path(), "."),
			Message: strings.TrimSpace(errors.Details(e, nil)),
		})
	}

	if len(validationErrors) == 0 {
		validationErrors = append(validationErrors, ValidationError{Message: err.Error()})
	}
	return validationErrors
}
