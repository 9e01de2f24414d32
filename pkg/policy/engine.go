package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"
)

// DefaultPackage is queried when Options.Package is empty.
const DefaultPackage = "powerdown.protection"

// Engine evaluates the "protected" set of one Rego package over the
// cluster's VM list.
type Engine struct {
	logger   zerolog.Logger
	pkg      string
	policies []Policy
	query    rego.PreparedEvalQuery
}

// NewEngine loads, parses and prepares every policy selected by opts.
func NewEngine(logger zerolog.Logger, opts Options) (*Engine, error) {
	if opts.Package == "" {
		opts.Package = DefaultPackage
	}

	e := &Engine{
		logger: logger.With().Str("component", "policy-engine").Logger(),
		pkg:    opts.Package,
	}

	if opts.Builtin {
		e.policies = append(e.policies, BuiltinPolicies(opts.Package)...)
	}
	if len(opts.Paths) > 0 {
		loaded, err := NewLoader(logger).LoadFromPaths(opts.Paths)
		if err != nil {
			return nil, err
		}
		e.policies = append(e.policies, loaded...)
	}

	if err := e.prepare(context.Background()); err != nil {
		return nil, err
	}

	e.logger.Debug().
		Str("package", e.pkg).
		Int("policies", len(e.policies)).
		Msg("Protection policies prepared")

	return e, nil
}

func (e *Engine) prepare(ctx context.Context) error {
	options := []func(*rego.Rego){
		rego.Query("data." + e.pkg + ".protected"),
	}

	want := "data." + e.pkg
	for _, p := range e.policies {
		filename := moduleFilename(p)

		module, err := ast.ParseModule(filename, p.Rego)
		if err != nil {
			return fmt.Errorf("failed to parse policy %s: %w", p.Name, err)
		}
		if got := module.Package.Path.String(); got != want {
			e.logger.Warn().
				Str("policy", p.Name).
				Str("package", got).
				Str("queried", want).
				Msg("Policy package is not queried; its rules have no effect")
		}

		options = append(options, rego.Module(filename, p.Rego))
	}

	query, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare protection query: %w", err)
	}
	e.query = query
	return nil
}

func moduleFilename(p Policy) string {
	if p.Source == "" || p.Source == "builtin" {
		return "builtin/" + p.Name + ".rego"
	}
	return p.Source
}

// Protected returns the sorted names of VMs the policies protect. Names
// returned by a policy that match no VM are kept; the caller decides what
// membership means.
func (e *Engine) Protected(ctx context.Context, vms []VM) ([]string, error) {
	if len(e.policies) == 0 {
		return nil, nil
	}

	if vms == nil {
		vms = []VM{}
	}

	rs, err := e.query.Eval(ctx, rego.EvalInput(Input{VMs: vms}))
	if err != nil {
		return nil, fmt.Errorf("protection policy evaluation failed: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}

	values, ok := rs[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("data.%s.protected must be a set of VM names, got %T", e.pkg, rs[0].Expressions[0].Value)
	}

	names := make([]string, 0, len(values))
	for _, v := range values {
		name, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("data.%s.protected contains non-string %v", e.pkg, v)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	e.logger.Debug().Strs("protected", names).Msg("Protection policies evaluated")
	return names, nil
}

// Package returns the queried Rego package.
func (e *Engine) Package() string {
	return e.pkg
}

// Policies returns the loaded policies.
func (e *Engine) Policies() []Policy {
	out := make([]Policy, len(e.policies))
	copy(out, e.policies)
	return out
}
