package rules

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/paygrid/internal/domain"
)

// FormulaEngine evaluates the CEL expressions of components whose
// calculation method is formula. Declared variables are numeric (double);
// the raw input record is available as the map "record".
type FormulaEngine struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]*CompiledFormula
	maxSize  int
}

// CompiledFormula holds a pre-compiled CEL program.
type CompiledFormula struct {
	Expression string
	Variables  []string
	Program    cel.Program
}

// NewFormulaEngine creates a formula engine that keeps at most maxSize
// compiled programs.
func NewFormulaEngine(maxSize int) (*FormulaEngine, error) {
	if maxSize <= 0 {
		maxSize = 512
	}

	env, err := cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &FormulaEngine{
		env:      env,
		programs: make(map[string]*CompiledFormula),
		maxSize:  maxSize,
	}, nil
}

// Validate compiles a formula without caching it.
func (f *FormulaEngine) Validate(expr string, variables []string) error {
	_, err := f.compile(expr, variables)
	return err
}

// Evaluate runs a formula. vars supplies the declared variables; record is
// exposed to the expression as record["field"].
func (f *FormulaEngine) Evaluate(expr string, variables []string, vars map[string]float64, record domain.Record) (float64, error) {
	compiled, err := f.program(expr, variables)
	if err != nil {
		return 0, err
	}

	activation := map[string]any{
		"record": recordActivation(record),
	}
	for _, name := range compiled.Variables {
		v, ok := vars[name]
		if !ok {
			return 0, &domain.MissingFieldError{Field: name}
		}
		activation[name] = v
	}

	out, _, err := compiled.Program.Eval(activation)
	if err != nil {
		return 0, domain.Configf("formula", "evaluating %q: %v", expr, err)
	}

	n, ok := toNumber(out)
	if !ok {
		return 0, domain.Configf("formula", "%q must return a number, got %s", expr, out.Type().TypeName())
	}
	if math.IsInf(n, 0) || math.IsNaN(n) {
		return 0, domain.Configf("formula", "%q returned %v", expr, n)
	}
	return n, nil
}

// Len returns the number of cached programs.
func (f *FormulaEngine) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.programs)
}

// Close drops all cached programs.
func (f *FormulaEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.programs = make(map[string]*CompiledFormula)
	return nil
}

func (f *FormulaEngine) program(expr string, variables []string) (*CompiledFormula, error) {
	key := cacheKey(expr, variables)

	f.mu.RLock()
	compiled, ok := f.programs[key]
	f.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := f.compile(expr, variables)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	if len(f.programs) >= f.maxSize {
		f.programs = make(map[string]*CompiledFormula)
	}
	f.programs[key] = compiled
	f.mu.Unlock()

	return compiled, nil
}

func (f *FormulaEngine) compile(expr string, variables []string) (*CompiledFormula, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, domain.Configf("formula", "expression is empty")
	}

	vars := normalizeVariables(variables)
	opts := make([]cel.EnvOption, 0, len(vars))
	for _, name := range vars {
		if name == "record" {
			return nil, domain.Configf("variables", "%q is reserved", name)
		}
		opts = append(opts, cel.Variable(name, cel.DoubleType))
	}

	env, err := f.env.Extend(opts...)
	if err != nil {
		return nil, domain.Configf("variables", "%v", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, domain.Configf("formula", "compiling %q: %v", expr, issues.Err())
	}

	out := ast.OutputType()
	if !out.IsExactType(cel.DoubleType) && !out.IsExactType(cel.IntType) && !out.IsExactType(cel.DynType) {
		return nil, domain.Configf("formula", "%q must return int or double, got %s", expr, out)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, domain.Configf("formula", "building program for %q: %v", expr, err)
	}

	return &CompiledFormula{
		Expression: expr,
		Variables:  vars,
		Program:    program,
	}, nil
}

func normalizeVariables(variables []string) []string {
	seen := make(map[string]bool, len(variables))
	out := make([]string, 0, len(variables))
	for _, v := range variables {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func cacheKey(expr string, variables []string) string {
	return strings.Join(normalizeVariables(variables), ",") + "|" + expr
}

func recordActivation(record domain.Record) map[string]any {
	m := make(map[string]any, len(record))
	for k, v := range record {
		switch v.Kind {
		case domain.KindNumber:
			m[k] = v.Num
		case domain.KindText:
			m[k] = v.Text
		}
	}
	return m
}

// toNumber converts a CEL result to float64.
func toNumber(val ref.Val) (float64, bool) {
	switch v := val.(type) {
	case types.Double:
		return float64(v), true
	case types.Int:
		return float64(v), true
	case types.Uint:
		return float64(v), true
	default:
		return 0, false
	}
}
