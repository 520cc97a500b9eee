package opa

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goodtune/unplug/internal/enforcement"
	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

const stateQuery = "data.unplug.enforcement.state"

//go:embed policies/*.rego
var defaultPolicies embed.FS

// Engine evaluates enforcement state with a rego policy. It implements
// enforcement.Evaluator.
type Engine struct {
	policyDir string
	logger    zerolog.Logger

	mu    sync.RWMutex
	query rego.PreparedEvalQuery
}

// NewEngine loads every .rego file in policyDir, or the built-in policy when
// policyDir is empty, and prepares the state query.
func NewEngine(policyDir string, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policyDir: policyDir,
		logger:    logger.With().Str("component", "opa").Logger(),
	}

	if err := e.Reload(); err != nil {
		return nil, err
	}

	source := policyDir
	if source == "" {
		source = "embedded"
	}
	e.logger.Info().Str("policy_source", source).Msg("OPA engine initialized")

	return e, nil
}

// loadPolicies parses the policy modules, keyed by file name.
func (e *Engine) loadPolicies() (map[string]*ast.Module, error) {
	modules := make(map[string]*ast.Module)

	if e.policyDir == "" {
		entries, err := defaultPolicies.ReadDir("policies")
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded policies: %w", err)
		}
		for _, entry := range entries {
			name := "policies/" + entry.Name()
			content, err := defaultPolicies.ReadFile(name)
			if err != nil {
				return nil, fmt.Errorf("failed to read embedded policy %s: %w", name, err)
			}
			if err := e.parseInto(modules, name, content); err != nil {
				return nil, err
			}
		}
		return modules, nil
	}

	files, err := filepath.Glob(filepath.Join(e.policyDir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob policy files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", e.policyDir)
	}

	e.logger.Info().Int("count", len(files)).Msg("Loading policy files")

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", file, err)
		}
		if err := e.parseInto(modules, file, content); err != nil {
			return nil, err
		}
	}
	return modules, nil
}

func (e *Engine) parseInto(modules map[string]*ast.Module, name string, content []byte) error {
	module, err := ast.ParseModule(name, string(content))
	if err != nil {
		return fmt.Errorf("failed to parse policy file %s: %w", name, err)
	}
	modules[name] = module
	e.logger.Debug().Str("file", name).Str("package", module.Package.Path.String()).Msg("Loaded policy module")
	return nil
}

// Reload re-reads the policies and swaps in a freshly prepared query.
// Evaluations in flight keep using the previous query.
func (e *Engine) Reload() error {
	modules, err := e.loadPolicies()
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	opts := []func(*rego.Rego){rego.Query(stateQuery)}
	for _, module := range modules {
		opts = append(opts, rego.ParsedModule(module))
	}

	query, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to prepare state query: %w", err)
	}

	e.mu.Lock()
	e.query = query
	e.mu.Unlock()

	e.logger.Debug().Int("modules", len(modules)).Msg("State query prepared")
	return nil
}

// Evaluate implements enforcement.Evaluator.
func (e *Engine) Evaluate(ctx context.Context, facts enforcement.Facts) (enforcement.State, error) {
	startTime := time.Now()

	input := map[string]interface{}{
		"app_identifier":            facts.AppIdentifier,
		"daily_limit_seconds":       facts.DailyLimitSeconds,
		"used_seconds_today":        facts.UsedSecondsToday,
		"remaining_seconds":         facts.RemainingSeconds,
		"exceeded":                  facts.Exceeded,
		"warning_threshold_seconds": facts.WarningThresholdSeconds,
	}

	e.mu.RLock()
	query := e.query
	e.mu.RUnlock()

	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return enforcement.Unrestricted, fmt.Errorf("state query evaluation failed: %w", err)
	}

	e.logger.Debug().
		Str("app", facts.AppIdentifier).
		Dur("duration_ms", time.Since(startTime)).
		Msg("State query evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return enforcement.Unrestricted, fmt.Errorf("no results from state query")
	}

	name, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return enforcement.Unrestricted, fmt.Errorf("state is not a string: %T", results[0].Expressions[0].Value)
	}

	state, ok := enforcement.ParseState(name)
	if !ok {
		return enforcement.Unrestricted, fmt.Errorf("unknown state %q from policy", name)
	}
	return state, nil
}
