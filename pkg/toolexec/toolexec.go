// Package toolexec loads tool definitions and dispatches typed, validated
// queries to the storage engine on behalf of agents.
package toolexec

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParamType is one of the typed parameter kinds a tool definition declares.
type ParamType string

const (
	ParamKeyword ParamType = "keyword"
	ParamInteger ParamType = "integer"
	ParamDouble  ParamType = "double"
	ParamDate    ParamType = "date"
)

// ParamSpec describes one tool parameter.
type ParamSpec struct {
	Name     string
	Type     ParamType
	Required bool
	Default  any
}

// ToolDefinition describes a storage-backed tool: its query template and
// the parameters it accepts. LookupJoinTechPreview marks tools whose query
// uses the LOOKUP JOIN preview syntax, which may be unsupported by the
// backing engine -- those get routed through a FallbackQuerier on failure.
type ToolDefinition struct {
	ID                     string
	Query                  string
	Params                 []ParamSpec
	LookupJoinTechPreview  bool
}

// Loader resolves a tool definition by name. The concrete implementation
// reads definitions from disk, one file per tool, keyed by name.
type Loader interface {
	Load(name string) (*ToolDefinition, error)
}

// Querier issues the resolved query to the storage engine via its
// transportRequest-equivalent surface.
type Querier interface {
	RawQuery(ctx context.Context, query string, args ...any) (Rows, error)
}

// Rows is the minimal result-set surface toolexec needs; *sql.Rows
// satisfies it.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Columns() ([]string, error)
	Err() error
	Close() error
}

// FallbackQuerier serves a tool's query through an application-level path
// when the storage engine rejects a lookupJoinTechPreview query as
// unsupported. No in-pack example or original_source material specified
// what that fallback path should actually do, so it defaults to reporting
// unavailability rather than silently returning an empty result.
type FallbackQuerier interface {
	Query(ctx context.Context, toolID string, params map[string]any) (Rows, error)
}

// unsupportedLookupReasons are the storage-engine error substrings that
// indicate a LOOKUP JOIN query isn't supported by this deployment.
var unsupportedLookupReasons = []string{
	"unknown command [lookup]",
	"lookup_join",
	"parsing_exception",
}

// Executor coerces parameters and dispatches a tool's query.
type Executor struct {
	loader   Loader
	querier  Querier
	fallback FallbackQuerier
}

func NewExecutor(loader Loader, querier Querier, fallback FallbackQuerier) *Executor {
	return &Executor{loader: loader, querier: querier, fallback: fallback}
}

// ErrFallbackUnavailable is returned when a lookupJoinTechPreview tool's
// query is rejected as unsupported and no FallbackQuerier was configured.
var ErrFallbackUnavailable = fmt.Errorf("tool requires a LOOKUP JOIN fallback but none is configured")

// Execute loads toolID's definition, coerces params against its spec, and
// runs the resulting query, falling back for unsupported LOOKUP JOIN tools.
func (e *Executor) Execute(ctx context.Context, toolID string, rawParams map[string]any) (Rows, error) {
	def, err := e.loader.Load(toolID)
	if err != nil {
		return nil, fmt.Errorf("load tool %s: %w", toolID, err)
	}

	coerced, err := coerceParams(def.Params, rawParams)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", toolID, err)
	}

	args := make([]any, 0, len(coerced))
	for _, p := range def.Params {
		if v, ok := coerced[p.Name]; ok {
			args = append(args, v)
		}
	}

	rows, err := e.querier.RawQuery(ctx, def.Query, args...)
	if err == nil {
		return rows, nil
	}

	if def.LookupJoinTechPreview && isUnsupportedLookup(err) {
		if e.fallback == nil {
			return nil, ErrFallbackUnavailable
		}
		return e.fallback.Query(ctx, toolID, coerced)
	}

	return nil, fmt.Errorf("tool %s query failed: %w", toolID, err)
}

func isUnsupportedLookup(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, reason := range unsupportedLookupReasons {
		if strings.Contains(msg, strings.ToLower(reason)) {
			return true
		}
	}
	return false
}

// coerceParams applies each ParamSpec's typed coercion rule, returning
// the first error encountered (parameter coercion, unlike contract
// validation, fails fast -- a malformed parameter makes the whole query
// meaningless).
func coerceParams(specs []ParamSpec, raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(specs))
	for _, spec := range specs {
		value, present := raw[spec.Name]
		if !present {
			if spec.Required {
				return nil, fmt.Errorf("missing required parameter %q", spec.Name)
			}
			if spec.Default != nil {
				out[spec.Name] = spec.Default
			}
			continue
		}

		coerced, err := coerceOne(spec, value)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", spec.Name, err)
		}
		out[spec.Name] = coerced
	}
	return out, nil
}

func coerceOne(spec ParamSpec, value any) (any, error) {
	switch spec.Type {
	case ParamKeyword:
		if arr, ok := value.([]any); ok {
			return arr, nil // pass-through for IN clauses
		}
		if arr, ok := value.([]string); ok {
			return arr, nil
		}
		return fmt.Sprintf("%v", value), nil

	case ParamInteger:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return v, nil
		case float64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("value %v is not an integer", v)
			}
			return int64(v), nil
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("value %q is not an integer", v)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("value %v is not numeric", v)
		}

	case ParamDouble:
		switch v := value.(type) {
		case float64:
			if v != v { // NaN
				return nil, fmt.Errorf("value is NaN")
			}
			return v, nil
		case int:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f != f {
				return nil, fmt.Errorf("value %q is not a valid double", v)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("value %v is not numeric", v)
		}

	case ParamDate:
		switch v := value.(type) {
		case time.Time:
			return v, nil
		case string:
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, fmt.Errorf("value %q is not an ISO-8601 date", v)
			}
			return t, nil
		default:
			return nil, fmt.Errorf("value %v is not a date", v)
		}

	default:
		return nil, fmt.Errorf("unknown parameter type %q", spec.Type)
	}
}
