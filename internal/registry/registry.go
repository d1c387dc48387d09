// Package registry holds the static catalogue of tools the assistant can
// call, validates tool arguments against their parameter schemas, and
// converts entries into the model's function-calling shape.
package registry

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/agentoven/opsdesk/pkg/models"
)

// Registry is an immutable, name-keyed tool catalogue. It is safe for
// concurrent use.
type Registry struct {
	tools    []models.ToolMetadata
	byName   map[string]int
	patterns map[string]*regexp.Regexp
}

// ValidationResult collects every violation found in one call.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// New builds a registry. Names must be unique and patterns must compile.
func New(tools []models.ToolMetadata) (*Registry, error) {
	r := &Registry{
		tools:    make([]models.ToolMetadata, 0, len(tools)),
		byName:   make(map[string]int, len(tools)),
		patterns: make(map[string]*regexp.Regexp),
	}
	for _, t := range tools {
		if _, dup := r.byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", t.Name)
		}
		for _, p := range t.Parameters {
			if p.Pattern == "" {
				continue
			}
			if _, ok := r.patterns[p.Pattern]; ok {
				continue
			}
			re, err := regexp.Compile(p.Pattern)
			if err != nil {
				return nil, fmt.Errorf("tool %s parameter %s: bad pattern: %w", t.Name, p.Name, err)
			}
			r.patterns[p.Pattern] = re
		}
		r.byName[t.Name] = len(r.tools)
		r.tools = append(r.tools, t)
	}
	return r, nil
}

var defaultRegistry = mustDefault()

func mustDefault() *Registry {
	r, err := New(builtinTools)
	if err != nil {
		panic(err)
	}
	return r
}

// Default returns the built-in process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Get returns the metadata for name.
func (r *Registry) Get(name string) (*models.ToolMetadata, bool) {
	i, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	t := r.tools[i]
	return &t, true
}

// All returns every tool in catalogue order.
func (r *Registry) All() []models.ToolMetadata {
	out := make([]models.ToolMetadata, len(r.tools))
	copy(out, r.tools)
	return out
}

// Names returns every tool name in catalogue order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.tools))
	for i, t := range r.tools {
		names[i] = t.Name
	}
	return names
}

// ByCategory returns tools of the given category in catalogue order.
func (r *Registry) ByCategory(c models.ToolCategory) []models.ToolMetadata {
	var out []models.ToolMetadata
	for _, t := range r.tools {
		if t.Category == c {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks args against the named tool's parameters. All violations
// are collected; declared parameters are checked in declaration order and
// unknown arguments follow in sorted order.
func (r *Registry) Validate(name string, args map[string]interface{}) ValidationResult {
	tool, ok := r.Get(name)
	if !ok {
		return ValidationResult{Valid: false, Errors: []string{fmt.Sprintf("Unknown tool: %s", name)}}
	}

	errs := make([]string, 0)
	for _, p := range tool.Parameters {
		v, present := args[p.Name]
		if !present || v == nil {
			if p.Required {
				errs = append(errs, fmt.Sprintf("Missing required parameter: %s", p.Name))
			}
			continue
		}
		errs = append(errs, r.checkValue(p, v)...)
	}

	var unknown []string
	for k := range args {
		if _, declared := tool.Parameter(k); !declared {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		errs = append(errs, fmt.Sprintf("Unknown parameter: %s", k))
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// MissingRequired returns the required parameters absent from args, in
// declaration order.
func (r *Registry) MissingRequired(name string, args map[string]interface{}) []models.ToolParameter {
	tool, ok := r.Get(name)
	if !ok {
		return nil
	}
	var missing []models.ToolParameter
	for _, p := range tool.Parameters {
		if v, present := args[p.Name]; p.Required && (!present || v == nil) {
			missing = append(missing, p)
		}
	}
	return missing
}

// CheckParameter validates a single supplied value against p.
func (r *Registry) CheckParameter(p models.ToolParameter, v interface{}) []string {
	return r.checkValue(p, v)
}

func (r *Registry) checkValue(p models.ToolParameter, v interface{}) []string {
	switch p.Type {
	case models.ParamString:
		s, ok := v.(string)
		if !ok {
			return []string{typeMismatch(p)}
		}
		var errs []string
		if len(p.Enum) > 0 && !contains(p.Enum, s) {
			errs = append(errs, fmt.Sprintf("Parameter %s must be one of: %s", p.Name, strings.Join(p.Enum, ", ")))
		}
		if p.Pattern != "" && !r.patterns[p.Pattern].MatchString(s) {
			errs = append(errs, fmt.Sprintf("Parameter %s does not match required pattern %s", p.Name, p.Pattern))
		}
		return errs

	case models.ParamNumber:
		n, ok := toFloat(v)
		if !ok {
			return []string{typeMismatch(p)}
		}
		var errs []string
		if p.Integer && n != math.Trunc(n) {
			errs = append(errs, fmt.Sprintf("Parameter %s must be a whole number", p.Name))
		}
		if len(p.Enum) > 0 && !contains(p.Enum, strconv.FormatFloat(n, 'f', -1, 64)) {
			errs = append(errs, fmt.Sprintf("Parameter %s must be one of: %s", p.Name, strings.Join(p.Enum, ", ")))
		}
		if p.Minimum != nil && n < *p.Minimum {
			errs = append(errs, fmt.Sprintf("Parameter %s must be at least %s", p.Name, formatNumber(*p.Minimum)))
		}
		if p.Maximum != nil && n > *p.Maximum {
			errs = append(errs, fmt.Sprintf("Parameter %s must be at most %s", p.Name, formatNumber(*p.Maximum)))
		}
		return errs

	case models.ParamBoolean:
		if _, ok := v.(bool); !ok {
			return []string{typeMismatch(p)}
		}

	case models.ParamArray:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return []string{typeMismatch(p)}
		}
	}
	return nil
}

func typeMismatch(p models.ToolParameter) string {
	return fmt.Sprintf("Parameter %s must be of type %s", p.Name, p.Type)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
