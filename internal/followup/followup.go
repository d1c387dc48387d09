// Package followup turns incomplete or invalid tool calls, and free-text
// requests, into questions the assistant can put back to the user.
package followup

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/agentoven/opsdesk/internal/registry"
	"github.com/agentoven/opsdesk/pkg/models"
)

// maxHints caps the suggestion and candidate lists.
const maxHints = 3

// Generator produces follow-up questions from the tool registry. Output is
// deterministic for a given input.
type Generator struct {
	registry *registry.Registry
}

// New creates a generator over reg.
func New(reg *registry.Registry) *Generator {
	return &Generator{registry: reg}
}

// Generate returns the questions needed to complete a call to toolName.
// Missing required parameters come first, then supplied parameters that
// fail validation, each group in declaration order. A complete and valid
// call yields at most one low-priority suggestion.
func (g *Generator) Generate(toolName string, args map[string]interface{}) []models.FollowUpQuestion {
	tool, ok := g.registry.Get(toolName)
	if !ok {
		return []models.FollowUpQuestion{{
			ID:          questionID(toolName, models.QuestionClarification, ""),
			Question:    fmt.Sprintf("I don't know a tool called %q. Which operation did you mean?", toolName),
			ToolName:    toolName,
			Type:        models.QuestionClarification,
			Priority:    models.PriorityHigh,
			Suggestions: g.registry.Names(),
		}}
	}

	var missing, invalid []models.FollowUpQuestion
	for _, p := range tool.Parameters {
		v, present := args[p.Name]
		if !present || v == nil {
			if p.Required {
				missing = append(missing, missingQuestion(tool.Name, p))
			}
			continue
		}
		if errs := g.registry.CheckParameter(p, v); len(errs) > 0 {
			invalid = append(invalid, invalidQuestion(tool.Name, p, v, errs))
		}
	}

	out := append(missing, invalid...)
	if len(out) > 0 {
		return out
	}
	if s, ok := suggestion(*tool, args); ok {
		return []models.FollowUpQuestion{s}
	}
	return []models.FollowUpQuestion{}
}

func missingQuestion(tool string, p models.ToolParameter) models.FollowUpQuestion {
	parts := []string{fmt.Sprintf("What %s should I use?", humanize(p.Name))}
	if p.Description != "" {
		parts = append(parts, strings.TrimSuffix(p.Description, ".")+".")
	}
	parts = append(parts, hints(p)...)

	q := models.FollowUpQuestion{
		ID:          questionID(tool, models.QuestionMissingRequired, p.Name),
		Question:    strings.Join(parts, " "),
		Parameter:   p.Name,
		ToolName:    tool,
		Type:        models.QuestionMissingRequired,
		Priority:    models.PriorityHigh,
		Suggestions: p.Enum,
	}
	if p.Example != nil {
		q.Examples = []string{fmt.Sprint(p.Example)}
	}
	return q
}

func invalidQuestion(tool string, p models.ToolParameter, v interface{}, errs []string) models.FollowUpQuestion {
	parts := []string{fmt.Sprintf("The %s %q isn't valid: %s.", humanize(p.Name), fmt.Sprint(v), strings.Join(errs, "; "))}
	parts = append(parts, hints(p)...)

	q := models.FollowUpQuestion{
		ID:          questionID(tool, models.QuestionValidationError, p.Name),
		Question:    strings.Join(parts, " "),
		Parameter:   p.Name,
		ToolName:    tool,
		Type:        models.QuestionValidationError,
		Priority:    models.PriorityMedium,
		Suggestions: p.Enum,
	}
	if p.Example != nil {
		q.Examples = []string{fmt.Sprint(p.Example)}
	}
	return q
}

// hints renders enum, example, pattern and range constraints.
func hints(p models.ToolParameter) []string {
	var out []string
	if len(p.Enum) > 0 {
		out = append(out, "Options: "+strings.Join(p.Enum, ", ")+".")
	}
	if p.Example != nil {
		out = append(out, fmt.Sprintf("For example: %v.", p.Example))
	}
	if p.Pattern != "" {
		out = append(out, fmt.Sprintf("It must match %s.", p.Pattern))
	}
	switch {
	case p.Minimum != nil && p.Maximum != nil:
		out = append(out, fmt.Sprintf("It must be between %v and %v.", *p.Minimum, *p.Maximum))
	case p.Minimum != nil:
		out = append(out, fmt.Sprintf("It must be at least %v.", *p.Minimum))
	case p.Maximum != nil:
		out = append(out, fmt.Sprintf("It must be at most %v.", *p.Maximum))
	}
	return out
}

// suggestion offers the unused optional parameters of a complete call.
func suggestion(tool models.ToolMetadata, args map[string]interface{}) (models.FollowUpQuestion, bool) {
	var items []string
	for _, p := range tool.Parameters {
		if _, set := args[p.Name]; set || p.Required {
			continue
		}
		switch {
		case len(p.Enum) > 0:
			items = append(items, fmt.Sprintf("%s: %s", p.Name, strings.Join(p.Enum, ", ")))
		case p.Example != nil:
			items = append(items, fmt.Sprintf("%s: e.g. %v", p.Name, p.Example))
		default:
			items = append(items, p.Name)
		}
	}
	examples := tool.Examples
	if len(items) == 0 && len(examples) == 0 {
		return models.FollowUpQuestion{}, false
	}
	if len(items) > maxHints {
		items = items[:maxHints]
	}
	if len(examples) > maxHints {
		examples = examples[:maxHints]
	}
	return models.FollowUpQuestion{
		ID:          questionID(tool.Name, models.QuestionSuggestion, ""),
		Question:    fmt.Sprintf("Would you like to refine %s further?", tool.Name),
		ToolName:    tool.Name,
		Type:        models.QuestionSuggestion,
		Priority:    models.PriorityLow,
		Suggestions: items,
		Examples:    examples,
	}, true
}

// ── Contextual ───────────────────────────────────────────────

type keywordRule struct {
	category models.ToolCategory
	patterns []*regexp.Regexp
}

var keywordTable = []keywordRule{
	rule(models.CategoryLogs, "log", "logs", "error", "errors", "exception", "exceptions", "stack trace", "debug", "warning", "warnings"),
	rule(models.CategoryMetrics, "metric", "metrics", "cpu", "memory", "latency", "throughput", "performance", "usage", "load"),
	rule(models.CategoryDeployment, "deploy", "deploying", "release", "ship", "rollout", "roll out", "launch", "version"),
	rule(models.CategoryRollback, "rollback", "roll back", "revert", "undo", "restore", "previous version"),
}

func rule(c models.ToolCategory, words ...string) keywordRule {
	r := keywordRule{category: c}
	for _, w := range words {
		r.patterns = append(r.patterns, regexp.MustCompile(`\b`+regexp.QuoteMeta(w)+`\b`))
	}
	return r
}

// GenerateContextual derives questions from free text. A tool name, or a
// category name, that appears verbatim selects that tool directly;
// otherwise the text is keyword-matched to shortlist at most three tools.
func (g *Generator) GenerateContextual(text string, available []models.ToolMetadata) []models.FollowUpQuestion {
	lower := strings.ToLower(text)

	for _, t := range available {
		if containsWord(lower, t.Name) {
			return g.Generate(t.Name, nil)
		}
	}

	var direct []models.FollowUpQuestion
	for _, t := range available {
		if containsWord(lower, string(t.Category)) {
			direct = append(direct, g.Generate(t.Name, nil)...)
		}
	}
	if len(direct) > 0 {
		return direct
	}

	scores := make(map[models.ToolCategory]int)
	for _, r := range keywordTable {
		for _, re := range r.patterns {
			if re.MatchString(lower) {
				scores[r.category]++
			}
		}
	}
	if len(scores) == 0 {
		return []models.FollowUpQuestion{}
	}

	type candidate struct {
		tool  models.ToolMetadata
		score int
		order int
	}
	var cands []candidate
	for i, t := range available {
		if s := scores[t.Category]; s > 0 {
			cands = append(cands, candidate{tool: t, score: s, order: i})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].order < cands[j].order
	})
	if len(cands) > maxHints {
		cands = cands[:maxHints]
	}

	out := make([]models.FollowUpQuestion, 0, len(cands))
	for _, c := range cands {
		examples := c.tool.Examples
		if len(examples) > maxHints {
			examples = examples[:maxHints]
		}
		out = append(out, models.FollowUpQuestion{
			ID:       questionID(c.tool.Name, models.QuestionSuggestion, "context"),
			Question: fmt.Sprintf("Would you like me to use %s? %s.", c.tool.Name, strings.TrimSuffix(c.tool.Description, ".")),
			ToolName: c.tool.Name,
			Type:     models.QuestionSuggestion,
			Priority: models.PriorityMedium,
			Examples: examples,
		})
	}
	return out
}

func containsWord(text, word string) bool {
	idx := strings.Index(text, word)
	for idx >= 0 {
		end := idx + len(word)
		if (idx == 0 || !isWordByte(text[idx-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		next := strings.Index(text[idx+1:], word)
		if next < 0 {
			break
		}
		idx += next + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// ── Display ──────────────────────────────────────────────────

// FormatForDisplay renders each question with its suggestions and then
// its examples as bulleted sub-lists.
func FormatForDisplay(questions []models.FollowUpQuestion) []string {
	out := make([]string, 0, len(questions))
	for _, q := range questions {
		var b strings.Builder
		b.WriteString(q.Question)
		if len(q.Suggestions) > 0 {
			b.WriteString("\n  Suggestions:")
			for _, s := range q.Suggestions {
				b.WriteString("\n    • " + s)
			}
		}
		if len(q.Examples) > 0 {
			b.WriteString("\n  Examples:")
			for _, e := range q.Examples {
				b.WriteString("\n    • " + e)
			}
		}
		out = append(out, b.String())
	}
	return out
}

func questionID(tool string, typ models.QuestionType, param string) string {
	if param == "" {
		return fmt.Sprintf("%s:%s", tool, typ)
	}
	return fmt.Sprintf("%s:%s:%s", tool, typ, param)
}

func humanize(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}
