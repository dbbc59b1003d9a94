package classifier

import (
	"context"
	"fmt"
	"strings"

	"eino_session_agent/internal/config"
	"eino_session_agent/internal/llm"
	"eino_session_agent/internal/metrics"
	"eino_session_agent/pkg"
	"eino_session_agent/src/logger"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// DefaultInstruction is the classification prompt used when the routing config has none
const DefaultInstruction = `You are a question classifier. Determine which category this question belongs to.

Categories:
{categories}

Question: "{query}"

Answer with exactly one word: {choices}`

// Rule maps a category to the keywords that select it without a model call
type Rule struct {
	Category    pkg.Category
	Description string
	Keywords    []string
}

// RulesFromRouting builds one rule per configured route, in config order
func RulesFromRouting(routing config.RoutingConfig) []Rule {
	rules := make([]Rule, 0, len(routing.Routes))
	for _, route := range routing.Routes {
		rules = append(rules, Rule{
			Category:    pkg.Category(route.Name),
			Description: route.Description,
			Keywords:    route.Keywords,
		})
	}
	return rules
}

// Classifier assigns a category to a query: keyword rules first, the model for the rest
type Classifier struct {
	completer llm.Completer
	rules     []Rule
	template  prompt.ChatTemplate
	known     map[pkg.Category]bool
	metrics   *metrics.Recorder
}

type Option func(*Classifier)

// WithInstruction replaces DefaultInstruction
func WithInstruction(instruction string) Option {
	return func(c *Classifier) {
		if strings.TrimSpace(instruction) != "" {
			c.template = newTemplate(instruction)
		}
	}
}

func WithMetrics(recorder *metrics.Recorder) Option {
	return func(c *Classifier) {
		c.metrics = recorder
	}
}

// New creates a classifier. Keywords are matched case-insensitively.
func New(completer llm.Completer, rules []Rule, opts ...Option) *Classifier {
	c := &Classifier{
		completer: completer,
		template:  newTemplate(DefaultInstruction),
		known:     make(map[pkg.Category]bool, len(rules)),
	}

	for _, rule := range rules {
		keywords := make([]string, 0, len(rule.Keywords))
		for _, kw := range rule.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				keywords = append(keywords, kw)
			}
		}
		c.rules = append(c.rules, Rule{Category: rule.Category, Description: rule.Description, Keywords: keywords})
		c.known[rule.Category] = true
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newTemplate(instruction string) prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString, schema.UserMessage(instruction))
}

// Classify never fails: any model error yields pkg.CategoryOther
func (c *Classifier) Classify(ctx context.Context, query string) pkg.Category {
	log := logger.Ctx(ctx)

	if category, ok := c.ClassifyByRules(query); ok {
		log.Info().Str("query", preview(query)).Str("category", string(category)).Msg("Rule-based classification")
		c.metrics.ObserveClassification(metrics.MethodRules, string(category))
		return category
	}

	category, err := c.classifyByModel(ctx, query)
	if err != nil {
		log.Warn().Err(err).Msg("Classification failed, defaulting to other")
		c.metrics.ObserveClassification(metrics.MethodFallback, string(pkg.CategoryOther))
		return pkg.CategoryOther
	}

	log.Info().Str("query", preview(query)).Str("category", string(category)).Msg("Model classification")
	c.metrics.ObserveClassification(metrics.MethodModel, string(category))
	return category
}

// ClassifyByRules returns the category of the first rule with a keyword contained in query
func (c *Classifier) ClassifyByRules(query string) (pkg.Category, bool) {
	q := strings.ToLower(query)
	for _, rule := range c.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(q, kw) {
				return rule.Category, true
			}
		}
	}
	return "", false
}

func (c *Classifier) classifyByModel(ctx context.Context, query string) (pkg.Category, error) {
	if len(c.rules) == 0 {
		return pkg.CategoryOther, nil
	}

	messages, err := c.template.Format(ctx, map[string]any{
		"query":      query,
		"categories": c.categoryList(),
		"choices":    c.choices(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: format prompt: %w", pkg.ErrClassification, err)
	}

	answer, err := c.completer.Complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %w", pkg.ErrClassification, err)
	}

	category := pkg.Category(strings.ToLower(strings.TrimSpace(answer)))
	if !c.known[category] {
		return pkg.CategoryOther, nil
	}
	return category, nil
}

func (c *Classifier) categoryList() string {
	var b strings.Builder
	for _, rule := range c.rules {
		fmt.Fprintf(&b, "- %s", rule.Category)
		if rule.Description != "" {
			fmt.Fprintf(&b, ": %s", rule.Description)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "- %s: anything else", pkg.CategoryOther)
	return b.String()
}

// choices renders `"a", "b" or "other"`
func (c *Classifier) choices() string {
	names := make([]string, 0, len(c.rules)+1)
	for _, rule := range c.rules {
		names = append(names, fmt.Sprintf("%q", rule.Category))
	}
	last := fmt.Sprintf("%q", pkg.CategoryOther)
	if len(names) == 0 {
		return last
	}
	return strings.Join(names, ", ") + " or " + last
}

func preview(s string) string {
	const limit = 30
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
