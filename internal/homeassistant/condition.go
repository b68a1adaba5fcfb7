package homeassistant

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// entityIDPattern matches entity references (domain.object_id) inside a
// template expression.
var entityIDPattern = regexp.MustCompile(`\b[a-z_]+\.[a-z0-9_]+\b`)

// TemplateConditions evaluates condition expressions by rendering them as
// Home Assistant templates. It implements engine.ConditionEvaluator.
type TemplateConditions struct {
	client *Client
	stream *EventStream
	logger zerolog.Logger
}

// NewTemplateConditions creates a condition evaluator backed by the
// template API.
func NewTemplateConditions(client *Client, stream *EventStream, logger zerolog.Logger) *TemplateConditions {
	return &TemplateConditions{
		client: client,
		stream: stream,
		logger: logger.With().Str("component", "conditions").Logger(),
	}
}

// Evaluate renders the expression and interprets the result as a boolean.
func (t *TemplateConditions) Evaluate(ctx context.Context, expression string) (bool, error) {
	rendered, err := t.client.RenderTemplate(ctx, expression)
	if err != nil {
		return false, err
	}
	return parseTruthy(rendered)
}

// Subscribe watches every entity referenced by the expression and fires the
// callback whenever any of them changes state.
func (t *TemplateConditions) Subscribe(expression string, fn func()) (cancel func(), err error) {
	entities := referencedEntities(expression)
	if len(entities) == 0 {
		t.logger.Debug().Str("expression", expression).Msg("expression references no entities")
		return func() {}, nil
	}

	cancels := make([]func(), 0, len(entities))
	for _, entityID := range entities {
		cancels = append(cancels, t.stream.Subscribe(entityID, func(string) { fn() }))
	}

	return func() {
		for _, c := range cancels {
			c()
		}
	}, nil
}

// parseTruthy maps rendered template output onto a boolean.
func parseTruthy(rendered string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(rendered)) {
	case "true", "on", "yes", "1":
		return true, nil
	case "false", "off", "no", "0", "":
		return false, nil
	default:
		return false, fmt.Errorf("template result %q is not a boolean", rendered)
	}
}

// referencedEntities extracts the unique entity ids mentioned in an
// expression, in order of first appearance.
func referencedEntities(expression string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, match := range entityIDPattern.FindAllString(expression, -1) {
		if _, ok := seen[match]; ok {
			continue
		}
		seen[match] = struct{}{}
		out = append(out, match)
	}
	return out
}
