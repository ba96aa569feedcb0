package detectors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"focuswatch/internal/rules/models"
)

// ExpressionSpec declares an operator-defined rule evaluated with CEL. The
// expression sees:
//
//	counts         map(string, int)  events per type
//	total          int               events in the window
//	span_minutes   double            minutes between first and last event
//	distinct_apps  int               number of distinct apps
type ExpressionSpec struct {
	ID              string          `yaml:"id"`
	Description     string          `yaml:"description"`
	Expression      string          `yaml:"expression"`
	Title           string          `yaml:"title"`
	Severity        models.Severity `yaml:"severity"`
	Confidence      float64         `yaml:"confidence"`
	SuggestedAction string          `yaml:"suggested_action"`
}

var ErrInvalidExpression = errors.New("invalid expression rule")

// Expression is a compiled ExpressionSpec.
type Expression struct {
	spec    ExpressionSpec
	program cel.Program
}

func newExpressionEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("counts", cel.MapType(cel.StringType, cel.IntType)),
		cel.Variable("total", cel.IntType),
		cel.Variable("span_minutes", cel.DoubleType),
		cel.Variable("distinct_apps", cel.IntType),
	)
}

// CompileExpression type-checks spec and prepares a program with a cost limit.
func CompileExpression(spec ExpressionSpec) (*Expression, error) {
	spec.ID = strings.TrimSpace(spec.ID)
	if spec.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidExpression)
	}
	if spec.Severity == "" {
		spec.Severity = models.SeverityLow
	}
	if !spec.Severity.IsValid() {
		return nil, fmt.Errorf("%w: %s: severity %q", ErrInvalidExpression, spec.ID, spec.Severity)
	}
	if spec.Confidence <= 0 || spec.Confidence > 1 {
		return nil, fmt.Errorf("%w: %s: confidence must be in (0, 1]", ErrInvalidExpression, spec.ID)
	}
	if spec.Title == "" {
		spec.Title = spec.ID
	}

	env, err := newExpressionEnv()
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	ast, issues := env.Compile(spec.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidExpression, spec.ID, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w: %s: expression must return bool, got %s", ErrInvalidExpression, spec.ID, ast.OutputType())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidExpression, spec.ID, err)
	}
	return &Expression{spec: spec, program: prg}, nil
}

func (r *Expression) ID() string { return r.spec.ID }

func (r *Expression) Description() string {
	if r.spec.Description != "" {
		return r.spec.Description
	}
	return r.spec.Expression
}

func (r *Expression) Detect(w models.Window, _ *models.History) ([]models.Candidate, error) {
	if len(w.Events) == 0 {
		return nil, nil
	}
	counts := make(map[string]int64)
	apps := make(map[string]struct{})
	for _, e := range w.Events {
		counts[string(e.Type)]++
		if app := e.App(); app != "" {
			apps[app] = struct{}{}
		}
	}
	span := w.Events[len(w.Events)-1].Timestamp.Sub(w.Events[0].Timestamp)

	out, _, err := r.program.Eval(map[string]any{
		"counts":        counts,
		"total":         int64(len(w.Events)),
		"span_minutes":  span.Minutes(),
		"distinct_apps": int64(len(apps)),
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return nil, fmt.Errorf("expression returned %T", out.Value())
	}
	if !matched {
		return nil, nil
	}

	evidence := []models.Evidence{{
		Timestamp: w.Events[0].Timestamp,
		Summary:   fmt.Sprintf("%d events across %d apps in %.0f minutes", len(w.Events), len(apps), span.Minutes()),
	}}
	for _, e := range lastN(w.Events, 5) {
		evidence = append(evidence, models.EvidenceFor(e))
	}
	return []models.Candidate{{
		RuleID:          r.spec.ID,
		Title:           r.spec.Title,
		Description:     r.Description(),
		Severity:        r.spec.Severity,
		Confidence:      r.spec.Confidence,
		Evidence:        evidence,
		SuggestedAction: r.spec.SuggestedAction,
	}}, nil
}
