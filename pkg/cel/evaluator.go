package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"ytindexer/pkg/models"
)

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("update", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("video_id", cel.StringType),
		cel.Variable("channel_id", cel.StringType),
		cel.Variable("is_deletion", cel.BoolType),
		cel.Variable("published_at", cel.TimestampType),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) compileBool(expression string) (*cel.Ast, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	return ast, nil
}

// Filter is a compiled boolean expression over a VideoUpdate.
type Filter struct {
	expression string
	program    cel.Program
}

func (e *Evaluator) CompileFilter(expression string) (*Filter, error) {
	ast, err := e.compileBool(expression)
	if err != nil {
		return nil, err
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Filter{expression: expression, program: program}, nil
}

func (f *Filter) Expression() string {
	return f.expression
}

func (f *Filter) Match(ctx context.Context, update models.VideoUpdate) (bool, error) {
	result, _, err := f.program.ContextEval(ctx, UpdateVars(update))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

func UpdateVars(u models.VideoUpdate) map[string]interface{} {
	return map[string]interface{}{
		"update": map[string]interface{}{
			"video_id":     u.VideoID,
			"channel_id":   u.ChannelID,
			"title":        u.Title,
			"url":          u.CanonicalURL,
			"channel_name": u.ChannelName,
			"published_at": u.PublishedAt,
			"updated_at":   u.UpdatedAt,
			"is_deletion":  u.IsDeletion,
		},
		"video_id":     u.VideoID,
		"channel_id":   u.ChannelID,
		"is_deletion":  u.IsDeletion,
		"published_at": u.PublishedAt,
	}
}
