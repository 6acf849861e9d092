// Package generate turns oracle replies into storyboards that honour their
// cardinality and structure contracts.
package generate

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Rogers-F/storyboard-engine/internal/domain"
	"github.com/Rogers-F/storyboard-engine/internal/logging"
	"github.com/Rogers-F/storyboard-engine/internal/metrics"
	"github.com/Rogers-F/storyboard-engine/internal/oracle"
)

// MaxAttempts bounds the oracle calls the structured path makes per unit.
const MaxAttempts = 3

// Generator wraps an oracle with the cardinality and template loops.
type Generator struct {
	oracle oracle.Client
	logger *zap.Logger
}

// New creates a Generator.
func New(c oracle.Client, logger *zap.Logger) *Generator {
	return &Generator{oracle: c, logger: logging.OrNop(logger)}
}

// SceneResult is the output of the structured path.
type SceneResult struct {
	Units    []domain.StructuredUnit
	Attempts int
	// Repair is RepairTruncate or RepairPad when retries ran out.
	Repair string
}

// Scenes asks for exactly n scenes, retrying with a corrective turn on a
// miscount and repairing the last reply when retries run out. Transport and
// parse failures end the unit immediately. history is not modified.
func (g *Generator) Scenes(ctx context.Context, history []domain.Message, n int) (SceneResult, error) {
	if n < 1 {
		return SceneResult{}, &domain.InputError{Fields: []domain.FieldError{{Field: "scene_count", Message: "must be at least 1"}}}
	}
	msgs := append([]domain.Message(nil), history...)

	var last []domain.StructuredUnit
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		resp, err := g.oracle.Call(ctx, domain.GenerationRequest{
			Messages: append([]domain.Message(nil), msgs...),
			Shape:    SceneShape(n),
			Count:    n,
		})
		if err != nil {
			return SceneResult{Attempts: attempt}, err
		}
		units, err := ParseScenes(resp.Text)
		if err != nil {
			g.logger.Warn("scene envelope rejected", zap.Int("attempt", attempt), zap.Error(err))
			return SceneResult{Attempts: attempt}, err
		}
		if len(units) == n {
			metrics.CardinalityAttempts.Observe(float64(attempt))
			return SceneResult{Units: units, Attempts: attempt}, nil
		}

		g.logger.Debug("scene count mismatch",
			zap.Int("attempt", attempt),
			zap.Int("want", n),
			zap.Int("got", len(units)),
		)
		last = units
		if attempt < MaxAttempts {
			msgs = append(msgs,
				domain.Message{Role: domain.RoleAssistant, Content: resp.Text},
				CountCorrection(n, len(units)),
			)
		}
	}

	fitted, kind := FitCount(last, n)
	metrics.CardinalityAttempts.Observe(MaxAttempts)
	metrics.CardinalityRepairs.WithLabelValues(kind).Inc()
	g.logger.Info("scene count repaired", zap.String("kind", kind), zap.Int("from", len(last)), zap.Int("to", n))
	return SceneResult{Units: fitted, Attempts: MaxAttempts, Repair: kind}, nil
}

// TemplateResult is the output of the template path.
type TemplateResult struct {
	Text        string
	Compliant   bool
	Reasons     []string
	Regenerated bool
	Attempts    int
	// Label is "best-effort" when the returned text is not compliant.
	Label string
}

// BestEffortLabel marks a template returned despite failing validation.
const BestEffortLabel = "best-effort"

// Template generates a free-text template. The text is always repaired and
// has its sentinel values resolved. A non-compliant detailed template gets one
// regeneration; a transport failure there keeps the first text. Only a
// transport failure of the first call is returned as an error.
func (g *Generator) Template(ctx context.Context, history []domain.Message, spec TemplateSpec) (TemplateResult, error) {
	msgs := append([]domain.Message(nil), history...)
	req := domain.GenerationRequest{Shape: domain.OutputShape{Kind: domain.ShapeFreeText}}

	req.Messages = append([]domain.Message(nil), msgs...)
	resp, err := g.oracle.Call(ctx, req)
	if err != nil {
		return TemplateResult{Attempts: 1}, err
	}

	res := Validate(resp.Text, spec)
	out := TemplateResult{Attempts: 1}

	if !res.Compliant && spec.Variant != domain.TemplateSimple {
		g.logger.Info("template not compliant, regenerating", zap.Strings("reasons", res.Reasons))
		msgs = append(msgs,
			domain.Message{Role: domain.RoleAssistant, Content: resp.Text},
			Regeneration(spec, res.Reasons),
		)
		req.Messages = append([]domain.Message(nil), msgs...)
		out.Attempts = 2

		again, err := g.oracle.Call(ctx, req)
		switch {
		case err != nil && errors.Is(err, domain.ErrTransport):
			metrics.TemplateRegenerations.WithLabelValues("transport").Inc()
			g.logger.Warn("template regeneration failed, keeping first text", zap.Error(err))
			res = Validate(res.RepairedText, spec)
		case err != nil:
			return out, err
		default:
			out.Regenerated = true
			res = Validate(again.Text, spec)
			if res.Compliant {
				metrics.TemplateRegenerations.WithLabelValues("compliant").Inc()
			} else {
				metrics.TemplateRegenerations.WithLabelValues("non_compliant").Inc()
			}
		}
	}

	out.Text = SubstituteSentinels(res.RepairedText, spec.Style, spec.Language)
	out.Compliant = res.Compliant
	out.Reasons = res.Reasons
	if !out.Compliant {
		out.Label = BestEffortLabel
	}
	return out, nil
}
