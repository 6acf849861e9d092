package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Rogers-F/storyboard-engine/internal/domain"
)

// ViewUnit generates one record per batch view from a shared brief.
type ViewUnit struct {
	Gen   *Generator
	Brief domain.Brief
	Kind  domain.RecordKind
}

// Generate runs the configured path for view. The reference record, when
// present, is passed to the oracle as continuity context.
func (u *ViewUnit) Generate(ctx context.Context, view domain.ViewSpec, index int, ref *domain.GeneratedRecord) (domain.GeneratedRecord, error) {
	extra := strings.TrimSpace(strings.Join([]string{
		ReferenceContext(ref),
		viewInstruction(view),
	}, "\n\n"))

	rec := domain.GeneratedRecord{
		ViewID:        view.ID,
		ViewLabel:     view.Label,
		SequenceIndex: index,
		Kind:          u.Kind,
		CreatedAt:     time.Now().Unix(),
	}

	if u.Kind == domain.KindTemplate {
		res, err := u.Gen.Template(ctx, TemplatePrompt(u.Brief, extra), TemplateSpecFor(u.Brief))
		rec.Attempts = res.Attempts
		if err != nil {
			return rec, err
		}
		rec.Payload = res.Text
		return rec, nil
	}

	res, err := u.Gen.Scenes(ctx, ScenesPrompt(u.Brief, extra), u.Brief.Count)
	rec.Attempts = res.Attempts
	if err != nil {
		return rec, err
	}
	rec.Units = ApplyModes(res.Units, u.Brief.Dialogue, u.Brief.SFX)
	payload, err := json.Marshal(rec.Units)
	if err != nil {
		return rec, fmt.Errorf("marshal scenes: %w", err)
	}
	rec.Payload = string(payload)
	return rec, nil
}

// TemplateSpecFor derives the template checks from a brief.
func TemplateSpecFor(b domain.Brief) TemplateSpec {
	return TemplateSpec{
		Count:       b.Count,
		DurationSec: b.DurationSec,
		Variant:     b.Variant,
		Language:    b.Language,
		Style:       b.Style,
	}
}

func viewInstruction(v domain.ViewSpec) string {
	if strings.TrimSpace(v.Instruction) == "" {
		return ""
	}
	label := v.Label
	if label == "" {
		label = v.ID
	}
	return fmt.Sprintf("View %q: %s", label, strings.TrimSpace(v.Instruction))
}
