package generate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Rogers-F/storyboard-engine/internal/domain"
)

// SceneShape is the structured output contract for n scenes.
func SceneShape(n int) domain.OutputShape {
	return domain.OutputShape{
		Kind:   domain.ShapeStructured,
		Name:   "scenes",
		Fields: domain.SceneFields,
		Count:  n,
	}
}

// ParseScenes decodes an oracle reply into scenes. It accepts an object with
// a "scenes" array or a bare array, optionally inside a markdown code fence.
// Any item missing a required field is a parse error.
func ParseScenes(text string) ([]domain.StructuredUnit, error) {
	body := bytes.TrimSpace([]byte(stripFence(text)))
	if len(body) == 0 {
		return nil, parseError("empty body")
	}

	var items []json.RawMessage
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, parseError(err.Error())
		}
	case '{':
		var env map[string]json.RawMessage
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, parseError(err.Error())
		}
		raw, ok := env["scenes"]
		if !ok {
			return nil, parseError(`object has no "scenes" field`)
		}
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, parseError(`"scenes" is not an array`)
		}
	default:
		return nil, parseError("body is not a JSON object or array")
	}

	units := make([]domain.StructuredUnit, 0, len(items))
	for i, raw := range items {
		u, err := decodeUnit(raw)
		if err != nil {
			return nil, parseError(fmt.Sprintf("scene %d: %v", i, err))
		}
		units = append(units, u)
	}
	return units, nil
}

func decodeUnit(raw json.RawMessage) (domain.StructuredUnit, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return domain.StructuredUnit{}, fmt.Errorf("not an object")
	}
	for _, f := range domain.SceneFields {
		if _, ok := fields[f.Name]; !ok {
			return domain.StructuredUnit{}, fmt.Errorf("missing field %q", f.Name)
		}
	}
	var u domain.StructuredUnit
	if err := json.Unmarshal(raw, &u); err != nil {
		return domain.StructuredUnit{}, err
	}
	if u.SFX == nil {
		u.SFX = []string{}
	}
	return u, nil
}

func stripFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(t), "```")
}

func parseError(msg string) error {
	return domain.NewEngineError(domain.ErrEnvelopeParse.Code, domain.ErrEnvelopeParse.Message+": "+msg)
}

// Repair kinds reported by FitCount.
const (
	RepairNone     = ""
	RepairTruncate = "truncate"
	RepairPad      = "pad"
)

// FitCount returns exactly n units: truncated when longer, padded with copies
// of the last unit (or an empty unit) when shorter. The input is not modified.
func FitCount(units []domain.StructuredUnit, n int) ([]domain.StructuredUnit, string) {
	if n < 1 {
		n = 1
	}
	out := make([]domain.StructuredUnit, 0, n)
	for i := 0; i < len(units) && i < n; i++ {
		out = append(out, cloneUnit(units[i]))
	}
	switch {
	case len(units) > n:
		return out, RepairTruncate
	case len(units) == n:
		return out, RepairNone
	}

	filler := domain.StructuredUnit{SFX: []string{}}
	if len(units) > 0 {
		filler = units[len(units)-1]
	}
	for len(out) < n {
		out = append(out, cloneUnit(filler))
	}
	return out, RepairPad
}

// ApplyModes blanks dialogue and sfx fields switched off by mode flags.
func ApplyModes(units []domain.StructuredUnit, dialogue, sfx domain.Mode) []domain.StructuredUnit {
	out := make([]domain.StructuredUnit, len(units))
	for i, u := range units {
		u = cloneUnit(u)
		if dialogue == domain.ModeNone {
			u.Dialogue = ""
		}
		if sfx == domain.ModeNone {
			u.SFX = []string{}
		}
		out[i] = u
	}
	return out
}

func cloneUnit(u domain.StructuredUnit) domain.StructuredUnit {
	u.SFX = append([]string{}, u.SFX...)
	return u
}
