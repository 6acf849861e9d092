package ipc

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/Rogers-F/storyboard-engine/internal/config"
	"github.com/Rogers-F/storyboard-engine/internal/domain"
)

// Limits bounds the inbound request contract.
type Limits struct {
	MaxSceneCount  int
	MaxDurationSec float64
	MaxBriefChars  int
}

// LimitsFrom reads the request bounds from cfg.
func LimitsFrom(cfg *config.Config) Limits {
	return Limits{
		MaxSceneCount:  cfg.MaxSceneCount,
		MaxDurationSec: cfg.MaxDurationSec,
		MaxBriefChars:  cfg.MaxBriefChars,
	}
}

// GenerateRequest is the body for POST /api/v1/generate.
type GenerateRequest struct {
	DurationSec float64      `json:"duration_sec" validate:"gt=0"`
	SceneCount  int          `json:"scene_count" validate:"min=1"`
	Brief       string       `json:"brief" validate:"required"`
	Dialogue    string       `json:"dialogue" validate:"omitempty,oneof=auto none"`
	SFX         string       `json:"sfx" validate:"omitempty,oneof=auto none"`
	Voice       string       `json:"voice" validate:"omitempty,oneof=auto none"`
	Output      string       `json:"output" validate:"omitempty,oneof=json natural"`
	Template    string       `json:"template" validate:"omitempty,oneof=detailed simple"`
	Language    string       `json:"language" validate:"omitempty,oneof=en ja"`
	Style       domain.Style `json:"style"`
}

// ViewRequest is one view of a batch request.
type ViewRequest struct {
	ID                string `json:"id" validate:"required"`
	Label             string `json:"label"`
	Instruction       string `json:"instruction"`
	RequiresReference bool   `json:"requires_reference"`
}

// BatchRequest is the body for POST /api/v1/batches.
type BatchRequest struct {
	GenerateRequest
	Views   []ViewRequest `json:"views" validate:"required,min=1,dive"`
	Mode    string        `json:"mode" validate:"omitempty,oneof=sequential parallel"`
	DelayMS *int          `json:"delay_ms" validate:"omitempty,gte=0,lte=60000"`
}

// newValidator builds a validator that reports json field names and applies
// lim to every GenerateRequest, including one embedded in a BatchRequest.
func newValidator(lim Limits) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		req := sl.Current().Interface().(GenerateRequest)
		if lim.MaxSceneCount > 0 && req.SceneCount > lim.MaxSceneCount {
			sl.ReportError(req.SceneCount, "scene_count", "SceneCount", "max", fmt.Sprint(lim.MaxSceneCount))
		}
		if lim.MaxDurationSec > 0 && req.DurationSec > lim.MaxDurationSec {
			sl.ReportError(req.DurationSec, "duration_sec", "DurationSec", "max", fmt.Sprint(lim.MaxDurationSec))
		}
		if req.Brief != "" && strings.TrimSpace(req.Brief) == "" {
			sl.ReportError(req.Brief, "brief", "Brief", "required", "")
		}
		if lim.MaxBriefChars > 0 && utf8.RuneCountInString(req.Brief) > lim.MaxBriefChars {
			sl.ReportError(req.Brief, "brief", "Brief", "max", fmt.Sprint(lim.MaxBriefChars))
		}
	}, GenerateRequest{})
	return v
}

// Validate checks req against the request contract and lim. Violations are
// returned as a *domain.InputError.
func Validate(lim Limits, req interface{}) error {
	if err := newValidator(lim).Struct(req); err != nil {
		return inputError(err)
	}
	return nil
}

// inputError converts validator output into the domain's field-level error.
func inputError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &domain.InputError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, domain.FieldError{
			Field:   fieldPath(fe),
			Message: fieldMessage(fe),
		})
	}
	return out
}

// fieldPath drops the root and embedded struct names from the namespace,
// giving e.g. "views[1].id" or "scene_count".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	ns = strings.TrimPrefix(ns, "GenerateRequest.")
	if ns == "" {
		return fe.Field()
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
		}
		return "must be at least " + fe.Param()
	case "max", "lte":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return "must be at most " + fe.Param()
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}

// ToBrief converts the request into the generation brief, applying defaults.
func (r GenerateRequest) ToBrief() domain.Brief {
	b := domain.Brief{
		Text:        strings.TrimSpace(r.Brief),
		Count:       r.SceneCount,
		DurationSec: r.DurationSec,
		Language:    r.Language,
		Dialogue:    domain.Mode(r.Dialogue),
		SFX:         domain.Mode(r.SFX),
		Voice:       domain.Mode(r.Voice),
		Variant:     domain.TemplateVariant(r.Template),
		Style:       r.Style,
	}
	if b.Language == "" {
		b.Language = "en"
	}
	if b.Dialogue == "" {
		b.Dialogue = domain.ModeAuto
	}
	if b.SFX == "" {
		b.SFX = domain.ModeAuto
	}
	if b.Voice == "" {
		b.Voice = domain.ModeAuto
	}
	if b.Variant == "" {
		b.Variant = domain.TemplateDetailed
	}
	return b
}

// Natural reports whether the free-text template path was requested.
func (r GenerateRequest) Natural() bool { return r.Output == "natural" }

// ViewSpecs returns the requested views in input order.
func (r BatchRequest) ViewSpecs() []domain.ViewSpec {
	out := make([]domain.ViewSpec, len(r.Views))
	for i, v := range r.Views {
		out[i] = domain.ViewSpec{
			ID:                v.ID,
			Label:             v.Label,
			Instruction:       v.Instruction,
			RequiresReference: v.RequiresReference,
		}
	}
	return out
}
