package generate

import (
	"fmt"
	"strings"

	"github.com/Rogers-F/storyboard-engine/internal/domain"
)

// ShotTimings splits d seconds evenly into n "start-end" ranges.
func ShotTimings(n int, d float64) []string {
	if n < 1 {
		n = 1
	}
	out := make([]string, n)
	step := d / float64(n)
	for i := range out {
		out[i] = fmt.Sprintf("%.2f-%.2f", step*float64(i), step*float64(i+1))
	}
	return out
}

func languageName(lang string) string {
	if lang == "ja" {
		return "Japanese"
	}
	return "English"
}

func modeLine(name string, m domain.Mode) string {
	if m == domain.ModeNone {
		return fmt.Sprintf("- %s: leave empty", name)
	}
	return fmt.Sprintf("- %s: choose something fitting", name)
}

func styleLine(st domain.Style) string {
	var parts []string
	for _, kv := range [][2]string{{"genre", st.Genre}, {"mood", st.Mood}, {"pace", st.Pace}, {"palette", st.Palette}} {
		if v := strings.TrimSpace(kv[1]); v != "" && !isSentinel(v) {
			parts = append(parts, kv[0]+"="+v)
		}
	}
	if len(parts) == 0 {
		return "no style constraints"
	}
	return strings.Join(parts, ", ")
}

// ScenesPrompt builds the opening conversation for the structured path.
// extra is appended to the user turn when non-empty.
func ScenesPrompt(b domain.Brief, extra string) []domain.Message {
	var sys strings.Builder
	fmt.Fprintf(&sys, "You write storyboards for short videos. Reply with JSON only: an object with a \"scenes\" array of exactly %d items.\n", b.Count)
	sys.WriteString("Each item has the string fields visual, dialogue, transition and a string array sfx.\n")
	fmt.Fprintf(&sys, "Write in %s.\n", languageName(b.Language))
	sys.WriteString(modeLine("dialogue", b.Dialogue) + "\n")
	sys.WriteString(modeLine("sfx", b.SFX))

	var user strings.Builder
	fmt.Fprintf(&user, "Brief: %s\n", strings.TrimSpace(b.Text))
	fmt.Fprintf(&user, "Scenes: %d\nTotal duration: %.2f seconds\nStyle: %s", b.Count, b.DurationSec, styleLine(b.Style))
	if extra != "" {
		fmt.Fprintf(&user, "\n\n%s", extra)
	}
	return []domain.Message{
		{Role: domain.RoleSystem, Content: sys.String()},
		{Role: domain.RoleUser, Content: user.String()},
	}
}

// CountCorrection is the user turn appended after a miscounted reply.
func CountCorrection(want, got int) domain.Message {
	return domain.Message{
		Role: domain.RoleUser,
		Content: fmt.Sprintf("Your reply had %d scenes. Return the same JSON shape with exactly %d scenes in the \"scenes\" array.",
			got, want),
	}
}

// TemplatePrompt builds the opening conversation for the template path.
func TemplatePrompt(b domain.Brief, extra string) []domain.Message {
	n := b.Count
	if n < 1 {
		n = 1
	}
	var sys strings.Builder
	sys.WriteString("You write video production templates in markdown.\n")
	fmt.Fprintf(&sys, "Write in %s. Use these section headers in this order:\n", languageName(b.Language))
	for _, h := range RequiredSections {
		sys.WriteString(h + "\n")
	}
	fmt.Fprintf(&sys, "Under %s write exactly %d lines of the form \"start-end — description\" with times in seconds.\n", ShotListHeader, n)
	sys.WriteString("Under each section write label lines such as \"Camera: ...\".\n")
	sys.WriteString(modeLine("Dialogue", b.Dialogue) + "\n")
	sys.WriteString(modeLine("SFX", b.SFX) + "\n")
	sys.WriteString(modeLine("Voice", b.Voice))

	var user strings.Builder
	fmt.Fprintf(&user, "Brief: %s\n", strings.TrimSpace(b.Text))
	fmt.Fprintf(&user, "Shots: %d\nTotal duration: %.2f seconds\nSuggested timings: %s\nStyle: %s",
		n, b.DurationSec, strings.Join(ShotTimings(n, b.DurationSec), ", "), styleLine(b.Style))
	if extra != "" {
		fmt.Fprintf(&user, "\n\n%s", extra)
	}
	return []domain.Message{
		{Role: domain.RoleSystem, Content: sys.String()},
		{Role: domain.RoleUser, Content: user.String()},
	}
}

// Regeneration is the stricter user turn sent after a non-compliant template.
func Regeneration(spec TemplateSpec, reasons []string) domain.Message {
	n := spec.shots()
	var b strings.Builder
	fmt.Fprintf(&b, "The previous template was rejected (%s). Rewrite it completely.\n", strings.Join(reasons, ", "))
	b.WriteString("Include every one of these headers exactly as written:\n")
	for _, h := range RequiredSections {
		b.WriteString(h + "\n")
	}
	fmt.Fprintf(&b, "The shot list header must read: %s\n", ShotHeaderLine(n, spec.DurationSec))
	fmt.Fprintf(&b, "Write exactly %d shot lines of the form \"start-end — description\", using: %s\n",
		n, strings.Join(ShotTimings(n, spec.DurationSec), ", "))
	b.WriteString("Do not use square brackets or curly braces anywhere.\n")
	words := append(append([]string{}, Sentinels["en"]...), Sentinels["ja"]...)
	fmt.Fprintf(&b, "Never write these words as a value: %s. Pick concrete values instead.", strings.Join(words, ", "))
	return domain.Message{Role: domain.RoleUser, Content: b.String()}
}

// ReferenceContext renders a reference record as extra prompt context.
func ReferenceContext(ref *domain.GeneratedRecord) string {
	if ref == nil || strings.TrimSpace(ref.Payload) == "" {
		return ""
	}
	return "Keep continuity with this reference storyboard:\n" + ref.Payload
}
