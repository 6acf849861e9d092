package generate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Rogers-F/storyboard-engine/internal/domain"
)

// ShotListHeader is the heading that introduces the time-coded shot lines.
const ShotListHeader = "## Shot List"

// RequiredSections are the headers a detailed template must contain, in order.
var RequiredSections = []string{
	"## Overview",
	"## Style",
	"## Camera",
	"## Lighting",
	"## Audio",
	ShotListHeader,
}

// leakedHeadings are line prefixes of instructional text that must never
// reach the caller. Matched case-insensitively after trimming.
var leakedHeadings = []string{
	"# instructions",
	"## instructions",
	"### instructions",
	"instructions:",
	"## output format",
	"### output format",
	"output format:",
	"## template",
	"### template",
	"template:",
	"## rules",
	"### rules",
	"rules:",
	"(fill in",
	"note to model",
	"note to the model",
}

var (
	shotLine       = regexp.MustCompile(`^\s*(?:[-*]\s*)?(?:\d+[.)]\s+)?(\d+(?:\.\d+)?)s?\s*(?:-|–|~)\s*(\d+(?:\.\d+)?)s?\s*(?:—|–|-|:)\s*\S`)
	shotListHeader = regexp.MustCompile(`^\s*##\s*Shot List\b`)
)

// TemplateSpec holds the authoritative numbers a template is checked against.
type TemplateSpec struct {
	Count       int
	DurationSec float64
	Variant     domain.TemplateVariant
	Language    string
	Style       domain.Style
}

func (s TemplateSpec) shots() int {
	if s.Count < 1 {
		return 1
	}
	return s.Count
}

// ShotHeaderLine renders the shot-list header for n shots over d seconds.
func ShotHeaderLine(n int, d float64) string {
	unit := "shots"
	if n == 1 {
		unit = "shot"
	}
	return fmt.Sprintf("%s (%d %s / %.2fs)", ShotListHeader, n, unit, d)
}

// Repair strips leaked instructional headings and restates the shot-list
// header from spec. Applying it twice yields the same text as once.
func Repair(text string, spec TemplateSpec) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	header := ShotHeaderLine(spec.shots(), spec.DurationSec)
	for _, line := range lines {
		if isLeakedHeading(line) {
			continue
		}
		if shotListHeader.MatchString(line) {
			out = append(out, header)
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func isLeakedHeading(line string) bool {
	t := strings.ToLower(strings.TrimSpace(line))
	for _, p := range leakedHeadings {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	return false
}

// CheckPlaceholders reports leftover bracket or brace markers.
func CheckPlaceholders(text string) string {
	if strings.ContainsAny(text, "[]{}") {
		return string(domain.ViolationPlaceholders)
	}
	return ""
}

// CheckSections reports required headers that are absent.
func CheckSections(text string) string {
	for _, h := range RequiredSections {
		if !strings.Contains(text, h) {
			return string(domain.ViolationMissingSections)
		}
	}
	return ""
}

// CountShotLines counts lines matching the shot-line form.
func CountShotLines(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		if shotLine.MatchString(line) {
			n++
		}
	}
	return n
}

// CheckShotCount reports a shot-line count other than max(n, 1).
func CheckShotCount(text string, n int) string {
	if n < 1 {
		n = 1
	}
	if got := CountShotLines(text); got != n {
		return fmt.Sprintf("%s:%d", domain.ViolationShotCount, got)
	}
	return ""
}

// Validate repairs text and checks the repaired candidate. The simple
// variant checks placeholders only.
func Validate(text string, spec TemplateSpec) domain.ValidationResult {
	repaired := Repair(text, spec)
	checks := []string{CheckPlaceholders(repaired)}
	if spec.Variant != domain.TemplateSimple {
		checks = append(checks, CheckSections(repaired), CheckShotCount(repaired, spec.shots()))
	}

	var reasons []string
	for _, r := range checks {
		if r != "" {
			reasons = append(reasons, r)
		}
	}
	return domain.ValidationResult{
		Compliant:    len(reasons) == 0,
		Reasons:      reasons,
		RepairedText: repaired,
	}
}
