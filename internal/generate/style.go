package generate

import (
	"regexp"
	"strings"

	"github.com/Rogers-F/storyboard-engine/internal/domain"
)

// SectionLabels are the "<Label>: <value>" lines whose value may be the
// auto sentinel.
var SectionLabels = []string{"Style", "Camera", "Lighting", "Mood", "Music", "Voice", "SFX", "Dialogue", "Transition"}

// Sentinels are the literal words that mean "pick something for me".
var Sentinels = map[string][]string{
	"en": {"auto", "automatic", "unspecified"},
	"ja": {"自動", "おまかせ", "指定なし"},
}

var sentinelLine = buildSentinelLine()

func buildSentinelLine() *regexp.Regexp {
	labels := make([]string, len(SectionLabels))
	for i, l := range SectionLabels {
		labels[i] = regexp.QuoteMeta(l)
	}
	var words []string
	for _, ws := range Sentinels {
		for _, w := range ws {
			words = append(words, regexp.QuoteMeta(w))
		}
	}
	// Bold markers may wrap the label alone or the label and its colon.
	return regexp.MustCompile(`^(\s*(?:[-*]\s+)?(?:\*\*)?(?i:(` + strings.Join(labels, "|") + `))(?:\*\*)?\s*[:：]\s*(?:\*\*)?\s*)` +
		`(?i:` + strings.Join(words, "|") + `)(\*\*)?\s*[.。]?\s*$`)
}

// canonicalLabel maps a matched label in any case to its SectionLabels entry.
func canonicalLabel(label string) string {
	for _, l := range SectionLabels {
		if strings.EqualFold(l, label) {
			return l
		}
	}
	return label
}

// SubstituteSentinels replaces sentinel values on recognized label lines with
// phrasing derived from st and lang. Other lines pass through unchanged.
func SubstituteSentinels(text string, st domain.Style, lang string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		m := sentinelLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lines[i] = m[1] + Resolve(canonicalLabel(m[2]), st, lang) + m[3]
	}
	return strings.Join(lines, "\n")
}

// ContainsSentinel reports whether any recognized label line still carries a
// sentinel value.
func ContainsSentinel(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if sentinelLine.MatchString(line) {
			return true
		}
	}
	return false
}

type phrase struct{ en, ja string }

var paceCamera = map[string]phrase{
	"fast":   {"handheld tracking with quick cuts", "手持ちの追従ショットと素早いカット"},
	"slow":   {"slow dolly and long static takes", "ゆっくりとしたドリーと長回し"},
	"medium": {"steady medium shots with gentle pans", "安定したミディアムショットと穏やかなパン"},
}

var moodLighting = map[string]phrase{
	"dark":     {"low-key lighting with hard shadows", "硬い影のローキー照明"},
	"warm":     {"warm golden-hour light", "暖かなゴールデンアワーの光"},
	"calm":     {"soft diffused daylight", "柔らかな拡散光"},
	"tense":    {"high-contrast side lighting", "ハイコントラストのサイドライト"},
	"cheerful": {"bright even key light", "明るく均一なキーライト"},
}

var moodMusic = map[string]phrase{
	"dark":     {"low drones and sparse percussion", "低いドローンとまばらな打楽器"},
	"warm":     {"acoustic guitar and light strings", "アコースティックギターと軽い弦楽"},
	"calm":     {"ambient piano", "アンビエントピアノ"},
	"tense":    {"pulsing synth ostinato", "脈打つシンセのオスティナート"},
	"cheerful": {"upbeat ukulele and claps", "軽快なウクレレと手拍子"},
}

var fallback = map[string]phrase{
	"Style":      {"cinematic", "シネマティック"},
	"Camera":     {"steady medium shots with gentle pans", "安定したミディアムショットと穏やかなパン"},
	"Lighting":   {"natural soft light", "自然で柔らかな光"},
	"Mood":       {"neutral", "ニュートラル"},
	"Music":      {"light ambient score", "控えめなアンビエント音楽"},
	"Voice":      {"calm narrator voice", "落ち着いたナレーション"},
	"SFX":        {"subtle ambient sound", "控えめな環境音"},
	"Dialogue":   {"brief natural lines", "短く自然な台詞"},
	"Transition": {"straight cut", "カット"},
}

// Resolve derives a concrete value for label from style attributes. It is a
// pure function of its inputs and never returns a sentinel word.
func Resolve(label string, st domain.Style, lang string) string {
	key := strings.ToLower(strings.TrimSpace(st.Mood))
	var p phrase
	var ok bool
	switch label {
	case "Style":
		if g := strings.TrimSpace(st.Genre); g != "" && !isSentinel(g) {
			if pal := strings.TrimSpace(st.Palette); pal != "" && !isSentinel(pal) {
				return g + ", " + pal
			}
			return g
		}
	case "Mood":
		if m := strings.TrimSpace(st.Mood); m != "" && !isSentinel(m) {
			return m
		}
	case "Camera":
		p, ok = paceCamera[strings.ToLower(strings.TrimSpace(st.Pace))]
	case "Lighting":
		p, ok = moodLighting[key]
	case "Music":
		p, ok = moodMusic[key]
	}
	if !ok {
		p = fallback[label]
	}
	if lang == "ja" {
		return p.ja
	}
	return p.en
}

func isSentinel(s string) bool {
	for _, ws := range Sentinels {
		for _, w := range ws {
			if strings.EqualFold(s, w) {
				return true
			}
		}
	}
	return false
}
