package prompt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const squareHint = "Square image, 1:1 aspect ratio, centered composition."

var (
	jsonBlockRe   = regexp.MustCompile("```(?:json)?\\s*(\\{[\\s\\S]*?\\})\\s*```")
	sectionRe     = regexp.MustCompile(`\*{0,2}###\s*(\d+)\.\s*`)
	markerRe      = regexp.MustCompile(`(?i)🍌\s*Nano\s*Banana\s*Prompt\s*[：:]\s*(?:\*\*)?\s*`)
	markerEndRe   = regexp.MustCompile(`\n\s*(?:[*\-•]\s*)?(?:\*\*|###)|\n\n\n`)
	codeBlockRe   = regexp.MustCompile("```\\w*\\s*([\\s\\S]*?)```")
	boldRe        = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicRe      = regexp.MustCompile(`\*([^*]+)\*`)
	bulletRe      = regexp.MustCompile(`^\s*[*\-•]\s*`)
	heroRe        = regexp.MustCompile(`(?im)^\W*HERO_IMAGE\W*?[:：][\s*]*(\d+)`)
	blankLinesRe  = regexp.MustCompile(`\n\s*\n`)
	headingLineRe = regexp.MustCompile(`^\s*(?:#|[*\-•]|\d+\.)`)
)

// extractJSONPrompts turns each fenced JSON object into one prompt, in order.
// Blocks that do not decode are skipped.
func extractJSONPrompts(analysis string) map[int]Spec {
	out := make(map[int]Spec)
	for _, m := range jsonBlockRe.FindAllStringSubmatch(analysis, -1) {
		var data map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &data); err != nil {
			continue
		}
		text := jsonToPrompt(data)
		if text == "" {
			continue
		}
		i := len(out)
		out[i] = Spec{Index: i, Name: jsonName(data, i), Text: text}
	}
	return out
}

func jsonToPrompt(data map[string]any) string {
	var parts []string
	add := func(format string, v any) {
		if s := flatten(v); s != "" {
			parts = append(parts, fmt.Sprintf(format, s))
		}
	}

	add("%s", data["shot"])

	if subject, ok := data["subject"].(map[string]any); ok {
		var sp []string
		for _, f := range []struct{ key, format string }{
			{"item", "%s"},
			{"colors", "colors: %s"},
			{"materials", "made of %s"},
			{"action", "%s"},
			{"condition", "%s"},
		} {
			if s := flatten(subject[f.key]); s != "" {
				sp = append(sp, fmt.Sprintf(f.format, s))
			}
		}
		if len(sp) > 0 {
			parts = append(parts, strings.Join(sp, ", "))
		}
	}

	add("Environment: %s", data["environment"])

	if camera, ok := data["camera"].(map[string]any); ok {
		var cp []string
		for _, key := range []string{"focal_length", "aperture", "angle"} {
			if s := flatten(camera[key]); s != "" {
				cp = append(cp, s)
			}
		}
		if len(cp) > 0 {
			parts = append(parts, "Shot with "+strings.Join(cp, ", "))
		}
	}

	add("Lighting: %s", data["lighting"])
	add("Color grade: %s", data["color_grade"])
	add("Style: %s", data["style"])
	add("%s", data["quality"])
	add("Avoid: %s", data["negatives"])

	return strings.Join(parts, ". ")
}

func jsonName(data map[string]any, index int) string {
	if s := flatten(data["style"]); s != "" {
		return truncateRunes(s, 40)
	}
	if subject, ok := data["subject"].(map[string]any); ok {
		if s := flatten(subject["item"]); s != "" {
			return truncateRunes(s, 40)
		}
	}
	return fmt.Sprintf("Prompt %d", index+1)
}

// flatten renders a decoded JSON value as prompt text.
func flatten(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []any:
		items := make([]string, 0, len(t))
		for _, item := range t {
			if s := flatten(item); s != "" {
				items = append(items, s)
			}
		}
		return strings.Join(items, ", ")
	case map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// extractSectionPrompts reads "### N. Name" sections. N is 1-based and maps
// to slot N-1.
func extractSectionPrompts(analysis string) map[int]Spec {
	out := make(map[int]Spec)
	locs := sectionRe.FindAllStringSubmatchIndex(analysis, -1)
	for i, loc := range locs {
		n, err := strconv.Atoi(analysis[loc[2]:loc[3]])
		if err != nil || n < 1 {
			continue
		}
		end := len(analysis)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := analysis[loc[1]:end]

		text := sectionPrompt(body)
		if text == "" {
			continue
		}
		if _, dup := out[n-1]; dup {
			continue
		}
		out[n-1] = Spec{Index: n - 1, Name: sectionName(body), Text: text}
	}
	return out
}

func sectionName(body string) string {
	line := strings.TrimSpace(body)
	if i := strings.IndexAny(line, "\n*"); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

func sectionPrompt(body string) string {
	if loc := markerRe.FindStringIndex(body); loc != nil {
		rest := body[loc[1]:]
		if end := markerEndRe.FindStringIndex(rest); end != nil {
			rest = rest[:end[0]]
		}
		if p := cleanPrompt(rest); p != "" {
			return p
		}
	}
	for _, m := range codeBlockRe.FindAllStringSubmatch(body, -1) {
		block := strings.TrimSpace(m[1])
		if utf8.RuneCountInString(block) > 50 && !strings.HasPrefix(block, "{") {
			return cleanPrompt(block)
		}
	}
	return ""
}

// cleanPrompt strips markdown, joins lines and makes sure the square framing
// hint is present.
func cleanPrompt(raw string) string {
	p := boldRe.ReplaceAllString(raw, "$1")
	p = italicRe.ReplaceAllString(p, "$1")

	var lines []string
	for _, line := range strings.Split(p, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	p = bulletRe.ReplaceAllString(strings.Join(lines, " "), "")
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if !strings.Contains(p, "1:1") && !strings.Contains(strings.ToLower(p), "square") {
		p = strings.TrimRight(p, ".") + ". " + squareHint
	}
	return p
}

// heroIndex reads the 1-based HERO_IMAGE line and returns a 0-based index
// into n images. Anything unusable selects the first image.
func heroIndex(analysis string, n int) int {
	m := heroRe.FindStringSubmatch(analysis)
	if m == nil {
		return 0
	}
	v, err := strconv.Atoi(m[1])
	if err != nil || v < 1 || v > n {
		return 0
	}
	return v - 1
}

// firstParagraph is the opening prose of the analysis, used to give slot
// fallbacks product context.
func firstParagraph(analysis string) string {
	for _, para := range blankLinesRe.Split(analysis, -1) {
		para = strings.TrimSpace(para)
		if para == "" || strings.HasPrefix(para, "```") || headingLineRe.MatchString(para) {
			continue
		}
		if heroRe.MatchString(para) {
			continue
		}
		return truncateRunes(strings.Join(strings.Fields(para), " "), 600)
	}
	return ""
}

func slotPrompt(slot Slot, about string) string {
	parts := []string{slot.Title + ": " + slot.Concept}
	parts = append(parts, slot.Execution...)
	if about != "" {
		parts = append(parts, "Product: "+about)
	}
	return strings.Join(parts, ". ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
