// Package render deterministically guarantees the final document's
// citation and reference invariants. Upstream model compliance with
// citation instructions is empirically unreliable, so nothing here
// trusts model-reported flags; the post-processor operates only on the
// text it is handed and is idempotent.
package render

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/verityaudit/deepresearch/internal/config"
	"github.com/verityaudit/deepresearch/internal/util"
)

// WebReference is one external web source supplied to the synthesis.
type WebReference struct {
	URL     string `json:"url"`
	Insight string `json:"insight"`
}

// PriorReference is one section of a prior research run supplied as
// context to a follow-up.
type PriorReference struct {
	ID      string `json:"id"`
	Heading string `json:"heading"`
	Excerpt string `json:"excerpt"`
}

// PostProcess enforces the citation/source invariants on a synthesized
// narrative:
//
//   - every section containing inline citation markers gets a source
//     blockquote composed of the matched references and their verbatim
//     source text (bounded length), skipping any reference whose source
//     line is already present in the section; sections whose references
//     have no known source text are left alone;
//   - every supplied web/prior reference gets exactly one machine-
//     readable marker line (WEB_REF|…/PRIOR_REF|…) and one inline label
//     ([W#]/[P#]), injected only when entirely absent.
//
// Running PostProcess on its own output is a no-op.
func PostProcess(synthesis string, cfg config.RenderConfig, sources map[string]string, webRefs []WebReference, priorRefs []PriorReference) string {
	pattern, err := regexp.Compile(cfg.CitationPattern)
	if err != nil {
		pattern = regexp.MustCompile(config.DefaultRenderConfig().CitationPattern)
	}

	sections := splitSections(synthesis)
	for i, section := range sections {
		sections[i] = injectSourceBlock(section, pattern, sources, cfg.MaxSourceChars)
	}
	out := strings.Join(sections, "\n")
	out = injectWebReferences(out, webRefs)
	out = injectPriorReferences(out, priorRefs)
	return out
}

// splitSections divides text at markdown headings, keeping each heading
// with the body that follows it. Text with no headings is one section.
func splitSections(text string) []string {
	lines := strings.Split(text, "\n")
	var sections []string
	var current []string
	for _, line := range lines {
		if strings.HasPrefix(line, "#") && len(current) > 0 {
			sections = append(sections, strings.Join(current, "\n"))
			current = nil
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		sections = append(sections, strings.Join(current, "\n"))
	}
	return sections
}

func injectSourceBlock(section string, pattern *regexp.Regexp, sources map[string]string, maxChars int) string {
	markers := pattern.FindAllString(section, -1)
	if len(markers) == 0 {
		return section
	}
	if maxChars <= 0 {
		maxChars = config.DefaultRenderConfig().MaxSourceChars
	}

	var block []string
	seen := map[string]bool{}
	for _, marker := range markers {
		ref := normalizeRef(marker)
		if seen[ref] {
			continue
		}
		seen[ref] = true
		// A source line already present anywhere in the section (even
		// mid-section, after reference labels land below it) must never
		// be duplicated.
		if strings.Contains(section, fmt.Sprintf("> Source [%s]:", ref)) {
			continue
		}
		text, ok := lookupSource(sources, ref)
		if !ok {
			continue
		}
		block = append(block, fmt.Sprintf("> Source [%s]: %s", ref, util.TruncateString(text, maxChars, true)))
	}
	if len(block) == 0 {
		return section
	}
	return strings.TrimRight(section, "\n") + "\n\n" + strings.Join(block, "\n") + "\n"
}

func normalizeRef(marker string) string {
	ref := strings.Trim(marker, "[]")
	ref = strings.TrimPrefix(ref, "ISA ")
	return strings.TrimSpace(ref)
}

func lookupSource(sources map[string]string, ref string) (string, bool) {
	if text, ok := sources[ref]; ok && text != "" {
		return text, true
	}
	if text, ok := sources["ISA "+ref]; ok && text != "" {
		return text, true
	}
	return "", false
}

func injectWebReferences(text string, refs []WebReference) string {
	for i, ref := range refs {
		label := fmt.Sprintf("[W%d]", i+1)
		marker := fmt.Sprintf("WEB_REF|%s|%s", ref.URL, ref.Insight)

		if !strings.Contains(text, marker) {
			text = strings.TrimRight(text, "\n") + fmt.Sprintf("\n\n> %s\n", marker)
		}
		if !strings.Contains(text, label) {
			text = strings.TrimRight(text, "\n") + fmt.Sprintf("\n\nExternal context %s: %s\n", label, ref.Insight)
		}
	}
	return text
}

func injectPriorReferences(text string, refs []PriorReference) string {
	for i, ref := range refs {
		label := fmt.Sprintf("[P%d]", i+1)
		marker := fmt.Sprintf("PRIOR_REF|%s|%s|%s", ref.ID, ref.Heading, ref.Excerpt)

		if !strings.Contains(text, marker) {
			text = strings.TrimRight(text, "\n") + fmt.Sprintf("\n\n> %s\n", marker)
		}
		if !strings.Contains(text, label) {
			text = strings.TrimRight(text, "\n") + fmt.Sprintf("\n\nPrior research %s: %s\n", label, ref.Heading)
		}
	}
	return text
}
