package stage

import (
	"fmt"
	"strings"

	"github.com/verityaudit/deepresearch/internal/toolbridge"
	"github.com/verityaudit/deepresearch/internal/util"
)

const analyzeSystemPrompt = `You are a research planner for an auditing knowledge base.
Decompose the user's question into focused sub-queries that can each be
answered by paragraph-level retrieval. Identify the entities involved and
note anything the question asks for that falls outside the knowledge
base's scope.

Respond with a JSON object matching this shape:
{"analysis": "...", "sub_queries": [{"text": "...", "rationale": "..."}], "entities": ["..."], "out_of_scope": ["..."]}`

const synthesizeSystemPrompt = `You are a research writer. Using ONLY the
retrieved source paragraphs below, write a structured markdown answer to
the original question. Cite every factual claim inline using the bracketed
reference of the paragraph that supports it, e.g. [315.12]. Organize the
answer under markdown headings. Do not invent references.`

func buildAnalyzePrompt(query, priorContext string) string {
	var b strings.Builder
	if priorContext != "" {
		b.WriteString(priorContext)
		b.WriteString("\n\nThe user is asking a follow-up question. Focus the decomposition on what the prior session did NOT already answer; do not repeat sub-queries whose answers appear above.\n\n")
	}
	fmt.Fprintf(&b, "Research question: %s", query)
	return b.String()
}

func buildSynthesizePrompt(query string, paragraphs []toolbridge.ScoredParagraph, hints []string, priorContext, repairFeedback string, maxSourceChars int) string {
	var b strings.Builder
	if priorContext != "" {
		b.WriteString(priorContext)
		b.WriteString("\nBuild on the prior session's answer without restating it; cover only what is new.\n\n")
	}
	fmt.Fprintf(&b, "Original question: %s\n\n", query)
	if len(hints) > 0 {
		b.WriteString("Calibration hints from external context:\n")
		for _, h := range hints {
			fmt.Fprintf(&b, "- %s\n", h)
		}
		b.WriteString("\n")
	}
	b.WriteString("Retrieved source paragraphs:\n\n")
	for _, p := range paragraphs {
		ref := p.Reference
		if ref == "" {
			ref = p.ID
		}
		fmt.Fprintf(&b, "[%s] (%s, score %.2f)\n%s\n\n", ref, p.Source, p.Score, util.TruncateString(p.Text, maxSourceChars, true))
	}
	if repairFeedback != "" {
		b.WriteString("A previous draft of this answer failed verification. Address the following feedback explicitly:\n")
		b.WriteString(repairFeedback)
		b.WriteString("\n")
	}
	return b.String()
}
