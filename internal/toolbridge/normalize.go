package toolbridge

// Field-mapping tables for the heterogeneous shapes the tool server
// returns. The server has grown several generations of field names
// (content vs text, confidence vs hop_score, isa_number vs source_doc);
// unknown or missing optional fields degrade to zero values instead of
// failing the call.
var (
	textKeys      = []string{"text", "content", "snippet"}
	scoreKeys     = []string{"score", "confidence", "hop_score", "rrf_score", "relevance_score"}
	sourceKeys    = []string{"source", "isa_number", "source_doc"}
	idKeys        = []string{"id", "paragraph_id", "seed_id"}
	referenceKeys = []string{"reference", "paragraph_ref", "ref"}
)

// resultList unwraps either an object envelope carrying a "results" (or
// "paragraphs") field or a bare legacy array.
func resultList(v interface{}) []interface{} {
	switch t := v.(type) {
	case []interface{}:
		return t
	case map[string]interface{}:
		for _, key := range []string{"results", "paragraphs", "connected"} {
			if list, ok := t[key].([]interface{}); ok {
				return list
			}
		}
	}
	return nil
}

// normalizeParagraphs maps a raw tool response onto []ScoredParagraph.
func normalizeParagraphs(v interface{}) []ScoredParagraph {
	list := resultList(v)
	out := make([]ScoredParagraph, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, normalizeParagraph(m))
	}
	return out
}

func normalizeParagraph(m map[string]interface{}) ScoredParagraph {
	p := ScoredParagraph{
		ID:        firstString(m, idKeys),
		Text:      firstString(m, textKeys),
		Source:    firstString(m, sourceKeys),
		Reference: firstString(m, referenceKeys),
		Score:     firstFloat(m, scoreKeys),
	}
	if d, ok := m["hop_depth"].(float64); ok {
		p.HopDepth = int(d)
	}
	return p
}

// normalizeWebReport maps a raw web search response onto the canonical
// report shape, tolerating the bare-array legacy form.
func normalizeWebReport(query string, v interface{}) *WebSearchReport {
	report := &WebSearchReport{Query: query, Results: []WebResult{}}
	obj, isObj := v.(map[string]interface{})

	for _, item := range resultList(v) {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		report.Results = append(report.Results, WebResult{
			Title:     firstString(m, []string{"title"}),
			URL:       firstString(m, []string{"url", "link"}),
			Snippet:   firstString(m, textKeys),
			Relevance: firstFloat(m, scoreKeys),
		})
	}
	if !isObj {
		report.QueriesExecuted = 1
		return report
	}
	if n, ok := obj["queries_executed"].(float64); ok {
		report.QueriesExecuted = int(n)
	}
	report.Warnings = stringList(obj["warnings"])
	report.AnalysisHints = stringList(obj["analysis_hints"])
	return report
}

// normalizeAxis maps one verification tool response onto (score, passed,
// details). Contradiction checks report a count where 0 is best; the
// caller converts that to a 0..1 score before aggregation.
func normalizeAxis(v interface{}) (float64, bool, []map[string]interface{}) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return 0, false, nil
	}
	score := firstFloat(obj, []string{"score"})
	passed, _ := obj["passed"].(bool)
	var details []map[string]interface{}
	if list, ok := obj["details"].([]interface{}); ok {
		for _, item := range list {
			if m, ok := item.(map[string]interface{}); ok {
				details = append(details, m)
			}
		}
	}
	return score, passed, details
}

func firstString(m map[string]interface{}, keys []string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func firstFloat(m map[string]interface{}, keys []string) float64 {
	for _, k := range keys {
		if v, ok := m[k].(float64); ok {
			return v
		}
	}
	return 0
}

func stringList(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
