package extraction

import (
	"fmt"
	"strings"
)

// extractionPrompt asks for the whole knowledge model in one call. The
// first %s is the entity type list, the second an optional part marker,
// the third the document text.
const extractionPrompt = `You are an organisational analyst. Read the document below and build a knowledge model of the organisation it describes.

ENTITY TYPES (use exactly these values):
%s

Return a single JSON object with exactly these keys:
  "entities"       : array of {"name": string, "type": string, "subtype": string, "description": string, "confidence": number, "metadata": object}
  "relationships"  : array of {"source": string, "target": string, "label": string, "weight": integer}
  "insights"       : array of {"type": string, "severity": string, "text": string}
  "frontier_hints" : array of {"name": string, "hint": string, "risk": string, "value": string, "access_needed": string}

Rules:
- Relationship source and target must be entity names exactly as written in "entities".
- Weight is an integer from 1 (weak) to 5 (strong).
- Confidence is a number between 0.0 and 1.0.
- Insight type is one of: inconsistency, gap, risk, opportunity, observation, culture.
- Insight severity is one of: info, warning, critical.
- Frontier hints name areas the document refers to but does not describe, such as a report that is mentioned but not included.
- If a section has nothing to report, return an empty array.
- Do NOT include any text outside the JSON object.
%s
DOCUMENT:
%s`

// BuildPrompt renders the extraction prompt for one chunk. part and total
// are 1-based; the part marker is omitted for single-chunk documents.
func BuildPrompt(text string, part, total int) string {
	var types strings.Builder
	for _, t := range EntityTypes {
		types.WriteString("- ")
		types.WriteString(t)
		types.WriteString("\n")
	}

	var marker string
	if total > 1 {
		marker = fmt.Sprintf("\nThis is part %d of %d of a longer document. Extract only what appears in this part.\n", part, total)
	}

	return fmt.Sprintf(extractionPrompt, strings.TrimRight(types.String(), "\n"), marker, text)
}
