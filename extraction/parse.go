package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// ParseError reports model output that could not be turned into a Result.
// It is recovered per chunk and never aborts an extraction pass.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction: %s: %v", e.Reason, e.Err)
	}
	return "extraction: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// entityKnownKeys are decoded into Entity fields; everything else goes to
// metadata.
var entityKnownKeys = []string{"name", "type", "subtype", "description", "metadata", "confidence"}

// Parse locates the first JSON object in raw model output and decodes it
// into a normalised Result. Missing arrays default to empty.
func Parse(raw string) (*Result, error) {
	obj, err := FindJSONObject(raw)
	if err != nil {
		return nil, err
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &top); err != nil {
		return nil, &ParseError{Reason: "invalid JSON object", Err: err}
	}

	res := newResult()

	entities, err := objectArray(top, "entities")
	if err != nil {
		return nil, err
	}
	for _, m := range entities {
		if e, ok := parseEntity(m); ok {
			res.Entities = append(res.Entities, e)
		}
	}

	rels, err := objectArray(top, "relationships")
	if err != nil {
		return nil, err
	}
	for _, m := range rels {
		if r, ok := parseRelationship(m); ok {
			res.Relationships = append(res.Relationships, r)
		}
	}

	insights, err := objectArray(top, "insights")
	if err != nil {
		return nil, err
	}
	for _, m := range insights {
		if in, ok := parseInsight(m); ok {
			res.Insights = append(res.Insights, in)
		}
	}

	hints, err := objectArray(top, "frontier_hints")
	if err != nil {
		return nil, err
	}
	for _, m := range hints {
		if h, ok := parseFrontierHint(m); ok {
			res.FrontierHints = append(res.FrontierHints, h)
		}
	}

	return res, nil
}

// objectArray decodes top[key] as an array of objects. A missing or null key
// is an empty array; any other non-array value is a ParseError. Elements
// that are not objects are skipped.
func objectArray(top map[string]json.RawMessage, key string) ([]map[string]json.RawMessage, error) {
	raw, ok := top[key]
	if !ok || isNull(raw) {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("field %q is not an array", key), Err: err}
	}

	out := make([]map[string]json.RawMessage, 0, len(items))
	for _, item := range items {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(item, &m); err != nil || m == nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func parseEntity(m map[string]json.RawMessage) (Entity, bool) {
	e := Entity{
		Name:        strings.TrimSpace(stringField(m, "name")),
		Subtype:     strings.TrimSpace(stringField(m, "subtype")),
		Description: strings.TrimSpace(stringField(m, "description")),
		Metadata:    map[string]string{},
		Confidence:  DefaultConfidence,
	}
	if e.Name == "" {
		return Entity{}, false
	}

	if raw, ok := m["metadata"]; ok {
		var meta map[string]json.RawMessage
		if err := json.Unmarshal(raw, &meta); err == nil {
			for k, v := range meta {
				if !isNull(v) {
					e.Metadata[k] = stringify(v)
				}
			}
		}
	}
	for k, v := range m {
		if slices.Contains(entityKnownKeys, k) || isNull(v) {
			continue
		}
		e.Metadata[k] = stringify(v)
	}

	rawType := strings.TrimSpace(stringField(m, "type"))
	e.Type = strings.ToLower(rawType)
	if !slices.Contains(EntityTypes, e.Type) {
		if rawType != "" {
			e.Metadata["original_type"] = rawType
		}
		e.Type = EntityContext
	}

	if f, ok := numberField(m, "confidence"); ok {
		e.Confidence = math.Min(1, math.Max(0, f))
	}

	return e, true
}

func parseRelationship(m map[string]json.RawMessage) (Relationship, bool) {
	r := Relationship{
		Source: strings.TrimSpace(stringField(m, "source")),
		Target: strings.TrimSpace(stringField(m, "target")),
		Label:  strings.TrimSpace(stringField(m, "label")),
		Weight: MinWeight,
	}
	if r.Source == "" || r.Target == "" {
		return Relationship{}, false
	}
	if r.Label == "" {
		r.Label = strings.TrimSpace(stringField(m, "relation_type"))
	}
	if f, ok := numberField(m, "weight"); ok {
		r.Weight = int(math.Round(math.Min(MaxWeight, math.Max(MinWeight, f))))
	}
	return r, true
}

var (
	insightTypes = []string{InsightInconsistency, InsightGap, InsightRisk, InsightOpportunity, InsightObservation, InsightCulture}
	severities   = []string{SeverityInfo, SeverityWarning, SeverityCritical}
)

func parseInsight(m map[string]json.RawMessage) (Insight, bool) {
	in := Insight{
		Type:        strings.ToLower(strings.TrimSpace(stringField(m, "type"))),
		Severity:    strings.ToLower(strings.TrimSpace(stringField(m, "severity"))),
		Description: strings.TrimSpace(stringField(m, "text")),
	}
	if in.Description == "" {
		in.Description = strings.TrimSpace(stringField(m, "description"))
	}
	if in.Description == "" {
		return Insight{}, false
	}
	if !slices.Contains(insightTypes, in.Type) {
		in.Type = InsightObservation
	}
	if !slices.Contains(severities, in.Severity) {
		in.Severity = SeverityInfo
	}
	return in, true
}

func parseFrontierHint(m map[string]json.RawMessage) (FrontierHint, bool) {
	h := FrontierHint{
		Name:         strings.TrimSpace(stringField(m, "name")),
		Hint:         stringField(m, "hint"),
		Risk:         stringField(m, "risk"),
		Value:        stringField(m, "value"),
		AccessNeeded: stringField(m, "access_needed"),
	}
	if h.Name == "" {
		return FrontierHint{}, false
	}
	return h, true
}

// stringField returns m[key] as text. Strings are unquoted, other JSON
// values keep their compact encoding, and null or missing keys are empty.
func stringField(m map[string]json.RawMessage, key string) string {
	raw, ok := m[key]
	if !ok || isNull(raw) {
		return ""
	}
	return stringify(raw)
}

func stringify(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// numberField accepts JSON numbers and numeric strings. NaN and infinities
// count as missing.
func numberField(m map[string]json.RawMessage, key string) (float64, bool) {
	raw, ok := m[key]
	if !ok || isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		if f, err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return 0, false
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}
