package extraction

// Merge concatenates results in the order given. Nil results, such as
// chunks that failed, contribute nothing. No deduplication happens here.
func Merge(results ...*Result) *Result {
	out := newResult()
	for _, r := range results {
		if r == nil {
			continue
		}
		out.Entities = append(out.Entities, r.Entities...)
		out.Relationships = append(out.Relationships, r.Relationships...)
		out.Insights = append(out.Insights, r.Insights...)
		out.FrontierHints = append(out.FrontierHints, r.FrontierHints...)
	}
	return out
}
