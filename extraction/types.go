package extraction

// Entity types accepted from the model. Anything else is stored as
// EntityContext with the original value kept in metadata.
const (
	EntityPerson       = "person"
	EntityTeam         = "team"
	EntityOrganisation = "organisation"
	EntityClient       = "client"
	EntityService      = "service"
	EntityStrategy     = "strategy"
	EntityGoal         = "goal"
	EntityFinancial    = "financial"
	EntityProcess      = "process"
	EntitySystem       = "system"
	EntityLocation     = "location"
	EntityContext      = "context"
	EntityCulture      = "culture"
)

// EntityTypes lists the closed set in prompt order.
var EntityTypes = []string{
	EntityPerson, EntityTeam, EntityOrganisation, EntityClient, EntityService,
	EntityStrategy, EntityGoal, EntityFinancial, EntityProcess, EntitySystem,
	EntityLocation, EntityContext, EntityCulture,
}

// Insight types and severities.
const (
	InsightInconsistency = "inconsistency"
	InsightGap           = "gap"
	InsightRisk          = "risk"
	InsightOpportunity   = "opportunity"
	InsightObservation   = "observation"
	InsightCulture       = "culture"

	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Defaults applied while normalising model output.
const (
	DefaultConfidence = 0.8
	MinWeight         = 1
	MaxWeight         = 5
)

// Entity is one entity as returned by the model, after normalisation.
type Entity struct {
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Subtype     string            `json:"subtype,omitempty"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Confidence  float64           `json:"confidence"`
}

// Relationship links two entities by name.
type Relationship struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
	Weight int    `json:"weight"`
}

// Insight is a finding about the organisation.
type Insight struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// FrontierHint names an area the document points at but does not cover.
type FrontierHint struct {
	Name         string `json:"name"`
	Hint         string `json:"hint,omitempty"`
	Risk         string `json:"risk,omitempty"`
	Value        string `json:"value,omitempty"`
	AccessNeeded string `json:"access_needed,omitempty"`
}

// Result holds the structured output for one chunk, or several merged.
type Result struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
	Insights      []Insight      `json:"insights"`
	FrontierHints []FrontierHint `json:"frontier_hints"`
}

// Empty reports whether r carries nothing to materialize.
func (r *Result) Empty() bool {
	return r == nil || (len(r.Entities) == 0 && len(r.Relationships) == 0 &&
		len(r.Insights) == 0 && len(r.FrontierHints) == 0)
}

func newResult() *Result {
	return &Result{
		Entities:      []Entity{},
		Relationships: []Relationship{},
		Insights:      []Insight{},
		FrontierHints: []FrontierHint{},
	}
}
