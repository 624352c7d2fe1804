package risk

// Category buckets a total score into an operator-facing verdict.
type Category string

const (
	CategoryLow      Category = "LOW"
	CategoryMedium   Category = "MEDIUM"
	CategoryHigh     Category = "HIGH"
	CategoryCritical Category = "CRITICAL"
)

// categoryFor maps a capped total score onto its [Category]. Boundaries are
// inclusive on the upper bucket: a score of exactly 15 is MEDIUM.
func categoryFor(total float64) Category {
	switch {
	case total < 15:
		return CategoryLow
	case total < 35:
		return CategoryMedium
	case total < 60:
		return CategoryHigh
	default:
		return CategoryCritical
	}
}

// Breakdown is the explainable decomposition of a risk score. It is stored
// verbatim on the attempt record so reviewers can audit how the number came
// to be. Marshalling is deterministic: struct order is fixed and Go sorts
// map keys, so identical inputs produce byte-identical JSON.
type Breakdown struct {
	// TotalScore is the final capped score in [0, 100].
	TotalScore float64 `json:"total_score"`

	// BaseScore sums the per-kind weighted penalties.
	BaseScore float64 `json:"base_score"`

	// PatternScore penalizes copy-then-search sequences and rapid tab
	// switching bursts.
	PatternScore float64 `json:"pattern_score"`

	// TemporalScore penalizes clusters of high-risk events inside a
	// single minute.
	TemporalScore float64 `json:"temporal_score"`

	// ContextAdjustment is the whole-attempt adjustment driven by how
	// dense the critical violations are relative to test length.
	ContextAdjustment float64 `json:"context_adjustment"`

	// RiskCategory buckets TotalScore (LOW / MEDIUM / HIGH / CRITICAL).
	RiskCategory Category `json:"risk_category"`

	ViolationDetails ViolationDetails `json:"violation_details"`
	QuestionContext  QuestionContext  `json:"question_context"`
}

// ViolationDetails summarizes what was observed, independent of scoring.
type ViolationDetails struct {
	// HighRiskViolations counts events per kind for the critical and
	// physical kinds only.
	HighRiskViolations map[string]int `json:"high_risk_violations"`

	// PatternViolations names each behavioural pattern the engine found.
	PatternViolations []string `json:"pattern_violations"`

	// TotalViolations is the full event count, all kinds.
	TotalViolations int `json:"total_violations"`
}

// QuestionContext records the normalization inputs used for this attempt.
type QuestionContext struct {
	TotalQuestions int `json:"total_questions"`

	// ViolationsPerQuestion is total events divided by question count.
	ViolationsPerQuestion float64 `json:"violations_per_question"`

	// HighRiskPerQuestion is high-risk events divided by question count.
	HighRiskPerQuestion float64 `json:"high_risk_per_question"`
}
