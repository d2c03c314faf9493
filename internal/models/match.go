package models

// MatchDecision tags the outcome of matching one row against existing
// enrollments. Consumers must switch exhaustively over the three variants.
type MatchDecision string

const (
	MatchDecisionNoMatch     MatchDecision = "NO_MATCH"
	MatchDecisionSingleMatch MatchDecision = "SINGLE_MATCH"
	MatchDecisionAmbiguous   MatchDecision = "AMBIGUOUS"
)

// MatchCandidate is a scored hypothesis linking a parsed row to an existing
// enrollment. Candidates are ephemeral; they are never persisted on their own.
type MatchCandidate struct {
	EnrollmentID string `json:"enrollment_id"`
	StudentName  string `json:"student_name"`
	ClassName    string `json:"class_name"`
	Score        int    `json:"score"`
}

// MatchResult is the outcome of matching one row. AMBIGUOUS always carries at
// least two candidates inside the ambiguity band; SINGLE_MATCH always carries
// a best candidate.
type MatchResult struct {
	Decision   MatchDecision    `json:"decision"`
	Candidates []MatchCandidate `json:"candidates,omitempty"`
	Best       *MatchCandidate  `json:"best,omitempty"`
}

// RowOutcome combines a row's validity, its match result, the derived action
// and, for updates, the field-level diff.
type RowOutcome struct {
	RowNumber int          `json:"row_number"`
	Valid     bool         `json:"valid"`
	Match     MatchResult  `json:"match"`
	Action    ChangeAction `json:"action"`
	Diff      FieldDiff    `json:"diff,omitempty"`
}

// MatchRunCounts aggregates a batch's per-row outcomes for display and gating.
type MatchRunCounts struct {
	Valid     int `json:"valid"`
	Invalid   int `json:"invalid"`
	Ambiguous int `json:"ambiguous"`
	Inserts   int `json:"inserts"`
	Updates   int `json:"updates"`
	Noops     int `json:"noops"`
}
