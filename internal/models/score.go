package models

// ScoreEpsilon is the threshold below which an aggregate score counts as zero.
// An "accepted" report whose aggregate falls under it is a reporting bug and
// gets persisted as Rejected.
const ScoreEpsilon = 1e-5

// PartialScore is one weighted component of a handin's final score.
type PartialScore struct {
	Name     string  `json:"name"`
	TypeName string  `json:"typeName"`
	Score    float64 `json:"score"`
	Weight   float64 `json:"weight"`
	Time     float64 `json:"time"`
	Brief    string  `json:"brief"`
	Detail   string  `json:"detail"`
}

// Score is the payload a runner reports for one handin.
type Score struct {
	UUID         string         `json:"uuid"`
	Accepted     bool           `json:"accepted"`
	Result       string         `json:"result"`
	CompileError string         `json:"compile_error"`
	Partials     []PartialScore `json:"partials"`
}

// Final computes the weighted average of all partial scores. A zero weight
// sum yields 0 rather than dividing by zero.
func (s *Score) Final() float64 {
	var total, weight float64
	for _, p := range s.Partials {
		total += p.Score * p.Weight
		weight += p.Weight
	}
	if weight < ScoreEpsilon {
		return 0
	}
	return total / weight
}

// Time sums the elapsed time of all partial scores.
func (s *Score) Time() float64 {
	var t float64
	for _, p := range s.Partials {
		t += p.Time
	}
	return t
}
