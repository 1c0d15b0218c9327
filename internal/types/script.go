package types

// GenerationScript is the structured intermediate produced by problem
// analysis. It lives on the tutorial_request row while generation runs and
// is copied onto the tutorial row on completion.
type GenerationScript struct {
	Title    string       `json:"title"`
	Language string       `json:"language"`
	Steps    []ScriptStep `json:"steps"`
}

type ScriptStep struct {
	Index            int     `json:"index"`
	Instruction      string  `json:"instruction"`
	Narration        string  `json:"narration"`
	EstimatedSeconds float64 `json:"estimated_seconds"`
}

func (s *GenerationScript) TotalSeconds() float64 {
	var total float64
	for _, step := range s.Steps {
		total += step.EstimatedSeconds
	}
	return total
}
