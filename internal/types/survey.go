package types

import "fmt"

// SurveyQuestionCount is the number of Likert questions in the research survey.
const SurveyQuestionCount = 13

// ConsentStatus tells the client whether to show the consent form, the survey, or neither.
type ConsentStatus struct {
	IsConsented     bool `json:"is_consented"`
	SurveyCompleted bool `json:"survey_completed"`
}

// SurveyResponse holds one answer per question on a 1 to 5 scale.
type SurveyResponse struct {
	Answers               []int  `json:"answers"`
	ImprovementSuggestion string `json:"improvement_suggestion,omitempty"`
}

func (r SurveyResponse) Validate() error {
	if len(r.Answers) != SurveyQuestionCount {
		return fmt.Errorf("expected %d answers, got %d", SurveyQuestionCount, len(r.Answers))
	}
	for i, a := range r.Answers {
		if a < 1 || a > 5 {
			return fmt.Errorf("answer to question %d is %d, want 1..5", i+1, a)
		}
	}
	return nil
}
