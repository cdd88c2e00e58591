package interview

import (
	"context"
	"strings"
)

// Question is one timed interview question.
type Question struct {
	ID        string
	Prompt    string
	BudgetSec int
}

// QuestionSource resolves the ordered question list for a (tenant, job) pair.
// Question authoring is owned by the surrounding SaaS; this subsystem only
// consumes the ordered list.
type QuestionSource interface {
	QuestionsForJob(ctx context.Context, tenantID, jobID string) ([]Question, error)
}

// StaticQuestionSource serves a fixed question list for every job.
// Used in dev mode and tests.
type StaticQuestionSource struct {
	Questions []Question
}

// QuestionsForJob returns the configured list regardless of job.
func (s StaticQuestionSource) QuestionsForJob(_ context.Context, _, _ string) ([]Question, error) {
	if len(s.Questions) == 0 {
		return nil, ErrInvalidInput
	}
	out := make([]Question, len(s.Questions))
	copy(out, s.Questions)
	for i := range out {
		if strings.TrimSpace(out[i].ID) == "" || out[i].BudgetSec <= 0 {
			return nil, ErrInvalidInput
		}
	}
	return out, nil
}
