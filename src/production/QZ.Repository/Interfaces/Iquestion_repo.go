package interfaces

import (
	"context"
)

// QuestionRepository is the narrow read contract against the external
// question store: given a question id, which option index is correct.
type QuestionRepository interface {
	GetCorrectOption(ctx context.Context, questionID string) (int, error)
}
