package interfaces

import (
	"context"

	qzmodels "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Models"
)

// UsageRepository records answer attempts for analytics. Writes are
// append-only and must never block a verdict that was already sent.
type UsageRepository interface {
	RecordAnswer(ctx context.Context, usage qzmodels.AnswerUsage) error
}
