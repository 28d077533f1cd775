package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
	"github.com/JakeFAU/runcalcs-crawler/internal/logging"
)

// Reporter fans a finished run out to the notification topic and the run ledger. Either may be nil.
type Reporter struct {
	publisher crawler.Publisher
	topic     string
	ledger    Ledger
	logger    *zap.Logger
}

// NewReporter builds a Reporter.
func NewReporter(publisher crawler.Publisher, topic string, ledger Ledger, logger *zap.Logger) *Reporter {
	return &Reporter{
		publisher: publisher,
		topic:     topic,
		ledger:    ledger,
		logger:    logging.OrNop(logger).Named("reporter"),
	}
}

// Report delivers result. Failures are logged and swallowed.
func (r *Reporter) Report(ctx context.Context, result Result) {
	if r.publisher != nil {
		id, err := r.publisher.Publish(ctx, r.topic, result)
		if err != nil {
			r.logger.Warn("Failed to publish run result", zap.String("run_id", result.RunID), zap.Error(err))
		} else {
			r.logger.Debug("Published run result", zap.String("run_id", result.RunID), zap.String("message_id", id))
		}
	}
	if r.ledger != nil {
		if err := r.ledger.RecordRun(ctx, result); err != nil {
			r.logger.Warn("Failed to record run", zap.String("run_id", result.RunID), zap.Error(err))
		}
	}
}
