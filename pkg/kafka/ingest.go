package kafka

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/reconcile"
)

// NewSubmissionHandler returns a MessageHandler that reconciles each contact
// submission through the engine. Submissions with neither field are skipped
// (and committed); retrying them can never succeed.
func NewSubmissionHandler(logger ectologger.Logger, engine *reconcile.Engine) MessageHandler {
	return func(ctx context.Context, msg *IncomingMessage) error {
		log := logger.WithContext(ctx).WithFields(map[string]any{
			"topic":  msg.Topic,
			"offset": msg.Offset,
		})

		if msg.Submission == nil || !msg.Submission.HasValue() {
			log.Warn("Skipping submission with no contact info")
			return nil
		}

		view, err := engine.Identify(ctx, msg.Submission.Email, msg.Submission.PhoneNumber)
		if err != nil {
			return err
		}

		log.WithFields(map[string]any{
			"primary_id": view.PrimaryContactID,
		}).Debug("Ingested contact submission")
		return nil
	}
}
