package postgres

import (
	"context"

	"github.com/bardlex/goore/internal/events"
)

// Record writes the ledger row for an event. Kinds without a table are ignored.
func (c *Client) Record(ctx context.Context, e *events.Event) error {
	switch e.Kind {
	case events.KindSolution:
		return c.Solutions.Create(ctx, SolutionFromEvent(e))
	case events.KindSubmission, events.KindSubmissionFailed:
		return c.Submissions.Create(ctx, SubmissionFromEvent(e))
	case events.KindClaim:
		if e.Amount == 0 {
			return nil
		}
		return c.Claims.Create(ctx, ClaimFromEvent(e))
	default:
		return nil
	}
}
