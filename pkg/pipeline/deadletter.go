package pipeline

import (
	"context"
	"strconv"

	"github.com/cuemby/relay/pkg/events"
	"github.com/cuemby/relay/pkg/storage"
)

// redeliverBatch caps the letters replayed per call
const redeliverBatch = 100

// RedeliverDeadLetters replays parked forwards, oldest first, deleting
// each one that goes through. It stops at the first failure so ordering
// per key is kept, and returns how many were delivered.
func (p *Pipeline) RedeliverDeadLetters(ctx context.Context) (int, error) {
	letters, err := p.store.ListDeadLetters(ctx, redeliverBatch)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, dl := range letters {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if err := p.redeliver(ctx, dl); err != nil {
			dl.Attempts++
			dl.LastError = err.Error()
			if perr := p.store.PutDeadLetter(ctx, dl); perr != nil {
				p.logger.Error().Err(perr).Str("id", dl.ID).Msg("Failed to update dead letter")
			}
			p.logger.Debug().Err(err).Str("id", dl.ID).Int("attempts", dl.Attempts).Msg("Redelivery failed")
			break
		}
		if err := p.store.DeleteDeadLetter(ctx, dl.ID); err != nil {
			return delivered, err
		}
		delivered++
	}

	if delivered > 0 {
		p.logger.Info().Int("count", delivered).Msg("Redelivered dead letters")
		if p.broker != nil {
			p.broker.Publish(&events.Event{
				Type:     events.EventDeadLetterRedelivered,
				Message:  "dead letters redelivered",
				Metadata: map[string]string{"count": strconv.Itoa(delivered)},
			})
		}
	}
	return delivered, nil
}

func (p *Pipeline) redeliver(ctx context.Context, dl storage.DeadLetter) error {
	switch {
	case dl.Event != nil:
		return p.forwarder.Forward(ctx, dl.Key, *dl.Event)
	case dl.Snapshot != nil:
		return p.forwarder.ForwardSnapshot(ctx, dl.Key, *dl.Snapshot)
	default:
		return nil
	}
}

// CountDeadLetters reports how many forwards are waiting for redelivery
func (p *Pipeline) CountDeadLetters() (int, error) {
	return p.store.CountDeadLetters()
}
