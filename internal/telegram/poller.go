package telegram

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const pollBackoff = 3 * time.Second

// Poller feeds getUpdates results into a queue
type Poller struct {
	client  *Client
	queue   *Queue
	timeout time.Duration
}

// NewPoller creates a poller
func NewPoller(client *Client, queue *Queue, timeout time.Duration) *Poller {
	return &Poller{client: client, queue: queue, timeout: timeout}
}

// Run polls until ctx is cancelled
func (p *Poller) Run(ctx context.Context) error {
	if err := p.client.DeleteWebhook(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to delete webhook before polling")
	}

	log.Info().Dur("timeout", p.timeout).Msg("Polling for updates")

	offset := 0
	for {
		updates, err := p.client.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("Failed to fetch updates")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollBackoff):
			}
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			if !p.queue.Submit(ctx, upd) {
				return nil
			}
		}
	}
}
