package mercado

import (
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/jpavez/tender-scout/internal/utils"
)

const (
	statusRetries     = 3
	statusBackoffBase = 5 * time.Second
	statusJitter      = time.Second
)

type statusResponse struct {
	Listing []struct {
		StatusCode int `json:"CodigoEstado"`
	} `json:"Listado"`
}

// FetchStatus asks the live registry for a tender's current status code.
// Transient failures are retried with 5s/10s/20s backoff plus jitter;
// after the retry budget the id is given up on for this cycle.
func (c *Client) FetchStatus(id string) (int, error) {
	q := url.Values{}
	q.Set("codigo", id)
	q.Set("ticket", c.statusTicket)

	var lastErr error
	for attempt := 1; attempt <= statusRetries; attempt++ {
		var response statusResponse
		lastErr = c.getJSON(c.StatusURL, q, &response)
		if lastErr == nil {
			if len(response.Listing) == 0 {
				return 0, fmt.Errorf("status for %s: empty listing", id)
			}
			return response.Listing[0].StatusCode, nil
		}

		c.logger.Warn("status fetch failed",
			zap.String("tender_id", id),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)

		if attempt < statusRetries {
			if err := utils.WaitFor(c.ctx, utils.Backoff(attempt, statusBackoffBase, statusJitter)); err != nil {
				return 0, err
			}
		}
	}

	return 0, fmt.Errorf("status for %s: %w", id, lastErr)
}
