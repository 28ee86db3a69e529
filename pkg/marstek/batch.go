package marstek

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// BatchFunc is called after each exchange of a batch completes.
type BatchFunc func(req Request, res *Result) error

// ExchangeAll runs one exchange per request, strictly in order. Each
// exchange finishes its retries before the next request is sent. A non-nil
// limiter spaces the requests out.
func (e *Exchanger) ExchangeAll(ctx context.Context, target *net.UDPAddr, reqs []Request, limiter *rate.Limiter, fn BatchFunc) error {
	for _, req := range reqs {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}

		e.Logger.InfoContext(ctx, "Sending request", "method", req.Method)
		res, err := e.Exchange(ctx, target, req, true)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrapf(err, "exchanging %s", req.Method)
		}

		if res.Outcome == OutcomeNoReply {
			e.Logger.WarnContext(ctx, "No reply from device", "method", req.Method, "attempts", res.Attempts)
		}

		if fn != nil {
			if err := fn(req, res); err != nil {
				return err
			}
		}
	}
	return nil
}
