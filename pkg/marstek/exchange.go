package marstek

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Outcome tells how an exchange ended.
type Outcome int

const (
	OutcomeReplied     Outcome = iota // at least one packet collected
	OutcomeNoReply                    // every attempt timed out
	OutcomeNotExpected                // sent without waiting for a reply
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReplied:
		return "replied"
	case OutcomeNoReply:
		return "no reply"
	case OutcomeNotExpected:
		return "not expected"
	}
	return "unknown"
}

// Result holds the packets collected by one exchange, in arrival order.
type Result struct {
	Packets  [][]byte
	Attempts int
	Outcome  Outcome
}

// Exchanger sends a JSON request to a device and collects the reply datagrams.
// The zero value is not usable, use NewExchanger.
type Exchanger struct {
	Logger *slog.Logger

	// Timeout is the receive window of a single attempt.
	Timeout    time.Duration
	Retries    int
	MaxPackets int

	// LocalAddr overrides the local bind address. Nil binds 0.0.0.0:30000.
	LocalAddr *net.UDPAddr

	listen func(laddr *net.UDPAddr) (net.PacketConn, error)
}

func NewExchanger(logger *slog.Logger) *Exchanger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exchanger{
		Logger:     logger,
		Timeout:    DefaultTimeout,
		Retries:    DefaultRetries,
		MaxPackets: DefaultMaxPackets,
		listen:     listenUDP,
	}
}

func listenUDP(laddr *net.UDPAddr) (net.PacketConn, error) {
	return net.ListenUDP("udp4", laddr)
}

type exchangeState int

const (
	stateSending exchangeState = iota
	stateAwaitingReplies
	stateDone
)

// Exchange sends payload to target and collects replies. When expectReply is
// false it returns right after the first successful send.
func (e *Exchanger) Exchange(ctx context.Context, target *net.UDPAddr, payload any, expectReply bool) (*Result, error) {
	if target == nil {
		return nil, errors.New("target address is nil")
	}

	data, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}

	laddr := e.LocalAddr
	if laddr == nil {
		laddr = defaultLocalAddr()
	}

	conn, err := e.listen(laddr)
	if err != nil {
		return nil, errors.Wrapf(err, "binding %s", laddr)
	}
	defer conn.Close()

	// Expire any pending read as soon as the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	log := e.Logger.With("target", target.String())
	maxAttempts := e.Retries + 1
	result := &Result{Outcome: OutcomeNoReply}
	buffer := make([]byte, readBufferSize)

	state := stateSending
	for state != stateDone {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		switch state {
		case stateSending:
			if result.Attempts >= maxAttempts {
				state = stateDone
				continue
			}
			result.Attempts++

			log.DebugContext(ctx, "Sending request", "attempt", result.Attempts, "of", maxAttempts, "payload", string(data))
			if _, err := conn.WriteTo(data, target); err != nil {
				if result.Attempts >= maxAttempts {
					return result, errors.Wrap(err, "sending request")
				}
				log.ErrorContext(ctx, "Failed to send", "error", err, "attempt", result.Attempts)
				continue
			}

			if !expectReply {
				result.Outcome = OutcomeNotExpected
				state = stateDone
				continue
			}
			state = stateAwaitingReplies

		case stateAwaitingReplies:
			result.Packets = append(result.Packets, e.collect(ctx, log, conn, buffer)...)
			if err := ctx.Err(); err != nil {
				return result, err
			}

			if len(result.Packets) > 0 {
				result.Outcome = OutcomeReplied
				state = stateDone
				continue
			}

			log.DebugContext(ctx, "No reply, retrying", "attempt", result.Attempts)
			state = stateSending
		}
	}

	return result, nil
}

// collect reads packets until the attempt's timeout elapses, a read fails or
// MaxPackets is reached.
func (e *Exchanger) collect(ctx context.Context, log *slog.Logger, conn net.PacketConn, buffer []byte) [][]byte {
	var packets [][]byte
	start := time.Now()

	for len(packets) < e.MaxPackets {
		remaining := e.Timeout - time.Since(start)
		if remaining <= 0 {
			break
		}
		if err := conn.SetReadDeadline(time.Now().Add(remaining)); err != nil {
			log.ErrorContext(ctx, "Failed to set read deadline", "error", err)
			break
		}
		// Checked after the deadline is set so a cancellation that fired
		// in between is not pushed back out.
		if ctx.Err() != nil {
			break
		}

		n, from, err := conn.ReadFrom(buffer)
		if err != nil {
			var netErr net.Error
			if !errors.As(err, &netErr) || !netErr.Timeout() {
				log.ErrorContext(ctx, "Receive error", "error", err)
			}
			break
		}

		log.DebugContext(ctx, "Received packet", "bytes", n, "from", from.String())
		packets = append(packets, bytes.Clone(buffer[:n]))
	}

	if len(packets) >= e.MaxPackets {
		log.DebugContext(ctx, "Reached max packets, stopping receive loop", "max-packets", e.MaxPackets)
	}
	return packets
}

// EncodePayload serializes v as compact JSON without HTML escaping.
func EncodePayload(v any) ([]byte, error) {
	if raw, ok := v.(json.RawMessage); ok {
		buf := new(bytes.Buffer)
		if err := json.Compact(buf, raw); err != nil {
			return nil, errors.Wrap(ErrEncodePayload, err.Error())
		}
		return buf.Bytes(), nil
	}

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, errors.Wrap(ErrEncodePayload, err.Error())
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
