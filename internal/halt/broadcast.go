package halt

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultSubject is the NATS subject the halt notice is published on.
// Order gateways subscribe to it and stop accepting orders.
const DefaultSubject = "control.trading.halted"

// Notice is the wire payload published when trading is halted.
type Notice struct {
	Reason   string    `json:"reason"`
	HaltedAt time.Time `json:"halted_at"`
	Source   string    `json:"source"`
}

// Broadcaster publishes halt notices to NATS. It is registered as a Switch
// hook so the notice goes out exactly once, on the disabling transition.
type Broadcaster struct {
	nc      *nats.Conn
	subject string
	source  string
	logger  zerolog.Logger
}

func NewBroadcaster(nc *nats.Conn, subject, source string, logger zerolog.Logger) *Broadcaster {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Broadcaster{nc: nc, subject: subject, source: source, logger: logger}
}

// Publish sends the halt notice. Publish failures are logged, not returned:
// the in-process switch has already flipped and the halt must not be undone
// because the broadcast transport hiccuped.
func (b *Broadcaster) Publish(reason string, at time.Time) {
	payload, err := json.Marshal(Notice{
		Reason:   reason,
		HaltedAt: at,
		Source:   b.source,
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("marshal halt notice")
		return
	}

	if err := b.nc.Publish(b.subject, payload); err != nil {
		b.logger.Error().Err(err).Str("subject", b.subject).Msg("publish halt notice")
		return
	}
	// Flush so the notice is on the wire before replay continues.
	if err := b.nc.Flush(); err != nil {
		b.logger.Error().Err(err).Msg("flush halt notice")
	}
}
