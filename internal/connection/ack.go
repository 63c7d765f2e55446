package connection

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sensorfabric/sensord/internal/wakelock"
)

// AckTimeout bounds how long the ack receiver waits for a client to
// acknowledge a delivered wake-up event before treating it as wedged.
const AckTimeout = 5 * time.Second

// Ack is one client acknowledgement: the connection ID and how many
// outstanding wake events it is clearing.
type Ack struct {
	ConnectionID int64
	Count        int32
}

// AckReceiver drains acknowledgements from connections and, on timeout
// with the wakelock still held, force-resets every connection's refcount
// and releases the wakelock rather than let a wedged client hold the
// system awake indefinitely.
type AckReceiver struct {
	holder *Holder
	wake   wakelock.WakeLock
	acks   chan Ack
	log    zerolog.Logger
}

func NewAckReceiver(holder *Holder, wake wakelock.WakeLock, log zerolog.Logger) *AckReceiver {
	return &AckReceiver{
		holder: holder,
		wake:   wake,
		acks:   make(chan Ack, 256),
		log:    log.With().Str("component", "ack_receiver").Logger(),
	}
}

// Submit is called by the transport layer when a client's ack arrives.
// Non-blocking: a full channel means the receiver loop is behind, which
// the timeout path will eventually recover from.
func (a *AckReceiver) Submit(ack Ack) {
	select {
	case a.acks <- ack:
	default:
		a.log.Warn().Int64("connection_id", ack.ConnectionID).Msg("ack channel full, dropping")
	}
}

// Run drives the receive loop until ctx is cancelled. It only blocks on a
// timeout when the wakelock is actually held; otherwise it waits
// indefinitely for the next ack or for cancellation.
func (a *AckReceiver) Run(ctx context.Context) {
	for {
		var timeout <-chan time.Time
		var timer *time.Timer
		if a.wake.Held() {
			timer = time.NewTimer(AckTimeout)
			timeout = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ack := <-a.acks:
			if timer != nil {
				timer.Stop()
			}
			a.apply(ack)
		case <-timeout:
			a.forceRelease()
		}
	}
}

func (a *AckReceiver) apply(ack Ack) {
	for _, c := range a.holder.SnapshotEvents() {
		if c.ID == ack.ConnectionID {
			c.AckWake(ack.Count)
			break
		}
	}
	a.maybeRelease()
}

// forceRelease resets every connection's wake refcount to zero and
// releases the wakelock. This is the last-resort recovery for a client
// that never acknowledges.
func (a *AckReceiver) forceRelease() {
	a.log.Warn().Msg("ack timeout, force-releasing wakelock")
	for _, c := range a.holder.SnapshotEvents() {
		c.AckWake(c.WakeRefcount())
	}
	a.wake.Release()
}

// maybeRelease releases the wakelock once every connection reports a
// zero wake refcount.
func (a *AckReceiver) maybeRelease() {
	for _, c := range a.holder.SnapshotEvents() {
		if c.WakeRefcount() > 0 {
			return
		}
	}
	a.wake.Release()
}
