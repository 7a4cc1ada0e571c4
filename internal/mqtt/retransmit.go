package mqtt

import (
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultRetryInterval is the recommended interval between retransmissions of an
	// unacknowledged QoS 1 PUBLISH.
	DefaultRetryInterval = 5 * time.Second

	// DefaultMaxRetries is the recommended number of retransmissions attempted before a delivery
	// is abandoned.
	DefaultMaxRetries = 5
)

// Retransmitter tracks in-flight QoS 1 messages by packet ID and resends them with the DUP bit
// set until acknowledged, abandoned after MaxRetries, or cancelled. It is shared by the client
// Session and the broker's per-session state - the tracking and retry logic is identical on
// both ends, only the writer differs.
type Retransmitter struct {
	flight      *inFlight
	writer      io.Writer
	mutex       sync.Mutex
	retries     map[int]int
	completions map[int]chan error
	interval    time.Duration
	maxRetries  int
	stop        chan struct{}
	stopOnce    sync.Once
	onAbandon   func(packetID int)
}

// NewRetransmitter creates a Retransmitter that writes (and re-writes) messages to writer.
// onAbandon, if non-nil, is called once a packet ID has exceeded MaxRetries without being
// acknowledged.
func NewRetransmitter(writer io.Writer, onAbandon func(packetID int)) *Retransmitter {
	r := &Retransmitter{
		flight:      newInFlight(),
		writer:      writer,
		retries:     make(map[int]int),
		completions: make(map[int]chan error),
		interval:    DefaultRetryInterval,
		maxRetries:  DefaultMaxRetries,
		stop:        make(chan struct{}),
		onAbandon:   onAbandon,
	}
	go r.watch()
	return r
}

// SetInterval overrides the retry interval - intended for tests that don't want to wait 5 seconds.
func (r *Retransmitter) SetInterval(interval time.Duration) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.interval = interval
}

// SetMaxRetries overrides the retry budget.
func (r *Retransmitter) SetMaxRetries(max int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.maxRetries = max
}

// SetWriter redirects future resends to writer. The broker uses this when a client reconnects
// and its stream handle is replaced; pass nil to suspend resends while a client has no live
// connection - retryRound skips the write (but still counts the retry) when the writer is nil.
func (r *Retransmitter) SetWriter(writer io.Writer) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.writer = writer
}

// NextPacketID claims the next free packet ID for a new in-flight send.
func (r *Retransmitter) NextPacketID() int {
	return r.flight.nextPacketID()
}

// Track registers msg as awaiting a PUBACK for packetID and returns a channel that receives the
// delivery's outcome exactly once: nil once Ack(packetID) arrives, or ErrDeliveryFailed if the
// retry budget is exceeded first. A caller uninterested in the outcome (the broker, which relies
// on onAbandon for logging) may simply discard the channel.
func (r *Retransmitter) Track(packetID int, msg MessageWriter) <-chan error {
	done := make(chan error, 1)
	r.flight.registerWaiting(packetID, msg)
	r.mutex.Lock()
	r.retries[packetID] = 0
	r.completions[packetID] = done
	r.mutex.Unlock()
	return done
}

// Ack releases packetID - call on receipt of its PUBACK. It is not an error to Ack an unknown
// packet ID (e.g. a duplicate, late PUBACK after abandonment).
func (r *Retransmitter) Ack(packetID int) {
	r.mutex.Lock()
	_, tracked := r.retries[packetID]
	done := r.completions[packetID]
	if tracked {
		delete(r.retries, packetID)
		delete(r.completions, packetID)
	}
	r.mutex.Unlock()
	if tracked {
		r.flight.releaseWaiting(packetID)
		r.flight.unsetBit(packetID)
		if done != nil {
			done <- nil
		}
	}
}

// Close stops the background retry loop. It does not close the underlying writer.
func (r *Retransmitter) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Retransmitter) watch() {
	for {
		r.mutex.Lock()
		interval := r.interval
		r.mutex.Unlock()

		select {
		case <-r.stop:
			return
		case <-time.After(interval):
			r.retryRound()
		}
	}
}

func (r *Retransmitter) retryRound() {
	type due struct {
		packetID int
		msg      MessageWriter
	}
	var abandoned []int
	var toResend []due

	r.flight.eachWaitingPacket(func(packetID int, msg MessageWriter) {
		r.mutex.Lock()
		count := r.retries[packetID]
		count++
		if count > r.maxRetries {
			abandoned = append(abandoned, packetID)
		} else {
			r.retries[packetID] = count
			toResend = append(toResend, due{packetID: packetID, msg: msg})
		}
		r.mutex.Unlock()
	})

	for _, packetID := range abandoned {
		r.flight.releaseWaiting(packetID)
		r.flight.unsetBit(packetID)
		r.mutex.Lock()
		delete(r.retries, packetID)
		done := r.completions[packetID]
		delete(r.completions, packetID)
		r.mutex.Unlock()
		log.Errorf("delivery abandoned for packet ID %d after exceeding retry budget", packetID)
		if done != nil {
			done <- ErrDeliveryFailed
		}
		if r.onAbandon != nil {
			r.onAbandon(packetID)
		}
	}

	r.mutex.Lock()
	writer := r.writer
	r.mutex.Unlock()
	if writer == nil {
		return
	}

	for _, d := range toResend {
		if _, err := d.msg.WriteDupTo(writer); err != nil {
			log.Errorf("retransmission of packet ID %d failed: %s", d.packetID, err)
		}
	}
}
