package broker

import (
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/hlindberg/vigilancia/internal/mqtt"
)

// enqueue places msg into the session's mailbox for the writer goroutine to send. If the mailbox
// is full the oldest queued message is dropped to make room for the new one: an overwhelmed
// client loses its oldest undelivered messages rather than stalling the broker.
func (s *session) enqueue(msg mqtt.MessageWriter) {
	select {
	case s.mailbox <- msg:
		return
	default:
	}
	select {
	case <-s.mailbox:
		log.Warnf("session %s: mailbox full, dropping oldest queued message", s.clientID)
	default:
	}
	select {
	case s.mailbox <- msg:
	default:
		log.Errorf("session %s: mailbox still full after dropping oldest message, discarding", s.clientID)
	}
}

// drainPending moves everything queued while disconnected back onto the mailbox, re-registering
// any QoS > 0 PUBLISH with the retransmitter so a PUBACK from the new connection still completes
// delivery tracking. Called once right after a reattaching client's CONNACK is sent.
func (s *session) drainPending() {
	s.mutex.Lock()
	queued := s.pending
	s.pending = nil
	s.mutex.Unlock()

	for _, msg := range queued {
		if generic, ok := msg.(*mqtt.GenericMessage); ok && generic.PacketType() == mqtt.PublishType {
			if decoded, err := mqtt.DecodePublish(generic); err == nil && decoded.QoS > 0 {
				s.retransmitter.Track(decoded.PacketID, generic)
			}
		}
		s.enqueue(msg)
	}
}

// runWriter drains the mailbox and writes each message to conn in strict FIFO order - a single
// goroutine per session guarantees writes are never interleaved. A write error marks the session
// temporallyDisconnected (which migrates anything still queued into the pending queue) and exits.
func (s *session) runWriter(conn net.Conn, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg, ok := <-s.mailbox:
			if !ok {
				return
			}
			if _, err := msg.WriteTo(conn); err != nil {
				log.Errorf("session %s: write failed, marking disconnected: %s", s.clientID, err)
				s.markDisconnected()
				return
			}
		}
	}
}
