package broker

import (
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/hlindberg/vigilancia/internal/mqtt"
)

// liveness describes whether a session has a live, writable stream right now.
type liveness int

const (
	active liveness = iota
	temporallyDisconnected
)

// will is the message the broker publishes on the deceased client's behalf when its connection
// drops without a preceding DISCONNECT.
type will struct {
	topic   string
	message []byte
	qos     int
	retain  bool
}

// session is the broker's per-client state. It outlives the TCP connection: a client that
// reconnects with the same client ID and CleanSession=false finds its subscriptions, in-flight
// deliveries and queued messages exactly as it left them.
type session struct {
	mutex sync.Mutex

	clientID string
	conn     net.Conn // nil while temporallyDisconnected
	mailbox  chan mqtt.MessageWriter

	subscriptions map[string]int // topic -> granted QoS

	pending []mqtt.MessageWriter // queued while temporallyDisconnected, drained FIFO on reconnect

	retransmitter *mqtt.Retransmitter

	state liveness
	will  *will

	writerDone chan struct{} // closed to stop the current runWriter goroutine
}

func newSession(clientID string, conn net.Conn, mailboxSize int) *session {
	s := &session{
		clientID:      clientID,
		conn:          conn,
		mailbox:       make(chan mqtt.MessageWriter, mailboxSize),
		subscriptions: make(map[string]int),
		state:         active,
		writerDone:    make(chan struct{}),
	}
	s.retransmitter = mqtt.NewRetransmitter(conn, s.onDeliveryAbandoned)
	return s
}

func (s *session) onDeliveryAbandoned(packetID int) {
	log.WithError(mqtt.ErrDeliveryFailed).Errorf("session %s: packet %d abandoned", s.clientID, packetID)
}

// reattach gives a reattaching client's session a new live connection, replacing whatever came
// before. Subscriptions, in-flight tracking and the pending queue all carry over unchanged.
func (s *session) reattach(conn net.Conn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	close(s.writerDone)
	s.writerDone = make(chan struct{})
	s.conn = conn
	s.retransmitter.SetWriter(conn)
	s.state = active
}

// markDisconnected flips the session to temporallyDisconnected, suspending its retransmitter and
// dropping the stream handle. Anything still in the mailbox is migrated into the pending queue so
// nothing delivered while connected is lost, then delivered in the same order on reconnect.
func (s *session) markDisconnected() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state == temporallyDisconnected {
		return
	}
	s.state = temporallyDisconnected
	s.conn = nil
	s.retransmitter.SetWriter(nil)
	close(s.writerDone)
	s.writerDone = make(chan struct{})
drain:
	for {
		select {
		case msg := <-s.mailbox:
			s.pending = append(s.pending, msg)
		default:
			break drain
		}
	}
}

// terminate is called on an explicit DISCONNECT: the session is removed for good, its will is
// discarded (it must not fire), and its background retransmitter is stopped.
func (s *session) terminate() {
	s.mutex.Lock()
	s.will = nil
	s.mutex.Unlock()
	s.retransmitter.Close()
}

func (s *session) setWill(w *will) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.will = w
}

func (s *session) takeWill() *will {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	w := s.will
	s.will = nil
	return w
}

func (s *session) subscribe(topic string, qos int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.subscriptions[topic] = qos
}

func (s *session) unsubscribe(topic string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.subscriptions, topic)
}

func (s *session) grantedQoS(topic string) (int, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	qos, ok := s.subscriptions[topic]
	return qos, ok
}

func (s *session) topics() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	result := make([]string, 0, len(s.subscriptions))
	for topic := range s.subscriptions {
		result = append(result, topic)
	}
	return result
}

// deliver routes one published message to this client: if it is connected the message (or, for
// QoS > 0, a tracked copy with a freshly allocated packet ID) is handed to the mailbox; if it is
// temporally disconnected the message is appended to the pending queue instead.
func (s *session) deliver(topic string, message []byte, qos int, retain bool) {
	opts := []mqtt.PublishOption{mqtt.Topic(topic), mqtt.Message(message), mqtt.QoS(qos), mqtt.Retain(retain)}

	s.mutex.Lock()
	disconnected := s.state == temporallyDisconnected
	s.mutex.Unlock()

	var msg mqtt.MessageWriter
	if qos > 0 {
		packetID := s.retransmitter.NextPacketID()
		request := mqtt.NewPublishRequest(append(opts, mqtt.PacketID(packetID))...)
		generic := request.Message()
		msg = generic
		if !disconnected {
			s.retransmitter.Track(packetID, generic)
		}
	} else {
		msg = mqtt.NewPublishRequest(opts...).Message()
	}

	if disconnected {
		s.mutex.Lock()
		s.pending = append(s.pending, msg)
		s.mutex.Unlock()
		return
	}
	s.enqueue(msg)
}
