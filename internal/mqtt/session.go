package mqtt

import (
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// INITIAL Session state is before session has been used/connected
	INITIAL = iota

	// CONNECTED Session state is when Session is connected (or thinks it is - it does not know about the state of the actual network connection)
	CONNECTED

	// DISCONNECTING Session state is when Session is in the process of disconnecting (waiting for queues to drain)
	DISCONNECTING

	// DISCONNECTED Session state is when Session has been DISCONNECTED (and it is possible to reconnect)
	DISCONNECTED
)

// IncomingMessage is a PUBLISH delivered to this Session by the broker, handed to the
// application via Session.Received().
type IncomingMessage struct {
	Topic   string
	Message []byte
	QoS     int
	Retain  bool
}

// Session describes a client session that may span several connects to a MQTT Broker.
// It keeps track of package IDs "in flight" and a Client ID.
// It requires one io.Writer and one io.Reader to operate. It does not handle a Network connection - this is
// the responsability of the caller (open/dial, close, reconnect, etc.)
//
type Session struct {
	options       SessionOptions
	retransmitter *Retransmitter
	stopAfter     chan int
	stopped       chan bool
	toBroker      chan MessageWriter
	drained       chan bool
	received      chan *IncomingMessage
	subAcks       chan subAckResult
	unsubAcks     chan int
	state         int
	mutex         *sync.RWMutex // mutex for session state changes
	xIgnorePubAck bool          // eXceptional behavior - ignore PUBACKs and let the set of in-flight messages grow, used to exercise retransmission
}

type subAckResult struct {
	packetID    int
	returnCodes []byte
}

func (s *Session) initRetransmitter(doClean bool) {
	if s.retransmitter == nil || doClean {
		if s.retransmitter != nil {
			s.retransmitter.Close()
		}
		s.retransmitter = NewRetransmitter(s.options.Conn, func(packetID int) {
			log.Errorf("Session: delivery abandoned for packet ID %d", packetID)
		})
	} else {
		// Reconnecting on the same session: point the existing retransmitter's writer at the new
		// connection so already-tracked messages resend there instead of the old, dead socket.
		s.retransmitter.writer = s.options.Conn
	}
}

// Connect connects to a MQTT broker and returns after having received a CONNACK
// The ClientName ConnectOption should not be included in the ConnectOptions as it is defined by the Session.
// If given as an option here it will be silently overwritten by the name given for the session.
//
// If calling this to continue the session (after an optional ReEstablish()), the CleanSession(false) option
// should be used if QoS > 0 and there is a desire to continue with the same packets "in flight".
//
func (s *Session) Connect(options ...ConnectOption) error {
	s.assertReaderWriter()

	// Since go does not have mutex transitions read->write and vice versa a write lock is needed here
	// since there can otherwise be reace conditions in the gap between releasing a read lock and aquiring a write lock;
	// meaning state could have changed. Instead this always aquires a write lock.
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// Error if not in INITIAL, or DISCONNECTED state
	if !(s.state == INITIAL || s.state == DISCONNECTED) {
		// i.e. cannot connect when disconnecting (waiting for drains), and also not when already connected
		return fmt.Errorf("cannot Connect when session is disconnecting or already connected")
	}

	// Create a request (override the client name by appending it - thus overwriting what user gave)
	// Rationale: While this may seem odd - this is done to prevent reestablishing a client with in-flight under a different
	// client ID - which would otherwise be possible if the ID is configurable per connect.
	//
	options = append(options, ClientName(s.options.ClientName))
	connectionRequest := NewConnectRequest(options...)
	s.initRetransmitter(connectionRequest.IsCleanSession())
	s.xIgnorePubAck = connectionRequest.options.XIgnorePubAck

	// MQTT 3.1.1 states that if CONNACK does not arrive within reasonable time (left open by the
	// spec) the client should close the connection. This is configurable as a ConnectOption.
	// This is implemented with two channels - a timeOut channel and a connectResult channel.
	//
	connectResult := make(chan error, 1)
	timeOut := make(chan error, 1)

	// -- timeout producer
	go func() {
		time.Sleep(time.Duration(connectionRequest.options.ConnectTimeOut) * time.Second)
		timeOut <- ErrTIMEOUT
	}()

	// -- connect/connack handler
	go func() {
		// Send CONNECT
		log.Debugf("Broker <- CONNECT(%s)", connectionRequest.options.ClientName)

		msg := connectionRequest.makeMessage()
		_, err := msg.WriteTo(s.options.Conn)
		if err != nil {
			log.Errorf("Error while writing CONNECT message: %s", err)
			connectResult <- err
			return
		}

		// Wait for CONNACK - SPEC: the first packet sent by a broker after CONNECT must be a CONNACK.
		resp, err := ReadGenericMessage(s.options.Conn)
		if err != nil {
			log.Errorf("Error while reading CONNACK message: %s", err)
			connectResult <- err
			return
		}
		ack, err := DecodeConnAck(resp)
		if err != nil {
			connectResult <- err
			return
		}
		if ack.ReturnCode != ConnectionAccepted {
			connectResult <- fmt.Errorf("did not get ConnectionAccepted return status back - got %d", ack.ReturnCode)
			return
		}

		log.Debugf("Broker -> CONNACK(sp=%v) received ok", ack.SessionPresent)
		connectResult <- nil
	}()

	// Wait for either error free connect or for timeout
	select {
	case err := <-timeOut:
		return err
	case err := <-connectResult:
		if err != nil {
			return err
		}
	}
	s.state = CONNECTED

	// -- Start a broker lister goroutine handling all reads from broker
	log.Debugf("Session: starting handleMessages()")
	s.handleMessages()

	// -- Start a send to broker goroutine handling all write to broker
	log.Debugf("Session: Starting startSendToBroker()")
	s.startSendToBroker()

	// -- If this is a reconnect (non clean session), resend messages
	if !connectionRequest.IsCleanSession() {
		s.retransmitter.flight.eachWaitingPacket(func(packetID int, msg MessageWriter) {
			log.Debugf("Resending message with packetID: %d", packetID)
			msg.WriteDupTo(s.options.Conn)
		})
	}
	return nil
}

// DisconnectWithoutMessage performs flushing of messages just like Disconnect() but does not send a
// DISCONNECT message to the broker.
// This is used to test unclean disconnect.
//
func (s *Session) DisconnectWithoutMessage(timeout int) error {
	log.Debugf("DisconnectWithoutMessage()")
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state == INITIAL {
		return nil // wasn't connected in the first place - no work to do.
	}
	if s.state != CONNECTED {
		return fmt.Errorf("session can only be flushed when it is in INITIAL, or CONNECTED state")
	}
	log.Debugf("Session: Stopping messageHandler with Timeout %d", timeout)
	// send stop to the incoming message handler
	s.stopAfter <- timeout

	// Wait for message handler to stop
	<-s.stopped

	// Stop accepting messages to the s.toBroker channel - the queue will be drained
	close(s.toBroker)

	// Wait for outgoing messages to drain
	<-s.drained

	log.Debugf("Session: Queue to broker drained")

	s.state = DISCONNECTED
	return nil
}

// Disconnect disconnects the MQTT session from the broker in an orderly fashion by sending a DISCONNECT message.
// Incoming packets (ACKs included) keep being processed for `timeout` seconds, then processing stops and the
// DISCONNECT is sent. The full timeout is always waited, even when no message is in flight; a timeout of 0
// stops processing incoming packets right away.
//
// Note: While the Disconnect is in progress Publish is blocked since it aquires the mutex. Once the mutex is released
// a Publish requires a CONNECTED state - which the session will not have after the DISCONNECT.
//
func (s *Session) Disconnect(timeout int) error {
	log.Debugf("Disconnect()")

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state == INITIAL {
		return nil // wasn't connected in the first place - no work to do.
	}
	if s.state != CONNECTED {
		return fmt.Errorf("session can only be disconnected when it is in INITIAL, or CONNECTED state")
	}

	log.Debugf("Session: Stopping messageHandler with Timeout %d", timeout)
	// send stop to the incoming message handler
	s.stopAfter <- timeout

	// Wait for message handler to stop
	<-s.stopped

	log.Debugf("Session: messageHandler() stop signal received")

	log.Debugf("Broker <- DISCONNECT")

	// Enqueue the disconnect to be sent to the broker
	s.toBroker <- NewDisconnectMessage()

	// Stop accepting messages to the s.toBroker channel - the queue will be drained
	close(s.toBroker)

	// Wait for outgoing messages to drain (including the disconnect)
	<-s.drained

	log.Debugf("Session: Queue to broker drained")

	s.state = DISCONNECTED
	return nil
}

// startSendToBroker starts a goroutine that reads s.toBroker and sends whatever is posted there
// to the broker. This continues until s.toBroker channel is closed.
//
func (s *Session) startSendToBroker() {
	s.toBroker = make(chan MessageWriter, 100)
	go func() {
		for message := range s.toBroker {
			if _, err := message.WriteTo(s.options.Conn); err != nil {
				log.Errorf("Session: error writing to broker: %s", err)
			}
		}
		s.drained <- true
	}()
}

// Received returns the channel on which PUBLISH packets delivered by the broker arrive. QoS 1
// deliveries are PUBACK'd automatically before being handed to this channel.
func (s *Session) Received() <-chan *IncomingMessage {
	return s.received
}

// handleMessages starts go routines that listens for incoming packets and performs the required
// housekeeping of messages in-flight, as well as delivering inbound PUBLISH packets.
// Note that a client should call `Disconnect` for an orderly disconnect - that will also optionally do a drain with
// a timeout.
//
func (s *Session) handleMessages() {

	// -- handler go routine
	go func() {
		timeout := make(chan bool)
		messages := make(chan *GenericMessage, 100)

		// -- reader go routine
		go func() {
			for {
				msg, err := ReadGenericMessage(s.options.Conn)
				if err != nil {
					log.Debugf("Read Loop: stopped reading from broker connection: %s", err)
					break
				}
				messages <- msg
			}
		}()

		for {
			select {
			case cancelTimeout := <-s.stopAfter:
				// When receiving information to stop after a timeout on drain, set a timer that will be selected
				// instead of blocking on a read from the broker
				//
				go func() {
					time.Sleep(time.Duration(cancelTimeout) * time.Second)
					timeout <- true
				}()

			case <-timeout:
				// Asked to stop after timeout - it now timed out, so stop waiting for headers
				s.stopped <- true
				return

			case msg := <-messages:
				// fan out to process specific handlers
				log.Debugf("Message Loop: msg type %d, length %d", msg.PacketType(), len(msg.Body()))

				switch msg.PacketType() {
				case PublishAckType:
					s.processPublishAck(msg)
				case PublishType:
					s.processPublish(msg)
				case SubAckType:
					s.processSubAck(msg)
				case UnsubAckType:
					s.processUnsubAck(msg)
				case PingRespType:
					log.Debugf("PINGRESP received")
				default:
					log.Errorf("Message Processing Loop: unexpected message type %d, ignored", msg.PacketType())
				}
			}
		}
	}()
}

// processPublishAck performs the required actions when receiving a PUBACK: the message in-flight
// is released and the packet ID it used is freed for reuse.
//
func (s *Session) processPublishAck(msg *GenericMessage) {
	packetID, err := DecodePublishAck(msg)
	if err != nil {
		log.Errorf("malformed PUBACK: %s", err)
		return
	}

	log.Debugf("PUBACK(%d) Received", packetID)
	if s.xIgnorePubAck {
		// Exceptional test behavior - used to exercise retransmission
		log.Debugf("PUBACK(%d) Ignored", packetID)
		return
	}
	s.retransmitter.Ack(packetID)
}

// processPublish delivers an inbound PUBLISH to the Received() channel, PUBACK'ing it first if
// it was sent at QoS 1.
//
func (s *Session) processPublish(msg *GenericMessage) {
	publish, err := DecodePublish(msg)
	if err != nil {
		log.Errorf("malformed PUBLISH: %s", err)
		return
	}
	if publish.QoS == 1 {
		s.toBroker <- NewPublishAckMessage(publish.PacketID)
	}
	select {
	case s.received <- &IncomingMessage{Topic: publish.Topic, Message: publish.Message, QoS: publish.QoS, Retain: publish.Retain}:
	default:
		log.Errorf("Received() channel is full, dropping PUBLISH for topic %q", publish.Topic)
	}
}

func (s *Session) processSubAck(msg *GenericMessage) {
	packetID, returnCodes, err := DecodeSubAck(msg)
	if err != nil {
		log.Errorf("malformed SUBACK: %s", err)
		return
	}
	select {
	case s.subAcks <- subAckResult{packetID: packetID, returnCodes: returnCodes}:
	default:
		log.Errorf("SUBACK(%d) could not be delivered, no pending Subscribe() is waiting", packetID)
	}
}

func (s *Session) processUnsubAck(msg *GenericMessage) {
	packetID, err := DecodeUnsubAck(msg)
	if err != nil {
		log.Errorf("malformed UNSUBACK: %s", err)
		return
	}
	select {
	case s.unsubAcks <- packetID:
	default:
		log.Errorf("UNSUBACK(%d) could not be delivered, no pending Unsubscribe() is waiting", packetID)
	}
}

// Publish publishes to the connected MQTT broker (Session handles ACKs)
//
func (s *Session) Publish(options ...PublishOption) error {
	s.assertReaderWriter()
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.state != CONNECTED {
		return fmt.Errorf("publish requires session to be in CONNECTED state")
	}
	var msg MessageWriter
	var done <-chan error
	// Set PacketID if required
	pr := NewPublishRequest(options...)
	if pr.options.QoS > 0 && pr.options.PacketID == 0 {
		pr.options.PacketID = s.retransmitter.NextPacketID()
		genericMsg := pr.makeMessage()
		done = s.retransmitter.Track(pr.options.PacketID, genericMsg)
		msg = genericMsg
	} else {
		msg = pr.makeMessage()
	}
	s.toBroker <- msg
	if done == nil {
		return nil
	}
	// QoS 1: await the retransmission engine's verdict - PUBACK received or retry budget
	// exceeded - before returning to the caller, per the publish contract for QoS 1.
	return <-done
}

// Subscribe sends a SUBSCRIBE for the given topic filters and blocks until the matching SUBACK
// is received, returning the per-filter granted return codes in request order.
//
func (s *Session) Subscribe(filters ...TopicFilter) ([]byte, error) {
	s.assertReaderWriter()
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.state != CONNECTED {
		return nil, fmt.Errorf("subscribe requires session to be in CONNECTED state")
	}
	packetID := s.retransmitter.NextPacketID()
	s.toBroker <- NewSubscribeRequest(packetID, filters...)

	for {
		select {
		case result := <-s.subAcks:
			if result.packetID != packetID {
				// Stale SUBACK for a previous Subscribe() call still in flight - not expected with
				// one Subscribe() at a time, but handled rather than dropped.
				continue
			}
			s.retransmitter.flight.unsetBit(packetID)
			return result.returnCodes, nil
		case <-time.After(time.Duration(s.options.AckTimeoutSeconds()) * time.Second):
			return nil, ErrTIMEOUT
		}
	}
}

// Unsubscribe sends an UNSUBSCRIBE for the given topic filters and blocks until the matching
// UNSUBACK is received.
//
func (s *Session) Unsubscribe(topics ...string) error {
	s.assertReaderWriter()
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.state != CONNECTED {
		return fmt.Errorf("unsubscribe requires session to be in CONNECTED state")
	}
	packetID := s.retransmitter.NextPacketID()
	s.toBroker <- NewUnsubscribeRequest(packetID, topics...)

	for {
		select {
		case gotID := <-s.unsubAcks:
			if gotID != packetID {
				continue
			}
			s.retransmitter.flight.unsetBit(packetID)
			return nil
		case <-time.After(time.Duration(s.options.AckTimeoutSeconds()) * time.Second):
			return ErrTIMEOUT
		}
	}
}

func (s *Session) assertReaderWriter() {
	if s.options.Conn == nil {
		panic("Session requires a net.Conn Connection to operate")
	}
}

// SessionOptions are options applicable to a Session
//
type SessionOptions struct {
	ClientName          string
	Conn                net.Conn
	SubscribeAckTimeout int // seconds to wait for a SUBACK/UNSUBACK before giving up, 0 means use the default
}

// AckTimeoutSeconds returns the configured SUBACK/UNSUBACK wait, defaulting to 5 seconds.
func (o *SessionOptions) AckTimeoutSeconds() int {
	if o.SubscribeAckTimeout <= 0 {
		return 5
	}
	return o.SubscribeAckTimeout
}

// DefaultSessionOptions returns the defaults options for a session
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{}
}

// SessionOption is an Options-modifying-function
type SessionOption func(*SessionOptions) error

// NewSession creates a session that can be used to connect multiple times to a MQTT broker
// with retained session information.
//
func NewSession(options ...SessionOption) *Session {
	opts := DefaultSessionOptions()
	for _, fOpt := range options {
		if err := fOpt(&opts); err != nil {
			log.Fatalf("Session option apply failure: %s", err)
		}
	}

	return &Session{
		options:   opts,
		stopAfter: make(chan int),
		stopped:   make(chan bool),
		drained:   make(chan bool),
		received:  make(chan *IncomingMessage, 100),
		subAcks:   make(chan subAckResult, 1),
		unsubAcks: make(chan int, 1),
		mutex:     &sync.RWMutex{},
		state:     INITIAL,
	}
}

// ReEstablish enables modifying the Input/Output options of an existing Session (i.e. for a new network connection).
// This is only meaningful if QoS > 0 since for 0, a NewSession can be used for each Connect.
//
// Example:
//     s.ReEstablish(Connection(conn))
//
func (s *Session) ReEstablish(options ...SessionOption) {
	opts := &s.options
	for _, fOpt := range options {
		if err := fOpt(opts); err != nil {
			log.Fatalf("Session option apply failure: %s", err)
		}
	}
}

// ClientID returns a SessionOption for the given clientName
func ClientID(clientName string) SessionOption {
	return func(o *SessionOptions) error {
		o.ClientName = clientName
		return nil
	}
}

// Connection returns a SessionOption for the given net.Conn
func Connection(conn net.Conn) SessionOption {
	return func(o *SessionOptions) error {
		o.Conn = conn
		return nil
	}
}

// SubscribeAckTimeoutSeconds returns a SessionOption overriding how long Subscribe/Unsubscribe
// wait for their respective ACKs.
func SubscribeAckTimeoutSeconds(value int) SessionOption {
	return func(o *SessionOptions) error {
		o.SubscribeAckTimeout = value
		return nil
	}
}
