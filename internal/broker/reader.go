package broker

import (
	"io"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/hlindberg/vigilancia/internal/mqtt"
)

// handleConnection runs a connection's entire life cycle: CONNECT handshake, message dispatch
// loop, and teardown. A panic anywhere in this goroutine - triggered by a decoder this code
// failed to anticipate, say - is recovered and logged rather than allowed to take the broker
// down; the one connection that panicked is simply closed.
func (b *Broker) handleConnection(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("connection from %s: recovered from panic: %v", conn.RemoteAddr(), r)
		}
	}()
	defer conn.Close()

	s, err := b.acceptConnect(conn)
	if err != nil {
		log.Warnf("connection from %s rejected: %s", conn.RemoteAddr(), err)
		return
	}

	go s.runWriter(conn, s.writerDone)
	s.drainPending()

	b.readLoop(s, conn)
}

// acceptConnect enforces that CONNECT is the first packet, validates it, authenticates it, then
// creates or reattaches the session and sends CONNACK. It returns the resulting session, or an
// error after having written a refusal CONNACK (or closed the connection outright, for framing
// errors too broken to carry a CONNACK).
func (b *Broker) acceptConnect(conn net.Conn) (*session, error) {
	first, err := mqtt.ReadGenericMessage(conn)
	if err != nil {
		return nil, err
	}
	if first.PacketType() != mqtt.ConnectType {
		return nil, mqtt.ErrConnectNotFirst
	}

	decoded, err := mqtt.DecodeConnect(first)
	if err != nil {
		writeConnAck(conn, false, mqtt.ConnectionRefusedRejectedVersion)
		return nil, err
	}

	if decoded.HasUserName {
		password := ""
		if decoded.HasPassword {
			password = string(decoded.Password)
		}
		if err := authenticate(b.options.SigningKey, decoded.ClientName, decoded.UserName, password); err != nil {
			writeConnAck(conn, false, mqtt.ConnectionRefusedNotAuthorized)
			return nil, err
		}
	} else if len(b.options.SigningKey) > 0 {
		writeConnAck(conn, false, mqtt.ConnectionRefusedNotAuthorized)
		return nil, ErrInvalidCredentials
	}

	s, sessionPresent := b.admit(decoded, conn)

	if decoded.HasWill {
		s.setWill(&will{
			topic:   decoded.WillTopic,
			message: decoded.WillMessage,
			qos:     decoded.WillQoS,
			retain:  decoded.WillRetain,
		})
	}

	if err := writeConnAck(conn, sessionPresent, mqtt.ConnectionAccepted); err != nil {
		b.registry.remove(s.clientID)
		return nil, err
	}
	log.Infof("client %q connected from %s (session present: %v)", s.clientID, conn.RemoteAddr(), sessionPresent)
	return s, nil
}

// admit finds or creates the session for a CONNECT, honoring CleanSession. It returns the session
// and whether a prior session was reattached (CONNACK's session-present flag).
func (b *Broker) admit(decoded *mqtt.DecodedConnect, conn net.Conn) (*session, bool) {
	existing := b.registry.get(decoded.ClientName)

	if existing != nil && decoded.CleanSession {
		existing.terminate()
		b.subscriptions.removeClient(decoded.ClientName, existing.topics())
		b.registry.remove(decoded.ClientName)
		existing = nil
	}

	if existing != nil {
		existing.reattach(conn)
		return existing, true
	}

	s := newSession(decoded.ClientName, conn, b.options.MailboxSize)
	s.retransmitter.SetInterval(b.options.RetryInterval)
	s.retransmitter.SetMaxRetries(b.options.MaxRetries)
	b.registry.put(s)
	return s, false
}

func writeConnAck(conn net.Conn, sessionPresent bool, returnCode byte) error {
	_, err := mqtt.NewConnAckMessage(sessionPresent, returnCode).WriteTo(conn)
	return err
}

// readLoop pulls packets off conn until it is closed, errors, or the client sends DISCONNECT.
// A read error other than an explicit DISCONNECT is treated as involuntary: the session survives
// as temporallyDisconnected and its will, if any, is published.
func (b *Broker) readLoop(s *session, conn net.Conn) {
	for {
		msg, err := mqtt.ReadGenericMessage(conn)
		if err != nil {
			if err != io.EOF {
				log.Warnf("client %q: read error: %s", s.clientID, err)
			}
			s.markDisconnected()
			if w := s.takeWill(); w != nil {
				b.route(w.topic, w.message, w.qos, w.retain)
			}
			return
		}
		if !b.dispatch(s, msg) {
			return
		}
	}
}

// dispatch handles one decoded packet. It returns false when the connection should be torn down
// (DISCONNECT). A malformed packet is logged and skipped - framing (the fixed header's remaining
// length) is always intact even when a packet's payload is not, so the stream is still in sync
// for the next packet.
func (b *Broker) dispatch(s *session, msg *mqtt.GenericMessage) bool {
	switch msg.PacketType() {
	case mqtt.SubscribeType:
		b.handleSubscribe(s, msg)
	case mqtt.UnsubscribeType:
		b.handleUnsubscribe(s, msg)
	case mqtt.PublishType:
		b.handlePublish(s, msg)
	case mqtt.PublishAckType:
		packetID, err := mqtt.DecodePublishAck(msg)
		if err != nil {
			log.Warnf("client %q: %s", s.clientID, err)
			return true
		}
		s.retransmitter.Ack(packetID)
	case mqtt.PingReqType:
		s.enqueue(mqtt.NewPingRespMessage())
	case mqtt.DisconnectType:
		if err := mqtt.DecodeDisconnect(msg); err != nil {
			log.Warnf("client %q: %s", s.clientID, err)
		}
		s.terminate()
		b.subscriptions.removeClient(s.clientID, s.topics())
		b.registry.remove(s.clientID)
		log.Infof("client %q disconnected", s.clientID)
		return false
	default:
		log.Warnf("client %q: unexpected packet type %d", s.clientID, msg.PacketType())
	}
	return true
}

func (b *Broker) handleSubscribe(s *session, msg *mqtt.GenericMessage) {
	request, err := mqtt.DecodeSubscribe(msg)
	if err != nil {
		log.Warnf("client %q: %s", s.clientID, err)
		return
	}
	returnCodes := make([]byte, len(request.Filters))
	for i, filter := range request.Filters {
		granted := filter.QoS
		if granted > 1 {
			// QoS 2 is not implemented; subscriptions are granted at QoS 1 at most.
			granted = 1
		}
		s.subscribe(filter.Topic, granted)
		b.subscriptions.add(filter.Topic, s.clientID)
		if granted == 1 {
			returnCodes[i] = mqtt.SubscribeReturnQoS1
		} else {
			returnCodes[i] = mqtt.SubscribeReturnQoS0
		}
	}
	s.enqueue(mqtt.NewSubAckMessage(request.PacketID, returnCodes))
}

func (b *Broker) handleUnsubscribe(s *session, msg *mqtt.GenericMessage) {
	request, err := mqtt.DecodeUnsubscribe(msg)
	if err != nil {
		log.Warnf("client %q: %s", s.clientID, err)
		return
	}
	for _, topic := range request.Topics {
		s.unsubscribe(topic)
		b.subscriptions.remove(topic, s.clientID)
	}
	s.enqueue(mqtt.NewUnsubAckMessage(request.PacketID))
}

func (b *Broker) handlePublish(s *session, msg *mqtt.GenericMessage) {
	decoded, err := mqtt.DecodePublish(msg)
	if err != nil {
		log.Warnf("client %q: %s", s.clientID, err)
		return
	}
	b.route(decoded.Topic, decoded.Message, decoded.QoS, decoded.Retain)
	if decoded.QoS > 0 {
		s.enqueue(mqtt.NewPublishAckMessage(decoded.PacketID))
	}
}
