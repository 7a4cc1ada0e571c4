package broker

import (
	"bytes"
	"testing"
	"time"

	"github.com/hlindberg/vigilancia/internal/mqtt"
	"github.com/hlindberg/vigilancia/internal/mqtttest"
	"github.com/hlindberg/vigilancia/internal/testutils"
)

// drainMailbox writes every message currently queued in s's mailbox to conn, in order. Tests use
// this instead of running the real runWriter goroutine so assertions don't race a background
// writer.
func drainMailbox(s *session, conn *mqtttest.MockConnection, t *testing.T) {
	for {
		select {
		case msg := <-s.mailbox:
			_, err := msg.WriteTo(conn)
			testutils.CheckNotError(err, t)
		default:
			return
		}
	}
}

func sendConnect(conn *mqtttest.MockConnection, options ...mqtt.ConnectOption) {
	msg := mqtt.NewConnectRequest(options...).Message()
	var buf bytes.Buffer
	_, _ = msg.WriteTo(&buf)
	_, _ = conn.RemoteWrite(buf.Bytes())
}

// readAllMessages decodes every packet the broker has written to conn so far, in order.
// MockConnection.Remote() returns a snapshot of the whole write history rather than draining it,
// so this is the one place tests read from it - always against the full history, never assuming
// it was consumed by an earlier read.
func readAllMessages(conn *mqtttest.MockConnection, t *testing.T) []*mqtt.GenericMessage {
	t.Helper()
	reader := conn.Remote()
	var result []*mqtt.GenericMessage
	for {
		msg, err := mqtt.ReadGenericMessage(reader)
		if err != nil {
			return result
		}
		result = append(result, msg)
	}
}

func Test_Broker_accepts_CONNECT_and_grants_a_new_session(t *testing.T) {
	b := New()
	conn := mqtttest.NewMockConnection()
	sendConnect(conn, mqtt.ClientName("camera-1"), mqtt.CleanSession(true))

	s, err := b.acceptConnect(conn)
	testutils.CheckNotError(err, t)
	testutils.CheckEqual("camera-1", s.clientID, t)

	msgs := readAllMessages(conn, t)
	testutils.CheckEqual(1, len(msgs), t)
	ack, err := mqtt.DecodeConnAck(msgs[0])
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(byte(mqtt.ConnectionAccepted), ack.ReturnCode, t)
	testutils.CheckFalse(ack.SessionPresent, t)
}

func Test_Broker_rejects_CONNECT_with_bad_credentials(t *testing.T) {
	b := New(SigningKey([]byte("s3cr3t")))
	conn := mqtttest.NewMockConnection()
	sendConnect(conn, mqtt.ClientName("camera-1"), mqtt.UserName("camera-1"), mqtt.Password([]byte("not-a-token")))

	_, err := b.acceptConnect(conn)
	testutils.CheckError(err, t)

	msgs := readAllMessages(conn, t)
	ack, err := mqtt.DecodeConnAck(msgs[0])
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(byte(mqtt.ConnectionRefusedNotAuthorized), ack.ReturnCode, t)
}

func Test_Broker_accepts_CONNECT_with_valid_token(t *testing.T) {
	key := []byte("s3cr3t")
	b := New(SigningKey(key))
	conn := mqtttest.NewMockConnection()

	token, err := IssueToken(key, "camera-1", "camera-1", time.Hour)
	testutils.CheckNotError(err, t)

	sendConnect(conn, mqtt.ClientName("camera-1"), mqtt.UserName("camera-1"), mqtt.Password([]byte(token)))
	_, err = b.acceptConnect(conn)
	testutils.CheckNotError(err, t)

	msgs := readAllMessages(conn, t)
	ack, err := mqtt.DecodeConnAck(msgs[0])
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(byte(mqtt.ConnectionAccepted), ack.ReturnCode, t)
}

func Test_Broker_routes_PUBLISH_to_subscribed_clients_only(t *testing.T) {
	b := New()

	subConn := mqtttest.NewMockConnection()
	sendConnect(subConn, mqtt.ClientName("monitor-1"), mqtt.CleanSession(true))
	sub, err := b.acceptConnect(subConn)
	testutils.CheckNotError(err, t)

	otherConn := mqtttest.NewMockConnection()
	sendConnect(otherConn, mqtt.ClientName("monitor-2"), mqtt.CleanSession(true))
	_, err = b.acceptConnect(otherConn)
	testutils.CheckNotError(err, t)

	pubConn := mqtttest.NewMockConnection()
	sendConnect(pubConn, mqtt.ClientName("camera-1"), mqtt.CleanSession(true))
	pub, err := b.acceptConnect(pubConn)
	testutils.CheckNotError(err, t)

	subscribeMsg := mqtt.NewSubscribeRequest(1, mqtt.TopicFilter{Topic: "incidents/camera-1", QoS: 1})
	b.dispatch(sub, subscribeMsg)
	drainMailbox(sub, subConn, t) // SUBACK

	publishMsg := mqtt.NewPublishRequest(mqtt.Topic("incidents/camera-1"), mqtt.Message([]byte("fire")), mqtt.QoS(1), mqtt.PacketID(1)).Message()
	b.dispatch(pub, publishMsg)
	drainMailbox(sub, subConn, t)

	msgs := readAllMessages(subConn, t)
	// CONNACK, SUBACK, then the routed PUBLISH.
	testutils.CheckEqual(3, len(msgs), t)
	testutils.CheckEqual(mqtt.PublishType, int(msgs[2].PacketType()), t)
	decoded, err := mqtt.DecodePublish(msgs[2])
	testutils.CheckNotError(err, t)
	testutils.CheckEqual("incidents/camera-1", decoded.Topic, t)
	testutils.CheckEqual([]byte("fire"), decoded.Message, t)

	// monitor-2 never subscribed, so it must receive nothing beyond its own CONNACK.
	testutils.CheckEqual(1, len(readAllMessages(otherConn, t)), t)
}

func Test_Broker_subscribe_downgrades_requested_QoS_2_and_grants_QoS_1(t *testing.T) {
	b := New()
	conn := mqtttest.NewMockConnection()
	sendConnect(conn, mqtt.ClientName("dron-1"), mqtt.CleanSession(true))
	s, err := b.acceptConnect(conn)
	testutils.CheckNotError(err, t)

	subscribeMsg := mqtt.NewSubscribeRequest(7, mqtt.TopicFilter{Topic: "incidents/#", QoS: 2})
	b.dispatch(s, subscribeMsg)
	drainMailbox(s, conn, t)

	msgs := readAllMessages(conn, t)
	testutils.CheckEqual(2, len(msgs), t) // CONNACK, SUBACK
	packetID, returnCodes, err := mqtt.DecodeSubAck(msgs[1])
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(7, packetID, t)
	testutils.CheckEqual([]byte{mqtt.SubscribeReturnQoS1}, returnCodes, t)

	qos, ok := s.grantedQoS("incidents/#")
	testutils.CheckTrue(ok, t)
	testutils.CheckEqual(1, qos, t)
}

func Test_Broker_publishes_will_message_on_involuntary_disconnect(t *testing.T) {
	b := New()

	subConn := mqtttest.NewMockConnection()
	sendConnect(subConn, mqtt.ClientName("monitor-1"), mqtt.CleanSession(true))
	sub, err := b.acceptConnect(subConn)
	testutils.CheckNotError(err, t)
	b.dispatch(sub, mqtt.NewSubscribeRequest(1, mqtt.TopicFilter{Topic: "status/camera-1", QoS: 0}))
	drainMailbox(sub, subConn, t)

	camConn := mqtttest.NewMockConnection()
	sendConnect(camConn, mqtt.ClientName("camera-1"), mqtt.CleanSession(true),
		mqtt.WillTopic("status/camera-1"), mqtt.WillMessage([]byte("offline")))
	cam, err := b.acceptConnect(camConn)
	testutils.CheckNotError(err, t)

	camConn.Close() // simulate a dropped connection, no DISCONNECT sent
	b.readLoop(cam, camConn)

	drainMailbox(sub, subConn, t)
	msgs := readAllMessages(subConn, t)
	testutils.CheckEqual(3, len(msgs), t) // CONNACK, SUBACK, will PUBLISH
	decoded, err := mqtt.DecodePublish(msgs[2])
	testutils.CheckNotError(err, t)
	testutils.CheckEqual("status/camera-1", decoded.Topic, t)
	testutils.CheckEqual([]byte("offline"), decoded.Message, t)
}

func Test_Broker_reattaches_session_and_drains_pending_messages(t *testing.T) {
	b := New()

	firstConn := mqtttest.NewMockConnection()
	sendConnect(firstConn, mqtt.ClientName("dron-1"), mqtt.CleanSession(false))
	s, err := b.acceptConnect(firstConn)
	testutils.CheckNotError(err, t)
	b.dispatch(s, mqtt.NewSubscribeRequest(1, mqtt.TopicFilter{Topic: "incidents/camera-1", QoS: 0}))
	drainMailbox(s, firstConn, t)

	s.markDisconnected()
	b.route("incidents/camera-1", []byte("fire"), 0, false)

	secondConn := mqtttest.NewMockConnection()
	sendConnect(secondConn, mqtt.ClientName("dron-1"), mqtt.CleanSession(false))
	reattached, err := b.acceptConnect(secondConn)
	testutils.CheckNotError(err, t)
	testutils.CheckTrue(s == reattached, t)

	reattached.drainPending()
	drainMailbox(reattached, secondConn, t)

	msgs := readAllMessages(secondConn, t)
	testutils.CheckEqual(2, len(msgs), t) // CONNACK (session present), then the pending PUBLISH
	ack, err := mqtt.DecodeConnAck(msgs[0])
	testutils.CheckNotError(err, t)
	testutils.CheckTrue(ack.SessionPresent, t)
	decoded, err := mqtt.DecodePublish(msgs[1])
	testutils.CheckNotError(err, t)
	testutils.CheckEqual([]byte("fire"), decoded.Message, t)
}

func Test_Broker_clean_session_reconnect_drops_prior_subscriptions(t *testing.T) {
	b := New()

	firstConn := mqtttest.NewMockConnection()
	sendConnect(firstConn, mqtt.ClientName("dron-1"), mqtt.CleanSession(false))
	first, err := b.acceptConnect(firstConn)
	testutils.CheckNotError(err, t)
	b.dispatch(first, mqtt.NewSubscribeRequest(1, mqtt.TopicFilter{Topic: "incidents/camera-1", QoS: 0}))
	drainMailbox(first, firstConn, t)

	secondConn := mqtttest.NewMockConnection()
	sendConnect(secondConn, mqtt.ClientName("dron-1"), mqtt.CleanSession(true))
	second, err := b.acceptConnect(secondConn)
	testutils.CheckNotError(err, t)
	testutils.CheckFalse(first == second, t)

	msgs := readAllMessages(secondConn, t)
	ack, err := mqtt.DecodeConnAck(msgs[0])
	testutils.CheckNotError(err, t)
	testutils.CheckFalse(ack.SessionPresent, t)
	testutils.CheckEqual(0, len(b.subscriptions.subscribers("incidents/camera-1")), t)
}

func Test_Broker_DISCONNECT_terminates_session_and_does_not_fire_will(t *testing.T) {
	b := New()

	subConn := mqtttest.NewMockConnection()
	sendConnect(subConn, mqtt.ClientName("monitor-1"), mqtt.CleanSession(true))
	sub, err := b.acceptConnect(subConn)
	testutils.CheckNotError(err, t)
	b.dispatch(sub, mqtt.NewSubscribeRequest(1, mqtt.TopicFilter{Topic: "status/camera-1", QoS: 0}))
	drainMailbox(sub, subConn, t)

	camConn := mqtttest.NewMockConnection()
	sendConnect(camConn, mqtt.ClientName("camera-1"), mqtt.CleanSession(true),
		mqtt.WillTopic("status/camera-1"), mqtt.WillMessage([]byte("offline")))
	cam, err := b.acceptConnect(camConn)
	testutils.CheckNotError(err, t)

	more := b.dispatch(cam, mqtt.NewDisconnectMessage())
	testutils.CheckFalse(more, t)
	testutils.CheckTrue(b.registry.get("camera-1") == nil, t)

	drainMailbox(sub, subConn, t)
	testutils.CheckEqual(2, len(readAllMessages(subConn, t)), t) // CONNACK, SUBACK - no will PUBLISH
}
