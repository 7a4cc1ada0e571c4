package mqtt

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/hlindberg/vigilancia/internal/mqtttest"
	"github.com/hlindberg/vigilancia/internal/testutils"
)

// immediate and with timeout (to process those waiting)
// EOF / ConnectionClosed
// Resends
// Wills when not disconnecting with Disconnect ? (difficult, need a reader testing broker)
// Cannot Connect when Connected
// Cannot Disconnect when not Connected (although INITIAL is fine - since it never was connected - does nothing)
//
func Test_Session_Connect_and_Disconnect_QoS_0_immediate(t *testing.T) {
	conn := mqtttest.NewMockConnection()
	_, err := conn.RemoteWrite(testhelperConnectionAccepted(false))
	testutils.CheckNotError(err, t)

	session := NewSession(ClientID("MqttUnitTest"), Connection(conn))
	err = session.Connect()
	testutils.CheckNotError(err, t)

	// Immediate disconnect
	err = session.Disconnect(0)
	testutils.CheckNotError(err, t)

	// Check that Connect and Disconnect was emitted
	// CONNECT
	theRemoteSide := conn.Remote()
	testhelperConsumeConnect(theRemoteSide, t)

	firstByte, err := theRemoteSide.ReadByte()
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(DisconnectType<<4, int(firstByte), t)
	lengthByte, err := theRemoteSide.ReadByte()
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(byte(0), lengthByte, t)
}

func Test_Session_Connect_fails_on_refused_CONNACK(t *testing.T) {
	conn := mqtttest.NewMockConnection()
	connectResponse := make([]byte, 4)
	connectResponse[0] = ConnAckType << 4
	connectResponse[1] = 2
	connectResponse[2] = 0
	connectResponse[3] = ConnectionRefusedBadUserPassword
	_, err := conn.RemoteWrite(connectResponse)
	testutils.CheckNotError(err, t)

	session := NewSession(ClientID("MqttUnitTest"), Connection(conn))
	err = session.Connect()
	testutils.CheckError(err, t)
}

func Test_Session_Publish_QoS_0_sends_PUBLISH_without_tracking_packet_id(t *testing.T) {
	conn := mqtttest.NewMockConnection()
	_, err := conn.RemoteWrite(testhelperConnectionAccepted(false))
	testutils.CheckNotError(err, t)

	session := NewSession(ClientID("MqttUnitTest"), Connection(conn))
	testutils.CheckNotError(session.Connect(), t)

	err = session.Publish(Topic("incidents/1"), Message([]byte("hello")), QoS(0))
	testutils.CheckNotError(err, t)

	// give the send-to-broker goroutine a moment to flush
	time.Sleep(10 * time.Millisecond)

	theRemoteSide := conn.Remote()
	testhelperConsumeConnect(theRemoteSide, t)
	firstByte, err := theRemoteSide.ReadByte()
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(PublishType<<4, int(firstByte), t)
}

func Test_Session_Publish_QoS_1_returns_nil_once_PUBACK_arrives(t *testing.T) {
	conn := mqtttest.NewMockConnection()
	_, err := conn.RemoteWrite(testhelperConnectionAccepted(false))
	testutils.CheckNotError(err, t)

	session := NewSession(ClientID("MqttUnitTest"), Connection(conn))
	testutils.CheckNotError(session.Connect(), t)

	go func() {
		// wait until something beyond the 26-byte CONNECT has been written
		for conn.Remote().Len() <= 26 {
			time.Sleep(time.Millisecond)
		}
		var buf bytes.Buffer
		NewPublishAckMessage(1).WriteTo(&buf)
		conn.RemoteWrite(buf.Bytes())
	}()

	err = session.Publish(Topic("incidents/1"), Message([]byte("hello")), QoS(1))
	testutils.CheckNotError(err, t)
}

func Test_Session_Publish_QoS_1_returns_ErrDeliveryFailed_once_retry_budget_is_exceeded(t *testing.T) {
	conn := mqtttest.NewMockConnection()
	_, err := conn.RemoteWrite(testhelperConnectionAccepted(false))
	testutils.CheckNotError(err, t)

	session := NewSession(ClientID("MqttUnitTest"), Connection(conn))
	testutils.CheckNotError(session.Connect(), t)

	// Speed up and shrink the retry budget so the test doesn't wait for the real defaults -
	// no PUBACK is ever sent back, so delivery must be abandoned.
	session.retransmitter.SetInterval(5 * time.Millisecond)
	session.retransmitter.SetMaxRetries(1)

	err = session.Publish(Topic("incidents/1"), Message([]byte("hello")), QoS(1))
	testutils.CheckEqual(ErrDeliveryFailed, err, t)
}

func Test_Session_Subscribe_returns_granted_QoS_on_SUBACK(t *testing.T) {
	conn := mqtttest.NewMockConnection()
	_, err := conn.RemoteWrite(testhelperConnectionAccepted(false))
	testutils.CheckNotError(err, t)

	session := NewSession(ClientID("MqttUnitTest"), Connection(conn), SubscribeAckTimeoutSeconds(1))
	testutils.CheckNotError(session.Connect(), t)

	// Respond with SUBACK for packet ID 1 granting QoS 1 as soon as the SUBSCRIBE is visible.
	go func() {
		for conn.Remote().Len() <= 26 { // the CONNECT alone is 26 bytes
			time.Sleep(time.Millisecond)
		}
		var buf bytes.Buffer
		NewSubAckMessage(1, []byte{SubscribeReturnQoS1}).WriteTo(&buf)
		conn.RemoteWrite(buf.Bytes())
	}()

	codes, err := session.Subscribe(TopicFilter{Topic: "incidents/#", QoS: 1})
	testutils.CheckNotError(err, t)
	testutils.CheckEqual([]byte{SubscribeReturnQoS1}, codes, t)
}

func testhelperConnectionAccepted(sessionPresent bool) []byte {
	connectResponse := make([]byte, 4)
	connectResponse[0] = ConnAckType << 4
	connectResponse[1] = 2 // lenght
	if sessionPresent {
		connectResponse[2] = SessionPresentFlag
	}
	connectResponse[3] = ConnectionAccepted

	return connectResponse
}

// Consumes a Connect request from the reader
func testhelperConsumeConnect(reader io.Reader, t *testing.T) {
	t.Helper()
	oneByte := make([]byte, 1)
	_, err := reader.Read(oneByte)
	connFirst := oneByte[0]
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(ConnectType<<4, int(connFirst), t)
	value, err := DecodeVariableInt(reader)
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(24, value, t)
	connectMessage := make([]byte, value)
	n, err := reader.Read(connectMessage)
	testutils.CheckEqual(value, n, t)
}
