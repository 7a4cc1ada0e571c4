package mqtt

import (
	"testing"

	"github.com/hlindberg/vigilancia/internal/testutils"
)

func Test_DecodeConnect_round_trips_a_basic_CONNECT(t *testing.T) {
	request := NewConnectRequest(ClientName("camera-1"), CleanSession(true), KeepAliveSeconds(30))
	msg := request.makeMessage()

	decoded, err := DecodeConnect(msg)
	testutils.CheckNotError(err, t)
	testutils.CheckEqual("camera-1", decoded.ClientName, t)
	testutils.CheckTrue(decoded.CleanSession, t)
	testutils.CheckEqual(30, decoded.KeepAliveSeconds, t)
	testutils.CheckFalse(decoded.HasWill, t)
	testutils.CheckFalse(decoded.HasUserName, t)
	testutils.CheckFalse(decoded.HasPassword, t)
}

func Test_DecodeConnect_decodes_will_username_and_password(t *testing.T) {
	password := []byte("secret")
	request := NewConnectRequest(
		ClientName("camera-2"),
		WillTopic("incidents/camera-2/offline"),
		WillMessage([]byte("camera-2 went offline")),
		WillQoS(1),
		WillRetain(true),
		UserName("camera-2"),
		Password(password),
	)
	msg := request.makeMessage()

	decoded, err := DecodeConnect(msg)
	testutils.CheckNotError(err, t)
	testutils.CheckTrue(decoded.HasWill, t)
	testutils.CheckEqual("incidents/camera-2/offline", decoded.WillTopic, t)
	testutils.CheckEqual([]byte("camera-2 went offline"), decoded.WillMessage, t)
	testutils.CheckEqual(1, decoded.WillQoS, t)
	testutils.CheckTrue(decoded.WillRetain, t)
	testutils.CheckTrue(decoded.HasUserName, t)
	testutils.CheckEqual("camera-2", decoded.UserName, t)
	testutils.CheckTrue(decoded.HasPassword, t)
	testutils.CheckEqual(password, decoded.Password, t)
}

func Test_DecodeConnect_downgrades_will_QoS_2_to_1_on_the_wire(t *testing.T) {
	request := NewConnectRequest(ClientName("camera-3"), WillTopic("t"), WillMessage([]byte("m")), WillQoS(2))
	msg := request.makeMessage()

	decoded, err := DecodeConnect(msg)
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(1, decoded.WillQoS, t)
}

func Test_DecodeConnect_rejects_wrong_protocol_name(t *testing.T) {
	msg := &GenericMessage{fixedHeader: ConnectType << 4, body: []byte{0, 3, 'M', 'Q', 'X', 4, 0, 0, 0}}
	_, err := DecodeConnect(msg)
	testutils.CheckError(err, t)
}

func Test_DecodeConnect_rejects_unsupported_protocol_level(t *testing.T) {
	msg := &GenericMessage{fixedHeader: ConnectType << 4, body: []byte{0, 4, 'M', 'Q', 'T', 'T', 5, 0, 0, 0, 0, 0}}
	_, err := DecodeConnect(msg)
	testutils.CheckError(err, t)
}

func Test_DecodePublish_round_trips_QoS_1_publish(t *testing.T) {
	request := NewPublishRequest(Topic("incidents/camera-1"), Message([]byte("payload")), QoS(1), PacketID(7), Retain(true))
	msg := request.makeMessage()

	decoded, err := DecodePublish(msg)
	testutils.CheckNotError(err, t)
	testutils.CheckEqual("incidents/camera-1", decoded.Topic, t)
	testutils.CheckEqual([]byte("payload"), decoded.Message, t)
	testutils.CheckEqual(1, decoded.QoS, t)
	testutils.CheckEqual(7, decoded.PacketID, t)
	testutils.CheckTrue(decoded.Retain, t)
}

func Test_DecodePublish_round_trips_QoS_0_publish_without_packet_id(t *testing.T) {
	request := NewPublishRequest(Topic("status"), Message([]byte("ok")), QoS(0))
	msg := request.makeMessage()

	decoded, err := DecodePublish(msg)
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(0, decoded.QoS, t)
	testutils.CheckEqual(0, decoded.PacketID, t)
}

func Test_DecodePublish_rejects_invalid_QoS_field(t *testing.T) {
	msg := &GenericMessage{fixedHeader: PublishType<<4 | 0x06, body: []byte{0, 1, 't', 0, 1}}
	_, err := DecodePublish(msg)
	testutils.CheckError(err, t)
}

func Test_DecodePublish_downgrades_QoS_2_to_1(t *testing.T) {
	// QoS 2 on the wire: bit 2 (0x04) set, bit 1 clear.
	msg := &GenericMessage{fixedHeader: PublishType<<4 | 0x04, body: []byte{0, 1, 't', 0, 1, 'x'}}
	decoded, err := DecodePublish(msg)
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(1, decoded.QoS, t)
}

func Test_DecodeSubscribe_round_trips_multiple_filters(t *testing.T) {
	msg := NewSubscribeRequest(5, TopicFilter{Topic: "incidents/#", QoS: 1}, TopicFilter{Topic: "status/#", QoS: 0})
	decoded, err := DecodeSubscribe(msg)
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(5, decoded.PacketID, t)
	testutils.CheckEqual(2, len(decoded.Filters), t)
	testutils.CheckEqual("incidents/#", decoded.Filters[0].Topic, t)
	testutils.CheckEqual(1, decoded.Filters[0].QoS, t)
	testutils.CheckEqual("status/#", decoded.Filters[1].Topic, t)
	testutils.CheckEqual(0, decoded.Filters[1].QoS, t)
}

func Test_NewSubscribeRequest_downgrades_QoS_2_to_1_on_the_wire(t *testing.T) {
	msg := NewSubscribeRequest(1, TopicFilter{Topic: "t", QoS: 2})
	decoded, err := DecodeSubscribe(msg)
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(1, decoded.Filters[0].QoS, t)
}

func Test_DecodeUnsubscribe_round_trips(t *testing.T) {
	msg := NewUnsubscribeRequest(9, "incidents/#", "status/#")
	decoded, err := DecodeUnsubscribe(msg)
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(9, decoded.PacketID, t)
	testutils.CheckEqual([]string{"incidents/#", "status/#"}, decoded.Topics, t)
}

func Test_DecodeConnAck_round_trips(t *testing.T) {
	msg := NewConnAckMessage(true, ConnectionAccepted)
	ack, err := DecodeConnAck(msg)
	testutils.CheckNotError(err, t)
	testutils.CheckTrue(ack.SessionPresent, t)
	testutils.CheckEqual(byte(ConnectionAccepted), ack.ReturnCode, t)
}

func Test_NewConnAckMessage_never_sets_SessionPresent_on_refusal(t *testing.T) {
	msg := NewConnAckMessage(true, ConnectionRefusedNotAuthorized)
	ack, err := DecodeConnAck(msg)
	testutils.CheckNotError(err, t)
	testutils.CheckFalse(ack.SessionPresent, t)
}

func Test_DecodePublishAck_round_trips(t *testing.T) {
	msg := NewPublishAckMessage(1234)
	packetID, err := DecodePublishAck(msg)
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(1234, packetID, t)
}
