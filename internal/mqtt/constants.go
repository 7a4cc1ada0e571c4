package mqtt

const (
	// Reserved is all zero bits
	Reserved = 0

	// CONTROL MESSAGE TYPES
	// ---------------------
	// Only the subset of MQTT 3.1.1 control packets this broker/client pair
	// implements. QoS 2 packets (PUBREC, PUBREL, PUBCOMP) are intentionally
	// absent - QoS 2 is not supported, see WillQoSOne/QoSOne below.

	// ConnectType control message type
	ConnectType = 1

	// ConnAckType control message type
	ConnAckType = 2

	// PublishType control message type
	PublishType = 3

	// PublishAckType control message type (PUBACK)
	PublishAckType = 4

	// SubscribeType control message type
	SubscribeType = 8

	// SubAckType control message type
	SubAckType = 9

	// UnsubscribeType control message type
	UnsubscribeType = 10

	// UnsubAckType control message type
	UnsubAckType = 11

	// PingReqType control message type
	PingReqType = 12

	// PingRespType control message type
	PingRespType = 13

	// DisconnectType control message type
	DisconnectType = 14

	// CONNECTION PORTS
	// ----------------

	// UnencryptedPortTCP is the standard MQTT port over TCP for unencrypted content
	UnencryptedPortTCP = "1883"

	// Connect bits

	// UserNameFlag is a bit that signals that UserName is in the payload
	UserNameFlag = 1 << 7

	// PasswordFlag is a bit that signals that Password is in the payload
	PasswordFlag = 1 << 6

	// WillRetainFlag is a bit that signals that Will Retention is in the payload
	WillRetainFlag = 1 << 5

	// WillQoSZero sets the Will QoS to 0 (since this is 0 it isn't really needed)
	WillQoSZero = 0

	// WillQoSOne sets the Will QoS to 1 (bit 3 is set). Requests for WillQoS 2
	// are downgraded to 1 by the broker since QoS 2 is not implemented.
	WillQoSOne = 1 << 3

	// WillFlag is a bit that signals that Will is in the payload
	WillFlag = 1 << 2

	// CleanSessionFlag is a bit that signals that a clean session is wanted
	CleanSessionFlag = 1 << 1

	// Connack results

	// ConnectionAccepted means it is ok to use connection
	ConnectionAccepted = 0

	// ConnectionRefusedRejectedVersion Protocol version is not accepted
	ConnectionRefusedRejectedVersion = 1

	// ConnectionRefusedRejectedIdentifier Client Identifier is not accepted
	ConnectionRefusedRejectedIdentifier = 2

	// ConnectionRefusedServerUnavailable server is not available
	ConnectionRefusedServerUnavailable = 3

	// ConnectionRefusedBadUserPassword User name or Password is bad
	ConnectionRefusedBadUserPassword = 4

	// ConnectionRefusedNotAuthorized the presented credentials resulted in not being authorized
	ConnectionRefusedNotAuthorized = 5

	// SessionPresentFlag occupies bit 0 of the CONNACK acknowledge-flags byte
	SessionPresentFlag = 1

	// Publish Bits
	// ------

	// QoSZero sets the QoS to 0 (since this is 0 it isn't really needed)
	QoSZero = 0

	// QoSOne sets the QoS to 1 (bit 1 is set). Requests for QoS 2 are
	// downgraded to 1 by the broker since QoS 2 is not implemented.
	QoSOne = 1 << 1

	// NoDupBit sets the DUP bit to 0 (since it is 0 it isn't really needed)
	NoDupBit = 0

	// DupBit sets the DUP bit to 1
	DupBit = 1 << 3

	// NoRetainBit sets the RETAIN bit to 0 (since it is 0 it isn't really needed)
	NoRetainBit = 0

	// RetainBit sets the RETAIN bit to 1
	RetainBit = 1

	// Subscribe return codes (as carried in SUBACK)

	// SubscribeReturnQoS0 grants QoS 0
	SubscribeReturnQoS0 = 0x00

	// SubscribeReturnQoS1 grants QoS 1
	SubscribeReturnQoS1 = 0x01

	// SubscribeReturnFailure denies the subscription
	SubscribeReturnFailure = 0x80
)
