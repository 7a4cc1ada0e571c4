package mqtt

// ConnAck is the decoded form of a CONNACK packet, as received by a client after CONNECT.
type ConnAck struct {
	SessionPresent bool
	ReturnCode     byte
}

// NewConnAckMessage builds the CONNACK the broker sends in reply to a CONNECT.
func NewConnAckMessage(sessionPresent bool, returnCode byte) *GenericMessage {
	ackFlags := byte(0)
	if sessionPresent && returnCode == ConnectionAccepted {
		// Session Present must be 0 whenever the connection is refused (MQTT 3.1.1 3.2.2.2).
		ackFlags = SessionPresentFlag
	}
	body := []byte{ackFlags, returnCode}
	return &GenericMessage{fixedHeader: ConnAckType << 4, body: body}
}

// DecodeConnAck parses a CONNACK body received by a client.
func DecodeConnAck(m *GenericMessage) (*ConnAck, error) {
	if m.PacketType() != ConnAckType {
		return nil, malformed("expected CONNACK, got packet type %d", m.PacketType())
	}
	r := newBodyReader(m.body)
	ackFlags, err := r.readByte()
	if err != nil {
		return nil, err
	}
	returnCode, err := r.readByte()
	if err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, malformed("CONNACK has %d trailing bytes", r.remaining())
	}
	return &ConnAck{SessionPresent: ackFlags&SessionPresentFlag != 0, ReturnCode: returnCode}, nil
}
