package mqtt

import "bytes"

// NewPublishAckMessage builds a PUBACK for the given packet ID.
func NewPublishAckMessage(packetID int) *GenericMessage {
	var data bytes.Buffer
	Encode16BitIntTo(packetID, &data)
	return &GenericMessage{fixedHeader: PublishAckType << 4, body: data.Bytes()}
}

// DecodePublishAck extracts the packet ID being acknowledged.
func DecodePublishAck(m *GenericMessage) (int, error) {
	if m.PacketType() != PublishAckType {
		return 0, malformed("expected PUBACK, got packet type %d", m.PacketType())
	}
	r := newBodyReader(m.body)
	packetID, err := r.read16BitInt()
	if err != nil {
		return 0, err
	}
	if r.remaining() != 0 {
		return 0, malformed("PUBACK has %d trailing bytes", r.remaining())
	}
	return packetID, nil
}
