package mqtt

import "bytes"

// NewUnsubscribeRequest builds an UNSUBSCRIBE packet for the given topic filters.
func NewUnsubscribeRequest(packetID int, topics ...string) *GenericMessage {
	var data bytes.Buffer
	Encode16BitIntTo(packetID, &data)
	for _, topic := range topics {
		EncodeStringTo(topic, &data)
	}
	// UNSUBSCRIBE's fixed header reserved bits must be 0b0010 per the spec (3.10.1).
	return &GenericMessage{fixedHeader: UnsubscribeType<<4 | 0x02, body: data.Bytes()}
}

// DecodedUnsubscribe is the broker-side parse of a received UNSUBSCRIBE.
type DecodedUnsubscribe struct {
	PacketID int
	Topics   []string
}

// DecodeUnsubscribe parses a received UNSUBSCRIBE packet.
func DecodeUnsubscribe(m *GenericMessage) (*DecodedUnsubscribe, error) {
	if m.PacketType() != UnsubscribeType {
		return nil, malformed("expected UNSUBSCRIBE, got packet type %d", m.PacketType())
	}
	if m.Flags() != 0x02 {
		return nil, malformed("UNSUBSCRIBE fixed header flags must be 0x02, got 0x%x", m.Flags())
	}
	r := newBodyReader(m.body)
	packetID, err := r.read16BitInt()
	if err != nil {
		return nil, err
	}
	var topics []string
	for r.remaining() > 0 {
		topic, err := r.readString()
		if err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}
	if len(topics) == 0 {
		return nil, malformed("UNSUBSCRIBE must contain at least one topic filter")
	}
	return &DecodedUnsubscribe{PacketID: packetID, Topics: topics}, nil
}

// NewUnsubAckMessage builds the broker's reply to an UNSUBSCRIBE.
func NewUnsubAckMessage(packetID int) *GenericMessage {
	var data bytes.Buffer
	Encode16BitIntTo(packetID, &data)
	return &GenericMessage{fixedHeader: UnsubAckType << 4, body: data.Bytes()}
}

// DecodeUnsubAck extracts the packet ID being acknowledged.
func DecodeUnsubAck(m *GenericMessage) (int, error) {
	if m.PacketType() != UnsubAckType {
		return 0, malformed("expected UNSUBACK, got packet type %d", m.PacketType())
	}
	r := newBodyReader(m.body)
	packetID, err := r.read16BitInt()
	if err != nil {
		return 0, err
	}
	if r.remaining() != 0 {
		return 0, malformed("UNSUBACK has %d trailing bytes", r.remaining())
	}
	return packetID, nil
}
