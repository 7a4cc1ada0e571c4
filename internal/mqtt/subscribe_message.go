package mqtt

import "bytes"

// TopicFilter pairs a topic filter with the QoS requested for it.
type TopicFilter struct {
	Topic string
	QoS   int
}

// SubscribeRequest describes a MQTT SUBSCRIBE.
type SubscribeRequest struct {
	PacketID int
	Filters  []TopicFilter
}

// NewSubscribeRequest builds a SUBSCRIBE packet requesting the given topic filters. Requests for
// QoS 2 are downgraded to 1 on the wire, since QoS 2 is not implemented.
func NewSubscribeRequest(packetID int, filters ...TopicFilter) *GenericMessage {
	var data bytes.Buffer
	Encode16BitIntTo(packetID, &data)
	for _, f := range filters {
		EncodeStringTo(f.Topic, &data)
		wireQoS := byte(0)
		if f.QoS > 0 {
			wireQoS = 1
		}
		data.WriteByte(wireQoS)
	}
	// SUBSCRIBE's fixed header reserved bits must be 0b0010 per the spec (3.8.1).
	return &GenericMessage{fixedHeader: SubscribeType<<4 | 0x02, body: data.Bytes()}
}

// DecodeSubscribe parses a received SUBSCRIBE packet as the broker does.
func DecodeSubscribe(m *GenericMessage) (*SubscribeRequest, error) {
	if m.PacketType() != SubscribeType {
		return nil, malformed("expected SUBSCRIBE, got packet type %d", m.PacketType())
	}
	if m.Flags() != 0x02 {
		return nil, malformed("SUBSCRIBE fixed header flags must be 0x02, got 0x%x", m.Flags())
	}
	r := newBodyReader(m.body)
	packetID, err := r.read16BitInt()
	if err != nil {
		return nil, err
	}
	var filters []TopicFilter
	for r.remaining() > 0 {
		topic, err := r.readString()
		if err != nil {
			return nil, err
		}
		qosByte, err := r.readByte()
		if err != nil {
			return nil, err
		}
		if qosByte > 2 {
			return nil, malformed("SUBSCRIBE requested QoS byte 0x%x is invalid", qosByte)
		}
		filters = append(filters, TopicFilter{Topic: topic, QoS: int(qosByte)})
	}
	if len(filters) == 0 {
		return nil, malformed("SUBSCRIBE must contain at least one topic filter")
	}
	return &SubscribeRequest{PacketID: packetID, Filters: filters}, nil
}

// NewSubAckMessage builds the broker's reply to a SUBSCRIBE, one return code per requested
// filter and in the same order. Granted QoS 2 is never produced since QoS 2 is not implemented -
// callers pass SubscribeReturnQoS1 for any filter requesting QoS > 0.
func NewSubAckMessage(packetID int, returnCodes []byte) *GenericMessage {
	var data bytes.Buffer
	Encode16BitIntTo(packetID, &data)
	data.Write(returnCodes)
	return &GenericMessage{fixedHeader: SubAckType << 4, body: data.Bytes()}
}

// DecodeSubAck parses a received SUBACK, as the client does after subscribing.
func DecodeSubAck(m *GenericMessage) (packetID int, returnCodes []byte, err error) {
	if m.PacketType() != SubAckType {
		return 0, nil, malformed("expected SUBACK, got packet type %d", m.PacketType())
	}
	r := newBodyReader(m.body)
	packetID, err = r.read16BitInt()
	if err != nil {
		return 0, nil, err
	}
	returnCodes = r.readRest()
	if len(returnCodes) == 0 {
		return 0, nil, malformed("SUBACK must contain at least one return code")
	}
	return packetID, returnCodes, nil
}
