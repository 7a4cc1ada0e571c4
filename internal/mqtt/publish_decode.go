package mqtt

// DecodedPublish is the parsed form of a received PUBLISH packet.
type DecodedPublish struct {
	Topic       string
	Message     []byte
	QoS         int
	Retain      bool
	IsDuplicate bool
	PacketID    int // only meaningful when QoS > 0
}

// DecodePublish parses a received PUBLISH packet's fixed header flags, variable header and
// payload.
func DecodePublish(m *GenericMessage) (*DecodedPublish, error) {
	if m.PacketType() != PublishType {
		return nil, malformed("expected PUBLISH, got packet type %d", m.PacketType())
	}
	flags := m.Flags()
	// QoS occupies a 2 bit field (bits 1-2): 00=QoS0, 01=QoS1, 10=QoS2, 11 is invalid.
	wireQoS := (flags >> 1) & 0x03
	if wireQoS == 0x03 {
		return nil, malformed("PUBLISH fixed header has an invalid QoS field (both bits set)")
	}
	qos := 0
	if wireQoS > 0 {
		// QoS 2 publishes are accepted but downgraded to 1, since QoS 2 is not implemented.
		qos = 1
	}

	r := newBodyReader(m.body)
	topic, err := r.readString()
	if err != nil {
		return nil, err
	}

	packetID := 0
	if qos > 0 {
		packetID, err = r.read16BitInt()
		if err != nil {
			return nil, err
		}
	}

	message := r.readRest()

	return &DecodedPublish{
		Topic:       topic,
		Message:     message,
		QoS:         qos,
		Retain:      flags&RetainBit != 0,
		IsDuplicate: flags&DupBit != 0,
		PacketID:    packetID,
	}, nil
}
