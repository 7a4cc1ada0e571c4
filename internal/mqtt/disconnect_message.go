package mqtt

// NewDisconnectMessage returns a new message of this kind
func NewDisconnectMessage() *GenericMessage {
	return &GenericMessage{fixedHeader: (DisconnectType << 4), body: []byte{}}
}

// DecodeDisconnect validates a received DISCONNECT - it carries no variable header or payload.
func DecodeDisconnect(m *GenericMessage) error {
	if len(m.body) != 0 {
		return malformed("DISCONNECT must have a zero length body, got %d bytes", len(m.body))
	}
	return nil
}
