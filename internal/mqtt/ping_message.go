package mqtt

// NewPingReqMessage returns a PINGREQ message - sent by the client to keep the connection alive.
func NewPingReqMessage() *GenericMessage {
	return &GenericMessage{fixedHeader: (PingReqType << 4), body: []byte{}}
}

// NewPingRespMessage returns a PINGRESP message - the broker's reply to PINGREQ.
func NewPingRespMessage() *GenericMessage {
	return &GenericMessage{fixedHeader: (PingRespType << 4), body: []byte{}}
}

// DecodePingReq validates a received PINGREQ - it carries no variable header or payload.
func DecodePingReq(m *GenericMessage) error {
	if len(m.body) != 0 {
		return malformed("PINGREQ must have a zero length body, got %d bytes", len(m.body))
	}
	return nil
}

// DecodePingResp validates a received PINGRESP - it carries no variable header or payload.
func DecodePingResp(m *GenericMessage) error {
	if len(m.body) != 0 {
		return malformed("PINGRESP must have a zero length body, got %d bytes", len(m.body))
	}
	return nil
}
