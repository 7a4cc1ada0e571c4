package mqtt

import (
	"bytes"
	"io"
)

// GenericMessage is a generic MQTT message struct with a header byte and all the bytes for the message in a `body`
type GenericMessage struct {
	fixedHeader byte
	body        []byte
}

// WriteTo implements io.WriterTo for GenericMessage
func (m *GenericMessage) WriteTo(writer io.Writer) (int64, error) {
	var data bytes.Buffer // 64 bytes in the first Grow which should be enough unless client ID is very long (not worth optimizing)
	bodyLength := len(m.body)
	data.WriteByte(m.fixedHeader)
	lengthBytes := EncodeVariableInt(bodyLength)
	// EncodeVariableIntTo(bodyLength, &data)
	data.Write(lengthBytes)
	if bodyLength > 0 {
		data.Write(m.body)
	}
	n, err := data.WriteTo(writer)
	return int64(n), err
}

// WriteDupTo sets the DUP bit for applicable messages and then writes to the given writer
// The original message is unchanged
func (m *GenericMessage) WriteDupTo(writer io.Writer) (int64, error) {
	m2 := m
	if m.fixedHeader>>4 == PublishType {
		m2 = &GenericMessage{fixedHeader: m.fixedHeader | DupBit, body: m.body}
	}
	return m2.WriteTo(writer)
}

// PacketType returns the control packet type carried in the fixed header's high nibble.
func (m *GenericMessage) PacketType() byte {
	return m.fixedHeader >> 4
}

// Flags returns the fixed header's low nibble.
func (m *GenericMessage) Flags() byte {
	return m.fixedHeader & 0x0F
}

// Body returns the packet's variable header + payload bytes.
func (m *GenericMessage) Body() []byte {
	return m.body
}

// ReadGenericMessage reads one complete control packet from reader: the 2-byte-minimum fixed
// header (type/flags byte followed by the variable-length remaining-length field) and then
// exactly remaining-length further bytes. Partial reads are reported as errors, never panics -
// this is the one entry point both the broker's per-client reader and the client runtime use to
// pull a packet off the wire.
func ReadGenericMessage(reader io.Reader) (*GenericMessage, error) {
	headerByte := make([]byte, 1)
	n, err := io.ReadFull(reader, headerByte)
	if err != nil {
		return nil, err
	}
	if n != 1 {
		return nil, malformed("could not read fixed header byte")
	}
	remainingLength, err := DecodeVariableInt(reader)
	if err != nil {
		return nil, err
	}
	body := make([]byte, remainingLength)
	n, err = io.ReadFull(reader, body)
	if err != nil {
		return nil, err
	}
	if n != remainingLength {
		return nil, malformed("expected to read %d bytes of remaining length but got %d", remainingLength, n)
	}
	return &GenericMessage{fixedHeader: headerByte[0], body: body}, nil
}
