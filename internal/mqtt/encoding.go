package mqtt

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

// EncodeVariableInt Produces a []byte with the integer encoded as a MQTT variable int
func EncodeVariableInt(value int) []byte {
	var data bytes.Buffer

	for {
		encodedByte := byte(value % 128)
		value = value / 128
		// if there are more data to encode, set the top bit of this byte
		if value > 0 {
			encodedByte = (encodedByte | 128)
		}
		data.WriteByte(encodedByte)
		if !(value > 0) {
			break
		}
	}
	return data.Bytes()
}

// DecodeVariableInt Decodes a variable int value in the Reader stream, consumes it and returns the
// value. Up to 4 bytes are read per the full MQTT variable-length form (Open Question (a) in the
// design notes), the same form EncodeVariableInt produces.
func DecodeVariableInt(reader io.Reader) (int, error) {
	multiplier := 1
	value := 0
	for {
		buf := make([]byte, 1)
		n, err := reader.Read(buf)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, malformed("remaining length: no byte available")
		}
		encodedByte := buf[0]
		value += int(encodedByte&127) * multiplier
		if (encodedByte & 128) == 0 {
			break
		}

		multiplier *= 128
		if multiplier > 128*128*128 {
			return 0, malformed("remaining length: continuation bit set past 4 bytes")
		}
	}
	return value, nil
}

// EncodeVariableIntTo encodes a given int into the given Buffer using MQTT variable int and return the written length
func EncodeVariableIntTo(value int, to *bytes.Buffer) int {
	bytes := EncodeVariableInt(value)
	to.Write(bytes)

	if log.IsLevelEnabled(log.DebugLevel) {
		var hexBytes string
		for _, b := range bytes {
			if len(hexBytes) != 0 {
				hexBytes += ", "
			}
			hexBytes += fmt.Sprintf("0x%x", b)
		}
		log.Debugf("Encoded Length %d into %d byte(s): [%s]", value, len(bytes), hexBytes)
	}
	return len(bytes)
}

// EncodeStringTo encodes a given string into the given buffer - 16 bit length + the content
func EncodeStringTo(value string, to *bytes.Buffer) {
	strLength := len(value)
	to.WriteByte(byte(strLength >> 8))
	to.WriteByte(byte(strLength & 0xFF))
	to.WriteString(value)
}

// EncodeBytesTo encodes a given []bytes] into the given buffer - 16 bit length + the content
func EncodeBytesTo(value []byte, to *bytes.Buffer) {
	bytesLength := len(value)
	to.WriteByte(byte(bytesLength >> 8))
	to.WriteByte(byte(bytesLength & 0xFF))
	to.Write(value)
}

// Encode16BitIntTo encodes a given int as 16 bits big endian value into the buffer
//
func Encode16BitIntTo(value int, to *bytes.Buffer) {
	to.WriteByte(byte(value >> 8))
	to.WriteByte(byte(value & 0xFF))
}

// bodyReader is a cursor over an already fully-read packet body, used by the
// decode side of the wire codec. Every read checks bounds and returns a
// MalformedPacket instead of panicking, since the bytes come from an
// untrusted peer.
type bodyReader struct {
	buf []byte
}

func newBodyReader(buf []byte) *bodyReader {
	return &bodyReader{buf: buf}
}

func (r *bodyReader) remaining() int {
	return len(r.buf)
}

func (r *bodyReader) readByte() (byte, error) {
	if len(r.buf) < 1 {
		return 0, malformed("expected 1 more byte, body exhausted")
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b, nil
}

func (r *bodyReader) read16BitInt() (int, error) {
	if len(r.buf) < 2 {
		return 0, malformed("expected 2 more bytes for 16 bit int, got %d", len(r.buf))
	}
	v := int(r.buf[0])<<8 | int(r.buf[1])
	r.buf = r.buf[2:]
	return v, nil
}

func (r *bodyReader) readBytes(length int) ([]byte, error) {
	if len(r.buf) < length {
		return nil, malformed("expected %d more bytes, got %d", length, len(r.buf))
	}
	v := r.buf[:length]
	r.buf = r.buf[length:]
	return v, nil
}

func (r *bodyReader) readLengthPrefixedBytes() ([]byte, error) {
	length, err := r.read16BitInt()
	if err != nil {
		return nil, err
	}
	return r.readBytes(length)
}

// readString reads a 16-bit length-prefixed UTF-8 string, failing with
// MalformedPacket if the bytes are not valid UTF-8.
func (r *bodyReader) readString() (string, error) {
	raw, err := r.readLengthPrefixedBytes()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", malformed("string is not valid UTF-8")
	}
	return string(raw), nil
}

func (r *bodyReader) readRest() []byte {
	rest := r.buf
	r.buf = nil
	return rest
}
