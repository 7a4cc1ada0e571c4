package mqtt

import (
	"errors"
	"fmt"
)

// ErrTIMEOUT is an error describing that a time out occured
var ErrTIMEOUT = errors.New("TIMEOUT")

// ErrDeliveryFailed is returned to the application when a QoS-1 PUBLISH was
// retransmitted up to the configured maximum and no PUBACK ever arrived.
var ErrDeliveryFailed = errors.New("DeliveryFailed: PUBACK not received within retry budget")

// ErrConnectNotFirst is returned when the first packet read on a new
// connection is not CONNECT.
var ErrConnectNotFirst = errors.New("ConnectNotFirst: first packet on a connection must be CONNECT")

// MalformedPacket describes a packet that failed to decode because the
// bytes on the wire did not conform to the MQTT 3.1.1 framing this module
// implements. Decoders that encounter these conditions return this error
// instead of panicking - the only packets that can trigger it are ones an
// untrusted peer controls.
type MalformedPacket struct {
	Reason string
}

func (e *MalformedPacket) Error() string {
	return fmt.Sprintf("MalformedPacket: %s", e.Reason)
}

func malformed(format string, args ...interface{}) error {
	return &MalformedPacket{Reason: fmt.Sprintf(format, args...)}
}
