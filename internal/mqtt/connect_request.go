package mqtt

import (
	"bytes"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/lithammer/shortuuid"
)

// ConnectRequest describes a MQTT Connect
//
type ConnectRequest struct {
	options ConnectOptions
}

// IsCleanSession reports whether this request asks for a clean session.
func (r *ConnectRequest) IsCleanSession() bool {
	return r.options.CleanSession
}

func (r *ConnectRequest) connectBits() byte {
	connectBits := byte(0)

	if r.options.CleanSession {
		connectBits |= CleanSessionFlag
	}

	if r.options.WillTopic != "" {
		connectBits |= WillFlag
	}

	if r.options.WillQoS != 0 {
		// QoS 2 wills are downgraded to 1 on the wire since QoS 2 is not implemented.
		connectBits |= WillQoSOne
	}

	if r.options.WillRetain {
		connectBits |= WillRetainFlag
	}

	if r.options.UserName != "" {
		connectBits |= UserNameFlag
	}

	if r.options.Password != nil {
		connectBits |= PasswordFlag
	}
	return connectBits
}

// Message returns the wire-ready GenericMessage for this request. Used by callers outside this
// package (broker tests acting as a simulated client) that only have a ConnectRequest to hand.
func (r *ConnectRequest) Message() *GenericMessage {
	return r.makeMessage()
}

// makeMessage builds the GenericMessage to write to the broker for this request.
//
func (r *ConnectRequest) makeMessage() *GenericMessage {
	var data bytes.Buffer

	connectBits := r.connectBits()
	keepAlive := r.options.KeepAliveSeconds

	// Connect variable part            Byte   Description
	//                                  ------ ----------------------------------------------
	data.WriteByte(0)                // (1)    Protocol Name Length MSB
	data.WriteByte(4)                // (2)    Protocol Name Length LSB
	data.WriteString("MQTT")         // (3-6)  Protocol Name
	data.WriteByte(r.options.Level)  // (7)    Protocol Level - always 4 (MQTT 3.1.1)
	data.WriteByte(connectBits)      // (8)    Connect Bits
	Encode16BitIntTo(keepAlive, &data) // (9-10) Keep Alive Seconds

	// PAYLOAD
	// A Client ID is required as the first element of the payload.
	// It can (optionally, if broker allows it) be of length 0 to make the server assign the id.
	//
	EncodeStringTo(r.options.ClientName, &data)

	// Output rest of optional payload in required order
	//
	if connectBits&WillFlag != 0 {
		EncodeStringTo(r.options.WillTopic, &data)
		EncodeBytesTo(r.options.WillMessage, &data)
	}

	if connectBits&UserNameFlag != 0 {
		EncodeStringTo(r.options.UserName, &data)
	}

	if connectBits&PasswordFlag != 0 {
		EncodeBytesTo(*r.options.Password, &data)
	}

	return &GenericMessage{fixedHeader: ConnectType<<4 | Reserved, body: data.Bytes()}
}

// NewConnectRequest constructs a new ConnectRequest based on a default set of options
// overridden by given options.
//
// For example:
//    request := NewConnectRequest(WillTopic("InTheEventOfMyDeath"), WillMessage([]byte("Give it all to science")))
//
func NewConnectRequest(options ...ConnectOption) *ConnectRequest {
	opts := DefaultConnectOptions()
	for _, fOpt := range options {
		if err := fOpt(&opts); err != nil {
			log.Fatalf("Connection option apply failure: %s", err)
		}
	}
	return &ConnectRequest{options: opts}
}

// DefaultConnectOptions returns the default options for making a MQTT connect using 3.1.1,
// a clean session, and with 10 seconds keep alive. ClientName is set to an empty string
// which may not be honored by all MQTT brokers. Use RandomClientID() function to produce
// a suitable string.
//
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{Level: 4, CleanSession: true, KeepAliveSeconds: 10, ClientName: "", WillRetain: false, ConnectTimeOut: 5}
}

// RandomClientID returns a random UUID string that can be used as ClientName in a Connection.
// A Short UUID - a Base 57 encoded string is returned.
//
func RandomClientID() string {
	return shortuuid.New()
}

// ConnectOptions contains options for a ConnectRequest
//
type ConnectOptions struct {
	Level            byte // always 4 - this module does not implement MQTT 5
	CleanSession     bool // true is "start new session"
	KeepAliveSeconds int  // number of seconds to keep the connection alive
	ClientName       string
	WillTopic        string
	WillMessage      []byte // Only included in request if WillTopic is set to non empty string
	WillQoS          int
	WillRetain       bool
	UserName         string
	Password         *[]byte
	ConnectTimeOut   int  // seconds to wait for CONNACK before giving up
	XIgnorePubAck    bool // test-only: ignore PUBACKs, letting in-flight messages pile up to exercise retransmission
	XIgnorePubComp   bool // kept for test-harness compatibility; never fires since QoS 2 is not implemented
}

// ConnectOption is an Options-modifying-function
type ConnectOption func(*ConnectOptions) error

// CleanSession returns a ConnectionOption for CleanSession
func CleanSession(flag bool) ConnectOption {
	return func(o *ConnectOptions) error {
		o.CleanSession = flag
		return nil
	}
}

// KeepAliveSeconds returns a ConnectionOption for KeepAliveSeconds
func KeepAliveSeconds(value int) ConnectOption {
	if value < 0 {
		panic("KeepAliveSeconds cannot be negative")
	}
	if value > 0xff {
		panic(fmt.Sprintf("KeepAliveSeconds cannot be larger than 0xff, got %x", value))
	}

	return func(o *ConnectOptions) error {
		o.KeepAliveSeconds = value
		return nil
	}
}

// ClientName returns a ConnectionOption for ClientName
func ClientName(value string) ConnectOption {
	return func(o *ConnectOptions) error {
		o.ClientName = value
		return nil
	}
}

// WillTopic returns a ConnectionOption for WillTopic
func WillTopic(value string) ConnectOption {
	return func(o *ConnectOptions) error {
		o.WillTopic = value
		return nil
	}
}

// WillMessage returns a ConnectionOption for WillMessage
func WillMessage(value []byte) ConnectOption {
	return func(o *ConnectOptions) error {
		o.WillMessage = value
		return nil
	}
}

// WillRetain returns a ConnectionOption for WillRetain
func WillRetain(value bool) ConnectOption {
	return func(o *ConnectOptions) error {
		o.WillRetain = value
		return nil
	}
}

// WillQoS returns a ConnectionOption for WillQoS. Values above 1 are accepted from callers but
// downgraded to 1 on the wire since QoS 2 is not implemented.
func WillQoS(value int) ConnectOption {
	if value < 0 || value > 2 {
		panic(fmt.Sprintf("WillQoS must be 0, 1, or 2, got %d", value))
	}
	return func(o *ConnectOptions) error {
		o.WillQoS = value
		return nil
	}
}

// UserName returns a ConnectionOption for UserName
func UserName(value string) ConnectOption {
	return func(o *ConnectOptions) error {
		o.UserName = value
		return nil
	}
}

// Password returns a ConnectionOption for Password
func Password(value []byte) ConnectOption {
	return func(o *ConnectOptions) error {
		o.Password = &value
		return nil
	}
}

// ConnectTimeOutSeconds returns a ConnectionOption for how long to wait for CONNACK
func ConnectTimeOutSeconds(value int) ConnectOption {
	return func(o *ConnectOptions) error {
		o.ConnectTimeOut = value
		return nil
	}
}

// XIgnorePubAck returns a ConnectionOption enabling the test-only behavior of ignoring PUBACKs
func XIgnorePubAck(flag bool) ConnectOption {
	return func(o *ConnectOptions) error {
		o.XIgnorePubAck = flag
		return nil
	}
}

// XIgnorePubComp is retained for wire/test compatibility with the teacher's shape; QoS 2 is not
// implemented so no PUBCOMP is ever received to ignore.
func XIgnorePubComp(flag bool) ConnectOption {
	return func(o *ConnectOptions) error {
		o.XIgnorePubComp = flag
		return nil
	}
}
