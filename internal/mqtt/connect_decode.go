package mqtt

// DecodedConnect is the broker-side view of a received CONNECT packet.
type DecodedConnect struct {
	Level            byte
	CleanSession     bool
	KeepAliveSeconds int
	ClientName       string
	WillTopic        string
	WillMessage      []byte
	WillQoS          int
	WillRetain       bool
	HasWill          bool
	UserName         string
	HasUserName      bool
	Password         []byte
	HasPassword      bool
}

// DecodeConnect parses the body of a received CONNECT packet, as the broker does on accepting a
// new connection. The first packet on any connection must be a CONNECT (enforced by the caller,
// not here - this function only decodes a packet already known to carry that type).
func DecodeConnect(m *GenericMessage) (*DecodedConnect, error) {
	if m.PacketType() != ConnectType {
		return nil, malformed("expected CONNECT, got packet type %d", m.PacketType())
	}
	r := newBodyReader(m.body)

	protocolName, err := r.readString()
	if err != nil {
		return nil, err
	}
	if protocolName != "MQTT" {
		return nil, malformed("unsupported protocol name %q", protocolName)
	}

	level, err := r.readByte()
	if err != nil {
		return nil, err
	}
	if level != 4 {
		return nil, malformed("unsupported protocol level %d, only MQTT 3.1.1 (level 4) is supported", level)
	}

	connectBits, err := r.readByte()
	if err != nil {
		return nil, err
	}
	if connectBits&1 != 0 {
		return nil, malformed("CONNECT reserved flag bit must be 0")
	}

	keepAlive, err := r.read16BitInt()
	if err != nil {
		return nil, err
	}

	clientName, err := r.readString()
	if err != nil {
		return nil, err
	}

	result := &DecodedConnect{
		Level:            level,
		CleanSession:     connectBits&CleanSessionFlag != 0,
		KeepAliveSeconds: keepAlive,
		ClientName:       clientName,
	}

	if connectBits&WillFlag != 0 {
		result.HasWill = true
		result.WillRetain = connectBits&WillRetainFlag != 0
		if connectBits&(WillQoSOne|WillQoSOne<<1) != 0 {
			// A will QoS of 2 (bit 4) is downgraded to 1, since QoS 2 is not implemented.
			result.WillQoS = 1
		}
		result.WillTopic, err = r.readString()
		if err != nil {
			return nil, err
		}
		result.WillMessage, err = r.readLengthPrefixedBytes()
		if err != nil {
			return nil, err
		}
	}

	if connectBits&UserNameFlag != 0 {
		result.HasUserName = true
		result.UserName, err = r.readString()
		if err != nil {
			return nil, err
		}
	}

	if connectBits&PasswordFlag != 0 {
		result.HasPassword = true
		result.Password, err = r.readLengthPrefixedBytes()
		if err != nil {
			return nil, err
		}
	}

	if r.remaining() != 0 {
		return nil, malformed("CONNECT has %d trailing bytes", r.remaining())
	}

	return result, nil
}
