package mqtt

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/hlindberg/vigilancia/internal/testutils"
)

type syncBuffer struct {
	mutex sync.Mutex
	buf   bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.Len()
}

func Test_Retransmitter_resends_unacked_message_with_DUP_set(t *testing.T) {
	writer := &syncBuffer{}
	r := NewRetransmitter(writer, nil)
	defer r.Close()
	r.SetInterval(5 * time.Millisecond)
	r.SetMaxRetries(5)

	packetID := r.NextPacketID()
	msg := NewPublishRequest(Topic("t"), Message([]byte("m")), QoS(1), PacketID(packetID)).makeMessage()
	r.Track(packetID, msg)

	time.Sleep(30 * time.Millisecond)
	testutils.CheckTrue(writer.Len() > 0, t)

	firstByte := writer.buf.Bytes()[0]
	testutils.CheckEqual(byte(PublishType<<4|QoSOne|DupBit), firstByte, t)
}

func Test_Retransmitter_stops_resending_once_Acked(t *testing.T) {
	writer := &syncBuffer{}
	r := NewRetransmitter(writer, nil)
	defer r.Close()
	r.SetInterval(5 * time.Millisecond)

	packetID := r.NextPacketID()
	msg := NewPublishRequest(Topic("t"), Message([]byte("m")), QoS(1), PacketID(packetID)).makeMessage()
	r.Track(packetID, msg)
	r.Ack(packetID)

	time.Sleep(30 * time.Millisecond)
	testutils.CheckEqual(0, writer.Len(), t)
}

func Test_Retransmitter_SetWriter_nil_suspends_resends_until_a_writer_is_set_again(t *testing.T) {
	writer := &syncBuffer{}
	r := NewRetransmitter(writer, nil)
	defer r.Close()
	r.SetInterval(5 * time.Millisecond)
	r.SetWriter(nil)

	packetID := r.NextPacketID()
	msg := NewPublishRequest(Topic("t"), Message([]byte("m")), QoS(1), PacketID(packetID)).makeMessage()
	r.Track(packetID, msg)

	time.Sleep(20 * time.Millisecond)
	testutils.CheckEqual(0, writer.Len(), t)

	r.SetWriter(writer)
	time.Sleep(20 * time.Millisecond)
	testutils.CheckTrue(writer.Len() > 0, t)
}

func Test_Retransmitter_abandons_after_max_retries_and_calls_onAbandon(t *testing.T) {
	abandoned := make(chan int, 1)
	writer := &syncBuffer{}
	r := NewRetransmitter(writer, func(packetID int) { abandoned <- packetID })
	defer r.Close()
	r.SetInterval(2 * time.Millisecond)
	r.SetMaxRetries(1)

	packetID := r.NextPacketID()
	msg := NewPublishRequest(Topic("t"), Message([]byte("m")), QoS(1), PacketID(packetID)).makeMessage()
	r.Track(packetID, msg)

	select {
	case got := <-abandoned:
		testutils.CheckEqual(packetID, got, t)
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("expected onAbandon to be called")
	}
}
