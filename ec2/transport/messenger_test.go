package transport_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/aistore/ec2/bufferlist"
	"github.com/NVIDIA/aistore/ec2/placement"
	"github.com/NVIDIA/aistore/ec2/stripe"
	ectransport "github.com/NVIDIA/aistore/ec2/transport"
	"github.com/NVIDIA/aistore/transport"
)

type recordingSender struct {
	sent []*transport.Obj
}

func (s *recordingSender) Send(obj *transport.Obj) error {
	s.sent = append(s.sent, obj)
	return nil
}

func TestStreamMessengerEncodesControlFields(t *testing.T) {
	sender := &recordingSender{}
	sm := ectransport.NewStreamMessenger(map[string]ectransport.Sender{"tgtA": sender})

	payload := bufferlist.New()
	payload.Append([]byte("hello"))

	msg := &ectransport.Message{
		Opcode:  ectransport.OpSubOpWrite,
		TID:     42,
		OID:     "obj1",
		Shard:   stripe.ShardId(3),
		Off:     100,
		Len:     5,
		Payload: payload,
	}
	require.NoError(t, sm.Send(placement.Target{ID: "tgtA"}, msg))
	require.Len(t, sender.sent, 1)

	obj := sender.sent[0]
	require.Equal(t, "obj1", obj.Hdr.ObjName)
	require.Equal(t, int(ectransport.OpSubOpWrite), obj.Hdr.Opcode)

	body, err := io.ReadAll(obj.Reader)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))

	decoded := ectransport.DecodeMessage(obj.Hdr, body)
	require.Equal(t, uint64(42), decoded.TID)
	require.Equal(t, stripe.ShardId(3), decoded.Shard)
	require.Equal(t, int64(100), decoded.Off)
	require.Equal(t, int64(5), decoded.Len)
	require.Equal(t, "hello", string(decoded.Payload.Contiguous()))
}

func TestStreamMessengerUnknownTarget(t *testing.T) {
	sm := ectransport.NewStreamMessenger(nil)
	err := sm.Send(placement.Target{ID: "missing"}, &ectransport.Message{})
	require.Error(t, err)
}
