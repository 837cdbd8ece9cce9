// Package transport adapts the teacher's streaming object transport
// (transport.Obj / transport.ObjHdr, sent over a transport.Stream or a
// bundle.Streams fan-out) into the Messenger capability of spec §6: a
// channel to send SubOpRead/SubOpReadReply/SubOpWrite/SubOpWriteReply
// messages to peer shards, preserving send order within a peer pair.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/NVIDIA/aistore/ec2/bufferlist"
	"github.com/NVIDIA/aistore/ec2/placement"
	"github.com/NVIDIA/aistore/ec2/stripe"
	"github.com/NVIDIA/aistore/transport"
)

// Opcode identifies one of the four sub-op message kinds on the wire.
// Values (1..4) lie well below the teacher's own reserved internal range
// (see transport.ReservedOpcode) so a shared Stream can multiplex both
// kinds of traffic.
type Opcode int

const (
	OpSubOpRead Opcode = iota + 1
	OpSubOpReadReply
	OpSubOpWrite
	OpSubOpWriteReply
)

func (op Opcode) String() string {
	switch op {
	case OpSubOpRead:
		return "sub-op-read"
	case OpSubOpReadReply:
		return "sub-op-read-reply"
	case OpSubOpWrite:
		return "sub-op-write"
	case OpSubOpWriteReply:
		return "sub-op-write-reply"
	default:
		return "unknown"
	}
}

// Message is one ec2 sub-op crossing the wire between two shard owners.
type Message struct {
	Opcode Opcode
	TID    uint64
	OID    string
	Shard  stripe.ShardId

	// Payload carries shard-local bytes for SubOpWrite and
	// SubOpReadReply; nil for SubOpRead (the request itself carries no
	// body, only the control fields) and for an error SubOpWriteReply.
	Payload *bufferlist.List

	// Off/Len describe the shard-local byte range Payload covers (for
	// SubOpRead, the range being requested).
	Off, Len int64

	// Err carries a peer-reported failure; nil on success.
	Err error
}

// Messenger is the capability ec2's pipelines consume to talk to peer
// shard owners (spec §6). Send must preserve ordering within one
// (sender, target) pair, matching the teacher's per-stream FIFO
// guarantee.
type Messenger interface {
	Send(target placement.Target, msg *Message) error
}

// Sender is the narrow subset of transport.Stream / bundle.Streams that
// StreamMessenger needs: enough to hand off one Obj without depending
// on the rest of the cluster/meta machinery that constructs a concrete
// Stream or DataMover.
type Sender interface {
	Send(obj *transport.Obj) error
}

// StreamMessenger implements Messenger over a per-target Sender,
// translating each Message to a transport.Obj the way the putjogger
// reference builds transport.Header/transport.Obj for its EC sub-ops:
// small control fields travel in ObjHdr.Opaque, the shard payload (if
// any) travels as the object body.
type StreamMessenger struct {
	senders map[string]Sender
}

// NewStreamMessenger returns a Messenger that looks up a target's
// Sender by Target.ID. senders is typically one entry per peer shard
// owner's outbound stream.
func NewStreamMessenger(senders map[string]Sender) *StreamMessenger {
	return &StreamMessenger{senders: senders}
}

func (sm *StreamMessenger) Send(target placement.Target, msg *Message) error {
	s, ok := sm.senders[target.ID]
	if !ok {
		return &ec2UnknownTargetError{target.ID}
	}
	obj := &transport.Obj{Hdr: encodeHdr(msg)}
	if msg.Payload != nil {
		obj.Reader = io.NopCloser(bytes.NewReader(msg.Payload.Contiguous()))
		obj.Hdr.ObjAttrs.Size = msg.Payload.Length()
	}
	return s.Send(obj)
}

// encodeHdr packs a Message's control fields into ObjHdr.Opaque, the
// same way the putjogger reference stuffs small per-request metadata
// into the object header rather than the body.
func encodeHdr(msg *Message) transport.ObjHdr {
	buf := make([]byte, 26)
	binary.BigEndian.PutUint64(buf[0:], msg.TID)
	binary.BigEndian.PutUint16(buf[8:], uint16(msg.Shard))
	binary.BigEndian.PutUint64(buf[10:], uint64(msg.Off))
	binary.BigEndian.PutUint64(buf[18:], uint64(msg.Len))
	return transport.ObjHdr{
		ObjName: msg.OID,
		Opaque:  buf,
		Opcode:  int(msg.Opcode),
	}
}

// DecodeMessage reverses encodeHdr, reconstructing the control fields a
// received transport.Obj carries; the caller supplies the body bytes
// separately (read off obj.Reader) since ec2/transport never owns
// buffer allocation.
func DecodeMessage(hdr transport.ObjHdr, body []byte) *Message {
	msg := &Message{
		Opcode: Opcode(hdr.Opcode),
		OID:    hdr.ObjName,
	}
	if len(hdr.Opaque) >= 26 {
		msg.TID = binary.BigEndian.Uint64(hdr.Opaque[0:])
		msg.Shard = stripe.ShardId(binary.BigEndian.Uint16(hdr.Opaque[8:]))
		msg.Off = int64(binary.BigEndian.Uint64(hdr.Opaque[10:]))
		msg.Len = int64(binary.BigEndian.Uint64(hdr.Opaque[18:]))
	}
	if len(body) > 0 {
		msg.Payload = bufferlist.FromBytes(body)
	}
	return msg
}

type ec2UnknownTargetError struct{ id string }

func (e *ec2UnknownTargetError) Error() string { return "ec2 transport: no sender for target " + e.id }
