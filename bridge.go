package projection

import (
	"projection.dev/projection/protocol"
)

// The transport bridge is the external collaborator that moves framed
// envelopes between the session and the renderer. The core hands the
// bridge outbound envelopes through `Send` (fire-and-forget; the bridge
// owns encoding, framing, and the connection lifecycle including
// bounded-backoff reconnect) and the bridge hands the core inbound
// decoded envelopes through `Session.Deliver`.
type Bridge interface {
	Send(envelope protocol.Envelope)
	Close()
}

// attachBridge wires a bridge as the session's outbound path and returns
// the detach function.
func attachBridge(session *Session, bridge Bridge) func() {
	return session.AddSendCallback(bridge.Send)
}

// a bridge answers an undecodable inbound frame with a protocol error
// envelope and then synthesizes a ready to force a resync. the session
// itself is not affected by transport decode failures.
func decodeFailureEnvelopes(sid string, err error) (*protocol.Error, *protocol.Ready) {
	code := protocol.ErrorKindDecodeError
	if codecErr, ok := err.(*protocol.CodecError); ok {
		code = codecErr.Kind
	}
	errorEnvelope := &protocol.Error{
		Sid:     sid,
		Code:    code,
		Message: err.Error(),
	}
	readyEnvelope := &protocol.Ready{
		Sid: sid,
	}
	return errorEnvelope, readyEnvelope
}
