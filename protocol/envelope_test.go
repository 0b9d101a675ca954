package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestDecodeReady(t *testing.T) {
	envelope, err := DecodeInbound([]byte(`{"t":"ready","sid":"S1","capabilities":{"m1":true}}`))
	assert.Equal(t, nil, err)

	ready, ok := envelope.(*Ready)
	assert.Equal(t, true, ok)
	assert.Equal(t, "S1", ready.Sid)
	assert.Equal(t, true, ready.Capabilities["m1"])
}

func TestDecodeIntentNormalizesIdAndPayload(t *testing.T) {
	envelope, err := DecodeInbound([]byte(`{"t":"intent","sid":"S1","name":"set_status","id":77,"payload":{"id":"dev-1"}}`))
	assert.Equal(t, nil, err)

	intent, ok := envelope.(*Intent)
	assert.Equal(t, true, ok)
	assert.Equal(t, "set_status", intent.Name)
	assert.Equal(t, int64(77), *intent.Id)
	assert.Equal(t, "dev-1", intent.Payload["id"])

	// a non-integer id drops to nil
	envelope, err = DecodeInbound([]byte(`{"t":"intent","name":"x","id":1.5}`))
	assert.Equal(t, nil, err)
	intent = envelope.(*Intent)
	assert.Equal(t, true, intent.Id == nil)

	// a non-mapping payload drops to empty
	envelope, err = DecodeInbound([]byte(`{"t":"intent","name":"x","payload":[1,2]}`))
	assert.Equal(t, nil, err)
	intent = envelope.(*Intent)
	assert.Equal(t, 0, len(intent.Payload))
}

func TestDecodeErrors(t *testing.T) {
	_, err := DecodeInbound([]byte(`{`))
	codecErr, ok := err.(*CodecError)
	assert.Equal(t, true, ok)
	assert.Equal(t, ErrorKindDecodeError, codecErr.Kind)

	_, err = DecodeInbound([]byte(`[1,2,3]`))
	codecErr = err.(*CodecError)
	assert.Equal(t, ErrorKindInvalidEnvelope, codecErr.Kind)

	_, err = DecodeInbound([]byte(`{"t":"warp"}`))
	codecErr = err.(*CodecError)
	assert.Equal(t, ErrorKindInvalidEnvelope, codecErr.Kind)

	oversized := []byte(`{"t":"ready","sid":"` + strings.Repeat("a", InboundByteCap) + `"}`)
	_, err = DecodeInbound(oversized)
	codecErr = err.(*CodecError)
	assert.Equal(t, ErrorKindFrameTooLarge, codecErr.Kind)
}

func TestEncodeRender(t *testing.T) {
	b, err := EncodeOutbound(&Render{
		Sid: "S1",
		Rev: 1,
		Vm: map[string]any{
			"clock_label": "Label 1",
		},
	})
	assert.Equal(t, nil, err)

	var decoded map[string]any
	assert.Equal(t, nil, json.Unmarshal(b, &decoded))
	assert.Equal(t, "render", decoded["t"])
	assert.Equal(t, "S1", decoded["sid"])
	assert.Equal(t, float64(1), decoded["rev"])
	assert.Equal(t, "Label 1", decoded["vm"].(map[string]any)["clock_label"])
	// no ack key when the ack is unset
	_, hasAck := decoded["ack"]
	assert.Equal(t, false, hasAck)
}

func TestEncodePatchWithAck(t *testing.T) {
	ack := int64(20)
	b, err := EncodeOutbound(&Patch{
		Sid: "S1",
		Rev: 2,
		Ops: []PatchOp{
			RequireReplaceOp("/clock_label", "Label 20"),
			RequireRemoveOp("/stale"),
		},
		Ack: &ack,
	})
	assert.Equal(t, nil, err)

	var decoded map[string]any
	assert.Equal(t, nil, json.Unmarshal(b, &decoded))
	assert.Equal(t, "patch", decoded["t"])
	assert.Equal(t, float64(20), decoded["ack"])

	ops := decoded["ops"].([]any)
	assert.Equal(t, 2, len(ops))
	replaceOp := ops[0].(map[string]any)
	assert.Equal(t, "replace", replaceOp["op"])
	assert.Equal(t, "/clock_label", replaceOp["path"])
	assert.Equal(t, "Label 20", replaceOp["value"])
	removeOp := ops[1].(map[string]any)
	assert.Equal(t, "remove", removeOp["op"])
	_, hasValue := removeOp["value"]
	assert.Equal(t, false, hasValue)
}

func TestEncodeOutboundCap(t *testing.T) {
	_, err := EncodeOutbound(&Render{
		Sid: "S1",
		Rev: 1,
		Vm: map[string]any{
			"blob": strings.Repeat("a", OutboundByteCap),
		},
	})
	codecErr, ok := err.(*CodecError)
	assert.Equal(t, true, ok)
	assert.Equal(t, ErrorKindFrameTooLarge, codecErr.Kind)
}

func TestEncodeError(t *testing.T) {
	_, err := EncodeOutbound(&Render{
		Sid: "S1",
		Rev: 1,
		Vm: map[string]any{
			"bad": func() {},
		},
	})
	codecErr, ok := err.(*CodecError)
	assert.Equal(t, true, ok)
	assert.Equal(t, ErrorKindEncodeError, codecErr.Kind)
}

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"t":"ready","sid":"S1"}`)
	out := &bytes.Buffer{}
	assert.Equal(t, nil, WriteFramedMessage(out, payload, InboundByteCap))

	// 32-bit big-endian length header
	assert.Equal(t, []byte{0, 0, 0, byte(len(payload))}, out.Bytes()[0:4])

	decoded, err := ReadFramedMessage(out, InboundByteCap)
	assert.Equal(t, nil, err)
	assert.Equal(t, payload, decoded)
}

func TestFrameTooLarge(t *testing.T) {
	out := &bytes.Buffer{}
	err := WriteFramedMessage(out, make([]byte, InboundByteCap+1), InboundByteCap)
	codecErr, ok := err.(*CodecError)
	assert.Equal(t, true, ok)
	assert.Equal(t, ErrorKindFrameTooLarge, codecErr.Kind)

	header := []byte{0xff, 0xff, 0xff, 0xff}
	_, err = ReadFramedMessage(bytes.NewReader(header), InboundByteCap)
	codecErr = err.(*CodecError)
	assert.Equal(t, ErrorKindFrameTooLarge, codecErr.Kind)
}

func TestFrameTruncated(t *testing.T) {
	data := []byte{0, 0, 0, 5, 'a', 'b'}
	_, err := ReadFramedMessage(bytes.NewReader(data), InboundByteCap)
	assert.NotEqual(t, nil, err)
}
