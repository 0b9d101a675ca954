package protocol

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/golang/glog"
)

// envelope caps in bytes. the inbound direction (ui -> core) is kept small
// because intents are commit-style payloads, not bulk data. the outbound
// direction carries full view-model snapshots.
const InboundByteCap = 65536
const OutboundByteCap = 1048576

// fraction of a cap that triggers a warning log
const capWarnNumerator = 4
const capWarnDenominator = 5

const (
	EnvelopeTypeReady  = "ready"
	EnvelopeTypeIntent = "intent"
	EnvelopeTypeRender = "render"
	EnvelopeTypePatch  = "patch"
	EnvelopeTypeError  = "error"
)

// codec error kinds
const (
	ErrorKindFrameTooLarge   = "frame_too_large"
	ErrorKindDecodeError     = "decode_error"
	ErrorKindInvalidEnvelope = "invalid_envelope"
	ErrorKindEncodeError     = "encode_error"
)

type CodecError struct {
	Kind    string
	Message string
}

func (self *CodecError) Error() string {
	return fmt.Sprintf("%s: %s", self.Kind, self.Message)
}

func newCodecError(kind string, format string, a ...any) *CodecError {
	return &CodecError{
		Kind:    kind,
		Message: fmt.Sprintf(format, a...),
	}
}

// Envelope is one wire message, discriminated by the "t" tag.
// The set is sealed to the five message types of the protocol.
type Envelope interface {
	EnvelopeType() string
	wire() (map[string]any, error)
}

type Ready struct {
	Sid          string
	Capabilities map[string]any
}

func (self *Ready) EnvelopeType() string {
	return EnvelopeTypeReady
}

func (self *Ready) wire() (map[string]any, error) {
	w := map[string]any{
		"t":   EnvelopeTypeReady,
		"sid": self.Sid,
	}
	if self.Capabilities != nil {
		w["capabilities"] = self.Capabilities
	}
	return w, nil
}

type Intent struct {
	Sid  string
	Name string
	// normalized client intent id. nil when the intent carried no id
	// or a non-integer id.
	Id      *int64
	Payload map[string]any
}

func (self *Intent) EnvelopeType() string {
	return EnvelopeTypeIntent
}

func (self *Intent) wire() (map[string]any, error) {
	w := map[string]any{
		"t":       EnvelopeTypeIntent,
		"sid":     self.Sid,
		"name":    self.Name,
		"payload": self.Payload,
	}
	if self.Id != nil {
		w["id"] = *self.Id
	}
	return w, nil
}

type Render struct {
	Sid string
	Rev uint64
	Vm  map[string]any
	Ack *int64
}

func (self *Render) EnvelopeType() string {
	return EnvelopeTypeRender
}

func (self *Render) wire() (map[string]any, error) {
	w := map[string]any{
		"t":   EnvelopeTypeRender,
		"sid": self.Sid,
		"rev": self.Rev,
		"vm":  self.Vm,
	}
	if self.Ack != nil {
		w["ack"] = *self.Ack
	}
	return w, nil
}

type Patch struct {
	Sid string
	Rev uint64
	Ops []PatchOp
	Ack *int64
}

func (self *Patch) EnvelopeType() string {
	return EnvelopeTypePatch
}

func (self *Patch) wire() (map[string]any, error) {
	ops := make([]any, len(self.Ops))
	for i, op := range self.Ops {
		ops[i] = op.wire()
	}
	w := map[string]any{
		"t":   EnvelopeTypePatch,
		"sid": self.Sid,
		"rev": self.Rev,
		"ops": ops,
	}
	if self.Ack != nil {
		w["ack"] = *self.Ack
	}
	return w, nil
}

type Error struct {
	Sid     string
	Rev     *uint64
	Code    string
	Message string
}

func (self *Error) EnvelopeType() string {
	return EnvelopeTypeError
}

func (self *Error) wire() (map[string]any, error) {
	w := map[string]any{
		"t":       EnvelopeTypeError,
		"sid":     self.Sid,
		"code":    self.Code,
		"message": self.Message,
	}
	if self.Rev != nil {
		w["rev"] = *self.Rev
	}
	return w, nil
}

// DecodeInbound decodes one ui -> core envelope (`ready` or `intent`).
// Malformed payload shapes inside an intent are normalized, not rejected:
// a non-integer id drops to nil and a non-mapping payload drops to empty.
func DecodeInbound(b []byte) (Envelope, error) {
	if InboundByteCap < len(b) {
		return nil, newCodecError(ErrorKindFrameTooLarge, "inbound envelope %d exceeds cap %d", len(b), InboundByteCap)
	}
	if capWarnDenominator*len(b) >= capWarnNumerator*InboundByteCap {
		glog.Warningf("[codec]inbound envelope %d near cap %d\n", len(b), InboundByteCap)
	}

	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		return nil, newCodecError(ErrorKindDecodeError, "%s", err)
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		return nil, newCodecError(ErrorKindInvalidEnvelope, "envelope is %T, not a mapping", decoded)
	}

	t, _ := m["t"].(string)
	switch t {
	case EnvelopeTypeReady:
		sid, ok := m["sid"].(string)
		if !ok {
			return nil, newCodecError(ErrorKindInvalidEnvelope, "ready without sid")
		}
		capabilities, _ := m["capabilities"].(map[string]any)
		return &Ready{
			Sid:          sid,
			Capabilities: capabilities,
		}, nil
	case EnvelopeTypeIntent:
		name, ok := m["name"].(string)
		if !ok {
			return nil, newCodecError(ErrorKindInvalidEnvelope, "intent without name")
		}
		sid, _ := m["sid"].(string)
		payload, ok := m["payload"].(map[string]any)
		if !ok {
			payload = map[string]any{}
		}
		return &Intent{
			Sid:     sid,
			Name:    name,
			Id:      normalizeIntentId(m["id"]),
			Payload: payload,
		}, nil
	default:
		return nil, newCodecError(ErrorKindInvalidEnvelope, "unknown envelope type %q", t)
	}
}

// EncodeOutbound encodes one core -> ui envelope (`render`, `patch` or `error`).
func EncodeOutbound(envelope Envelope) ([]byte, error) {
	w, err := envelope.wire()
	if err != nil {
		return nil, newCodecError(ErrorKindEncodeError, "%s", err)
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, newCodecError(ErrorKindEncodeError, "%s", err)
	}
	if OutboundByteCap < len(b) {
		return nil, newCodecError(ErrorKindFrameTooLarge, "outbound envelope %d exceeds cap %d", len(b), OutboundByteCap)
	}
	if capWarnDenominator*len(b) >= capWarnNumerator*OutboundByteCap {
		glog.Warningf("[codec]outbound envelope %d near cap %d\n", len(b), OutboundByteCap)
	}
	return b, nil
}

func RequireEncodeOutbound(envelope Envelope) []byte {
	b, err := EncodeOutbound(envelope)
	if err != nil {
		panic(err)
	}
	return b
}

// json numbers arrive as float64. an id is only usable as an ack token
// when it is integral.
func normalizeIntentId(v any) *int64 {
	switch id := v.(type) {
	case float64:
		if id == math.Trunc(id) && !math.IsInf(id, 0) {
			normalized := int64(id)
			return &normalized
		}
		return nil
	case int64:
		normalized := id
		return &normalized
	case int:
		normalized := int64(id)
		return &normalized
	default:
		return nil
	}
}
