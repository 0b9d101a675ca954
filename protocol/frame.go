package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// stdio packet framing used by the transport bridges: a 32-bit big-endian
// payload length followed by that many bytes of utf-8 json.

const frameHeaderByteCount = 4

func WriteFramedMessage(w io.Writer, payload []byte, byteCap int) error {
	if byteCap < len(payload) {
		return newCodecError(ErrorKindFrameTooLarge, "frame %d exceeds cap %d", len(payload), byteCap)
	}
	var header [frameHeaderByteCount]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func ReadFramedMessage(r io.Reader, byteCap int) ([]byte, error) {
	var header [frameHeaderByteCount]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := int(binary.BigEndian.Uint32(header[:]))
	if byteCap < length {
		return nil, newCodecError(ErrorKindFrameTooLarge, "frame %d exceeds cap %d", length, byteCap)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("truncated frame: %w", err)
	}
	return payload, nil
}
