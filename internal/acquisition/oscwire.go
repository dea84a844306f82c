package acquisition

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"

	"codeberg.org/mutker/pulsectl/internal/errors"
)

const oscBundleTag = "#bundle"

// oscMessage is a decoded OSC message with numeric arguments widened to
// float64.
type oscMessage struct {
	Address string
	Args    []float64
}

// decodeOSC decodes one datagram, flattening bundles in order.
func decodeOSC(b []byte) ([]oscMessage, error) {
	var out []oscMessage
	if err := decodePacket(b, &out, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// maxBundleDepth bounds recursion on hostile input.
const maxBundleDepth = 8

func decodePacket(b []byte, out *[]oscMessage, depth int) error {
	if len(b) == 0 || len(b)%4 != 0 {
		return errors.New().WithData(ErrProtocol, struct {
			Size int
		}{len(b)})
	}
	if b[0] == '#' {
		if depth >= maxBundleDepth {
			return errors.New().WithMessage(ErrProtocol, "osc bundle nesting too deep")
		}
		return decodeBundle(b, out, depth+1)
	}

	msg, err := decodeMessage(b)
	if err != nil {
		return err
	}
	*out = append(*out, msg)
	return nil
}

func decodeBundle(b []byte, out *[]oscMessage, depth int) error {
	tag, off, err := readOSCString(b, 0)
	if err != nil {
		return err
	}
	if tag != oscBundleTag {
		return errors.New().WithData(ErrProtocol, tag)
	}
	// Eight-byte time tag; elements are applied on arrival.
	off += 8
	if off > len(b) {
		return errors.New().WithMessage(ErrProtocol, "osc bundle truncated")
	}

	for off < len(b) {
		if off+4 > len(b) {
			return errors.New().WithMessage(ErrProtocol, "osc bundle element size truncated")
		}
		size := int(int32(binary.BigEndian.Uint32(b[off:])))
		off += 4
		if size <= 0 || off+size > len(b) {
			return errors.New().WithData(ErrProtocol, struct {
				ElementSize int
			}{size})
		}
		if err := decodePacket(b[off:off+size], out, depth); err != nil {
			return err
		}
		off += size
	}
	return nil
}

func decodeMessage(b []byte) (oscMessage, error) {
	addr, off, err := readOSCString(b, 0)
	if err != nil {
		return oscMessage{}, err
	}
	if !strings.HasPrefix(addr, "/") {
		return oscMessage{}, errors.New().WithData(ErrProtocol, addr)
	}

	msg := oscMessage{Address: addr}
	if off >= len(b) {
		// Type tag string omitted, as some old senders do.
		return msg, nil
	}

	tags, off, err := readOSCString(b, off)
	if err != nil {
		return oscMessage{}, err
	}
	if !strings.HasPrefix(tags, ",") {
		return oscMessage{}, errors.New().WithData(ErrProtocol, tags)
	}

	for _, tag := range tags[1:] {
		var width int
		switch tag {
		case 'f', 'i':
			width = 4
		case 'd', 'h':
			width = 8
		default:
			return oscMessage{}, errors.New().WithData(ErrProtocol, struct {
				TypeTag string
			}{string(tag)})
		}
		if off+width > len(b) {
			return oscMessage{}, errors.New().WithMessage(ErrProtocol, "osc argument truncated")
		}

		var v float64
		switch tag {
		case 'f':
			v = float64(math.Float32frombits(binary.BigEndian.Uint32(b[off:])))
		case 'i':
			v = float64(int32(binary.BigEndian.Uint32(b[off:])))
		case 'd':
			v = math.Float64frombits(binary.BigEndian.Uint64(b[off:]))
		case 'h':
			v = float64(int64(binary.BigEndian.Uint64(b[off:])))
		}
		msg.Args = append(msg.Args, v)
		off += width
	}
	return msg, nil
}

// readOSCString reads a NUL-terminated string padded to four bytes.
func readOSCString(b []byte, off int) (string, int, error) {
	if off >= len(b) {
		return "", off, errors.New().WithMessage(ErrProtocol, "osc string missing")
	}
	end := bytes.IndexByte(b[off:], 0)
	if end < 0 {
		return "", off, errors.New().WithMessage(ErrProtocol, "osc string unterminated")
	}
	s := string(b[off : off+end])
	next := off + pad4(end+1)
	if next > len(b) {
		return "", off, errors.New().WithMessage(ErrProtocol, "osc string padding truncated")
	}
	return s, next, nil
}

func pad4(n int) int {
	return (n + 3) &^ 3
}

func appendOSCString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	buf = append(buf, 0)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}

// encodeOSC builds a message. Arguments may be int32, int, float32 or
// float64; anything else is skipped.
func encodeOSC(addr string, args ...any) []byte {
	tags := []byte{','}
	var payload []byte
	for _, a := range args {
		switch v := a.(type) {
		case int:
			tags = append(tags, 'i')
			payload = binary.BigEndian.AppendUint32(payload, uint32(int32(v)))
		case int32:
			tags = append(tags, 'i')
			payload = binary.BigEndian.AppendUint32(payload, uint32(v))
		case float32:
			tags = append(tags, 'f')
			payload = binary.BigEndian.AppendUint32(payload, math.Float32bits(v))
		case float64:
			tags = append(tags, 'd')
			payload = binary.BigEndian.AppendUint64(payload, math.Float64bits(v))
		}
	}

	buf := appendOSCString(nil, addr)
	buf = appendOSCString(buf, string(tags))
	return append(buf, payload...)
}

// encodeOSCBundle wraps packets in an immediate bundle.
func encodeOSCBundle(packets ...[]byte) []byte {
	buf := appendOSCString(nil, oscBundleTag)
	buf = binary.BigEndian.AppendUint64(buf, 1)
	for _, p := range packets {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(p)))
		buf = append(buf, p...)
	}
	return buf
}
