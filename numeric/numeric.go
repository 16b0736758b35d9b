// Package numeric encodes and decodes the binary numeric blocks
// instruments speak on the wire: IEEE-488.2 definite/indefinite-length
// arbitrary blocks, the older HP-IB two-byte-length form, and
// comma-separated ASCII.
//
// The state a caller needs to repeat across many encode/decode calls —
// which block format, which scalar type, which byte order, which ASCII
// number format — is bundled into one Codec value rather than threaded
// through every call as loose parameters, the way kiss_frame.go in the
// reference TNC bundles its protocol parameters into one state struct.
package numeric

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Format selects the block framing used on the wire.
type Format int

const (
	// IEEE is the "#<k><k digits of N><N bytes>" block, with the
	// indefinite form "#0 ... \n" when k == 0.
	IEEE Format = iota
	// HP is the "#A<2-byte big-endian length><bytes>" block.
	HP
	// ASCII is comma-separated decimal text.
	ASCII
	// None is raw bytes in the codec's ByteOrder, no framing at all.
	None
)

// DType is the scalar element type packed into a block.
type DType int

const (
	Int8 DType = iota
	UInt8
	Int16
	UInt16
	Int32
	UInt32
	Int64
	UInt64
	Float32
	Float64
)

func (d DType) size() int {
	switch d {
	case Int8, UInt8:
		return 1
	case Int16, UInt16:
		return 2
	case Int32, UInt32, Float32:
		return 4
	case Int64, UInt64, Float64:
		return 8
	default:
		return 0
	}
}

// endiannessAgnostic reports whether byte order makes no difference for
// this dtype (single-byte types). Per the §9 design note, the default
// byte order for these is little-endian regardless of what the caller's
// ByteOrder field says.
func (d DType) endiannessAgnostic() bool {
	return d == Int8 || d == UInt8
}

// Codec bundles the parameters needed to encode or decode one numeric
// block. The zero value is IEEE/Int8 with little-endian byte order.
type Codec struct {
	Format Format
	DType  DType
	Order  binary.ByteOrder // nil defaults to binary.LittleEndian

	// ASCIIPattern is a Go-style numeric format verb, e.g. "%.2e", used
	// only when Format == ASCII. Empty defaults to "%g".
	ASCIIPattern string
}

func (c Codec) order() binary.ByteOrder {
	if c.DType.endiannessAgnostic() {
		return binary.LittleEndian
	}
	if c.Order == nil {
		return binary.LittleEndian
	}
	return c.Order
}

// maxIEEEBytes is the encoder's rejection threshold: arrays whose byte
// length would reach or exceed 10^9 cannot be framed as a definite-length
// IEEE block (the length-of-length digit count tops out at 9).
const maxIEEEBytes = 1_000_000_000

// Encode packs values into a wire block per c.Format.
//
// Encode carries every value through float64, which is exact for
// Int8/16/32 and UInt8/16/32 (all fit within float64's 53-bit mantissa)
// but loses precision for Int64/UInt64 magnitudes beyond 2^53. Callers
// needing an exact 64-bit integer round trip should use EncodeInts or
// EncodeUint64s instead.
func Encode(c Codec, values []float64) ([]byte, error) {
	if c.Format == ASCII {
		pattern := c.ASCIIPattern
		if pattern == "" {
			pattern = "%g"
		}
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = fmt.Sprintf(pattern, v)
		}
		return []byte(strings.Join(parts, ",")), nil
	}
	raw, err := packValues(c, values)
	if err != nil {
		return nil, err
	}
	return frame(c, raw)
}

// frame wraps an already-packed payload in the block framing c.Format
// selects. ASCII has no binary framing step, so it isn't handled here;
// Encode branches on it before ever computing a payload.
func frame(c Codec, raw []byte) ([]byte, error) {
	switch c.Format {
	case IEEE:
		if len(raw) >= maxIEEEBytes {
			return nil, fmt.Errorf("numeric: %d bytes exceeds IEEE block limit of %d", len(raw), maxIEEEBytes)
		}
		digits := strconv.Itoa(len(raw))
		var buf bytes.Buffer
		buf.WriteByte('#')
		buf.WriteString(strconv.Itoa(len(digits)))
		buf.WriteString(digits)
		buf.Write(raw)
		return buf.Bytes(), nil
	case HP:
		if len(raw) > math.MaxUint16 {
			return nil, fmt.Errorf("numeric: %d bytes exceeds HP block limit of %d", len(raw), math.MaxUint16)
		}
		var buf bytes.Buffer
		buf.WriteByte('#')
		buf.WriteByte('A')
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(raw)))
		buf.Write(lenBuf[:])
		buf.Write(raw)
		return buf.Bytes(), nil
	case None:
		return raw, nil
	default:
		return nil, fmt.Errorf("numeric: format %d has no binary frame step", c.Format)
	}
}

func packValues(c Codec, values []float64) ([]byte, error) {
	order := c.order()
	size := c.DType.size()
	if size == 0 {
		return nil, fmt.Errorf("numeric: unknown dtype %d", c.DType)
	}
	buf := make([]byte, 0, size*len(values))
	for _, v := range values {
		switch c.DType {
		case Int8:
			buf = append(buf, byte(int8(v)))
		case UInt8:
			buf = append(buf, byte(uint8(v)))
		case Int16:
			var b [2]byte
			order.PutUint16(b[:], uint16(int16(v)))
			buf = append(buf, b[:]...)
		case UInt16:
			var b [2]byte
			order.PutUint16(b[:], uint16(v))
			buf = append(buf, b[:]...)
		case Int32:
			var b [4]byte
			order.PutUint32(b[:], uint32(int32(v)))
			buf = append(buf, b[:]...)
		case UInt32:
			var b [4]byte
			order.PutUint32(b[:], uint32(v))
			buf = append(buf, b[:]...)
		case Int64:
			var b [8]byte
			order.PutUint64(b[:], uint64(int64(v)))
			buf = append(buf, b[:]...)
		case UInt64:
			var b [8]byte
			order.PutUint64(b[:], uint64(v))
			buf = append(buf, b[:]...)
		case Float32:
			var b [4]byte
			order.PutUint32(b[:], math.Float32bits(float32(v)))
			buf = append(buf, b[:]...)
		case Float64:
			var b [8]byte
			order.PutUint64(b[:], math.Float64bits(v))
			buf = append(buf, b[:]...)
		}
	}
	return buf, nil
}

// Decode locates and unpacks a wire block per c.Format, returning the
// decoded values and the number of bytes consumed from data (so a
// caller reading a stream can advance past the block). ASCII and None
// consume the entire input.
//
// Like Encode, Decode carries values through float64; see EncodeInts
// and EncodeUint64s for exact 64-bit integer round trips.
func Decode(c Codec, data []byte) ([]float64, int, error) {
	if c.Format == ASCII {
		return decodeASCII(data)
	}
	raw, consumed, err := locate(c, data)
	if err != nil {
		return nil, 0, err
	}
	values, err := unpackValues(c, raw)
	return values, consumed, err
}

// locate finds the raw payload bytes for c.Format within data, returning
// the payload and the number of bytes of data consumed. ASCII isn't
// handled here; it has no binary locate step and its callers branch on
// it before ever reaching locate.
func locate(c Codec, data []byte) ([]byte, int, error) {
	switch c.Format {
	case IEEE:
		return locateIEEE(data)
	case HP:
		return locateHP(data)
	case None:
		return data, len(data), nil
	default:
		return nil, 0, fmt.Errorf("numeric: format %d has no binary frame step", c.Format)
	}
}

func locateIEEE(data []byte) ([]byte, int, error) {
	hashIdx := bytes.IndexByte(data, '#')
	if hashIdx < 0 {
		return nil, 0, fmt.Errorf("numeric: no '#' found in IEEE block")
	}
	if hashIdx+1 >= len(data) {
		return nil, 0, fmt.Errorf("numeric: truncated IEEE block")
	}
	kDigit := data[hashIdx+1]
	if kDigit < '0' || kDigit > '9' {
		return nil, 0, fmt.Errorf("numeric: invalid IEEE length-of-length digit %q", kDigit)
	}
	k := int(kDigit - '0')
	pos := hashIdx + 2

	if k == 0 {
		// Indefinite form: "#0" followed by the rest of the buffer,
		// tolerating one trailing '\n'.
		body := bytes.TrimSuffix(data[pos:], []byte{'\n'})
		return body, len(data), nil
	}

	if pos+k > len(data) {
		return nil, 0, fmt.Errorf("numeric: truncated IEEE length field")
	}
	lengthStr := string(data[pos : pos+k])
	n, err := strconv.Atoi(lengthStr)
	if err != nil {
		return nil, 0, fmt.Errorf("numeric: invalid IEEE length %q: %w", lengthStr, err)
	}
	start := pos + k
	end := start + n
	if end > len(data) {
		return nil, 0, fmt.Errorf("numeric: IEEE block declares %d bytes but only %d available", n, len(data)-start)
	}
	return data[start:end], end, nil
}

func locateHP(data []byte) ([]byte, int, error) {
	hashIdx := bytes.IndexByte(data, '#')
	if hashIdx < 0 {
		return nil, 0, fmt.Errorf("numeric: no '#' found in HP block")
	}
	if hashIdx+4 > len(data) {
		return nil, 0, fmt.Errorf("numeric: truncated HP block header")
	}
	if data[hashIdx+1] != 'A' {
		return nil, 0, fmt.Errorf("numeric: expected 'A' after '#' in HP block, got %q", data[hashIdx+1])
	}
	n := int(binary.BigEndian.Uint16(data[hashIdx+2 : hashIdx+4]))
	start := hashIdx + 4
	end := start + n
	if end > len(data) {
		return nil, 0, fmt.Errorf("numeric: HP block declares %d bytes but only %d available", n, len(data)-start)
	}
	if n == 0 {
		return []byte{}, end, nil
	}
	return data[start:end], end, nil
}

func decodeASCII(data []byte) ([]float64, int, error) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return []float64{}, len(data), nil
	}
	parts := strings.Split(text, ",")
	values := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, 0, fmt.Errorf("numeric: invalid ASCII value %q: %w", p, err)
		}
		values[i] = v
	}
	return values, len(data), nil
}

func unpackValues(c Codec, raw []byte) ([]float64, error) {
	order := c.order()
	size := c.DType.size()
	if size == 0 {
		return nil, fmt.Errorf("numeric: unknown dtype %d", c.DType)
	}
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("numeric: %d bytes is not a multiple of element size %d", len(raw), size)
	}
	n := len(raw) / size
	values := make([]float64, n)
	for i := 0; i < n; i++ {
		chunk := raw[i*size : (i+1)*size]
		switch c.DType {
		case Int8:
			values[i] = float64(int8(chunk[0]))
		case UInt8:
			values[i] = float64(chunk[0])
		case Int16:
			values[i] = float64(int16(order.Uint16(chunk)))
		case UInt16:
			values[i] = float64(order.Uint16(chunk))
		case Int32:
			values[i] = float64(int32(order.Uint32(chunk)))
		case UInt32:
			values[i] = float64(order.Uint32(chunk))
		case Int64:
			values[i] = float64(int64(order.Uint64(chunk)))
		case UInt64:
			values[i] = float64(order.Uint64(chunk))
		case Float32:
			values[i] = float64(math.Float32frombits(order.Uint32(chunk)))
		case Float64:
			values[i] = math.Float64frombits(order.Uint64(chunk))
		}
	}
	return values, nil
}

// EncodeInts packs signed and unsigned integer values (every integer
// DType but UInt64) into a wire block exactly, using int64 as the carrier instead
// of the float64 Encode uses: Int8/16/32/64 and UInt8/16/32 all fit
// losslessly in int64, so no magnitude above 2^53 gets rounded the way
// it would going through Encode. UInt64 values can exceed int64's range,
// so they have their own EncodeUint64s entry point.
func EncodeInts(c Codec, values []int64) ([]byte, error) {
	raw, err := packInts(c, values)
	if err != nil {
		return nil, err
	}
	return frame(c, raw)
}

// DecodeInts is the exact-integer counterpart to Decode, for every
// integer DType but UInt64.
func DecodeInts(c Codec, data []byte) ([]int64, int, error) {
	raw, consumed, err := locate(c, data)
	if err != nil {
		return nil, 0, err
	}
	values, err := unpackInts(c, raw)
	return values, consumed, err
}

func packInts(c Codec, values []int64) ([]byte, error) {
	order := c.order()
	size := c.DType.size()
	switch c.DType {
	case Int8, UInt8, Int16, UInt16, Int32, UInt32, Int64:
	case UInt64:
		return nil, fmt.Errorf("numeric: EncodeInts cannot represent UInt64 exactly; use EncodeUint64s")
	default:
		return nil, fmt.Errorf("numeric: dtype %d is not an integer type", c.DType)
	}
	buf := make([]byte, 0, size*len(values))
	for _, v := range values {
		switch c.DType {
		case Int8, UInt8:
			buf = append(buf, byte(v))
		case Int16, UInt16:
			var b [2]byte
			order.PutUint16(b[:], uint16(v))
			buf = append(buf, b[:]...)
		case Int32, UInt32:
			var b [4]byte
			order.PutUint32(b[:], uint32(v))
			buf = append(buf, b[:]...)
		case Int64:
			var b [8]byte
			order.PutUint64(b[:], uint64(v))
			buf = append(buf, b[:]...)
		}
	}
	return buf, nil
}

func unpackInts(c Codec, raw []byte) ([]int64, error) {
	order := c.order()
	size := c.DType.size()
	switch c.DType {
	case Int8, UInt8, Int16, UInt16, Int32, UInt32, Int64:
	case UInt64:
		return nil, fmt.Errorf("numeric: DecodeInts cannot represent UInt64 exactly; use DecodeUint64s")
	default:
		return nil, fmt.Errorf("numeric: dtype %d is not an integer type", c.DType)
	}
	if size == 0 || len(raw)%size != 0 {
		return nil, fmt.Errorf("numeric: %d bytes is not a multiple of element size %d", len(raw), size)
	}
	n := len(raw) / size
	values := make([]int64, n)
	for i := 0; i < n; i++ {
		chunk := raw[i*size : (i+1)*size]
		switch c.DType {
		case Int8:
			values[i] = int64(int8(chunk[0]))
		case UInt8:
			values[i] = int64(chunk[0])
		case Int16:
			values[i] = int64(int16(order.Uint16(chunk)))
		case UInt16:
			values[i] = int64(order.Uint16(chunk))
		case Int32:
			values[i] = int64(int32(order.Uint32(chunk)))
		case UInt32:
			values[i] = int64(order.Uint32(chunk))
		case Int64:
			values[i] = int64(order.Uint64(chunk))
		}
	}
	return values, nil
}

// EncodeUint64s packs UInt64 values into a wire block exactly. It is the
// only integer DType whose full range (up to 2^64-1) doesn't fit in
// int64, so it gets a dedicated carrier type rather than sharing
// EncodeInts.
func EncodeUint64s(c Codec, values []uint64) ([]byte, error) {
	if c.DType != UInt64 {
		return nil, fmt.Errorf("numeric: EncodeUint64s requires DType UInt64, got %d", c.DType)
	}
	order := c.order()
	buf := make([]byte, 0, 8*len(values))
	for _, v := range values {
		var b [8]byte
		order.PutUint64(b[:], v)
		buf = append(buf, b[:]...)
	}
	return frame(c, buf)
}

// DecodeUint64s is the EncodeUint64s counterpart.
func DecodeUint64s(c Codec, data []byte) ([]uint64, int, error) {
	if c.DType != UInt64 {
		return nil, 0, fmt.Errorf("numeric: DecodeUint64s requires DType UInt64, got %d", c.DType)
	}
	raw, consumed, err := locate(c, data)
	if err != nil {
		return nil, 0, err
	}
	if len(raw)%8 != 0 {
		return nil, 0, fmt.Errorf("numeric: %d bytes is not a multiple of element size 8", len(raw))
	}
	order := c.order()
	n := len(raw) / 8
	values := make([]uint64, n)
	for i := 0; i < n; i++ {
		values[i] = order.Uint64(raw[i*8 : (i+1)*8])
	}
	return values, consumed, nil
}
