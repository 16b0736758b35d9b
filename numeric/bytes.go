package numeric

// EncodeBytes and DecodeBytes are the byte-sequence round-trip form used
// by the property tests in numeric_test.go: a raw []byte treated as an
// array of UInt8 elements, which is the common case for transferring a
// waveform or screenshot capture verbatim inside an IEEE or HP block.
func EncodeBytes(format Format, data []byte) ([]byte, error) {
	c := Codec{Format: format, DType: UInt8}
	values := make([]float64, len(data))
	for i, b := range data {
		values[i] = float64(b)
	}
	return Encode(c, values)
}

func DecodeBytes(format Format, data []byte) ([]byte, int, error) {
	c := Codec{Format: format, DType: UInt8}
	values, n, err := Decode(c, data)
	if err != nil {
		return nil, 0, err
	}
	out := make([]byte, len(values))
	for i, v := range values {
		out[i] = byte(v)
	}
	return out, n, nil
}
