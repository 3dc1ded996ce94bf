package wire

import "github.com/golang/snappy"

// minCompressSize is the smallest value worth spending a compression pass
// on; anything shorter almost never clears compressRatioThreshold and the
// snappy framing overhead dominates.
const minCompressSize = 32

// compressRatioThreshold is the maximum compressed/original size ratio
// worth sending over the wire instead of the raw value. Values that don't
// compress below this ratio are sent uncompressed even if snappy is
// negotiated.
const compressRatioThreshold = 0.83

// MaybeCompress snappy-compresses value when it is large enough and
// compresses well enough to be worth it, returning the (possibly
// unmodified) bytes and whether compression was applied.
func MaybeCompress(value []byte) ([]byte, bool) {
	if len(value) < minCompressSize {
		return value, false
	}

	compressed := snappy.Encode(nil, value)
	ratio := float64(len(compressed)) / float64(len(value))
	if ratio >= compressRatioThreshold {
		return value, false
	}
	return compressed, true
}

// Decompress reverses snappy compression applied to a value whose
// DataType carries DataTypeSnappy.
func Decompress(value []byte) ([]byte, error) {
	return snappy.Decode(nil, value)
}
