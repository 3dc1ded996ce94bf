package wire

import (
	"encoding/binary"
	"math"
	"time"
)

// DecodeServerDuration converts the encoded 16-bit server-duration
// framing extra into a wall-clock duration. The server encodes duration
// as round(pow(encoded, 1.74) / 2) microseconds to preserve precision at
// small magnitudes while covering a wide dynamic range in 16 bits.
func DecodeServerDuration(raw []byte) time.Duration {
	if len(raw) != 2 {
		return 0
	}
	encoded := binary.BigEndian.Uint16(raw)
	micros := math.Pow(float64(encoded), 1.74) / 2
	return time.Duration(micros * float64(time.Microsecond))
}

// EncodeServerDuration is the inverse of DecodeServerDuration; only used
// by tests and fakes that emulate a server.
func EncodeServerDuration(d time.Duration) []byte {
	micros := float64(d) / float64(time.Microsecond)
	encoded := uint16(math.Pow(micros*2, 1/1.74))
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, encoded)
	return buf
}
