package nimbus

import "nimbusdb.io/nimbus/pkg/wire"

// CommonFlag is the coarse value-type encoded in the upper byte of a
// document's flags (§3).
type CommonFlag uint32

const (
	CommonFlagPrivate CommonFlag = 0 << 24
	CommonFlagJSON    CommonFlag = 2 << 24
	CommonFlagBinary  CommonFlag = 3 << 24
	CommonFlagString  CommonFlag = 4 << 24
)

const commonFlagMask CommonFlag = 0xff << 24

// EncodedValue is the raw bytes plus flags word a successful KV
// retrieval always surfaces (§3); it is also what Upsert/Insert/Replace
// accept, so a caller controls the flags a stored document carries
// without this package imposing a particular JSON/binary convention.
type EncodedValue struct {
	Bytes []byte
	Flags uint32
}

// CommonFlag extracts the coarse value-type byte from v's flags.
func (v EncodedValue) CommonFlag() CommonFlag {
	return CommonFlag(v.Flags) & commonFlagMask
}

// NewJSONValue builds an EncodedValue tagged with the JSON common flag,
// the default flags value (0x02000000) every JSON document in this
// module's examples and tests uses.
func NewJSONValue(raw []byte) EncodedValue {
	return EncodedValue{Bytes: raw, Flags: uint32(CommonFlagJSON)}
}

// Encoder is the contract a (fluent, out-of-scope) request builder
// implements so the core can drive it without knowing about any specific
// opcode beyond what it itself negotiates (§6): produce one wire frame
// given the session's negotiated feature set, and report its own opcode
// and idempotency so the retry layer can apply the right policy.
type Encoder interface {
	Encode(negotiated wire.FeatureSet) (wire.Frame, error)
	OpCode() wire.OpCode
	Idempotent() bool
}

// Decoder turns a response Frame into a typed result T. It is the
// counterpart surface the core exposes back to a fluent builder or
// application-level caller.
type Decoder[T any] interface {
	Decode(wire.Frame) (T, error)
}
