package nimbus

import (
	"encoding/binary"
	"fmt"
)

// subdocOpCode identifies one path-level operation inside a multi-path
// lookup_in/mutate_in request, encoded per-path ahead of the path string
// and (for mutate) its value.
type subdocOpCode byte

const (
	subdocOpGet       subdocOpCode = 0x00
	subdocOpExists    subdocOpCode = 0x01
	subdocOpDictAdd   subdocOpCode = 0x02
	subdocOpDictUpsert subdocOpCode = 0x01
	subdocOpDelete    subdocOpCode = 0x04
	subdocOpReplace   subdocOpCode = 0x03
	subdocOpArrayPushLast subdocOpCode = 0x05
	subdocOpArrayPushFirst subdocOpCode = 0x06
	subdocOpArrayInsert subdocOpCode = 0x07
	subdocOpArrayAddUnique subdocOpCode = 0x08
	subdocOpCounter subdocOpCode = 0x09
	subdocOpGetCount subdocOpCode = 0x0d
)

// subdocPathFlag marks one path as extended-attribute (xattr) rather than
// document-body, and/or asks the server to expand macros in its value. A
// transactional staging write always needs the xattr flag; access to a
// deleted (tombstoned) document is a request-level subdocDocFlag, not a
// path flag.
type subdocPathFlag byte

const (
	subdocPathFlagXattr         subdocPathFlag = 0x01
	subdocPathFlagExpandMacros  subdocPathFlag = 0x02
)

// subdocDocFlag marks the request itself (not a specific path) as
// allowed to operate on a deleted/tombstoned document or to create one
// (the "access deleted" / "create as deleted" combination a transaction's
// staged insert uses to stay invisible until commit).
type subdocDocFlag byte

const (
	subdocDocFlagMkDoc         subdocDocFlag = 0x01
	subdocDocFlagAccessDeleted subdocDocFlag = 0x02
	subdocDocFlagCreateAsDeleted subdocDocFlag = 0x08
)

// SubdocSpec is one path operation inside a LookupIn/MutateIn call.
type SubdocSpec struct {
	op    subdocOpCode
	Path  string
	Value []byte
	Xattr bool
}

// GetSpec reads path's value.
func GetSpec(path string) SubdocSpec { return SubdocSpec{op: subdocOpGet, Path: path} }

// GetXattrSpec reads an extended attribute path, e.g. "txn" for the
// transactional staging xattr.
func GetXattrSpec(path string) SubdocSpec {
	return SubdocSpec{op: subdocOpGet, Path: path, Xattr: true}
}

// ExistsSpec checks path's presence without returning its value.
func ExistsSpec(path string) SubdocSpec { return SubdocSpec{op: subdocOpExists, Path: path} }

// UpsertSpec writes value at path, creating intermediate dictionary
// elements as needed.
func UpsertSpec(path string, value []byte) SubdocSpec {
	return SubdocSpec{op: subdocOpDictUpsert, Path: path, Value: value}
}

// UpsertXattrSpec writes value at an xattr path, the primitive a
// transaction's staging writes are built from.
func UpsertXattrSpec(path string, value []byte) SubdocSpec {
	return SubdocSpec{op: subdocOpDictUpsert, Path: path, Value: value, Xattr: true}
}

// RemoveSpec deletes path.
func RemoveSpec(path string) SubdocSpec { return SubdocSpec{op: subdocOpDelete, Path: path} }

// RemoveXattrSpec deletes an xattr path.
func RemoveXattrSpec(path string) SubdocSpec {
	return SubdocSpec{op: subdocOpDelete, Path: path, Xattr: true}
}

// encode serializes one path spec as opcode, flags, pathlen(u16),
// valuelen(u32), path, value.
func (s SubdocSpec) encode() []byte {
	flags := byte(0)
	if s.Xattr {
		flags |= byte(subdocPathFlagXattr)
	}
	pathBytes := []byte(s.Path)

	out := make([]byte, 8, 8+len(pathBytes)+len(s.Value))
	out[0] = byte(s.op)
	out[1] = flags
	binary.BigEndian.PutUint16(out[2:4], uint16(len(pathBytes)))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(s.Value)))
	out = append(out, pathBytes...)
	out = append(out, s.Value...)
	return out
}

// encodeMultiLookup builds the value section for a SUBDOC_MULTI_LOOKUP
// request: every path spec, back to back. Doc flags are not part of it;
// LookupInWithFlags carries them in the request's extras.
func encodeMultiLookup(specs []SubdocSpec) []byte {
	var out []byte
	for _, s := range specs {
		out = append(out, s.encode()...)
	}
	return out
}

// encodeMultiMutate builds the value section for a SUBDOC_MULTI_MUTATE
// request the same way; docFlags (mkdoc/access-deleted/create-as-deleted)
// is carried in the request's extras, not here.
func encodeMultiMutate(specs []SubdocSpec) []byte {
	var out []byte
	for _, s := range specs {
		out = append(out, s.encode()...)
	}
	return out
}

// subdocResultField is one path's outcome as it appears in a
// SUBDOC_MULTI_LOOKUP response body: a per-path status followed (on
// success) by its value.
type subdocResultField struct {
	status uint16
	value  []byte
}

// decodeMultiLookupResponse parses a SUBDOC_MULTI_LOOKUP response's value
// section into one field per requested path, in request order.
func decodeMultiLookupResponse(body []byte) ([]subdocResultField, error) {
	var fields []subdocResultField
	for off := 0; off < len(body); {
		if off+6 > len(body) {
			return nil, fmt.Errorf("nimbus: truncated subdoc multi-lookup field header")
		}
		status := binary.BigEndian.Uint16(body[off : off+2])
		length := binary.BigEndian.Uint32(body[off+2 : off+6])
		off += 6
		if off+int(length) > len(body) {
			return nil, fmt.Errorf("nimbus: truncated subdoc multi-lookup field value")
		}
		fields = append(fields, subdocResultField{status: status, value: body[off : off+int(length)]})
		off += int(length)
	}
	return fields, nil
}

// decodeMultiMutateResponse parses a SUBDOC_MULTI_MUTATE response's value
// section on partial failure (StatusSubdocMultiPathFailure): one
// (path-index, status, value) triple for the first path that failed. On
// full success the value section only carries per-path mutation results
// for counter/array ops that produce a value; index order matches the
// request.
type subdocMutateResult struct {
	index  uint8
	status uint16
	value  []byte
}

func decodeMultiMutateResponse(body []byte) ([]subdocMutateResult, error) {
	var out []subdocMutateResult
	for off := 0; off < len(body); {
		if off+7 > len(body) {
			return nil, fmt.Errorf("nimbus: truncated subdoc multi-mutate result")
		}
		index := body[off]
		status := binary.BigEndian.Uint16(body[off+1 : off+3])
		length := binary.BigEndian.Uint32(body[off+3 : off+7])
		off += 7
		if off+int(length) > len(body) {
			return nil, fmt.Errorf("nimbus: truncated subdoc multi-mutate value")
		}
		out = append(out, subdocMutateResult{index: index, status: status, value: body[off : off+int(length)]})
		off += int(length)
	}
	return out, nil
}
