package wire

import (
	"encoding/binary"
	"fmt"
)

// EncodeMutationExtras builds the 8-byte extras section Set/Add/Replace
// carry: flags (the document's encoded-value flags word, §3) followed by
// a 4-byte expiry in seconds (0 meaning no TTL).
func EncodeMutationExtras(flags uint32, expirySeconds uint32) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], flags)
	binary.BigEndian.PutUint32(buf[4:8], expirySeconds)
	return buf
}

// DecodeGetExtras parses a successful Get response's 4-byte extras
// section into the document's flags word.
func DecodeGetExtras(extras []byte) (uint32, error) {
	if len(extras) != 4 {
		return 0, fmt.Errorf("wire: get extras must be 4 bytes, got %d", len(extras))
	}
	return binary.BigEndian.Uint32(extras), nil
}

// EncodeTouchExtras builds the 4-byte extras section Touch/GetAndTouch
// carry: a new expiry in seconds.
func EncodeTouchExtras(expirySeconds uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, expirySeconds)
	return buf
}

// MutationSeqno is the (partition_uuid, sequence_number) pair a mutation
// response's extras carry when the mutation-seqno feature is negotiated
// (§3's mutation token, minus the partition id and bucket name the
// session and request already know).
type MutationSeqno struct {
	VbucketUUID uint64
	SeqNo       uint64
}

// DecodeMutationSeqno parses a mutation response's 16-byte extras section
// into a MutationSeqno. ok is false when extras is empty (the server
// didn't negotiate or didn't send mutation seqnos for this request).
func DecodeMutationSeqno(extras []byte) (seqno MutationSeqno, ok bool, err error) {
	if len(extras) == 0 {
		return MutationSeqno{}, false, nil
	}
	if len(extras) != 16 {
		return MutationSeqno{}, false, fmt.Errorf("wire: mutation seqno extras must be 16 bytes, got %d", len(extras))
	}
	return MutationSeqno{
		VbucketUUID: binary.BigEndian.Uint64(extras[0:8]),
		SeqNo:       binary.BigEndian.Uint64(extras[8:16]),
	}, true, nil
}
