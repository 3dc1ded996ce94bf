package txn

import (
	"hash/crc32"
	"strconv"
)

// NumATRs is the default number of ATR keys an attempt's first staged
// document can hash into, matching spec.md §4.I's "a fixed set (default
// 1024) of keys".
const NumATRs = 1024

// atrKeyPrefix namespaces generated ATR document keys so they sort
// together in the metadata collection and never collide with an
// application key.
const atrKeyPrefix = "_txn:atr:"

// ATRKeyFor picks the ATR document key for a transaction attempt by
// hashing its first staged document's id into one of numATRs buckets, the
// same deterministic assignment every participant (including a lost-
// transactions cleanup process on another client) must reproduce to find
// the right ATR.
func ATRKeyFor(firstDocKey string, numATRs int) string {
	if numATRs <= 0 {
		numATRs = NumATRs
	}
	idx := crc32.ChecksumIEEE([]byte(firstDocKey)) % uint32(numATRs)
	return atrKeyFromIndex(int(idx))
}

func atrKeyFromIndex(idx int) string {
	return atrKeyPrefix + strconv.Itoa(idx)
}
