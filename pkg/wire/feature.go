package wire

import "encoding/binary"

// Feature is a HELLO negotiation feature id. The client advertises the
// features it supports in the HELLO request body as a list of big-endian
// uint16s; the server echoes back the subset it agrees to use.
type Feature uint16

const (
	FeatureDatatype                     Feature = 0x01
	FeatureTLS                          Feature = 0x02
	FeatureTCPNoDelay                   Feature = 0x03
	FeatureMutationSeqno                Feature = 0x04
	FeatureTCPDelay                     Feature = 0x05
	FeatureXattr                        Feature = 0x06
	FeatureXerror                       Feature = 0x07
	FeatureSelectBucket                 Feature = 0x08
	FeatureCollections                  Feature = 0x09
	FeatureSnappy                       Feature = 0x0a
	FeatureJSON                         Feature = 0x0b
	FeatureDuplex                       Feature = 0x0c
	FeatureClustermapChangeNotification Feature = 0x0d
	FeatureUnorderedExecution           Feature = 0x0e
	FeatureDurableWrite                 Feature = 0x0f
	FeatureInternalUser                 Feature = 0x10
	FeaturePointInTimeRecovery          Feature = 0x11
	FeatureSubdocReadReplica            Feature = 0x12
	FeatureVattr                        Feature = 0x13
	FeatureCreateAsDeleted              Feature = 0x14
	FeaturePreserveTTL                  Feature = 0x15
	FeatureSnappyEverywhere             Feature = 0x19
)

// DefaultFeatures is the set this module advertises in every HELLO,
// matching the client features named in the binary protocol's feature
// table.
var DefaultFeatures = []Feature{
	FeatureDatatype,
	FeatureXattr,
	FeatureXerror,
	FeatureSelectBucket,
	FeatureSnappy,
	FeatureJSON,
	FeatureDuplex,
	FeatureClustermapChangeNotification,
	FeatureUnorderedExecution,
	FeatureDurableWrite,
	FeaturePreserveTTL,
	FeatureCollections,
	FeatureMutationSeqno,
	FeatureTCPNoDelay,
}

// EncodeFeatures serializes a feature list as the HELLO request value: a
// flat sequence of big-endian uint16s.
func EncodeFeatures(features []Feature) []byte {
	out := make([]byte, len(features)*2)
	for i, f := range features {
		binary.BigEndian.PutUint16(out[i*2:], uint16(f))
	}
	return out
}

// DecodeFeatures parses a HELLO response value into the feature list the
// server agreed to.
func DecodeFeatures(body []byte) []Feature {
	out := make([]Feature, 0, len(body)/2)
	for i := 0; i+1 < len(body); i += 2 {
		out = append(out, Feature(binary.BigEndian.Uint16(body[i:i+2])))
	}
	return out
}

// FeatureSet is the negotiated result: a lookup of which features the
// session may rely on.
type FeatureSet map[Feature]bool

// NewFeatureSet builds a FeatureSet from the server's HELLO response.
func NewFeatureSet(agreed []Feature) FeatureSet {
	fs := make(FeatureSet, len(agreed))
	for _, f := range agreed {
		fs[f] = true
	}
	return fs
}

func (fs FeatureSet) Has(f Feature) bool { return fs[f] }
