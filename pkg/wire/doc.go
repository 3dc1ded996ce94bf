// Package wire implements the binary key/value protocol frame: the 24-byte
// header, the flexible framing extras, the error map schema, and the
// helpers (compression, collection-id prefixing, server-duration decoding)
// needed to encode a request and decode a response. It does not catalog
// every opcode the server supports — only the ones the rest of this module
// drives (hello, sasl, select_bucket, get_error_map, the KV and subdoc
// verbs, and transaction staging).
package wire
