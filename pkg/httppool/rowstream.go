package httppool

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrStreamEnd is returned by NextRow once every row has been delivered.
var ErrStreamEnd = errors.New("httppool: end of row stream")

// RowStream delivers one query/search/analytics response's top-level
// array field element by element, as the raw serialized JSON of each
// element, followed once by the response's remaining top-level fields as
// "meta data". This avoids buffering a potentially large results array
// in memory all at once.
type RowStream struct {
	body       io.ReadCloser
	dec        *json.Decoder
	arrayField string

	inArray     bool
	done        bool
	pendingMeta map[string]json.RawMessage
	metaBytes   []byte
}

// newRowStream scans resp's top-level JSON object for arrayField, leaving
// the decoder positioned just inside that array so NextRow can pull
// elements one at a time.
func newRowStream(body io.ReadCloser, arrayField string) (*RowStream, error) {
	dec := json.NewDecoder(body)

	tok, err := dec.Token()
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("httppool: row stream: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		body.Close()
		return nil, fmt.Errorf("httppool: row stream: expected top-level object, got %v", tok)
	}

	rs := &RowStream{body: body, dec: dec, arrayField: arrayField}
	if err := rs.seekToArray(); err != nil {
		body.Close()
		return nil, err
	}
	return rs, nil
}

// seekToArray walks top-level keys until it finds arrayField and consumes
// its opening '[', buffering every other key's raw value as metadata.
func (rs *RowStream) seekToArray() error {
	meta := make(map[string]json.RawMessage)
	for rs.dec.More() {
		keyTok, err := rs.dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		if key == rs.arrayField {
			tok, err := rs.dec.Token()
			if err != nil {
				return err
			}
			if delim, ok := tok.(json.Delim); !ok || delim != '[' {
				return fmt.Errorf("httppool: row stream: field %q is not an array", rs.arrayField)
			}
			rs.inArray = true
			rs.pendingMeta = meta
			return nil
		}

		var raw json.RawMessage
		if err := rs.dec.Decode(&raw); err != nil {
			return err
		}
		meta[key] = raw
	}
	return fmt.Errorf("httppool: row stream: field %q not found in response", rs.arrayField)
}

// NextRow returns the next array element's raw JSON bytes, or ErrStreamEnd
// once the array is exhausted.
func (rs *RowStream) NextRow() ([]byte, error) {
	if rs.done {
		return nil, ErrStreamEnd
	}
	if !rs.inArray {
		return nil, fmt.Errorf("httppool: row stream: not positioned inside array")
	}
	if !rs.dec.More() {
		// consume the closing ']'
		if _, err := rs.dec.Token(); err != nil {
			return nil, err
		}
		rs.inArray = false
		if err := rs.finishMeta(); err != nil {
			return nil, err
		}
		rs.done = true
		return nil, ErrStreamEnd
	}

	var raw json.RawMessage
	if err := rs.dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("httppool: row stream: decode row: %w", err)
	}
	return raw, nil
}

// finishMeta consumes whatever top-level fields trail the array (e.g.
// "status", "metrics", "errors") and merges them into the metadata
// already collected before the array, so MetaData reflects the whole
// object minus the array itself.
func (rs *RowStream) finishMeta() error {
	meta := rs.pendingMeta
	for rs.dec.More() {
		keyTok, err := rs.dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var raw json.RawMessage
		if err := rs.dec.Decode(&raw); err != nil {
			return err
		}
		meta[key] = raw
	}
	// consume closing '}'
	if _, err := rs.dec.Token(); err != nil && err != io.EOF {
		return err
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	rs.metaBytes = data
	return nil
}

// MetaData returns the response's non-array top-level fields, serialized
// back into one JSON object. Only meaningful after NextRow has returned
// ErrStreamEnd.
func (rs *RowStream) MetaData() []byte {
	return rs.metaBytes
}

// Close releases the underlying HTTP response body. Safe to call even if
// the stream was not fully drained.
func (rs *RowStream) Close() error {
	return rs.body.Close()
}
