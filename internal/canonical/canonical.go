// Package canonical produces stable JSON encodings so content hashes and
// Redis-stored records are reproducible across processes, per spec.md §9's
// note that hash-of-JSON dedup needs a specified canonical serialization
// ("otherwise hashes are not stable across implementations").
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"sort"
)

// Marshal encodes v as JSON with object keys sorted, recursively. It works
// by round-tripping through interface{} so struct field order and map
// iteration order never leak into the output.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encode(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// Hash returns a compact, stable content hash of v's canonical JSON
// encoding, used by the stream fan-out dedup caches (spec.md §4.4).
func Hash(v interface{}) (uint64, error) {
	raw, err := Marshal(v)
	if err != nil {
		return 0, err
	}
	sum := sha256.Sum256(raw)
	return binary.BigEndian.Uint64(sum[:8]), nil
}
