package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/rzpsarthak13/rpc-absorber/internal/transport"
)

// Canonical renders args as JSON with sorted object keys, NFC-normalized
// strings and integral numbers printed without a fraction, so logically
// equal arguments always produce the same text.
func Canonical(args any) (string, error) {
	plain, err := transport.PlainArgs(args)
	if err != nil {
		return "", err
	}
	return canonicalPlain(plain)
}

func canonicalPlain(plain any) (string, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// CallID is the identity of a call: the hex xxhash64 of
// method + ":" + Canonical(args).
func CallID(method string, args any) (string, error) {
	canon, err := Canonical(args)
	if err != nil {
		return "", err
	}
	return hashID(method, canon), nil
}

func hashID(method, canon string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(method+":"+canon))
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case string:
		return writeString(buf, transport.NFC(val))
	case json.Number:
		buf.WriteString(canonicalNumber(val))
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
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
			if err := writeString(buf, transport.NFC(k)); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unexpected argument type %T", v)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode appends a newline
	buf.Truncate(buf.Len() - 1)
	return nil
}

func canonicalNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	f, err := n.Float64()
	if err != nil {
		return n.String()
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
