package wire

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
)

// PackHeader opens a framing v1 payload. Each following non-blank line is
// one base64 item. Payloads without a header are read as v1 so that a
// single bare base64 item is also a valid payload.
const PackHeader = "pack/1"

const packPrefix = "pack/"

// Pack frames raw items: each is base64-encoded and written on its own line
// after the header.
func Pack(items ...[]byte) string {
	var b strings.Builder
	b.WriteString(PackHeader)
	b.WriteByte('\n')
	for _, it := range items {
		b.WriteString(base64.StdEncoding.EncodeToString(it))
		b.WriteByte('\n')
	}
	return b.String()
}

// Unpack splits a payload into its still-encoded items, in order.
func Unpack(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	lines := strings.Split(text, "\n")
	if first := strings.TrimSpace(lines[0]); strings.HasPrefix(first, packPrefix) {
		if first != PackHeader {
			return nil, fmt.Errorf("unpack: unsupported framing %q", first)
		}
		lines = lines[1:]
	}

	items := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		items = append(items, l)
	}
	return items, nil
}

// DecodeItem base64-decodes one item.
func DecodeItem(item string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(item))
	if err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	return b, nil
}

// IsNil reports whether a decoded item is the empty/null sentinel the remote
// uses for "no object".
func IsNil(decoded []byte) bool {
	d := bytes.TrimSpace(decoded)
	return len(d) == 0 || bytes.Equal(d, []byte("null"))
}

// UnpackDecoded unpacks text and decodes every item, dropping nil sentinels.
func UnpackDecoded(text string) ([][]byte, error) {
	items, err := Unpack(text)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(items))
	for i, it := range items {
		d, err := DecodeItem(it)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if IsNil(d) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
