// Package payload holds the encoding helpers shared by the provider dialects.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/alessio/shellescape"
	"github.com/cespare/xxhash/v2"
	"github.com/google/go-querystring/query"
)

// Ellipsis marks truncated text. It is a single rune.
const Ellipsis = "…"

// Truncate shortens s to fit in max runes. When s does not fit, it keeps the
// first max-2 runes and appends Ellipsis, leaving one rune of headroom below
// max.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 2 {
		return string(runes[:max])
	}
	return string(runes[:max-2]) + Ellipsis
}

// ShortenKey keeps identifiers within a service limit while staying unique: keys
// that do not fit are cut and suffixed with the xxhash of the full key.
func ShortenKey(key string, max int) string {
	runes := []rune(key)
	if len(runes) <= max {
		return key
	}
	sum := strconv.FormatUint(xxhash.Sum64String(key), 16)
	keep := max - len(sum) - 1
	if keep <= 0 {
		return sum[:min(max, len(sum))]
	}
	return string(runes[:keep]) + "-" + sum
}

// JSON encodes v without HTML escaping. Quotes, backslashes and control
// characters are always escaped.
func JSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode json payload: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Form URL-encodes the `url` tagged fields of v.
func Form(v any) ([]byte, error) {
	values, err := query.Values(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode form payload: %w", err)
	}
	return []byte(values.Encode()), nil
}

// ShellQuote joins args into a command line for remote shells, quoting every
// argument that is not made of safe characters.
func ShellQuote(args ...string) string {
	return shellescape.QuoteCommand(args)
}
