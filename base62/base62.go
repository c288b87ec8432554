// Package base62 renders 64-bit identifiers as short, URL-safe strings.
package base62

import (
	"fmt"
	"math"
	"strings"
)

const charset = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Encode converts a non-negative integer to its Base62 representation.
func Encode(n int64) string {
	if n <= 0 {
		return string(charset[0])
	}

	var buf [11]byte // 62^11 > 2^63, so 11 digits always suffice
	var i = len(buf)
	for n > 0 {
		i--
		buf[i] = charset[n%62]
		n /= 62
	}

	return string(buf[i:])
}

// Decode converts a Base62 string back to its integer value.
func Decode(encoded string) (int64, error) {
	if encoded == "" {
		return 0, fmt.Errorf("empty base62 string")
	}

	var n int64
	for _, char := range encoded {
		var digit = strings.IndexRune(charset, char)
		if digit < 0 {
			return 0, fmt.Errorf("invalid base62 character %q", char)
		}
		if n > (math.MaxInt64-int64(digit))/62 {
			return 0, fmt.Errorf("base62 value %q overflows int64", encoded)
		}
		n = n*62 + int64(digit)
	}

	return n, nil
}
