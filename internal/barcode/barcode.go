// Package barcode generates EAN-13 codes for catalog products that arrive
// without one.
package barcode

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
)

const (
	payloadLen  = 12
	maxAttempts = 8
)

// ErrExhausted is returned when every generation attempt collided with an
// existing barcode.
var ErrExhausted = errors.New("barcode generation exhausted")

// Checksum computes the EAN-13 check digit for a 12-digit payload.
func Checksum(payload string) (int, error) {
	if len(payload) != payloadLen {
		return 0, fmt.Errorf("payload must be %d digits, got %d", payloadLen, len(payload))
	}
	sum := 0
	for i, r := range payload {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("payload contains non-digit %q", r)
		}
		d := int(r - '0')
		// Positions are 1-indexed: odd positions weigh 1, even weigh 3.
		if i%2 == 0 {
			sum += d
		} else {
			sum += 3 * d
		}
	}
	return (10 - sum%10) % 10, nil
}

// Generate produces a fresh EAN-13 barcode whose payload begins with prefix,
// retrying on collisions reported by exists. The prefix must be numeric and
// shorter than 12 digits.
func Generate(ctx context.Context, prefix string, exists func(ctx context.Context, code string) (bool, error)) (string, error) {
	if len(prefix) >= payloadLen {
		return "", fmt.Errorf("prefix %q too long for a 12 digit payload", prefix)
	}
	for _, r := range prefix {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("prefix %q contains non-digit %q", prefix, r)
		}
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		var b strings.Builder
		b.WriteString(prefix)
		for b.Len() < payloadLen {
			b.WriteByte(byte('0' + rand.Intn(10)))
		}
		payload := b.String()

		check, err := Checksum(payload)
		if err != nil {
			return "", err
		}
		code := fmt.Sprintf("%s%d", payload, check)

		taken, err := exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check barcode uniqueness: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", ErrExhausted
}

// Valid reports whether code is a structurally correct EAN-13 barcode.
func Valid(code string) bool {
	if len(code) != payloadLen+1 {
		return false
	}
	check, err := Checksum(code[:payloadLen])
	if err != nil {
		return false
	}
	return int(code[payloadLen]-'0') == check
}
