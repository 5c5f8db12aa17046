// Package cardnumber generates card numbers locally for deployments that are
// not connected to a card processor.
package cardnumber

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
)

// Length is the number of digits of a generated card number.
const Length = 16

// LuhnGenerator builds random Luhn-valid numbers under a fixed issuer prefix
// per card type.
type LuhnGenerator struct {
	prefixes map[domain.CardType]string
}

var _ domain.CardNumberGenerator = (*LuhnGenerator)(nil)

// NewLuhnGenerator uses test issuer ranges that no real network routes.
func NewLuhnGenerator() *LuhnGenerator {
	return &LuhnGenerator{prefixes: map[domain.CardType]string{
		domain.CardTypeDebit:  "400000",
		domain.CardTypeCredit: "510000",
	}}
}

func (g *LuhnGenerator) Generate(_ context.Context, cardType domain.CardType) (string, error) {
	prefix, ok := g.prefixes[cardType]
	if !ok {
		return "", fmt.Errorf("%w: no issuer range for card type %s", domain.ErrInvalidInput, cardType)
	}

	digits := []byte(prefix)
	for len(digits) < Length-1 {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to read random digit: %w", err)
		}
		digits = append(digits, byte('0'+n.Int64()))
	}
	digits = append(digits, checkDigit(digits))
	return string(digits), nil
}

// checkDigit returns the Luhn check digit for payload.
func checkDigit(payload []byte) byte {
	sum := 0
	double := true
	for i := len(payload) - 1; i >= 0; i-- {
		d := int(payload[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return byte('0' + (10-sum%10)%10)
}

// Valid reports whether number passes the Luhn check.
func Valid(number string) bool {
	if len(number) < 2 {
		return false
	}
	for i := 0; i < len(number); i++ {
		if number[i] < '0' || number[i] > '9' {
			return false
		}
	}
	last := len(number) - 1
	return checkDigit([]byte(number[:last])) == number[last]
}
