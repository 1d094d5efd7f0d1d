package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// DefaultFixedCode is emitted by FixedGenerator in non-production environments.
const DefaultFixedCode = "111111"

const defaultDigits = 6

// CodeGenerator produces the numeric code for a new record.
type CodeGenerator interface {
	Generate() (string, error)
}

type randomGenerator struct {
	digits int
	max    *big.Int
}

// NewRandomGenerator returns a generator drawing uniformly from [0, 10^digits)
// using crypto/rand, zero padded to a fixed width.
func NewRandomGenerator(digits int) CodeGenerator {
	if digits <= 0 || digits > 12 {
		digits = defaultDigits
	}
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	return &randomGenerator{digits: digits, max: max}
}

func (g *randomGenerator) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, g.max)
	if err != nil {
		return "", fmt.Errorf("otp: read random: %w", err)
	}
	return fmt.Sprintf("%0*d", g.digits, n.Int64()), nil
}

// FixedGenerator always returns the same code. It is only wired in development
// and test environments.
type FixedGenerator string

func (g FixedGenerator) Generate() (string, error) {
	if g == "" {
		return DefaultFixedCode, nil
	}
	return string(g), nil
}
