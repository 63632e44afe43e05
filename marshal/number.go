package marshal

import (
	"errors"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// number is a parsed runtime numeric literal. Integral literals keep their
// exact 64-bit value.
type number struct {
	f     float64
	i     int64
	exact bool
}

// parseNumber parses s with the runtime's numeric literal grammar: decimal
// integers and floats, hexadecimal integers, and hexadecimal floats with a
// binary exponent. Surrounding whitespace is allowed.
func parseNumber(s string) (number, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsRune(s, '_') {
		return number{}, false
	}
	body := s
	neg := false
	if body[0] == '-' || body[0] == '+' {
		neg = body[0] == '-'
		body = body[1:]
	}
	if len(body) > 2 && body[0] == '0' && (body[1] == 'x' || body[1] == 'X') {
		digits := body[2:]
		if !strings.ContainsAny(digits, ".pP") {
			u, err := strconv.ParseUint(digits, 16, 64)
			if err != nil && !errors.Is(err, strconv.ErrRange) {
				return number{}, false
			}
			if err != nil {
				// Hex integers wrap around modulo 2^64.
				b, ok := new(big.Int).SetString(digits, 16)
				if !ok {
					return number{}, false
				}
				u = b.Uint64()
			}
			i := int64(u)
			if neg {
				i = -i
			}
			return number{f: float64(i), i: i, exact: true}, true
		}
		if !strings.ContainsAny(digits, "pP") {
			// Go requires a binary exponent on hex floats.
			s += "p0"
		}
	} else {
		for _, c := range body {
			if !strings.ContainsRune("0123456789.eE+-", c) {
				return number{}, false
			}
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return number{f: float64(i), i: i, exact: true}, true
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return number{}, false
	}
	return number{f: f}, true
}

// wrapFloat converts an integral float to int64 with two's-complement
// wraparound outside the int64 range.
func wrapFloat(f float64) int64 {
	if f >= -(1<<63) && f < 1<<63 {
		return int64(f)
	}
	b, _ := new(big.Float).SetFloat64(f).Int(nil)
	return int64(new(big.Int).And(b, maxUint64).Uint64())
}

var maxUint64 = new(big.Int).SetUint64(math.MaxUint64)

func isIntegral(f float64) bool {
	return !math.IsInf(f, 0) && f == math.Trunc(f)
}

// exactInRuntime reports whether a float64 represents n without rounding.
func exactInRuntime(n int64) bool {
	return n >= -(1<<53) && n <= 1<<53
}
