package cardgen

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// Card numbers carry a 15..19 digit body plus one trailing check digit.
const (
	minPANLen = 16
	maxPANLen = 20

	defaultPANLen = 16
)

// GeneratePAN generates a PAN of totalLen digits (last one is the Luhn check
// digit); sequence, when provided, overrides the tail digits of the body so
// callers can derive part of the number from an account reference.
func GeneratePAN(bin string, totalLen int, sequence string) (string, error) {
	if err := ValidateBIN(bin); err != nil {
		return "", err
	}
	if totalLen == 0 {
		totalLen = defaultPANLen
	}
	if totalLen < minPANLen || totalLen > maxPANLen {
		return "", fmt.Errorf("total length must be %d..%d", minPANLen, maxPANLen)
	}

	fill := totalLen - 1 - len(bin)
	if fill <= 0 {
		return "", fmt.Errorf("bin too long: %s", bin)
	}
	seq := strings.TrimSpace(sequence)
	if seq != "" {
		if !IsDigits(seq) {
			return "", fmt.Errorf("sequence must be numeric")
		}
		if len(seq) > fill {
			seq = seq[len(seq)-fill:]
		}
	}

	digitsPart, err := RandomDigits(fill)
	if err != nil {
		return "", fmt.Errorf("rand: %w", err)
	}
	b := []byte(digitsPart)
	if seq != "" {
		copy(b[fill-len(seq):], seq)
	}

	body := bin + string(b)
	return body + CheckDigit(body), nil
}

// RandomDigits generates count random digits using rejection sampling to
// avoid modulo bias: only bytes < 250 are accepted before reducing mod 10.
func RandomDigits(count int) (string, error) {
	if count <= 0 {
		return "", nil
	}
	const threshold = 250 // 256 - (256 % 10)
	var sb strings.Builder
	sb.Grow(count)
	buf := make([]byte, 64)
	for sb.Len() < count {
		n, err := rand.Read(buf)
		if err != nil {
			return "", err
		}
		for i := 0; i < n && sb.Len() < count; i++ {
			b := buf[i]
			if b < threshold {
				sb.WriteByte('0' + (b % 10))
			}
		}
	}
	return sb.String(), nil
}

// CheckDigit computes the check digit for a card number body: digits are
// weighted 2,1,2,... from the rightmost position, products above 9 are
// reduced by 9, and the digit completes the sum to a multiple of 10.
func CheckDigit(body string) string {
	sum, dbl := 0, true
	for i := len(body) - 1; i >= 0; i-- {
		d := int(body[i] - '0')
		if dbl {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		dbl = !dbl
	}
	cd := (10 - (sum % 10)) % 10
	return string('0' + byte(cd))
}

// ValidatePAN checks length, digits-only and the trailing check digit.
func ValidatePAN(pan string) error {
	if pan == "" {
		return fmt.Errorf("pan is required")
	}
	if !IsDigits(pan) {
		return fmt.Errorf("pan must contain digits only")
	}
	if l := len(pan); l < minPANLen || l > maxPANLen {
		return fmt.Errorf("pan length must be %d..%d digits (got %d)", minPANLen, maxPANLen, l)
	}

	body := pan[:len(pan)-1]
	if pan[len(pan)-1:] != CheckDigit(body) {
		return fmt.Errorf("invalid check digit")
	}
	return nil
}

// ValidateBIN accepts the issuer prefixes the routing table works with.
func ValidateBIN(bin string) error {
	if bin == "" {
		return fmt.Errorf("bin is required")
	}
	if !IsDigits(bin) {
		return fmt.Errorf("bin must contain digits only")
	}
	if l := len(bin); l < 4 || l > 9 {
		return fmt.Errorf("bin must be 4..9 digits")
	}
	return nil
}

func IsDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func LastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// MaskPAN keeps the first 6 and last 4 digits and replaces the rest with
// asterisks. Display only; never compare masked numbers.
func MaskPAN(pan string) string {
	cleaned := NormalizePAN(pan)
	n := len(cleaned)
	if n == 0 {
		return ""
	}
	if n <= 4 {
		return strings.Repeat("*", n)
	}
	if n < 10 {
		return strings.Repeat("*", n-4) + cleaned[n-4:]
	}
	return cleaned[:6] + strings.Repeat("*", n-10) + cleaned[n-4:]
}

// NormalizePAN strips spaces, tabs and dashes.
func NormalizePAN(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-':
			return -1
		default:
			return r
		}
	}, s)
}

// GenerateUniquePAN retries generation until the exists callback reports the
// number as unused (callers typically wire this to their card store).
func GenerateUniquePAN(
	bin string, totalLen int, sequence string, maxRetries int,
	exists func(string) (bool, error),
) (string, error) {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	for i := 0; i <= maxRetries; i++ {
		pan, err := GeneratePAN(bin, totalLen, sequence)
		if err != nil {
			return "", err
		}
		if exists == nil {
			return pan, nil
		}
		used, err := exists(pan)
		if err != nil {
			return "", fmt.Errorf("exists callback: %w", err)
		}
		if !used {
			return pan, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique PAN after %d retries", maxRetries)
}
