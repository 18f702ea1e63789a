package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// OrderCodeLength is the length of the random token after the prefix.
const OrderCodeLength = 8

// codeAlphabet omits 0/O and 1/I/L so codes survive being typed into a bank transfer memo.
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// OrderCodes generates and recognizes reservation codes for one prefix.
type OrderCodes struct {
	prefix  string
	pattern *regexp.Regexp
}

func NewOrderCodes(prefix string) *OrderCodes {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	// Banks mangle memos: the token may be glued to the prefix, or separated by a dash or space.
	pattern := regexp.MustCompile(fmt.Sprintf(`(?:^|[^0-9A-Z])%s[-\s]?([0-9A-Z]{%d})(?:$|[^0-9A-Z])`,
		regexp.QuoteMeta(prefix), OrderCodeLength))
	return &OrderCodes{prefix: prefix, pattern: pattern}
}

func (c *OrderCodes) Prefix() string { return c.prefix }

// Generate returns prefix + OrderCodeLength random characters.
func (c *OrderCodes) Generate() (string, error) {
	var b strings.Builder
	b.Grow(len(c.prefix) + OrderCodeLength)
	b.WriteString(c.prefix)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < OrderCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate order code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// Extract finds the first order code in a free-text transfer description and returns it in
// canonical form (prefix + token, no separator).
func (c *OrderCodes) Extract(content string) (string, bool) {
	m := c.pattern.FindStringSubmatch(strings.ToUpper(content))
	if m == nil {
		return "", false
	}
	return c.prefix + m[1], true
}

// Normalize canonicalizes a code typed by a person ("dh-abcd2345" -> "DHABCD2345").
func (c *OrderCodes) Normalize(code string) string {
	if extracted, ok := c.Extract(code); ok {
		return extracted
	}
	return strings.ToUpper(strings.TrimSpace(code))
}
