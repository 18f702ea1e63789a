package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderCodes_Generate(t *testing.T) {
	codes := NewOrderCodes("dh")
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		code, err := codes.Generate()
		require.NoError(t, err)
		require.Len(t, code, 2+OrderCodeLength)
		assert.True(t, strings.HasPrefix(code, "DH"))
		assert.False(t, strings.ContainsAny(code[2:], "01OIL"), code)
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 190)
}

func TestOrderCodes_Extract(t *testing.T) {
	codes := NewOrderCodes("DH")

	cases := []struct {
		name    string
		content string
		want    string
		ok      bool
	}{
		{"bare", "DHABCD2345", "DHABCD2345", true},
		{"embedded", "MBVCB.123456.chuyen tien DHABCD2345 thanh toan", "DHABCD2345", true},
		{"lowercase", "thanh toan dhabcd2345", "DHABCD2345", true},
		{"dash", "payment DH-ABCD2345.", "DHABCD2345", true},
		{"space", "payment DH ABCD2345", "DHABCD2345", true},
		{"too short", "DHABC234", "", false},
		{"too long", "DHABCD23456", "", false},
		{"glued to word", "XDHABCD2345", "", false},
		{"missing", "hello world", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := codes.Extract(tc.content)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestOrderCodes_GeneratedCodeIsExtractable(t *testing.T) {
	codes := NewOrderCodes("DH")
	code, err := codes.Generate()
	require.NoError(t, err)

	got, ok := codes.Extract("CK " + strings.ToLower(code) + " tks")
	require.True(t, ok)
	assert.Equal(t, code, got)
	assert.Equal(t, code, codes.Normalize(" "+code[:2]+"-"+code[2:]))
}
