package validation

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 100, "hello"},
		{"  hello  ", 100, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 100, "helloworld"},
		{"", 100, ""},
		{"  keep  ", 0, "keep"},
		{"café", 4, "caf"},
		{"日本語", 4, "日"},
		{"日本語", 6, "日本"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, SanitizeString(tc.input, tc.maxLen), "SanitizeString(%q, %d)", tc.input, tc.maxLen)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	assert.Equal(t, "validation failed", ValidationErrors{}.Error())

	errs := ValidationErrors{
		{Field: "name", Message: "is required"},
		{Field: "threshold", Message: "must be >= 0"},
	}
	assert.Equal(t, "name: is required", errs.Error())
}

type sample struct {
	Name   string  `validate:"required,max=10"`
	Kind   string  `validate:"oneof=A B"`
	Score  float64 `validate:"gte=0,lte=100"`
	Window string  `validate:"testwindow"`
}

func TestStruct(t *testing.T) {
	require.NoError(t, RegisterPattern("testwindow", regexp.MustCompile(`^\d+[mhd]$`)))

	assert.NoError(t, Struct(sample{Name: "ok", Kind: "A", Score: 50, Window: "5m"}))
	assert.NoError(t, Struct(sample{Name: "ok", Kind: "B", Score: 0}), "empty window passes the pattern")

	err := Struct(sample{Name: "", Kind: "C", Score: 101, Window: "5 minutes"})
	require.Error(t, err)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.Len(t, verrs, 4)

	byField := map[string]string{}
	for _, v := range verrs {
		byField[v.Field] = v.Message
	}
	assert.Equal(t, "is required", byField["Name"])
	assert.Equal(t, "must be one of: A B", byField["Kind"])
	assert.Equal(t, "must be <= 100", byField["Score"])
	assert.Equal(t, "failed testwindow check", byField["Window"])
}
