package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMobileHelpers(t *testing.T) {
	tests := []struct {
		in     string
		norm   string
		valid  bool
		masked string
	}{
		{in: "12345678910", norm: "12345678910", valid: true, masked: "123****8910"},
		{in: " 123-4567-8910 ", norm: "12345678910", valid: true, masked: "123****8910"},
		{in: "+8612345678910", norm: "+8612345678910", valid: true, masked: "+86*******8910"},
		{in: "12345", norm: "12345", valid: false, masked: "*****"},
		{in: "1234abc8910", norm: "1234abc8910", valid: false, masked: "123****8910"},
		{in: "", norm: "", valid: false, masked: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			norm := NormalizeMobile(tt.in)
			assert.Equal(t, tt.norm, norm)
			assert.Equal(t, tt.valid, IsValidMobile(norm))
			assert.Equal(t, tt.masked, MaskMobile(norm))
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "&lt;b&gt;bob&lt;/b&gt;", SanitizeInput("  <b>bob</b> "))
	assert.True(t, ContainsSuspicious("<script>alert(1)</script>"))
	assert.False(t, ContainsSuspicious("Alice Chen"))
}
