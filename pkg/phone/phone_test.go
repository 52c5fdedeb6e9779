package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToInternational(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "081234567890", want: "6281234567890"},
		{in: "6281234567890", want: "6281234567890"},
		{in: "+62 812-3456-7890", want: "6281234567890"},
		{in: "81234567890", want: "6281234567890"},
		{in: "", want: ""},
		{in: "abc", want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ToInternational(tt.in), "input %q", tt.in)
	}
}

func TestToLocal(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "6281234567890", want: "081234567890"},
		{in: "081234567890", want: "081234567890"},
		{in: "81234567890", want: "081234567890"},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ToLocal(tt.in), "input %q", tt.in)
	}
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("081234567890"))
	assert.True(t, IsValid("6281234567890"))
	assert.False(t, IsValid(""))
	assert.False(t, IsValid("0812"))
	assert.False(t, IsValid("62812345678901234567"))
}

func TestJID(t *testing.T) {
	assert.Equal(t, "6281234567890@s.whatsapp.net", JID("081234567890"))
	assert.Equal(t, "", JID("0812"))
}

func TestBareNumber(t *testing.T) {
	assert.Equal(t, "6281234567890", BareNumber("6281234567890@s.whatsapp.net"))
	assert.Equal(t, "6281234567890", BareNumber("+6281234567890"))
	assert.Equal(t, "", BareNumber(""))
}
