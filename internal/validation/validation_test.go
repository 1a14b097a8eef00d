package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatorAccumulates(t *testing.T) {
	v := NewValidator()
	assert.False(t, v.HasErrors())

	v.Required("name", "  ")
	v.IntBetween("confidence", 150, 0, 100)
	v.OneOf("direction", "SIDEWAYS", "UP", "DOWN", "FLAT")

	assert.True(t, v.HasErrors())
	assert.Len(t, v.Errors(), 3)
}

func TestRequired(t *testing.T) {
	v := NewValidator()
	v.Required("ok", "value")
	v.Required("padded", "  value  ")
	assert.False(t, v.HasErrors())

	v.Required("empty", "")
	v.Required("blank", "   ")
	assert.Len(t, v.Errors(), 2)
}

func TestLengthBetween(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		min     int
		max     int
		wantErr bool
	}{
		{"in range", "hello", 1, 10, false},
		{"at min", "a", 1, 10, false},
		{"at max", "0123456789", 1, 10, false},
		{"too short after trim", "   ", 1, 10, true},
		{"too long", "01234567890", 1, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator()
			v.LengthBetween("field", tt.value, tt.min, tt.max)
			assert.Equal(t, tt.wantErr, v.HasErrors())
		})
	}
}

func TestIntBetween(t *testing.T) {
	v := NewValidator()
	v.IntBetween("ok", 50, 0, 100)
	v.IntBetween("min", 0, 0, 100)
	v.IntBetween("max", 100, 0, 100)
	assert.False(t, v.HasErrors())

	v.IntBetween("under", -1, 0, 100)
	v.IntBetween("over", 101, 0, 100)
	assert.Len(t, v.Errors(), 2)
}

func TestValidationErrorsMessage(t *testing.T) {
	var empty ValidationErrors
	assert.Equal(t, "", empty.Error())

	one := ValidationErrors{{Field: "name", Message: "is required"}}
	assert.Equal(t, "name: is required", one.Error())

	two := ValidationErrors{
		{Field: "name", Message: "is required"},
		{Field: "confidence", Message: "must be between 0 and 100"},
	}
	assert.Contains(t, two.Error(), "validation errors: ")
	assert.Contains(t, two.Error(), "name: is required")
}
