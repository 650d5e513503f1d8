package cbor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCborValueEqualNaNAndSignedZero(t *testing.T) {
	nan1 := CborValue{Kind: KindFloat, FloatValue: math.NaN()}
	nan2 := CborValue{Kind: KindFloat, FloatValue: math.NaN()}
	assert.True(t, Equal(nan1, nan2), "bit-identical NaN must compare equal")

	posZero := CborValue{Kind: KindFloat, FloatValue: 0.0}
	negZero := CborValue{Kind: KindFloat, FloatValue: math.Copysign(0, -1)}
	assert.False(t, Equal(posZero, negZero), "+0 and -0 differ in bit pattern and must not compare equal")
}

func TestCborValueEqualStructural(t *testing.T) {
	a := NewArray(NewInt(1), NewText("x"), NewMap(MapEntry{Key: NewInt(1), Value: Bool(true)}))
	b := NewArray(NewInt(1), NewText("x"), NewMap(MapEntry{Key: NewInt(1), Value: Bool(true)}))
	assert.True(t, Equal(a, b))

	c := NewArray(NewInt(1), NewText("y"))
	assert.False(t, Equal(a, c))

	assert.True(t, Equal(NewTag(32, NewText("u")), NewTag(32, NewText("u"))))
	assert.False(t, Equal(NewTag(32, NewText("u")), NewTag(33, NewText("u"))))
}

func TestCborValueIsValid(t *testing.T) {
	assert.True(t, NewArray(NewInt(1), NewText("ok")).IsValid())
	assert.True(t, Null().IsValid())
	assert.True(t, Undefined().IsValid())

	invalidText := CborValue{Kind: KindText, Text: string([]byte{0xFF, 0xFE})}
	assert.False(t, invalidText.IsValid())
	assert.False(t, NewArray(invalidText).IsValid())
	assert.False(t, NewTag(0, invalidText).IsValid())
}

func TestCborValueDiagnosticNotation(t *testing.T) {
	tests := []struct {
		name string
		v    CborValue
		want string
	}{
		{"int", NewInt(0), "0"},
		{"negative_int", NewInt(-1), "-1"},
		{"false", Bool(false), "false"},
		{"true", Bool(true), "true"},
		{"null", Null(), "null"},
		{"undefined", Undefined(), "undefined"},
		{"blob", NewBlob([]byte{0x01, 0x02, 0x03, 0x04}), "h'01020304'"},
		{"empty_array", NewArray(), "[]"},
		{"array", NewArray(NewInt(1), NewInt(2), NewInt(3)), "[1, 2, 3]"},
		{"map", NewMap(MapEntry{Key: NewInt(1), Value: NewInt(2)}, MapEntry{Key: NewInt(3), Value: NewInt(4)}), "{1: 2, 3: 4}"},
		{"tag", NewTag(32, NewText("http://example.com")), `32("http://example.com")`},
		{"text_escaped", NewText("\"\\"), `"\"\\"`},
		{"text_control_char", NewText("a\x01b"), `"a\u0001b"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.v.String())
		})
	}
}

func TestCborValueFloatDiagnosticRoundTrips(t *testing.T) {
	v := NewFloat(1.1)
	assert.Equal(t, "1.1", v.String())
}
