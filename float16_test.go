package cbor

import (
	"math"
	"testing"
)

func TestFloat16BitsToFloat32(t *testing.T) {
	tests := []struct {
		name string
		bits uint16
		want float32
	}{
		{"positive_zero", 0x0000, 0.0},
		{"one", 0x3C00, 1.0},
		{"one_point_five", 0x3E00, 1.5},
		{"fifty_five", 0x52E0, 55.0},
		{"max_half", 0x7BFF, 65504.0},
		{"smallest_subnormal", 0x0001, 0x1p-24},
		{"largest_subnormal", 0x03FF, 0x1.FF8p-15},
		{"smallest_normal", 0x0400, 0x1p-14},
		{"pos_inf", 0x7C00, float32(math.Inf(1))},
		{"neg_inf", 0xFC00, float32(math.Inf(-1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := float16BitsToFloat32(tt.bits)
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("negative_zero", func(t *testing.T) {
		got := float16BitsToFloat32(0x8000)
		if got != 0 || math.Signbit(float64(got)) != true {
			t.Errorf("got %v, want -0", got)
		}
	})

	t.Run("nan_payload_preserved", func(t *testing.T) {
		got := float16BitsToFloat32(0x7E01)
		bits := math.Float32bits(got)
		if !math.IsNaN(float64(got)) {
			t.Fatalf("got %v, want NaN", got)
		}
		if bits&0x7FFFFF != (0x201 << 13) {
			t.Errorf("payload not preserved: got mantissa %#x", bits&0x7FFFFF)
		}
	})
}

func TestFloat32ToFloat16Bits(t *testing.T) {
	tests := []struct {
		name  string
		value float32
		want  uint16
	}{
		{"positive_zero", 0.0, 0x0000},
		{"one", 1.0, 0x3C00},
		{"fifty_five", 55.0, 0x52E0},
		{"pi_truncates_to_half_pi", float32(math.Pi), 0x4248},
		{"max_half", 65504.0, 0x7BFF},
		{"overflow_to_inf", 65536.0, 0x7C00},
		{"rounds_up_to_inf", 65520.0, 0x7C00},
		{"pos_inf", float32(math.Inf(1)), 0x7C00},
		{"neg_inf", float32(math.Inf(-1)), 0xFC00},
		{"smallest_subnormal", 0x1p-24, 0x0001},
		{"largest_subnormal", 0x1.FF8p-15, 0x03FF},
		{"below_half_ulp_to_zero", 0x1p-26, 0x0000},
		{"half_ulp_ties_to_even_zero", 0x1p-25, 0x0000},
		{"above_half_ulp_rounds_up", 0x1.8p-25, 0x0001},
		{"tie_to_even_stays", 1.0 + 0x1p-11, 0x3C00},
		{"above_tie_rounds_up", 1.0 + 0x1.8p-11, 0x3C01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := float32ToFloat16Bits(tt.value)
			if got != tt.want {
				t.Errorf("got %#04x, want %#04x", got, tt.want)
			}
		})
	}

	t.Run("negative_zero", func(t *testing.T) {
		if got := float32ToFloat16Bits(float32(math.Copysign(0, -1))); got != 0x8000 {
			t.Errorf("got %#04x, want 0x8000", got)
		}
	})

	t.Run("quiet_nan", func(t *testing.T) {
		got := float32ToFloat16Bits(float32(math.NaN()))
		if got&0x7C00 != 0x7C00 || got&0x03FF == 0 {
			t.Errorf("got %#04x, want a NaN pattern with nonzero mantissa", got)
		}
	})

	t.Run("low_payload_nan_stays_nan", func(t *testing.T) {
		// A NaN whose payload sits entirely in the 13 bits the narrowing
		// discards must not collapse to the infinity pattern.
		got := float32ToFloat16Bits(math.Float32frombits(0x7F800001))
		if got&0x7C00 != 0x7C00 || got&0x03FF == 0 {
			t.Errorf("got %#04x, want a NaN pattern with nonzero mantissa", got)
		}
	})
}

func TestFloat16RoundTripExactForAllFinitePatterns(t *testing.T) {
	for bits := uint32(0); bits <= 0xFFFF; bits++ {
		b := uint16(bits)
		if b&0x7C00 == 0x7C00 && b&0x03FF != 0 {
			continue // NaN payloads round-trip by value class, not bit pattern
		}
		back := float32ToFloat16Bits(float16BitsToFloat32(b))
		if back != b {
			t.Fatalf("bits %#04x round-tripped to %#04x", b, back)
		}
	}
}

func TestNarrowestFloatWidth(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		want  int
	}{
		{"zero", 0, 2},
		{"one", 1, 2},
		{"max_half", 65504, 2},
		{"needs_single", 65536, 4},
		{"pi32", float64(float32(math.Pi)), 4},
		{"pi64", math.Pi, 8},
		{"nan_never_narrows", math.NaN(), 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := narrowestFloatWidth(tt.value); got != tt.want {
				t.Errorf("narrowestFloatWidth(%v) = %d, want %d", tt.value, got, tt.want)
			}
		})
	}
}
