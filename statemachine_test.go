package cbor

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderNestingDepthExceeded(t *testing.T) {
	buf := NewMemoryBuffer()
	e := NewEncoder(buf)
	var write func(depth int) error
	write = func(depth int) error {
		if depth == 0 {
			return e.Int(1)
		}
		return e.Array(1, func(e *Encoder) error { return write(depth - 1) })
	}
	require.NoError(t, write(5))

	view := NewMemoryBuffer()
	view.ResetView(buf.Bytes())
	d := NewDecoder(view, WithDecoderMaxNestingDepth(3))

	var derr error
	for i := 0; i < 6; i++ {
		if _, err := d.ReadStartArray(); err != nil {
			derr = err
			break
		}
	}
	require.Error(t, derr)
	var de *DecodeException
	assert.ErrorAs(t, derr, &de)
	assert.ErrorIs(t, derr, ErrNestingDepthExceeded)
}

func TestEncoderNestingDepthExceeded(t *testing.T) {
	buf := NewMemoryBuffer()
	e := NewEncoder(buf, WithEncoderMaxNestingDepth(2))

	var write func(depth int) error
	write = func(depth int) error {
		if depth == 0 {
			return e.Int(1)
		}
		return e.Array(1, func(e *Encoder) error { return write(depth - 1) })
	}

	err := write(5)
	require.Error(t, err)
	var ee *EncodeError
	assert.ErrorAs(t, err, &ee)
}

func TestDecoderPoisonedAfterMalformedInput(t *testing.T) {
	buf := NewMemoryBuffer()
	buf.ResetView([]byte{breakByte})
	d := NewDecoder(buf)

	_, err := d.PeekState()
	require.Error(t, err)

	_, err2 := d.ReadBoolean()
	require.Error(t, err2)
	assert.ErrorIs(t, err2, ErrDecoderPoisoned)

	buf.ResetView([]byte{0xF5})
	d.Reset()
	got, err := d.ReadBoolean()
	require.NoError(t, err)
	assert.True(t, got)
}

func TestIllegalBreakInsideIndefiniteMapNextValue(t *testing.T) {
	// Map header (indefinite), one key, then an illegal break where a value
	// is expected instead of the next key.
	wire := []byte{0xBF, 0x61, 'a', 0xFF}
	buf := NewMemoryBuffer()
	buf.ResetView(wire)
	d := NewDecoder(buf)

	n, err := d.ReadStartMap()
	require.NoError(t, err)
	assert.Equal(t, -1, n)

	key, err := d.ReadTextString()
	require.NoError(t, err)
	assert.Equal(t, "a", key)

	_, err = d.ReadTextString()
	require.Error(t, err)
	var de *DecodeException
	assert.ErrorAs(t, err, &de)
}

func TestReadEncodedValueMatchesSkip(t *testing.T) {
	buf := NewMemoryBuffer()
	e := NewEncoder(buf)
	require.NoError(t, e.Array(2, func(e *Encoder) error {
		if err := e.Int(1); err != nil {
			return err
		}
		return e.String("x")
	}))
	wire := buf.Bytes()

	viewA := NewMemoryBuffer()
	viewA.ResetView(wire)
	da := NewDecoder(viewA)
	raw, err := da.ReadEncodedValue()
	require.NoError(t, err)
	assert.Equal(t, wire, raw)
	assert.False(t, viewA.CanRead(1))

	viewB := NewMemoryBuffer()
	viewB.ResetView(wire)
	db := NewDecoder(viewB)
	require.NoError(t, db.Skip())
	assert.False(t, viewB.CanRead(1))
}

func TestSkipEquivalentToReadingForScalars(t *testing.T) {
	cases := []func(e *Encoder) error{
		func(e *Encoder) error { return e.Int(-100) },
		func(e *Encoder) error { return e.Uint(1000) },
		func(e *Encoder) error { return e.String("hello world") },
		func(e *Encoder) error { return e.Blob([]byte{1, 2, 3}) },
		func(e *Encoder) error { return e.Boolean(true) },
		func(e *Encoder) error { return e.Null() },
		func(e *Encoder) error { return e.Float(math.Pi) },
		func(e *Encoder) error {
			return e.Tag(32, func(e *Encoder) error { return e.String("t") })
		},
	}
	for i, mk := range cases {
		buf := NewMemoryBuffer()
		e := NewEncoder(buf)
		require.NoError(t, mk(e))
		wire := buf.Bytes()

		view := NewMemoryBuffer()
		view.ResetView(wire)
		d := NewDecoder(view)
		require.NoError(t, d.Skip(), "case %d", i)
		assert.False(t, view.CanRead(1), "case %d: skip must consume entire value", i)
	}
}

func TestBoundaryIntegers(t *testing.T) {
	values := []int64{0, 1, -1, 23, -24, 24, -25, 255, -256, 256, -257,
		65535, -65536, 65536, -65537, 4294967295, -4294967296, 4294967296,
		math.MinInt64, math.MaxInt64}
	for _, v := range values {
		buf := NewMemoryBuffer()
		e := NewEncoder(buf)
		require.NoError(t, e.Int(v))

		view := NewMemoryBuffer()
		view.ResetView(buf.Bytes())
		d := NewDecoder(view)
		got, err := d.ReadInt64()
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestBoundaryFloats(t *testing.T) {
	values := []float64{0, math.Copysign(0, -1), math.Inf(1), math.Inf(-1), math.Pi}
	for _, v := range values {
		buf := NewMemoryBuffer()
		e := NewEncoder(buf)
		require.NoError(t, e.Float(v))

		view := NewMemoryBuffer()
		view.ResetView(buf.Bytes())
		d := NewDecoder(view)
		got, err := d.ReadFloat()
		require.NoError(t, err)
		assert.Equal(t, math.Float64bits(v), math.Float64bits(got))
	}

	// NaN: Float never narrows a NaN (see narrowestFloatWidth), so it is
	// written at full width; the check here is that it reads back as NaN.
	buf := NewMemoryBuffer()
	e := NewEncoder(buf)
	require.NoError(t, e.Float(math.NaN()))
	view := NewMemoryBuffer()
	view.ResetView(buf.Bytes())
	d := NewDecoder(view)
	got, err := d.ReadFloat()
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got))
}

func TestNestedArraysAndTagsTenLevels(t *testing.T) {
	buf := NewMemoryBuffer()
	e := NewEncoder(buf, WithEncoderMaxNestingDepth(32))
	var write func(depth int) error
	write = func(depth int) error {
		if depth == 0 {
			return e.String("leaf")
		}
		return e.Tag(CborTag(depth), func(e *Encoder) error {
			return e.Array(1, func(e *Encoder) error { return write(depth - 1) })
		})
	}
	require.NoError(t, write(10))

	view := NewMemoryBuffer()
	view.ResetView(buf.Bytes())
	d := NewDecoder(view, WithDecoderMaxNestingDepth(32))
	var read func(depth int) error
	read = func(depth int) error {
		if depth == 0 {
			s, err := d.ReadTextString()
			if err != nil {
				return err
			}
			assert.Equal(t, "leaf", s)
			return nil
		}
		tag, err := d.ReadTag()
		if err != nil {
			return err
		}
		assert.Equal(t, CborTag(depth), tag)
		n, err := d.ReadStartArray()
		if err != nil {
			return err
		}
		assert.Equal(t, 1, n)
		if err := read(depth - 1); err != nil {
			return err
		}
		return d.ReadEndArray()
	}
	require.NoError(t, read(10))
}

func TestPayloadRemainingTransitions(t *testing.T) {
	buf := NewMemoryBuffer()
	e := NewEncoder(buf)
	require.NoError(t, e.Array(2, func(e *Encoder) error {
		if err := e.Int(1); err != nil {
			return err
		}
		return e.Int(2)
	}))
	require.NoError(t, e.MapIndefinite(func(e *Encoder) error {
		if err := e.String("k"); err != nil {
			return err
		}
		return e.Int(7)
	}))

	view := NewMemoryBuffer()
	view.ResetView(buf.Bytes())
	d := NewDecoder(view)
	assert.Equal(t, RemainingSequence, d.PayloadRemaining())

	_, err := d.ReadStartArray()
	require.NoError(t, err)
	assert.Equal(t, RemainingCount, d.PayloadRemaining())
	_, err = d.ReadInt64()
	require.NoError(t, err)
	_, err = d.ReadInt64()
	require.NoError(t, err)
	require.NoError(t, d.ReadEndArray())
	assert.Equal(t, RemainingSequence, d.PayloadRemaining())

	_, err = d.ReadStartMap()
	require.NoError(t, err)
	assert.Equal(t, RemainingIndefiniteMapNextKey, d.PayloadRemaining())
	_, err = d.ReadTextString()
	require.NoError(t, err)
	assert.Equal(t, RemainingIndefiniteMapNextValue, d.PayloadRemaining())
	_, err = d.ReadInt64()
	require.NoError(t, err)
	assert.Equal(t, RemainingIndefiniteMapNextKey, d.PayloadRemaining())
	require.NoError(t, d.ReadEndMap())

	// After every successfully completed read, the state is a legal resting
	// state: never RemainingBreak, never RemainingError.
	assert.Equal(t, RemainingSequence, d.PayloadRemaining())
	assert.False(t, view.CanRead(1))
}

func TestFieldProbeGridReportsExactlyTheMapKeys(t *testing.T) {
	buf := NewMemoryBuffer()
	e := NewEncoder(buf)
	require.NoError(t, e.Obj(func(fe *FieldEncoder) error {
		if err := fe.Field(10, func(e *Encoder) error { return e.Int(10) }); err != nil {
			return err
		}
		return fe.Field(15, func(e *Encoder) error { return e.Int(15) })
	}))

	view := NewMemoryBuffer()
	view.ResetView(buf.Bytes())
	d := NewDecoder(view)
	present := map[int32]bool{}
	require.NoError(t, d.Obj(func(fr *FieldReader) error {
		for id := int32(0); id < 20; id++ {
			found, err := fr.Field(id, func(d *Decoder) error {
				_, err := d.ReadInt64()
				return err
			})
			if err != nil {
				return err
			}
			if found {
				present[id] = true
			}
		}
		return nil
	}))
	assert.Equal(t, map[int32]bool{10: true, 15: true}, present)
	assert.False(t, view.CanRead(1))
}

func TestIndefiniteBlobSkipThenReadAcrossChunks(t *testing.T) {
	randomBytes := make([]byte, 37)
	for i := range randomBytes {
		randomBytes[i] = byte(i*31 + 7)
	}

	buf := NewMemoryBuffer()
	e := NewEncoder(buf)
	require.NoError(t, e.BlobIndefinite(func(chunk func([]byte) error) error {
		if err := chunk(make([]byte, 6)); err != nil {
			return err
		}
		if err := chunk(make([]byte, 6)); err != nil {
			return err
		}
		return chunk(randomBytes)
	}))

	view := NewMemoryBuffer()
	view.ResetView(buf.Bytes())
	d := NewDecoder(view)
	require.NoError(t, d.Blob(NoExpectedLength, func(br *BlobReader) error {
		skipped, err := br.ReadSkip(12)
		require.NoError(t, err)
		assert.Equal(t, 12, skipped)
		assert.Equal(t, RemainingBlobChunks, d.PayloadRemaining())

		got := make([]byte, len(randomBytes))
		n, err := br.ReadRaw(got)
		require.NoError(t, err)
		assert.Equal(t, len(randomBytes), n)
		assert.Equal(t, randomBytes, got)
		assert.False(t, br.CanRead(1))
		return nil
	}))
	assert.False(t, view.CanRead(1))
}

func TestBlobExpectedLengthMismatch(t *testing.T) {
	buf := NewMemoryBuffer()
	e := NewEncoder(buf)
	require.NoError(t, e.Blob([]byte{1, 2, 3}))

	view := NewMemoryBuffer()
	view.ResetView(buf.Bytes())
	d := NewDecoder(view)
	err := d.Blob(5, func(br *BlobReader) error {
		_ = br.ReadAllAvailable()
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestHalfFloatCanonicalReencode(t *testing.T) {
	v, err := Unmarshal([]byte{0xF9, 0x52, 0xE0})
	require.NoError(t, err)
	assert.Equal(t, KindFloat, v.Kind)
	assert.Equal(t, 55.0, v.FloatValue)
	assert.Equal(t, 2, v.FloatWidth)

	// A width-0 float of the same value picks the half form on its own.
	data, err := Marshal(NewFloat(55.0))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xF9, 0x52, 0xE0}, data)
}

func TestIndefiniteArrayCanonicalReencode(t *testing.T) {
	v, err := Unmarshal([]byte{0x9F, 0x01, 0x02, 0xFF})
	require.NoError(t, err)
	assert.True(t, Equal(v, NewArray(NewInt(1), NewInt(2))))

	data, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x82, 0x01, 0x02}, data)
}

func TestTaggedScopedReaders(t *testing.T) {
	buf := NewMemoryBuffer()
	e := NewEncoder(buf)
	require.NoError(t, e.Tag(TagURI, func(e *Encoder) error { return e.String("http://x") }))
	wire := buf.Bytes()

	view := NewMemoryBuffer()
	view.ResetView(wire)
	d := NewDecoder(view)
	require.NoError(t, d.Tagged(func(tag CborTag, d *Decoder) error {
		assert.Equal(t, TagURI, tag)
		_, err := d.ReadTextString()
		return err
	}))

	view2 := NewMemoryBuffer()
	view2.ResetView(wire)
	d2 := NewDecoder(view2)
	require.NoError(t, d2.TagExpect(TagURI, func(d *Decoder) error {
		_, err := d.ReadTextString()
		return err
	}))

	view3 := NewMemoryBuffer()
	view3.ResetView(wire)
	d3 := NewDecoder(view3)
	err := d3.TagExpect(TagUnixTime, func(d *Decoder) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTagMismatch)
	_, err = d3.ReadTextString()
	assert.ErrorIs(t, err, ErrDecoderPoisoned)
}

func TestScopedArrayAndMapReaders(t *testing.T) {
	buf := NewMemoryBuffer()
	e := NewEncoder(buf)
	require.NoError(t, e.Array(2, func(e *Encoder) error {
		if err := e.Int(4); err != nil {
			return err
		}
		return e.Int(5)
	}))
	require.NoError(t, e.MapIndefinite(func(e *Encoder) error {
		if err := e.String("n"); err != nil {
			return err
		}
		return e.Int(9)
	}))

	view := NewMemoryBuffer()
	view.ResetView(buf.Bytes())
	d := NewDecoder(view)

	var got []int64
	require.NoError(t, d.Array(func(n int, d *Decoder) error {
		assert.Equal(t, 2, n)
		for i := 0; i < n; i++ {
			v, err := d.ReadInt64()
			if err != nil {
				return err
			}
			got = append(got, v)
		}
		return nil
	}))
	assert.Equal(t, []int64{4, 5}, got)

	require.NoError(t, d.Map(func(n int, d *Decoder) error {
		assert.Equal(t, -1, n)
		for {
			state, err := d.PeekState()
			if err != nil {
				return err
			}
			if state == StateEndMap {
				return nil
			}
			if _, err := d.ReadTextString(); err != nil {
				return err
			}
			if _, err := d.ReadInt64(); err != nil {
				return err
			}
		}
	}))
	assert.False(t, view.CanRead(1))
}

func TestErrorTaxonomyDistinguishesAllThreeKinds(t *testing.T) {
	// DecodeException: malformed input (lone break byte at top level).
	buf := NewMemoryBuffer()
	buf.ResetView([]byte{breakByte})
	d := NewDecoder(buf)
	_, err := d.PeekState()
	var de *DecodeException
	assert.True(t, errors.As(err, &de))

	// EncodeError: wrong value count inside a declared array scope.
	wbuf := NewMemoryBuffer()
	e := NewEncoder(wbuf)
	err = e.Array(2, func(e *Encoder) error { return e.Int(1) })
	var ee *EncodeError
	assert.True(t, errors.As(err, &ee))

	// DecodeError: reusing a poisoned decoder.
	pbuf := NewMemoryBuffer()
	pbuf.ResetView([]byte{0x01})
	pd := NewDecoder(pbuf)
	pbuf2 := NewMemoryBuffer()
	pbuf2.ResetView([]byte{breakByte})
	pd2 := NewDecoder(pbuf2)
	_, _ = pd2.PeekState()
	_, err3 := pd2.ReadInt64()
	var derr *DecodeError
	assert.True(t, errors.As(err3, &derr))
	_ = pd
}
