package cbor

import (
	"fmt"
	"math"
)

// scopeFrame tracks how many values the callback for the currently open
// writer scope (array or map, definite or indefinite, and tag) has emitted:
// one frame per value-counted scope, not merely one per container.
type scopeFrame struct {
	written int64
}

// EncoderOption configures an Encoder at construction time.
type EncoderOption func(*Encoder)

// WithEncoderMaxNestingDepth caps how deeply array/map/tag/obj scopes may
// nest, guarding against unbounded recursion on a pathological writer
// callback.
func WithEncoderMaxNestingDepth(depth int) EncoderOption {
	return func(e *Encoder) {
		e.maxNestingDepth = depth
	}
}

// Encoder emits CBOR using the shortest header form for every argument. It
// writes through a ByteWriter rather than owning a buffer, and every sized
// scope (array, map, tag, obj field) counts the values its callback writes
// and asserts the exact expected number on exit, while BlobSized checks the
// number of bytes its callback wrote; a mismatch raises an EncodeError.
type Encoder struct {
	w               ByteWriter
	scopes          []scopeFrame
	maxNestingDepth int
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w ByteWriter, opts ...EncoderOption) *Encoder {
	e := &Encoder{
		w:               w,
		scopes:          []scopeFrame{{}},
		maxNestingDepth: 1024,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Encoder) checkDepth() error {
	if len(e.scopes) > e.maxNestingDepth {
		return &EncodeError{Err: ErrNestingDepthExceeded}
	}
	return nil
}

func (e *Encoder) pushScope() { e.scopes = append(e.scopes, scopeFrame{}) }

func (e *Encoder) popScope() int64 {
	n := e.scopes[len(e.scopes)-1].written
	e.scopes = e.scopes[:len(e.scopes)-1]
	return n
}

func (e *Encoder) bump() { e.scopes[len(e.scopes)-1].written++ }

// count reports the number of values written so far in the current scope.
func (e *Encoder) count() int64 { return e.scopes[len(e.scopes)-1].written }

// writeMinimalHeader writes an initial byte and argument using the
// shortest form that can represent value.
func (e *Encoder) writeMinimalHeader(mt MajorType, value uint64) {
	switch {
	case value < 24:
		e.w.WriteRaw([]byte{encodeInitialByte(mt, byte(value))})
	case value <= 0xFF:
		e.w.WriteRaw([]byte{encodeInitialByte(mt, byte(AdditionalInfo8Bit))})
		e.w.WriteRawBE(value, 1)
	case value <= 0xFFFF:
		e.w.WriteRaw([]byte{encodeInitialByte(mt, byte(AdditionalInfo16Bit))})
		e.w.WriteRawBE(value, 2)
	case value <= 0xFFFFFFFF:
		e.w.WriteRaw([]byte{encodeInitialByte(mt, byte(AdditionalInfo32Bit))})
		e.w.WriteRawBE(value, 4)
	default:
		e.w.WriteRaw([]byte{encodeInitialByte(mt, byte(AdditionalInfo64Bit))})
		e.w.WriteRawBE(value, 8)
	}
}

// Int writes a signed integer as major type 0 (non-negative) or 1 (negative).
func (e *Encoder) Int(v int64) error {
	if v >= 0 {
		e.writeMinimalHeader(MajorTypeUnsignedInteger, uint64(v))
	} else {
		e.writeMinimalHeader(MajorTypeNegativeInteger, uint64(-1-v))
	}
	e.bump()
	return nil
}

// Uint writes an unsigned integer as major type 0.
func (e *Encoder) Uint(v uint64) error {
	e.writeMinimalHeader(MajorTypeUnsignedInteger, v)
	e.bump()
	return nil
}

// Boolean writes a boolean simple value.
func (e *Encoder) Boolean(v bool) error {
	minor := simpleValueFalse
	if v {
		minor = simpleValueTrue
	}
	e.w.WriteRaw([]byte{encodeInitialByte(MajorTypeSimpleOrFloat, minor)})
	e.bump()
	return nil
}

// Null writes the null simple value.
func (e *Encoder) Null() error {
	e.w.WriteRaw([]byte{encodeInitialByte(MajorTypeSimpleOrFloat, simpleValueNull)})
	e.bump()
	return nil
}

// Undefined writes the undefined simple value.
func (e *Encoder) Undefined() error {
	e.w.WriteRaw([]byte{encodeInitialByte(MajorTypeSimpleOrFloat, simpleValueUndefined)})
	e.bump()
	return nil
}

// Float16 writes value as an IEEE 754 half-precision float.
func (e *Encoder) Float16(value float32) error {
	bits := float32ToFloat16Bits(value)
	e.w.WriteRaw([]byte{encodeInitialByte(MajorTypeSimpleOrFloat, byte(AdditionalInfo16Bit))})
	e.w.WriteRawBE(uint64(bits), 2)
	e.bump()
	return nil
}

// Float32 writes value as an IEEE 754 single-precision float.
func (e *Encoder) Float32(value float32) error {
	bits := uint64(math.Float32bits(value))
	e.w.WriteRaw([]byte{encodeInitialByte(MajorTypeSimpleOrFloat, byte(AdditionalInfo32Bit))})
	e.w.WriteRawBE(bits, 4)
	e.bump()
	return nil
}

// Float64 writes value as an IEEE 754 double-precision float.
func (e *Encoder) Float64(value float64) error {
	bits := math.Float64bits(value)
	e.w.WriteRaw([]byte{encodeInitialByte(MajorTypeSimpleOrFloat, byte(AdditionalInfo64Bit))})
	e.w.WriteRawBE(bits, 8)
	e.bump()
	return nil
}

// Float writes value using the narrowest IEEE 754 width that round-trips
// it exactly.
func (e *Encoder) Float(value float64) error {
	switch narrowestFloatWidth(value) {
	case 2:
		return e.Float16(float32(value))
	case 4:
		return e.Float32(float32(value))
	default:
		return e.Float64(value)
	}
}

// Blob writes p as a single definite-length byte string.
func (e *Encoder) Blob(p []byte) error {
	e.writeMinimalHeader(MajorTypeByteString, uint64(len(p)))
	e.w.WriteRaw(p)
	e.bump()
	return nil
}

// String writes s as a definite-length UTF-8 text string.
func (e *Encoder) String(s string) error {
	e.writeMinimalHeader(MajorTypeTextString, uint64(len(s)))
	e.w.WriteRaw([]byte(s))
	e.bump()
	return nil
}

// BlobSized writes a definite-length byte string header declaring size,
// then runs fn with the underlying writer; fn must write exactly size
// bytes through it.
func (e *Encoder) BlobSized(size int, fn func(w ByteWriter) error) error {
	e.writeMinimalHeader(MajorTypeByteString, uint64(size))
	before := e.w.TotalWritten()
	if err := fn(e.w); err != nil {
		return err
	}
	if e.w.TotalWritten()-before != int64(size) {
		return &EncodeError{Err: ErrDeclaredSizeMismatch, Message: "blob scope"}
	}
	e.bump()
	return nil
}

// BlobIndefinite writes an indefinite-length byte string; each invocation
// of the chunk function passed to fn emits one definite-length chunk.
func (e *Encoder) BlobIndefinite(fn func(chunk func([]byte) error) error) error {
	if err := e.checkDepth(); err != nil {
		return err
	}
	e.w.WriteRaw([]byte{encodeInitialByte(MajorTypeByteString, byte(AdditionalInfoIndefiniteLength))})
	err := fn(func(p []byte) error {
		e.writeMinimalHeader(MajorTypeByteString, uint64(len(p)))
		e.w.WriteRaw(p)
		return nil
	})
	if err != nil {
		return err
	}
	e.w.WriteRaw([]byte{breakByte})
	e.bump()
	return nil
}

// StringIndefinite is the text-string analogue of BlobIndefinite.
func (e *Encoder) StringIndefinite(fn func(chunk func(string) error) error) error {
	if err := e.checkDepth(); err != nil {
		return err
	}
	e.w.WriteRaw([]byte{encodeInitialByte(MajorTypeTextString, byte(AdditionalInfoIndefiniteLength))})
	err := fn(func(s string) error {
		e.writeMinimalHeader(MajorTypeTextString, uint64(len(s)))
		e.w.WriteRaw([]byte(s))
		return nil
	})
	if err != nil {
		return err
	}
	e.w.WriteRaw([]byte{breakByte})
	e.bump()
	return nil
}

// Tag writes a semantic tag number followed by exactly one tagged value,
// written by fn.
func (e *Encoder) Tag(tag CborTag, fn func(*Encoder) error) error {
	if err := e.checkDepth(); err != nil {
		return err
	}
	e.writeMinimalHeader(MajorTypeTag, uint64(tag))
	e.pushScope()
	err := fn(e)
	got := e.popScope()
	if err != nil {
		return err
	}
	if got != 1 {
		return &EncodeError{Err: ErrWrongValueCount, Message: "tag(...) must write exactly one value"}
	}
	e.bump()
	return nil
}

// Array writes a definite-length array declaring n items; fn must write
// exactly n values.
func (e *Encoder) Array(n int, fn func(*Encoder) error) error {
	if err := e.checkDepth(); err != nil {
		return err
	}
	e.writeMinimalHeader(MajorTypeArray, uint64(n))
	e.pushScope()
	err := fn(e)
	got := e.popScope()
	if err != nil {
		return err
	}
	if got != int64(n) {
		return &EncodeError{Err: ErrWrongValueCount, Message: fmt.Sprintf("array(%d) callback wrote %d values", n, got)}
	}
	e.bump()
	return nil
}

// ArrayIndefinite writes an indefinite-length array; fn may write any
// number of values before returning.
func (e *Encoder) ArrayIndefinite(fn func(*Encoder) error) error {
	if err := e.checkDepth(); err != nil {
		return err
	}
	e.w.WriteRaw([]byte{encodeInitialByte(MajorTypeArray, byte(AdditionalInfoIndefiniteLength))})
	e.pushScope()
	err := fn(e)
	e.popScope()
	if err != nil {
		return err
	}
	e.w.WriteRaw([]byte{breakByte})
	e.bump()
	return nil
}

// Map writes a definite-length map declaring n pairs; fn must write
// exactly 2n values, alternating key then value.
func (e *Encoder) Map(n int, fn func(*Encoder) error) error {
	if err := e.checkDepth(); err != nil {
		return err
	}
	e.writeMinimalHeader(MajorTypeMap, uint64(n))
	e.pushScope()
	err := fn(e)
	got := e.popScope()
	if err != nil {
		return err
	}
	if got != int64(2*n) {
		return &EncodeError{Err: ErrWrongValueCount, Message: fmt.Sprintf("map(%d) callback wrote %d values", n, got)}
	}
	e.bump()
	return nil
}

// MapIndefinite writes an indefinite-length map; fn must write an even
// number of values.
func (e *Encoder) MapIndefinite(fn func(*Encoder) error) error {
	if err := e.checkDepth(); err != nil {
		return err
	}
	e.w.WriteRaw([]byte{encodeInitialByte(MajorTypeMap, byte(AdditionalInfoIndefiniteLength))})
	e.pushScope()
	err := fn(e)
	got := e.popScope()
	if err != nil {
		return err
	}
	if got%2 != 0 {
		return &EncodeError{Err: ErrOddMapItemCount}
	}
	e.w.WriteRaw([]byte{breakByte})
	e.bump()
	return nil
}

// FieldEncoder is the capability Obj/ImplicitObj hand to their callback for
// writing strictly-increasing integer field ids.
type FieldEncoder struct {
	e           *Encoder
	hasField    bool
	lastFieldID int32
	fieldCount  int
}

// Field writes field id followed by exactly one value written by fn. id
// must be strictly greater than every id previously written through this
// FieldEncoder.
func (fe *FieldEncoder) Field(id int32, fn func(*Encoder) error) error {
	if fe.hasField && id <= fe.lastFieldID {
		return &EncodeError{Err: ErrNonMonotonicFieldID}
	}
	if err := fe.e.Int(int64(id)); err != nil {
		return err
	}
	before := fe.e.count()
	if err := fn(fe.e); err != nil {
		return err
	}
	if got := fe.e.count() - before; got != 1 {
		return &EncodeError{Err: ErrWrongValueCount, Message: fmt.Sprintf("field(%d) callback wrote %d values", id, got)}
	}
	fe.lastFieldID = id
	fe.hasField = true
	fe.fieldCount++
	return nil
}

// Obj writes a definite-length map whose keys are integer field ids,
// collected from fn via the FieldEncoder it receives. The field count
// isn't known until fn returns, so the map body is built in a scratch
// buffer and copied once the header can be written.
func (e *Encoder) Obj(fn func(*FieldEncoder) error) error {
	if err := e.checkDepth(); err != nil {
		return err
	}
	scratch := NewMemoryBuffer()
	inner := NewEncoder(scratch, WithEncoderMaxNestingDepth(e.maxNestingDepth-len(e.scopes)))
	fe := &FieldEncoder{e: inner, lastFieldID: -1}
	if err := fn(fe); err != nil {
		return err
	}
	e.writeMinimalHeader(MajorTypeMap, uint64(fe.fieldCount))
	e.w.WriteRaw(scratch.Bytes())
	e.bump()
	return nil
}

// ImplicitObj writes field id/value pairs directly into the enclosing
// scope with no map header of its own, for embedding a set of fields into
// an already-open map or sequence. fn must write an even number of values.
func (e *Encoder) ImplicitObj(fn func(*FieldEncoder) error) error {
	fe := &FieldEncoder{e: e, lastFieldID: -1}
	before := e.count()
	if err := fn(fe); err != nil {
		return err
	}
	if (e.count()-before)%2 != 0 {
		return &EncodeError{Err: ErrOddMapItemCount}
	}
	return nil
}

// Value writes v, recursing into its children as needed.
func (e *Encoder) Value(v CborValue) error {
	switch v.Kind {
	case KindInt:
		return e.Int(v.Int)
	case KindFloat:
		switch v.FloatWidth {
		case 2:
			return e.Float16(float32(v.FloatValue))
		case 4:
			return e.Float32(float32(v.FloatValue))
		case 8:
			return e.Float64(v.FloatValue)
		default:
			return e.Float(v.FloatValue)
		}
	case KindText:
		return e.String(v.Text)
	case KindBlob:
		return e.Blob(v.Blob)
	case KindArray:
		items := v.Array
		return e.Array(len(items), func(inner *Encoder) error {
			for _, item := range items {
				if err := inner.Value(item); err != nil {
					return err
				}
			}
			return nil
		})
	case KindMap:
		entries := v.Map
		return e.Map(len(entries), func(inner *Encoder) error {
			for _, entry := range entries {
				if err := inner.Value(entry.Key); err != nil {
					return err
				}
				if err := inner.Value(entry.Value); err != nil {
					return err
				}
			}
			return nil
		})
	case KindTag:
		inner := v.TagValue
		return e.Tag(CborTag(v.TagNumber), func(enc *Encoder) error {
			return enc.Value(*inner)
		})
	case KindFalse:
		return e.Boolean(false)
	case KindTrue:
		return e.Boolean(true)
	case KindNull:
		return e.Null()
	case KindUndefined:
		return e.Undefined()
	default:
		return &EncodeError{Err: ErrInvalidCbor, Message: "unknown CborValue kind"}
	}
}
