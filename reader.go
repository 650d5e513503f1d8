package cbor

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithDecoderMaxNestingDepth sets the maximum container nesting depth.
func WithDecoderMaxNestingDepth(depth int) DecoderOption {
	return func(d *Decoder) {
		d.maxNestingDepth = depth
	}
}

// Decoder reads CBOR-encoded data from a ByteReader, tracking container
// nesting through the ByteReader capability rather than direct slice
// indexing, so the same decoder logic works over an in-memory buffer or a
// pull-streamed source.
//
// A Decoder that returns an error from a malformed or truncated stream is
// poisoned: every subsequent call returns ErrDecoderPoisoned until Reset.
type Decoder struct {
	r               ByteReader
	pos             int64
	nestingStack    []readerNestingInfo
	maxNestingDepth int
	cachedState     CborReaderState
	stateComputed   bool
	poisoned        error
	blobScratch     BlobReader
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r ByteReader, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		r:               r,
		nestingStack:    make([]readerNestingInfo, 0, 16),
		maxNestingDepth: 1024,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Reset clears all decoder-level state (nesting, cached state, poison) but
// does not rewind the underlying ByteReader; callers reading from a
// MemoryBuffer typically pair this with MemoryBuffer.ResetView.
func (d *Decoder) Reset() {
	d.pos = 0
	d.nestingStack = d.nestingStack[:0]
	d.cachedState = StateUndefined
	d.stateComputed = false
	d.poisoned = nil
	d.blobScratch = BlobReader{}
}

// ResetReader points the decoder at a new ByteReader and resets its state.
func (d *Decoder) ResetReader(r ByteReader) {
	d.r = r
	d.Reset()
}

// BytesRemaining is a best-effort hint of how many bytes are immediately
// available from the underlying ByteReader.
func (d *Decoder) BytesRemaining() int {
	return d.r.SuggestAvailable()
}

// CurrentOffset returns the number of bytes consumed so far.
func (d *Decoder) CurrentOffset() int64 {
	return d.pos
}

// NestingDepth returns the current container nesting depth.
func (d *Decoder) NestingDepth() int {
	return len(d.nestingStack)
}

// PayloadRemaining reports the sentinel state of whatever container or
// chunked byte/text string context the decoder currently sits inside,
// RemainingSequence at the top level. After any read operation that
// completes without error, this is never RemainingBreak.
func (d *Decoder) PayloadRemaining() PayloadRemaining {
	if d.poisoned != nil {
		return RemainingError
	}
	if n := len(d.nestingStack); n > 0 {
		return d.nestingStack[n-1].remaining
	}
	return RemainingSequence
}

func (d *Decoder) fail(err error) error {
	if d.poisoned == nil {
		d.poisoned = err
	}
	return err
}

func (d *Decoder) poisonedErr() error {
	return &DecodeError{Err: ErrDecoderPoisoned}
}

func (d *Decoder) invalidateState() {
	d.stateComputed = false
}

// consumeByte advances past one already-peeked byte and returns it.
func (d *Decoder) consumeByte() byte {
	var tmp [1]byte
	d.r.ReadRaw(tmp[:])
	d.pos++
	return tmp[0]
}

// PeekState returns the state of the next value without consuming anything.
func (d *Decoder) PeekState() (CborReaderState, error) {
	if d.poisoned != nil {
		return StateUndefined, d.poisonedErr()
	}
	if d.stateComputed {
		return d.cachedState, nil
	}
	state, err := d.computeState()
	if err != nil {
		return StateUndefined, d.fail(err)
	}
	d.cachedState = state
	d.stateComputed = true
	return state, nil
}

func (d *Decoder) computeState() (CborReaderState, error) {
	if n := len(d.nestingStack); n > 0 {
		info := &d.nestingStack[n-1]
		if info.remaining == RemainingCount && info.count <= 0 {
			if info.isMap {
				return StateEndMap, nil
			}
			return StateEndArray, nil
		}
	}

	b, ok := d.r.PeekByte()
	if !ok {
		if len(d.nestingStack) > 0 {
			return StateUndefined, &DecodeException{Err: ErrUnexpectedEndOfData, Offset: int(d.pos)}
		}
		return StateFinished, nil
	}

	if b == breakByte {
		if len(d.nestingStack) == 0 {
			return StateUndefined, &DecodeException{Err: ErrUnexpectedBreak, Offset: int(d.pos)}
		}
		info := &d.nestingStack[len(d.nestingStack)-1]
		switch info.remaining {
		case RemainingIndefiniteList:
			return StateEndArray, nil
		case RemainingIndefiniteMapNextKey:
			return StateEndMap, nil
		case RemainingIndefiniteMapNextValue:
			return StateUndefined, &DecodeException{Err: ErrIncompleteContainer, Offset: int(d.pos)}
		default:
			return StateUndefined, &DecodeException{Err: ErrUnexpectedBreak, Offset: int(d.pos)}
		}
	}

	mt, ai := decodeInitialByte(b)

	switch mt {
	case MajorTypeUnsignedInteger:
		return StateUnsignedInteger, nil
	case MajorTypeNegativeInteger:
		return StateNegativeInteger, nil
	case MajorTypeByteString:
		if ai == byte(AdditionalInfoIndefiniteLength) {
			return StateStartIndefiniteLengthByteString, nil
		}
		return StateByteString, nil
	case MajorTypeTextString:
		if ai == byte(AdditionalInfoIndefiniteLength) {
			return StateStartIndefiniteLengthTextString, nil
		}
		return StateTextString, nil
	case MajorTypeArray:
		return StateStartArray, nil
	case MajorTypeMap:
		return StateStartMap, nil
	case MajorTypeTag:
		return StateTag, nil
	case MajorTypeSimpleOrFloat:
		switch ai {
		case simpleValueFalse, simpleValueTrue:
			return StateBoolean, nil
		case simpleValueNull:
			return StateNull, nil
		case simpleValueUndefined:
			return StateUndefinedValue, nil
		case 25:
			return StateHalfPrecisionFloat, nil
		case 26:
			return StateSinglePrecisionFloat, nil
		case 27:
			return StateDoublePrecisionFloat, nil
		case 28, 29, 30:
			return StateUndefined, &DecodeException{Err: ErrReservedAdditionalInfo, Offset: int(d.pos)}
		default:
			return StateUndefined, &DecodeException{Err: ErrInvalidSimpleValue, Offset: int(d.pos)}
		}
	}

	return StateUndefined, &DecodeException{Err: ErrInvalidMajorType, Offset: int(d.pos)}
}

// readArgumentValue reads the argument of the next header, which must carry
// major type mt, and consumes it.
func (d *Decoder) readArgumentValue(mt MajorType) (uint64, error) {
	b, ok := d.r.PeekByte()
	if !ok {
		return 0, d.fail(&DecodeException{Err: ErrUnexpectedEndOfData, Offset: int(d.pos)})
	}
	actualMt, ai := decodeInitialByte(b)
	if actualMt != mt {
		return 0, &TypeMismatchError{Expected: CborReaderState(mt), Actual: CborReaderState(actualMt)}
	}
	d.consumeByte()

	switch {
	case ai < 24:
		return uint64(ai), nil
	case ai == 24:
		v, err := d.r.ReadRawBE(1)
		if err != nil {
			return 0, d.fail(&DecodeException{Err: ErrUnexpectedEndOfData, Offset: int(d.pos)})
		}
		d.pos++
		return v, nil
	case ai == 25:
		v, err := d.r.ReadRawBE(2)
		if err != nil {
			return 0, d.fail(&DecodeException{Err: ErrUnexpectedEndOfData, Offset: int(d.pos)})
		}
		d.pos += 2
		return v, nil
	case ai == 26:
		v, err := d.r.ReadRawBE(4)
		if err != nil {
			return 0, d.fail(&DecodeException{Err: ErrUnexpectedEndOfData, Offset: int(d.pos)})
		}
		d.pos += 4
		return v, nil
	case ai == 27:
		v, err := d.r.ReadRawBE(8)
		if err != nil {
			return 0, d.fail(&DecodeException{Err: ErrUnexpectedEndOfData, Offset: int(d.pos)})
		}
		d.pos += 8
		return v, nil
	case ai == byte(AdditionalInfoIndefiniteLength):
		return 0, nil
	default:
		return 0, d.fail(&DecodeException{Err: ErrReservedAdditionalInfo, Offset: int(d.pos)})
	}
}

func (d *Decoder) advanceContainer() {
	if len(d.nestingStack) == 0 {
		return
	}
	info := &d.nestingStack[len(d.nestingStack)-1]
	switch info.remaining {
	case RemainingCount:
		info.count--
	case RemainingIndefiniteMapNextKey:
		info.remaining = RemainingIndefiniteMapNextValue
	case RemainingIndefiniteMapNextValue:
		info.remaining = RemainingIndefiniteMapNextKey
	}
	d.invalidateState()
}

// ReadUint64 reads an unsigned integer.
func (d *Decoder) ReadUint64() (uint64, error) {
	if d.poisoned != nil {
		return 0, d.poisonedErr()
	}
	state, err := d.PeekState()
	if err != nil {
		return 0, err
	}
	if state != StateUnsignedInteger {
		return 0, &TypeMismatchError{Expected: StateUnsignedInteger, Actual: state}
	}
	d.invalidateState()
	val, err := d.readArgumentValue(MajorTypeUnsignedInteger)
	if err != nil {
		return 0, err
	}
	d.advanceContainer()
	return val, nil
}

// ReadInt64 reads a signed integer, positive or negative.
func (d *Decoder) ReadInt64() (int64, error) {
	if d.poisoned != nil {
		return 0, d.poisonedErr()
	}
	state, err := d.PeekState()
	if err != nil {
		return 0, err
	}
	d.invalidateState()

	switch state {
	case StateUnsignedInteger:
		val, err := d.readArgumentValue(MajorTypeUnsignedInteger)
		if err != nil {
			return 0, err
		}
		if val > math.MaxInt64 {
			return 0, d.fail(&DecodeException{Err: ErrOverflow, Offset: int(d.pos)})
		}
		d.advanceContainer()
		return int64(val), nil
	case StateNegativeInteger:
		val, err := d.readArgumentValue(MajorTypeNegativeInteger)
		if err != nil {
			return 0, err
		}
		if val > math.MaxInt64 {
			return 0, d.fail(&DecodeException{Err: ErrOverflow, Offset: int(d.pos)})
		}
		d.advanceContainer()
		return -1 - int64(val), nil
	default:
		return 0, &TypeMismatchError{Expected: StateUnsignedInteger, Actual: state}
	}
}

// ReadInt32 reads a signed integer, saturating-clamped to the int32 range:
// a value outside [MinInt32, MaxInt32] is reported as the nearest bound
// rather than as an error, unlike ReadInt64/ReadUint32 which treat overflow
// as malformed input.
func (d *Decoder) ReadInt32() (int32, error) {
	val, err := d.ReadInt64()
	if err != nil {
		return 0, err
	}
	if val < math.MinInt32 {
		return math.MinInt32, nil
	}
	if val > math.MaxInt32 {
		return math.MaxInt32, nil
	}
	return int32(val), nil
}

// ReadUint32 reads an unsigned 32-bit integer.
func (d *Decoder) ReadUint32() (uint32, error) {
	val, err := d.ReadUint64()
	if err != nil {
		return 0, err
	}
	if val > math.MaxUint32 {
		return 0, d.fail(&DecodeException{Err: ErrOverflow, Offset: int(d.pos)})
	}
	return uint32(val), nil
}

// NoExpectedLength tells Blob/Text not to check the total number of bytes
// fn ends up draining against any particular value.
const NoExpectedLength = -1

// Blob exposes the next value, which must be a byte string (definite or
// indefinite length), as a scoped ByteReader passed to fn: a reusable
// scratch reader that transparently spans chunk boundaries for a chunked
// string. The reader is valid only for the duration of fn and must
// not be retained past it. Whatever fn leaves unread is drained afterward,
// so the decoder is correctly positioned for whatever value follows
// regardless of how much of the blob fn actually consumed. If
// expectedLength is not NoExpectedLength, it must equal the value's actual
// total length or Blob fails with ErrLengthMismatch.
func (d *Decoder) Blob(expectedLength int, fn func(*BlobReader) error) error {
	return d.scopedChunkedRead(MajorTypeByteString, StateByteString, StateStartIndefiniteLengthByteString, false, expectedLength, fn)
}

// Text is the text-string analogue of Blob. It does not itself validate
// UTF-8; ReadTextString, built on top of Text, validates the fully
// assembled value the way it always has.
func (d *Decoder) Text(expectedLength int, fn func(*BlobReader) error) error {
	return d.scopedChunkedRead(MajorTypeTextString, StateTextString, StateStartIndefiniteLengthTextString, true, expectedLength, fn)
}

// scopedChunkedRead is the shared implementation behind Blob and Text: it
// opens the scratch BlobReader over the next value's span (or, for a
// chunked value, pushes a RemainingBlobChunks/RemainingTextChunks nesting
// frame so Decoder.PayloadRemaining reports it while fn runs), hands it to
// fn, then drains anything fn left unread before advancing the enclosing
// container.
func (d *Decoder) scopedChunkedRead(mt MajorType, definiteState, indefiniteState CborReaderState, textMode bool, expectedLength int, fn func(*BlobReader) error) error {
	if d.poisoned != nil {
		return d.poisonedErr()
	}
	state, err := d.PeekState()
	if err != nil {
		return err
	}
	chunked := state == indefiniteState
	if !chunked && state != definiteState {
		return &TypeMismatchError{Expected: definiteState, Actual: state}
	}

	d.invalidateState()
	var length int64
	if chunked {
		if len(d.nestingStack) >= d.maxNestingDepth {
			return d.fail(&DecodeException{Err: ErrNestingDepthExceeded, Offset: int(d.pos)})
		}
		d.consumeByte()
		remaining := RemainingBlobChunks
		if textMode {
			remaining = RemainingTextChunks
		}
		d.nestingStack = append(d.nestingStack, readerNestingInfo{majorType: mt, remaining: remaining})
	} else {
		l, err := d.readArgumentValue(mt)
		if err != nil {
			return err
		}
		length = int64(l)
	}

	br := &d.blobScratch
	br.reset(d, chunked, textMode, length)

	fnErr := fn(br)
	var drainErr error
	if fnErr == nil {
		drainErr = br.drain()
	}
	consumed := br.consumed

	if chunked {
		d.nestingStack = d.nestingStack[:len(d.nestingStack)-1]
	}
	d.invalidateState()

	if fnErr != nil {
		return d.fail(fnErr)
	}
	if drainErr != nil {
		return drainErr
	}
	if br.err != nil {
		return br.err
	}
	if expectedLength != NoExpectedLength && int64(expectedLength) != consumed {
		return d.fail(&DecodeException{Err: ErrLengthMismatch, Offset: int(d.pos)})
	}

	d.advanceContainer()
	return nil
}

// ReadByteString reads a byte string, definite or indefinite length, as a
// single materialized []byte, built atop Blob.
func (d *Decoder) ReadByteString() ([]byte, error) {
	if d.poisoned != nil {
		return nil, d.poisonedErr()
	}
	var result []byte
	if err := d.Blob(NoExpectedLength, func(br *BlobReader) error {
		result = br.ReadAllAvailable()
		return nil
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// ReadTextString reads a UTF-8 text string, definite or indefinite length,
// built atop Text. Validation is unconditional: non-UTF-8 text is a
// malformed stream, not a lax-mode tolerance.
func (d *Decoder) ReadTextString() (string, error) {
	if d.poisoned != nil {
		return "", d.poisonedErr()
	}
	var result []byte
	if err := d.Text(NoExpectedLength, func(br *BlobReader) error {
		result = br.ReadAllAvailable()
		return nil
	}); err != nil {
		return "", err
	}
	if !utf8.Valid(result) {
		return "", d.fail(&DecodeException{Err: ErrInvalidUtf8, Offset: int(d.pos)})
	}
	return string(result), nil
}

// ReadStartArray reads the start of an array, returning its length or -1 for
// an indefinite-length array.
func (d *Decoder) ReadStartArray() (int, error) {
	if d.poisoned != nil {
		return 0, d.poisonedErr()
	}
	state, err := d.PeekState()
	if err != nil {
		return 0, err
	}
	if state != StateStartArray {
		return 0, &TypeMismatchError{Expected: StateStartArray, Actual: state}
	}
	if len(d.nestingStack) >= d.maxNestingDepth {
		return 0, d.fail(&DecodeException{Err: ErrNestingDepthExceeded, Offset: int(d.pos)})
	}

	d.invalidateState()
	b, _ := d.r.PeekByte()
	if b == encodeInitialByte(MajorTypeArray, byte(AdditionalInfoIndefiniteLength)) {
		d.consumeByte()
		d.nestingStack = append(d.nestingStack, readerNestingInfo{
			majorType: MajorTypeArray,
			remaining: RemainingIndefiniteList,
		})
		return -1, nil
	}

	length, err := d.readArgumentValue(MajorTypeArray)
	if err != nil {
		return 0, err
	}
	d.nestingStack = append(d.nestingStack, readerNestingInfo{
		majorType: MajorTypeArray,
		remaining: RemainingCount,
		count:     int64(length),
	})
	return int(length), nil
}

// ReadEndArray consumes the end of the current array.
func (d *Decoder) ReadEndArray() error {
	if d.poisoned != nil {
		return d.poisonedErr()
	}
	state, err := d.PeekState()
	if err != nil {
		return err
	}
	if state != StateEndArray {
		return &TypeMismatchError{Expected: StateEndArray, Actual: state}
	}
	if len(d.nestingStack) == 0 {
		return d.fail(&DecodeException{Err: ErrInvalidState, Offset: int(d.pos)})
	}
	info := &d.nestingStack[len(d.nestingStack)-1]
	if info.majorType != MajorTypeArray {
		return d.fail(&DecodeException{Err: ErrInvalidState, Offset: int(d.pos)})
	}
	if info.remaining == RemainingIndefiniteList {
		b, ok := d.r.PeekByte()
		if !ok || b != breakByte {
			return d.fail(&DecodeException{Err: ErrMissingBreak, Offset: int(d.pos)})
		}
		d.consumeByte()
	}

	d.nestingStack = d.nestingStack[:len(d.nestingStack)-1]
	d.invalidateState()
	d.advanceContainer()
	return nil
}

// ReadStartMap reads the start of a map, returning its key-value pair count
// or -1 for an indefinite-length map.
func (d *Decoder) ReadStartMap() (int, error) {
	if d.poisoned != nil {
		return 0, d.poisonedErr()
	}
	state, err := d.PeekState()
	if err != nil {
		return 0, err
	}
	if state != StateStartMap {
		return 0, &TypeMismatchError{Expected: StateStartMap, Actual: state}
	}
	if len(d.nestingStack) >= d.maxNestingDepth {
		return 0, d.fail(&DecodeException{Err: ErrNestingDepthExceeded, Offset: int(d.pos)})
	}

	d.invalidateState()
	b, _ := d.r.PeekByte()
	if b == encodeInitialByte(MajorTypeMap, byte(AdditionalInfoIndefiniteLength)) {
		d.consumeByte()
		d.nestingStack = append(d.nestingStack, readerNestingInfo{
			majorType: MajorTypeMap,
			isMap:     true,
			remaining: RemainingIndefiniteMapNextKey,
		})
		return -1, nil
	}

	length, err := d.readArgumentValue(MajorTypeMap)
	if err != nil {
		return 0, err
	}
	d.nestingStack = append(d.nestingStack, readerNestingInfo{
		majorType: MajorTypeMap,
		isMap:     true,
		remaining: RemainingCount,
		count:     int64(length) * 2,
	})
	return int(length), nil
}

// ReadEndMap consumes the end of the current map.
func (d *Decoder) ReadEndMap() error {
	if d.poisoned != nil {
		return d.poisonedErr()
	}
	state, err := d.PeekState()
	if err != nil {
		return err
	}
	if state != StateEndMap {
		return &TypeMismatchError{Expected: StateEndMap, Actual: state}
	}
	if len(d.nestingStack) == 0 {
		return d.fail(&DecodeException{Err: ErrInvalidState, Offset: int(d.pos)})
	}
	info := &d.nestingStack[len(d.nestingStack)-1]
	if info.majorType != MajorTypeMap {
		return d.fail(&DecodeException{Err: ErrInvalidState, Offset: int(d.pos)})
	}
	if info.remaining == RemainingIndefiniteMapNextKey {
		b, ok := d.r.PeekByte()
		if !ok || b != breakByte {
			return d.fail(&DecodeException{Err: ErrMissingBreak, Offset: int(d.pos)})
		}
		d.consumeByte()
	}

	d.nestingStack = d.nestingStack[:len(d.nestingStack)-1]
	d.invalidateState()
	d.advanceContainer()
	return nil
}

// ReadTag reads a semantic tag number; the tagged value itself is read next
// and advances the enclosing context, not the tag.
func (d *Decoder) ReadTag() (CborTag, error) {
	if d.poisoned != nil {
		return 0, d.poisonedErr()
	}
	state, err := d.PeekState()
	if err != nil {
		return 0, err
	}
	if state != StateTag {
		return 0, &TypeMismatchError{Expected: StateTag, Actual: state}
	}
	d.invalidateState()
	val, err := d.readArgumentValue(MajorTypeTag)
	if err != nil {
		return 0, err
	}
	return CborTag(val), nil
}

// Tagged reads a semantic tag and hands its number and the decoder to fn,
// which must read exactly the one tagged value. An error from fn poisons the
// decoder the same way any other failed callback scope does.
func (d *Decoder) Tagged(fn func(tag CborTag, d *Decoder) error) error {
	tag, err := d.ReadTag()
	if err != nil {
		return err
	}
	if err := fn(tag, d); err != nil {
		return d.fail(err)
	}
	return nil
}

// TagExpect is Tagged constrained to a single expected tag number, failing
// with ErrTagMismatch when a different tag is present. The mismatch poisons
// the decoder: the tag header has already been consumed by the time it can
// be compared.
func (d *Decoder) TagExpect(expected CborTag, fn func(*Decoder) error) error {
	tag, err := d.ReadTag()
	if err != nil {
		return err
	}
	if tag != expected {
		return d.fail(&DecodeException{Err: ErrTagMismatch, Offset: int(d.pos)})
	}
	if err := fn(d); err != nil {
		return d.fail(err)
	}
	return nil
}

// Array reads an array in one callback scope: fn receives the declared
// element count (-1 for an indefinite-length array) and reads elements until
// PeekState reports StateEndArray; Array then closes the container.
func (d *Decoder) Array(fn func(n int, d *Decoder) error) error {
	n, err := d.ReadStartArray()
	if err != nil {
		return err
	}
	if err := fn(n, d); err != nil {
		return d.fail(err)
	}
	return d.ReadEndArray()
}

// Map is the map analogue of Array: fn receives the declared pair count or
// -1, and reads alternating keys and values until PeekState reports
// StateEndMap.
func (d *Decoder) Map(fn func(n int, d *Decoder) error) error {
	n, err := d.ReadStartMap()
	if err != nil {
		return err
	}
	if err := fn(n, d); err != nil {
		return d.fail(err)
	}
	return d.ReadEndMap()
}

// ReadBoolean reads a boolean simple value.
func (d *Decoder) ReadBoolean() (bool, error) {
	if d.poisoned != nil {
		return false, d.poisonedErr()
	}
	state, err := d.PeekState()
	if err != nil {
		return false, err
	}
	if state != StateBoolean {
		return false, &TypeMismatchError{Expected: StateBoolean, Actual: state}
	}
	d.invalidateState()
	_, ai := decodeInitialByte(d.consumeByte())
	d.advanceContainer()
	return ai == simpleValueTrue, nil
}

// ReadNull consumes a null value.
func (d *Decoder) ReadNull() error {
	if d.poisoned != nil {
		return d.poisonedErr()
	}
	state, err := d.PeekState()
	if err != nil {
		return err
	}
	if state != StateNull {
		return &TypeMismatchError{Expected: StateNull, Actual: state}
	}
	d.invalidateState()
	d.consumeByte()
	d.advanceContainer()
	return nil
}

// ReadUndefined consumes an undefined value.
func (d *Decoder) ReadUndefined() error {
	if d.poisoned != nil {
		return d.poisonedErr()
	}
	state, err := d.PeekState()
	if err != nil {
		return err
	}
	if state != StateUndefinedValue {
		return &TypeMismatchError{Expected: StateUndefinedValue, Actual: state}
	}
	d.invalidateState()
	d.consumeByte()
	d.advanceContainer()
	return nil
}

// ReadFloat16 reads a half-precision float, widened to float32.
func (d *Decoder) ReadFloat16() (float32, error) {
	if d.poisoned != nil {
		return 0, d.poisonedErr()
	}
	state, err := d.PeekState()
	if err != nil {
		return 0, err
	}
	if state != StateHalfPrecisionFloat {
		return 0, &TypeMismatchError{Expected: StateHalfPrecisionFloat, Actual: state}
	}
	d.invalidateState()
	d.consumeByte()
	bits, err := d.r.ReadRawBE(2)
	if err != nil {
		return 0, d.fail(&DecodeException{Err: ErrUnexpectedEndOfData, Offset: int(d.pos)})
	}
	d.pos += 2
	d.advanceContainer()
	return float16BitsToFloat32(uint16(bits)), nil
}

// ReadFloat32 reads a single-precision float.
func (d *Decoder) ReadFloat32() (float32, error) {
	if d.poisoned != nil {
		return 0, d.poisonedErr()
	}
	state, err := d.PeekState()
	if err != nil {
		return 0, err
	}
	if state != StateSinglePrecisionFloat {
		return 0, &TypeMismatchError{Expected: StateSinglePrecisionFloat, Actual: state}
	}
	d.invalidateState()
	d.consumeByte()
	bits, err := d.r.ReadRawBE(4)
	if err != nil {
		return 0, d.fail(&DecodeException{Err: ErrUnexpectedEndOfData, Offset: int(d.pos)})
	}
	d.pos += 4
	d.advanceContainer()
	return math.Float32frombits(uint32(bits)), nil
}

// ReadFloat64 reads a double-precision float.
func (d *Decoder) ReadFloat64() (float64, error) {
	if d.poisoned != nil {
		return 0, d.poisonedErr()
	}
	state, err := d.PeekState()
	if err != nil {
		return 0, err
	}
	if state != StateDoublePrecisionFloat {
		return 0, &TypeMismatchError{Expected: StateDoublePrecisionFloat, Actual: state}
	}
	d.invalidateState()
	d.consumeByte()
	bits, err := d.r.ReadRawBE(8)
	if err != nil {
		return 0, d.fail(&DecodeException{Err: ErrUnexpectedEndOfData, Offset: int(d.pos)})
	}
	d.pos += 8
	d.advanceContainer()
	return math.Float64frombits(bits), nil
}

// ReadFloat reads any width of floating-point number, widened to float64.
func (d *Decoder) ReadFloat() (float64, error) {
	if d.poisoned != nil {
		return 0, d.poisonedErr()
	}
	state, err := d.PeekState()
	if err != nil {
		return 0, err
	}
	switch state {
	case StateHalfPrecisionFloat:
		f, err := d.ReadFloat16()
		return float64(f), err
	case StateSinglePrecisionFloat:
		f, err := d.ReadFloat32()
		return float64(f), err
	case StateDoublePrecisionFloat:
		return d.ReadFloat64()
	default:
		return 0, &TypeMismatchError{Expected: StateDoublePrecisionFloat, Actual: state}
	}
}

// TryReadNull consumes the next value if it is null, reporting whether it
// did so. It leaves any other value untouched.
func (d *Decoder) TryReadNull() (bool, error) {
	if d.poisoned != nil {
		return false, d.poisonedErr()
	}
	state, err := d.PeekState()
	if err != nil {
		return false, err
	}
	if state == StateNull {
		return true, d.ReadNull()
	}
	return false, nil
}

// Skip discards the next value, including any nested contents.
func (d *Decoder) Skip() error {
	if d.poisoned != nil {
		return d.poisonedErr()
	}
	state, err := d.PeekState()
	if err != nil {
		return err
	}

	switch state {
	case StateUnsignedInteger:
		_, err = d.ReadUint64()
		return err
	case StateNegativeInteger:
		_, err = d.ReadInt64()
		return err
	case StateByteString, StateStartIndefiniteLengthByteString:
		_, err = d.ReadByteString()
		return err
	case StateTextString, StateStartIndefiniteLengthTextString:
		_, err = d.ReadTextString()
		return err
	case StateStartArray:
		return d.skipArray()
	case StateStartMap:
		return d.skipMap()
	case StateTag:
		if _, err = d.ReadTag(); err != nil {
			return err
		}
		return d.Skip()
	case StateBoolean:
		_, err = d.ReadBoolean()
		return err
	case StateNull:
		return d.ReadNull()
	case StateUndefinedValue:
		return d.ReadUndefined()
	case StateHalfPrecisionFloat:
		_, err = d.ReadFloat16()
		return err
	case StateSinglePrecisionFloat:
		_, err = d.ReadFloat32()
		return err
	case StateDoublePrecisionFloat:
		_, err = d.ReadFloat64()
		return err
	default:
		return d.fail(&DecodeException{Err: ErrInvalidState, Offset: int(d.pos)})
	}
}

func (d *Decoder) skipArray() error {
	length, err := d.ReadStartArray()
	if err != nil {
		return err
	}
	if length == -1 {
		for {
			state, err := d.PeekState()
			if err != nil {
				return err
			}
			if state == StateEndArray {
				break
			}
			if err := d.Skip(); err != nil {
				return err
			}
		}
	} else {
		for i := 0; i < length; i++ {
			if err := d.Skip(); err != nil {
				return err
			}
		}
	}
	return d.ReadEndArray()
}

func (d *Decoder) skipMap() error {
	length, err := d.ReadStartMap()
	if err != nil {
		return err
	}
	if length == -1 {
		for {
			state, err := d.PeekState()
			if err != nil {
				return err
			}
			if state == StateEndMap {
				break
			}
			if err := d.Skip(); err != nil {
				return err
			}
			if err := d.Skip(); err != nil {
				return err
			}
		}
	} else {
		for i := 0; i < length; i++ {
			if err := d.Skip(); err != nil {
				return err
			}
			if err := d.Skip(); err != nil {
				return err
			}
		}
	}
	return d.ReadEndMap()
}

// teeByteReader wraps a ByteReader and records every byte it hands out, so
// ReadEncodedValue can recover the exact wire bytes of a value without the
// decoder needing random access into an underlying slice.
type teeByteReader struct {
	inner ByteReader
	buf   []byte
}

func (t *teeByteReader) CanRead(n int) bool     { return t.inner.CanRead(n) }
func (t *teeByteReader) SuggestAvailable() int  { return t.inner.SuggestAvailable() }
func (t *teeByteReader) PeekByte() (byte, bool) { return t.inner.PeekByte() }

func (t *teeByteReader) ReadRaw(dst []byte) (int, error) {
	n, err := t.inner.ReadRaw(dst)
	t.buf = append(t.buf, dst[:n]...)
	return n, err
}

func (t *teeByteReader) ReadRawBE(width int) (uint64, error) {
	v, err := t.inner.ReadRawBE(width)
	if err == nil {
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], v)
		t.buf = append(t.buf, tmp[8-width:]...)
	}
	return v, err
}

func (t *teeByteReader) ReadRawLE(width int) (uint64, error) {
	v, err := t.inner.ReadRawLE(width)
	if err == nil {
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], v)
		t.buf = append(t.buf, tmp[:width]...)
	}
	return v, err
}

func (t *teeByteReader) ReadSkip(n int) (int, error) { return t.inner.ReadSkip(n) }

func (t *teeByteReader) ReadUTF8(n int) (string, bool) {
	s, ok := t.inner.ReadUTF8(n)
	if ok {
		t.buf = append(t.buf, []byte(s)...)
	}
	return s, ok
}

func (t *teeByteReader) ReadAllAvailable() []byte {
	got := t.inner.ReadAllAvailable()
	t.buf = append(t.buf, got...)
	return got
}

var _ ByteReader = (*teeByteReader)(nil)

// ReadEncodedValue reads a single complete CBOR value and returns its exact
// wire bytes without otherwise interpreting it.
func (d *Decoder) ReadEncodedValue() ([]byte, error) {
	if d.poisoned != nil {
		return nil, d.poisonedErr()
	}
	tee := &teeByteReader{inner: d.r}
	saved := d.r
	d.r = tee
	err := d.Skip()
	d.r = saved
	if err != nil {
		return nil, err
	}
	return tee.buf, nil
}

// FieldReader lets Decoder.Obj's callback pull fields out of a map by
// strictly increasing integer id, skipping over fields the caller doesn't
// want and parking a too-large key for a later, larger probe.
type FieldReader struct {
	r            *Decoder
	depth        int
	lastConsumed int32
}

// Field looks for field id within the enclosing Obj map. If found, fn reads
// its value and Field returns true. If the next unread key on the wire is
// larger than id, the key is left parked (not consumed further) and Field
// returns false, nil so a later, larger probe can still find it. id must be
// strictly greater than the id of the last field this reader found; a
// smaller or equal id fails with ErrFieldOutOfOrder.
func (fr *FieldReader) Field(id int32, fn func(*Decoder) error) (bool, error) {
	d := fr.r
	if d.poisoned != nil {
		return false, d.poisonedErr()
	}
	if id <= fr.lastConsumed {
		return false, d.fail(&DecodeError{Err: ErrFieldOutOfOrder})
	}

	for {
		info := &d.nestingStack[fr.depth]
		if info.fp.state == fieldEnd {
			return false, nil
		}
		if info.fp.state != fieldPeeked {
			state, err := d.PeekState()
			if err != nil {
				return false, err
			}
			if state == StateEndMap {
				d.nestingStack[fr.depth].fp.state = fieldEnd
				return false, nil
			}
			keyID, err := d.ReadInt64()
			if err != nil {
				return false, err
			}
			if keyID < math.MinInt32 || keyID > math.MaxInt32 {
				// A key outside the representable field-id range can never
				// be matched by any probe; skip its value and drain the
				// rest of the map rather than poisoning an otherwise legal
				// decoder over an id it was never going to use.
				if err := d.Skip(); err != nil {
					return false, err
				}
				d.nestingStack[fr.depth].fp.state = fieldNone
				if err := d.drainRemainingFields(fr.depth); err != nil {
					return false, err
				}
				return false, nil
			}
			d.nestingStack[fr.depth].fp = fieldProgress{state: fieldPeeked, id: int32(keyID)}
		}

		info = &d.nestingStack[fr.depth]
		switch {
		case info.fp.id == id:
			d.nestingStack[fr.depth].fp.state = fieldConsumed
			if err := fn(d); err != nil {
				return false, err
			}
			fr.lastConsumed = id
			return true, nil
		case info.fp.id < id:
			if err := d.Skip(); err != nil {
				return false, err
			}
			d.nestingStack[fr.depth].fp.state = fieldNone
		default:
			return false, nil
		}
	}
}

// drainRemainingFields skips whatever fields of the map frame at
// nestingStack[depth] were left unconsumed, leaving the frame's
// field_progress at fieldEnd so the decoder is positioned at the map's
// closing byte (or break) for ReadEndMap. Shared by Obj and by
// FieldReader.Field's out-of-range-key path.
func (d *Decoder) drainRemainingFields(depth int) error {
	for {
		info := &d.nestingStack[depth]
		if info.fp.state == fieldEnd {
			return nil
		}
		if info.fp.state == fieldPeeked {
			if err := d.Skip(); err != nil {
				return err
			}
			d.nestingStack[depth].fp.state = fieldNone
			continue
		}
		state, err := d.PeekState()
		if err != nil {
			return err
		}
		if state == StateEndMap {
			d.nestingStack[depth].fp.state = fieldEnd
			return nil
		}
		if err := d.Skip(); err != nil {
			return err
		}
		if err := d.Skip(); err != nil {
			return err
		}
	}
}

// Obj reads a map whose keys are strictly increasing integer field ids, the
// generalization of Decoder.ReadStartMap/ReadEndMap for that shape: fn
// probes the fields it wants through the FieldReader, and Obj drains and
// discards whatever fields fn didn't consume before closing the map.
func (d *Decoder) Obj(fn func(*FieldReader) error) error {
	if d.poisoned != nil {
		return d.poisonedErr()
	}
	if _, err := d.ReadStartMap(); err != nil {
		return err
	}
	depth := len(d.nestingStack) - 1
	d.nestingStack[depth].fp = fieldProgress{state: fieldNone}
	fr := &FieldReader{r: d, depth: depth, lastConsumed: -1}

	if err := fn(fr); err != nil {
		return d.fail(err)
	}
	if err := d.drainRemainingFields(depth); err != nil {
		return err
	}

	return d.ReadEndMap()
}

// Value reads the next value as a generic CborValue tree, recursing into
// arrays, maps and tags.
func (d *Decoder) Value() (CborValue, error) {
	if d.poisoned != nil {
		return CborValue{}, d.poisonedErr()
	}
	state, err := d.PeekState()
	if err != nil {
		return CborValue{}, err
	}

	switch state {
	case StateUnsignedInteger:
		v, err := d.ReadUint64()
		if err != nil {
			return CborValue{}, err
		}
		if v > math.MaxInt64 {
			return CborValue{}, d.fail(&DecodeException{Err: ErrOverflow, Offset: int(d.pos)})
		}
		return CborValue{Kind: KindInt, Int: int64(v)}, nil
	case StateNegativeInteger:
		v, err := d.ReadInt64()
		if err != nil {
			return CborValue{}, err
		}
		return CborValue{Kind: KindInt, Int: v}, nil
	case StateByteString, StateStartIndefiniteLengthByteString:
		b, err := d.ReadByteString()
		if err != nil {
			return CborValue{}, err
		}
		return CborValue{Kind: KindBlob, Blob: b}, nil
	case StateTextString, StateStartIndefiniteLengthTextString:
		s, err := d.ReadTextString()
		if err != nil {
			return CborValue{}, err
		}
		return CborValue{Kind: KindText, Text: s}, nil
	case StateStartArray:
		n, err := d.ReadStartArray()
		if err != nil {
			return CborValue{}, err
		}
		var items []CborValue
		if n >= 0 {
			items = make([]CborValue, 0, n)
			for i := 0; i < n; i++ {
				v, err := d.Value()
				if err != nil {
					return CborValue{}, err
				}
				items = append(items, v)
			}
		} else {
			for {
				s, err := d.PeekState()
				if err != nil {
					return CborValue{}, err
				}
				if s == StateEndArray {
					break
				}
				v, err := d.Value()
				if err != nil {
					return CborValue{}, err
				}
				items = append(items, v)
			}
		}
		if err := d.ReadEndArray(); err != nil {
			return CborValue{}, err
		}
		return CborValue{Kind: KindArray, Array: items}, nil
	case StateStartMap:
		n, err := d.ReadStartMap()
		if err != nil {
			return CborValue{}, err
		}
		var entries []MapEntry
		readPair := func() error {
			k, err := d.Value()
			if err != nil {
				return err
			}
			v, err := d.Value()
			if err != nil {
				return err
			}
			entries = append(entries, MapEntry{Key: k, Value: v})
			return nil
		}
		if n >= 0 {
			for i := 0; i < n; i++ {
				if err := readPair(); err != nil {
					return CborValue{}, err
				}
			}
		} else {
			for {
				s, err := d.PeekState()
				if err != nil {
					return CborValue{}, err
				}
				if s == StateEndMap {
					break
				}
				if err := readPair(); err != nil {
					return CborValue{}, err
				}
			}
		}
		if err := d.ReadEndMap(); err != nil {
			return CborValue{}, err
		}
		return CborValue{Kind: KindMap, Map: entries}, nil
	case StateTag:
		tag, err := d.ReadTag()
		if err != nil {
			return CborValue{}, err
		}
		inner, err := d.Value()
		if err != nil {
			return CborValue{}, err
		}
		return CborValue{Kind: KindTag, TagNumber: uint64(tag), TagValue: &inner}, nil
	case StateBoolean:
		b, err := d.ReadBoolean()
		if err != nil {
			return CborValue{}, err
		}
		if b {
			return CborValue{Kind: KindTrue}, nil
		}
		return CborValue{Kind: KindFalse}, nil
	case StateNull:
		if err := d.ReadNull(); err != nil {
			return CborValue{}, err
		}
		return CborValue{Kind: KindNull}, nil
	case StateUndefinedValue:
		if err := d.ReadUndefined(); err != nil {
			return CborValue{}, err
		}
		return CborValue{Kind: KindUndefined}, nil
	case StateHalfPrecisionFloat:
		f, err := d.ReadFloat16()
		if err != nil {
			return CborValue{}, err
		}
		return CborValue{Kind: KindFloat, FloatValue: float64(f), FloatWidth: 2}, nil
	case StateSinglePrecisionFloat:
		f, err := d.ReadFloat32()
		if err != nil {
			return CborValue{}, err
		}
		return CborValue{Kind: KindFloat, FloatValue: float64(f), FloatWidth: 4}, nil
	case StateDoublePrecisionFloat:
		f, err := d.ReadFloat64()
		if err != nil {
			return CborValue{}, err
		}
		return CborValue{Kind: KindFloat, FloatValue: f, FloatWidth: 8}, nil
	default:
		return CborValue{}, d.fail(&DecodeException{Err: ErrInvalidState, Offset: int(d.pos)})
	}
}
