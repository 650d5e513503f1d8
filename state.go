package cbor

// PayloadRemaining enumerates the sentinel states a decoder's current
// context can be in, mirroring the CBOR grammar's own structure rather than
// exposing a raw remaining-item count: most contexts are better described
// by "more of the same kind of chunk" or "any value or a break" than by a
// number.
type PayloadRemaining int

const (
	// RemainingSequence means the decoder is at the top level: any number
	// of root values may follow, with no enclosing container.
	RemainingSequence PayloadRemaining = iota
	// RemainingCount means a definite-length array or map with a known
	// number of remaining slots.
	RemainingCount
	// RemainingBlobChunks means inside an indefinite-length byte string,
	// expecting either another definite-length byte-string chunk or break.
	RemainingBlobChunks
	// RemainingTextChunks is the text-string analogue of RemainingBlobChunks.
	RemainingTextChunks
	// RemainingIndefiniteList means inside an indefinite-length array,
	// expecting either any value or break.
	RemainingIndefiniteList
	// RemainingIndefiniteMapNextKey means inside an indefinite-length map,
	// expecting either a key of any type or break.
	RemainingIndefiniteMapNextKey
	// RemainingIndefiniteMapNextValue means inside an indefinite-length
	// map, expecting a value (break is not legal here).
	RemainingIndefiniteMapNextValue
	// RemainingBreak means a break byte was just consumed.
	RemainingBreak
	// RemainingError means the decoder has failed and will not recover.
	RemainingError
)

// fieldState is the state half of a map frame's field_progress, used by
// Decoder.Obj's field probing.
type fieldState int

const (
	// fieldNone means no field has been peeked; the next key is unread.
	fieldNone fieldState = iota
	// fieldConsumed means the last probed field's value was read.
	fieldConsumed
	// fieldPeeked means a key has been read but not yet matched or skipped.
	fieldPeeked
	// fieldEnd means the map has no more fields.
	fieldEnd
)

// fieldProgress tracks an Obj() frame's probing position.
type fieldProgress struct {
	state fieldState
	id    int32 // meaningful only when state == fieldPeeked
}

// readerNestingInfo is one frame of decoder container nesting, driven by
// remaining (the PayloadRemaining sentinel for this frame) rather than a
// length-and-flags bundle, and extended with fp for integer field-id
// probing opened via Decoder.Obj.
//
// remaining == RemainingCount covers both definite arrays (count = items
// left) and definite maps (count = slots left, i.e. 2x the remaining
// pairs, so a key and its value each decrement it by one without needing a
// separate key/value flag). The indefinite forms instead carry their own
// sentinel: RemainingIndefiniteList never changes until a break is seen,
// while RemainingIndefiniteMapNextKey/Value toggle on every completed value
// read, nested containers included.
// RemainingBlobChunks/RemainingTextChunks mark a frame opened for the
// duration of a chunked byte/text string read through Decoder.Blob/Text.
type readerNestingInfo struct {
	majorType MajorType
	isMap     bool
	remaining PayloadRemaining
	count     int64 // meaningful only when remaining == RemainingCount
	fp        fieldProgress
}
