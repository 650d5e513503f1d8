package cbor

import (
	"encoding/binary"
	"math"
)

// BlobReader is the decoder-owned, reusable scratch ByteReader that
// Decoder.Blob and Decoder.Text hand to their callback: a scoped,
// drainable view over a single byte-string or text-string value, whether
// it is one definite-length span or a sequence of indefinite-length
// chunks. A Decoder keeps exactly one BlobReader, reset on each new Blob or
// Text scope, rather than allocating a fresh one per call; it must not be
// used once the callback that received it returns.
type BlobReader struct {
	d         *Decoder
	chunked   bool
	textMode  bool
	done      bool // true once no further bytes will ever be available
	remaining int64
	consumed  int64 // total bytes read or skipped so far this scope
	err       error
}

var _ ByteReader = (*BlobReader)(nil)

// reset rearms b for a new scope: length is the definite span's byte
// count, ignored when chunked is true (the first chunk header, if any, is
// read lazily on first use).
func (b *BlobReader) reset(d *Decoder, chunked, textMode bool, length int64) {
	b.d = d
	b.chunked = chunked
	b.textMode = textMode
	b.done = false
	b.remaining = length
	b.consumed = 0
	b.err = nil
}

func (b *BlobReader) fail(err error) error {
	return b.d.fail(err)
}

// ensure tops up remaining by reading the next chunk header when the
// current span is exhausted, or marks b done for a definite-length span or
// a chunked value's terminating break.
func (b *BlobReader) ensure() error {
	if b.remaining > 0 || b.done {
		return nil
	}
	if !b.chunked {
		b.done = true
		return nil
	}
	pk, ok := b.d.r.PeekByte()
	if !ok {
		return b.fail(&DecodeException{Err: ErrUnexpectedEndOfData, Offset: int(b.d.pos)})
	}
	if pk == breakByte {
		b.d.consumeByte()
		b.done = true
		return nil
	}
	wantMt := MajorTypeByteString
	if b.textMode {
		wantMt = MajorTypeTextString
	}
	mt, ai := decodeInitialByte(pk)
	if mt != wantMt {
		return b.fail(&DecodeException{Err: ErrInvalidCbor, Offset: int(b.d.pos)})
	}
	if ai == byte(AdditionalInfoIndefiniteLength) {
		return b.fail(&DecodeException{Err: ErrIndefiniteLengthNotAllowed, Offset: int(b.d.pos)})
	}
	length, err := b.d.readArgumentValue(wantMt)
	if err != nil {
		return err
	}
	b.remaining = int64(length)
	return nil
}

// drain consumes and discards everything left in the scope, crossing
// however many further chunks are needed, until done.
func (b *BlobReader) drain() error {
	if b.err != nil {
		return b.err
	}
	for !b.done {
		if b.remaining == 0 {
			if err := b.ensure(); err != nil {
				b.err = err
				return err
			}
			continue
		}
		n, _ := b.d.r.ReadSkip(int(b.remaining))
		b.d.pos += int64(n)
		b.remaining -= int64(n)
		b.consumed += int64(n)
		if n == 0 {
			err := b.fail(&DecodeException{Err: ErrUnexpectedEndOfData, Offset: int(b.d.pos)})
			b.err = err
			return err
		}
	}
	return nil
}

// CanRead implements ByteReader. It is only authoritative within the
// current chunk (or the whole span, for a definite-length value): a false
// result never crosses a chunk boundary to look further ahead, matching
// the non-blocking contract CanRead documents for every other ByteReader.
func (b *BlobReader) CanRead(n int) bool {
	if n <= 0 {
		return true
	}
	if b.err != nil {
		return false
	}
	if b.remaining == 0 && !b.done {
		if err := b.ensure(); err != nil {
			b.err = err
			return false
		}
	}
	return b.remaining >= int64(n)
}

// SuggestAvailable implements ByteReader.
func (b *BlobReader) SuggestAvailable() int {
	if b.remaining > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(b.remaining)
}

// PeekByte implements ByteReader.
func (b *BlobReader) PeekByte() (byte, bool) {
	if b.err != nil {
		return 0, false
	}
	if b.remaining == 0 && !b.done {
		if err := b.ensure(); err != nil {
			b.err = err
			return 0, false
		}
	}
	if b.remaining == 0 {
		return 0, false
	}
	return b.d.r.PeekByte()
}

// ReadRaw implements ByteReader, transparently crossing chunk boundaries
// until dst is full or the scope is exhausted.
func (b *BlobReader) ReadRaw(dst []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	total := 0
	for total < len(dst) {
		if b.remaining == 0 {
			if b.done {
				break
			}
			if err := b.ensure(); err != nil {
				b.err = err
				return total, err
			}
			continue
		}
		want := dst[total:]
		if int64(len(want)) > b.remaining {
			want = want[:b.remaining]
		}
		n, _ := b.d.r.ReadRaw(want)
		b.d.pos += int64(n)
		b.remaining -= int64(n)
		b.consumed += int64(n)
		total += n
		if n == 0 {
			break
		}
	}
	return total, nil
}

// ReadRawBE implements ByteReader.
func (b *BlobReader) ReadRawBE(width int) (uint64, error) {
	var tmp [8]byte
	n, err := b.ReadRaw(tmp[8-width:])
	if err != nil {
		return 0, err
	}
	if n != width {
		return 0, b.fail(&DecodeException{Err: ErrUnexpectedEndOfData, Offset: int(b.d.pos)})
	}
	return binary.BigEndian.Uint64(tmp[:]), nil
}

// ReadRawLE implements ByteReader.
func (b *BlobReader) ReadRawLE(width int) (uint64, error) {
	var tmp [8]byte
	n, err := b.ReadRaw(tmp[:width])
	if err != nil {
		return 0, err
	}
	if n != width {
		return 0, b.fail(&DecodeException{Err: ErrUnexpectedEndOfData, Offset: int(b.d.pos)})
	}
	return binary.LittleEndian.Uint64(tmp[:]), nil
}

// ReadSkip implements ByteReader, crossing chunk boundaries like ReadRaw.
func (b *BlobReader) ReadSkip(n int) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	total := 0
	for total < n {
		if b.remaining == 0 {
			if b.done {
				break
			}
			if err := b.ensure(); err != nil {
				b.err = err
				return total, err
			}
			continue
		}
		want := int64(n - total)
		if want > b.remaining {
			want = b.remaining
		}
		skipped, _ := b.d.r.ReadSkip(int(want))
		b.d.pos += int64(skipped)
		b.remaining -= int64(skipped)
		b.consumed += int64(skipped)
		total += skipped
		if skipped == 0 {
			break
		}
	}
	return total, nil
}

// ReadUTF8 implements ByteReader by reading n raw bytes across however many
// chunks are needed; like the other ByteReader implementations it does not
// itself validate encoding.
func (b *BlobReader) ReadUTF8(n int) (string, bool) {
	buf := make([]byte, n)
	got, err := b.ReadRaw(buf)
	if err != nil || got != n {
		return "", false
	}
	return string(buf), true
}

// ReadAllAvailable implements ByteReader by reading everything left in the
// scope: the rest of the current chunk and, for a chunked value, every
// following chunk up to the terminating break.
func (b *BlobReader) ReadAllAvailable() []byte {
	if b.err != nil {
		return nil
	}
	var out []byte
	var tmp [4096]byte
	for {
		if b.remaining == 0 && b.done {
			break
		}
		n, err := b.ReadRaw(tmp[:])
		if n > 0 {
			out = append(out, tmp[:n]...)
		}
		if err != nil || n == 0 {
			break
		}
	}
	return out
}
