package cbor

import (
	"encoding/binary"
	"math"
)

// ByteWriter is the sink capability the encoder writes headers and payload
// bytes through. It deliberately does not resemble io.Writer: CBOR headers
// need big-endian fixed-width writes and the encoder needs to know exactly
// how many bytes a scope's callback produced, which a plain Write([]byte)
// cannot report on its own.
type ByteWriter interface {
	// WriteRaw appends p verbatim.
	WriteRaw(p []byte)
	// WriteRawBE appends the low width bytes of value, big-endian.
	WriteRawBE(value uint64, width int)
	// WriteRawLE appends the low width bytes of value, little-endian.
	WriteRawLE(value uint64, width int)
	// TotalWritten reports the total number of bytes written so far.
	TotalWritten() int64
}

// ByteReader is the source capability the decoder reads headers and payload
// bytes through.
type ByteReader interface {
	// CanRead reports whether at least n more bytes are available without
	// blocking indefinitely; it may need to pull from an underlying source
	// to find out.
	CanRead(n int) bool
	// SuggestAvailable is a best-effort, non-blocking hint of how many bytes
	// are immediately available; it never triggers a pull.
	SuggestAvailable() int
	// PeekByte returns the next byte without consuming it. ok is false if
	// no byte is currently available (end of stream).
	PeekByte() (b byte, ok bool)
	// ReadRaw copies up to len(dst) bytes into dst, returning how many were
	// actually read; short reads mean the source is exhausted.
	ReadRaw(dst []byte) (int, error)
	// ReadRawBE reads width bytes and interprets them as big-endian.
	ReadRawBE(width int) (uint64, error)
	// ReadRawLE reads width bytes and interprets them as little-endian.
	ReadRawLE(width int) (uint64, error)
	// ReadSkip discards up to n bytes, returning how many were discarded.
	ReadSkip(n int) (int, error)
	// ReadUTF8 reads exactly n bytes and returns them as a string without
	// validating encoding; ok is false if fewer than n bytes are available.
	ReadUTF8(n int) (string, bool)
	// ReadAllAvailable reads and returns everything currently readable,
	// pulling from the underlying source until it is exhausted.
	ReadAllAvailable() []byte
}

const memoryBufferFloor = 16

// MemoryBuffer is a growable in-memory byte buffer with independent read
// and write cursors. It implements both ByteWriter and ByteReader; growth
// and cursor bookkeeping are explicit rather than delegated to
// bytes.Buffer, so ResetView can alias an existing slice without copying.
type MemoryBuffer struct {
	buf      []byte
	readPos  int
	writePos int
	written  int64
}

var (
	_ ByteWriter = (*MemoryBuffer)(nil)
	_ ByteReader = (*MemoryBuffer)(nil)
)

// NewMemoryBuffer returns an empty MemoryBuffer ready for writing.
func NewMemoryBuffer() *MemoryBuffer {
	return &MemoryBuffer{buf: make([]byte, 0, memoryBufferFloor)}
}

// Reset empties the buffer, keeping its underlying storage for reuse.
func (b *MemoryBuffer) Reset() {
	b.buf = b.buf[:0]
	b.readPos = 0
	b.writePos = 0
	b.written = 0
}

// ResetView replaces the buffer's contents with data without copying,
// positioning the read cursor at the start and the write cursor at the end
// — the shape a Decoder needs for reading an existing []byte.
func (b *MemoryBuffer) ResetView(data []byte) {
	b.buf = data
	b.readPos = 0
	b.writePos = len(data)
	b.written = int64(len(data))
}

// Bytes returns the written portion of the buffer.
func (b *MemoryBuffer) Bytes() []byte {
	return b.buf[:b.writePos]
}

func (b *MemoryBuffer) grow(extra int) {
	need := b.writePos + extra
	if need <= cap(b.buf) {
		return
	}
	newCap := cap(b.buf)
	if newCap < memoryBufferFloor {
		newCap = memoryBufferFloor
	}
	for newCap < need {
		newCap *= 2
	}
	grown := make([]byte, b.writePos, newCap)
	copy(grown, b.buf[:b.writePos])
	b.buf = grown
}

// WriteRaw implements ByteWriter.
func (b *MemoryBuffer) WriteRaw(p []byte) {
	b.grow(len(p))
	b.buf = b.buf[:b.writePos+len(p)]
	copy(b.buf[b.writePos:], p)
	b.writePos += len(p)
	b.written += int64(len(p))
}

// WriteRawBE implements ByteWriter.
func (b *MemoryBuffer) WriteRawBE(value uint64, width int) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], value)
	b.WriteRaw(tmp[8-width:])
}

// WriteRawLE implements ByteWriter.
func (b *MemoryBuffer) WriteRawLE(value uint64, width int) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], value)
	b.WriteRaw(tmp[:width])
}

// WriteShortString appends s as a 2-byte little-endian length prefix
// followed by its UTF-8 bytes. It is a plain framing helper over the raw
// byte primitives, not a CBOR encoding: the length is capped at 65535
// bytes, the width the prefix can hold.
func (b *MemoryBuffer) WriteShortString(s string) {
	n := len(s)
	if n > 0xFFFF {
		n = 0xFFFF
		s = s[:n]
	}
	b.WriteRawLE(uint64(n), 2)
	b.WriteRaw([]byte(s))
}

// TotalWritten implements ByteWriter.
func (b *MemoryBuffer) TotalWritten() int64 { return b.written }

// CanRead implements ByteReader.
func (b *MemoryBuffer) CanRead(n int) bool { return b.writePos-b.readPos >= n }

// SuggestAvailable implements ByteReader.
func (b *MemoryBuffer) SuggestAvailable() int { return b.writePos - b.readPos }

// PeekByte implements ByteReader.
func (b *MemoryBuffer) PeekByte() (byte, bool) {
	if b.readPos >= b.writePos {
		return 0, false
	}
	return b.buf[b.readPos], true
}

// ReadRaw implements ByteReader.
func (b *MemoryBuffer) ReadRaw(dst []byte) (int, error) {
	avail := b.writePos - b.readPos
	n := len(dst)
	if n > avail {
		n = avail
	}
	copy(dst[:n], b.buf[b.readPos:b.readPos+n])
	b.readPos += n
	return n, nil
}

// ReadRawBE implements ByteReader.
func (b *MemoryBuffer) ReadRawBE(width int) (uint64, error) {
	if !b.CanRead(width) {
		return 0, ErrUnexpectedEndOfData
	}
	var tmp [8]byte
	copy(tmp[8-width:], b.buf[b.readPos:b.readPos+width])
	b.readPos += width
	return binary.BigEndian.Uint64(tmp[:]), nil
}

// ReadRawLE implements ByteReader.
func (b *MemoryBuffer) ReadRawLE(width int) (uint64, error) {
	if !b.CanRead(width) {
		return 0, ErrUnexpectedEndOfData
	}
	var tmp [8]byte
	copy(tmp[:width], b.buf[b.readPos:b.readPos+width])
	b.readPos += width
	return binary.LittleEndian.Uint64(tmp[:]), nil
}

// ReadSkip implements ByteReader.
func (b *MemoryBuffer) ReadSkip(n int) (int, error) {
	avail := b.writePos - b.readPos
	if n > avail {
		n = avail
	}
	b.readPos += n
	return n, nil
}

// ReadUTF8 implements ByteReader.
func (b *MemoryBuffer) ReadUTF8(n int) (string, bool) {
	if !b.CanRead(n) {
		return "", false
	}
	s := string(b.buf[b.readPos : b.readPos+n])
	b.readPos += n
	return s, true
}

// ReadAllAvailable implements ByteReader.
func (b *MemoryBuffer) ReadAllAvailable() []byte {
	out := make([]byte, b.writePos-b.readPos)
	copy(out, b.buf[b.readPos:b.writePos])
	b.readPos = b.writePos
	return out
}

// ReadChunkFunc refills buf and reports how many bytes were written. It
// returns io.EOF (or any other error) once the source is exhausted.
type ReadChunkFunc func(buf []byte) (int, error)

// SkipChunkFunc advances the underlying source by up to n bytes without
// materializing them, reporting how many bytes were actually skipped.
type SkipChunkFunc func(n int) (int, error)

const chunkedReaderFloor = 4096

// ChunkedPullReader adapts a callback-driven byte source (a socket, a file,
// any other pull-style producer) to ByteReader. It is built around a
// read-chunk/skip-chunk callback pair instead of io.Reader, since this
// package's ByteReader is its own capability, not a wrapper over the
// standard library's.
type ChunkedPullReader struct {
	read  ReadChunkFunc
	skip  SkipChunkFunc
	buf   []byte
	start int
	end   int
	eof   bool
}

var _ ByteReader = (*ChunkedPullReader)(nil)

// NewChunkedPullReader builds a ChunkedPullReader over read. skip is
// optional; pass nil to always skip by reading and discarding.
func NewChunkedPullReader(read ReadChunkFunc, skip SkipChunkFunc) *ChunkedPullReader {
	return &ChunkedPullReader{read: read, skip: skip, buf: make([]byte, chunkedReaderFloor)}
}

func (c *ChunkedPullReader) compact() {
	if c.start == 0 {
		return
	}
	n := copy(c.buf, c.buf[c.start:c.end])
	c.start = 0
	c.end = n
}

// fill tries to make at least n bytes available, compacting, growing and
// pulling from the source as needed. The internal buffer only ever grows.
func (c *ChunkedPullReader) fill(n int) {
	if c.eof {
		return
	}
	for c.end-c.start < n {
		c.compact()
		if len(c.buf)-c.end < chunkedReaderFloor {
			need := n
			if need < chunkedReaderFloor {
				need = chunkedReaderFloor
			}
			grown := make([]byte, c.end+need)
			copy(grown, c.buf[:c.end])
			c.buf = grown
		}
		read, err := c.read(c.buf[c.end:])
		c.end += read
		if err != nil {
			c.eof = true
			return
		}
		if read == 0 {
			c.eof = true
			return
		}
	}
}

// CanRead implements ByteReader.
func (c *ChunkedPullReader) CanRead(n int) bool {
	c.fill(n)
	return c.end-c.start >= n
}

// SuggestAvailable implements ByteReader.
func (c *ChunkedPullReader) SuggestAvailable() int { return c.end - c.start }

// PeekByte implements ByteReader.
func (c *ChunkedPullReader) PeekByte() (byte, bool) {
	c.fill(1)
	if c.end-c.start < 1 {
		return 0, false
	}
	return c.buf[c.start], true
}

// ReadRaw implements ByteReader.
func (c *ChunkedPullReader) ReadRaw(dst []byte) (int, error) {
	c.fill(len(dst))
	n := c.end - c.start
	if n > len(dst) {
		n = len(dst)
	}
	copy(dst[:n], c.buf[c.start:c.start+n])
	c.start += n
	return n, nil
}

// ReadRawBE implements ByteReader.
func (c *ChunkedPullReader) ReadRawBE(width int) (uint64, error) {
	if !c.CanRead(width) {
		return 0, ErrUnexpectedEndOfData
	}
	var tmp [8]byte
	copy(tmp[8-width:], c.buf[c.start:c.start+width])
	c.start += width
	return binary.BigEndian.Uint64(tmp[:]), nil
}

// ReadRawLE implements ByteReader.
func (c *ChunkedPullReader) ReadRawLE(width int) (uint64, error) {
	if !c.CanRead(width) {
		return 0, ErrUnexpectedEndOfData
	}
	var tmp [8]byte
	copy(tmp[:width], c.buf[c.start:c.start+width])
	c.start += width
	return binary.LittleEndian.Uint64(tmp[:]), nil
}

// ReadSkip implements ByteReader.
func (c *ChunkedPullReader) ReadSkip(n int) (int, error) {
	buffered := c.end - c.start
	if c.skip != nil && n > buffered {
		c.start = c.end
		skipped, err := c.skip(n - buffered)
		total := buffered + skipped
		if err != nil {
			c.eof = true
		}
		return total, nil
	}
	c.fill(n)
	avail := c.end - c.start
	if n > avail {
		n = avail
	}
	c.start += n
	return n, nil
}

// ReadUTF8 implements ByteReader.
func (c *ChunkedPullReader) ReadUTF8(n int) (string, bool) {
	if !c.CanRead(n) {
		return "", false
	}
	s := string(c.buf[c.start : c.start+n])
	c.start += n
	return s, true
}

// Typed writers derived from the raw primitives. Like the read-or-default
// variants below they are free functions over the capability interface, since
// they add no capability of their own, only a fixed width and a bitwise
// reinterpret for the float forms. All write big-endian, the byte order every
// multi-byte CBOR field uses.

// WriteInt8 writes v as one byte.
func WriteInt8(w ByteWriter, v int8) { w.WriteRawBE(uint64(uint8(v)), 1) }

// WriteInt16 writes v as two big-endian bytes.
func WriteInt16(w ByteWriter, v int16) { w.WriteRawBE(uint64(uint16(v)), 2) }

// WriteInt32 writes v as four big-endian bytes.
func WriteInt32(w ByteWriter, v int32) { w.WriteRawBE(uint64(uint32(v)), 4) }

// WriteInt64 writes v as eight big-endian bytes.
func WriteInt64(w ByteWriter, v int64) { w.WriteRawBE(uint64(v), 8) }

// WriteFloat32 writes v's IEEE 754 bit pattern as four big-endian bytes.
func WriteFloat32(w ByteWriter, v float32) { w.WriteRawBE(uint64(math.Float32bits(v)), 4) }

// WriteFloat64 writes v's IEEE 754 bit pattern as eight big-endian bytes.
func WriteFloat64(w ByteWriter, v float64) { w.WriteRawBE(math.Float64bits(v), 8) }

// ReadRawBEOrDefault reads width bytes big-endian, returning def instead of
// an error if the source is exhausted before width bytes are available.
func ReadRawBEOrDefault(r ByteReader, width int, def uint64) uint64 {
	v, err := r.ReadRawBE(width)
	if err != nil {
		return def
	}
	return v
}

// ReadRawLEOrDefault is the little-endian analogue of ReadRawBEOrDefault.
func ReadRawLEOrDefault(r ByteReader, width int, def uint64) uint64 {
	v, err := r.ReadRawLE(width)
	if err != nil {
		return def
	}
	return v
}

// ReadUTF8OrDefault reads n bytes as a string, returning def instead of
// false if fewer than n bytes are available.
func ReadUTF8OrDefault(r ByteReader, n int, def string) string {
	s, ok := r.ReadUTF8(n)
	if !ok {
		return def
	}
	return s
}

// ReadAllAvailable implements ByteReader, pulling from the source until it
// reports EOF.
func (c *ChunkedPullReader) ReadAllAvailable() []byte {
	var out []byte
	for {
		c.fill(chunkedReaderFloor)
		n := c.end - c.start
		if n == 0 {
			break
		}
		out = append(out, c.buf[c.start:c.end]...)
		c.start = c.end
		if c.eof {
			break
		}
	}
	return out
}
