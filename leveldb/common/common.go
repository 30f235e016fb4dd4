// Package common holds the record types and the byte-stream decoder shared
// by the LevelDB log and table readers.
package common

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"golang.org/x/text/encoding/unicode"
)

// Record is the common surface of entries recovered from log and table
// files, letting the directory reader treat both generically.
type Record interface {
	GetSequenceNumber() uint64
	GetKey() []byte
	GetValue() []byte
	GetType() byte
	GetOffset() int64
}

// KeyValueRecord is an entry recovered from a sorted-table (.ldb/.sst) file.
type KeyValueRecord struct {
	Offset         int64
	Key            []byte
	Value          []byte
	SequenceNumber uint64
	RecordType     byte
}

func (r *KeyValueRecord) GetSequenceNumber() uint64 { return r.SequenceNumber }
func (r *KeyValueRecord) GetKey() []byte            { return r.Key }
func (r *KeyValueRecord) GetValue() []byte          { return r.Value }
func (r *KeyValueRecord) GetType() byte             { return r.RecordType }
func (r *KeyValueRecord) GetOffset() int64          { return r.Offset }

// ParsedInternalKey is an entry recovered from a write-ahead log batch.
type ParsedInternalKey struct {
	Offset         int64
	RecordType     byte
	SequenceNumber uint64
	Key            []byte
	Value          []byte
	Recovered      bool
}

func (r *ParsedInternalKey) GetSequenceNumber() uint64 { return r.SequenceNumber }
func (r *ParsedInternalKey) GetKey() []byte            { return r.Key }
func (r *ParsedInternalKey) GetValue() []byte          { return r.Value }
func (r *ParsedInternalKey) GetType() byte             { return r.RecordType }
func (r *ParsedInternalKey) GetOffset() int64          { return r.Offset }

var (
	utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	utf16BE = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
)

// Decoder reads the primitive encodings LevelDB and Chromium IndexedDB use
// (varints, fixed-width little-endian integers, length-prefixed blobs,
// UTF-16 strings) from an in-memory buffer. Every method returns the offset
// the value started at, which callers use for diagnostics.
type Decoder struct {
	buf []byte
	pos int64
}

func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Offset returns the current read position.
func (d *Decoder) Offset() int64 { return d.pos }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int64 { return int64(len(d.buf)) - d.pos }

// RemainingBytes returns everything after the current position and advances
// to the end of the buffer.
func (d *Decoder) RemainingBytes() []byte {
	rest := d.buf[d.pos:]
	d.pos = int64(len(d.buf))
	return rest
}

// Seek repositions the decoder. Seeking past either end is clamped.
func (d *Decoder) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = d.pos + offset
	case io.SeekEnd:
		target = int64(len(d.buf)) + offset
	default:
		return d.pos, fmt.Errorf("unsupported seek whence: %d", whence)
	}
	if target < 0 {
		target = 0
	}
	if target > int64(len(d.buf)) {
		target = int64(len(d.buf))
	}
	d.pos = target
	return d.pos, nil
}

// Peek returns up to n bytes without advancing.
func (d *Decoder) Peek(n int) ([]byte, error) {
	if d.pos >= int64(len(d.buf)) {
		return nil, io.EOF
	}
	end := d.pos + int64(n)
	if end > int64(len(d.buf)) {
		end = int64(len(d.buf))
	}
	return d.buf[d.pos:end], nil
}

// ReadBytes reads exactly n bytes, or fewer with io.ErrUnexpectedEOF when
// the buffer runs out first.
func (d *Decoder) ReadBytes(n int) (int64, []byte, error) {
	start := d.pos
	if n < 0 {
		return start, nil, fmt.Errorf("negative read length: %d", n)
	}
	end := start + int64(n)
	if end > int64(len(d.buf)) {
		got := d.buf[start:]
		d.pos = int64(len(d.buf))
		if len(got) == 0 && n > 0 {
			return start, nil, io.EOF
		}
		if n > 0 {
			return start, got, io.ErrUnexpectedEOF
		}
		return start, got, nil
	}
	d.pos = end
	return start, d.buf[start:end], nil
}

// DecodeVarint decodes a LEB128 unsigned integer.
func (d *Decoder) DecodeVarint() (int64, uint64, error) {
	start := d.pos
	val, n := binary.Uvarint(d.buf[d.pos:])
	if n <= 0 {
		if n == 0 {
			return start, 0, io.ErrUnexpectedEOF
		}
		return start, 0, fmt.Errorf("varint overflow at offset %d", start)
	}
	d.pos += int64(n)
	return start, val, nil
}

func (d *Decoder) DecodeUint8() (int64, uint8, error) {
	start, buf, err := d.readFixed(1)
	if err != nil {
		return start, 0, err
	}
	return start, buf[0], nil
}

func (d *Decoder) DecodeUint16() (int64, uint16, error) {
	start, buf, err := d.readFixed(2)
	if err != nil {
		return start, 0, err
	}
	return start, binary.LittleEndian.Uint16(buf), nil
}

func (d *Decoder) DecodeUint32() (int64, uint32, error) {
	start, buf, err := d.readFixed(4)
	if err != nil {
		return start, 0, err
	}
	return start, binary.LittleEndian.Uint32(buf), nil
}

func (d *Decoder) DecodeUint64() (int64, uint64, error) {
	start, buf, err := d.readFixed(8)
	if err != nil {
		return start, 0, err
	}
	return start, binary.LittleEndian.Uint64(buf), nil
}

func (d *Decoder) DecodeUint32BE() (int64, uint32, error) {
	start, buf, err := d.readFixed(4)
	if err != nil {
		return start, 0, err
	}
	return start, binary.BigEndian.Uint32(buf), nil
}

func (d *Decoder) DecodeUint64BE() (int64, uint64, error) {
	start, buf, err := d.readFixed(8)
	if err != nil {
		return start, 0, err
	}
	return start, binary.BigEndian.Uint64(buf), nil
}

// DecodeInt reads an n-byte little-endian unsigned integer, 1 <= n <= 8.
// IndexedDB key prefixes encode their ids this way.
func (d *Decoder) DecodeInt(n int) (int64, uint64, error) {
	if n < 1 || n > 8 {
		return d.pos, 0, fmt.Errorf("invalid int width: %d", n)
	}
	start, buf, err := d.readFixed(n)
	if err != nil {
		return start, 0, err
	}
	var val uint64
	for i := n - 1; i >= 0; i-- {
		val = val<<8 | uint64(buf[i])
	}
	return start, val, nil
}

// DecodeDouble reads a little-endian IEEE 754 float64.
func (d *Decoder) DecodeDouble() (int64, float64, error) {
	start, bits, err := d.DecodeUint64()
	if err != nil {
		return start, 0, err
	}
	return start, math.Float64frombits(bits), nil
}

// DecodeBlobWithLength reads a varint byte count followed by that many bytes.
func (d *Decoder) DecodeBlobWithLength() (int64, []byte, error) {
	start, n, err := d.DecodeVarint()
	if err != nil {
		return start, nil, err
	}
	if n > uint64(d.Remaining()) {
		return start, nil, io.ErrUnexpectedEOF
	}
	_, blob, err := d.ReadBytes(int(n))
	return start, blob, err
}

// DecodeUTF16StringWithLength reads a varint byte count followed by UTF-16LE
// data, as V8 encodes two-byte strings.
func (d *Decoder) DecodeUTF16StringWithLength() (int64, string, error) {
	start, byteLen, err := d.DecodeVarint()
	if err != nil {
		return start, "", err
	}
	if byteLen > uint64(d.Remaining()) {
		return start, "", io.ErrUnexpectedEOF
	}
	_, raw, err := d.ReadBytes(int(byteLen))
	if err != nil {
		return start, "", err
	}
	decoded, err := utf16LE.Bytes(raw)
	if err != nil {
		return start, "", fmt.Errorf("utf-16le decode: %w", err)
	}
	return start, string(decoded), nil
}

// DecodeUTF16StringWithCodeUnitCount reads a varint code-unit count followed
// by UTF-16BE data, as Chromium encodes strings inside IndexedDB keys.
func (d *Decoder) DecodeUTF16StringWithCodeUnitCount() (int64, string, error) {
	start, units, err := d.DecodeVarint()
	if err != nil {
		return start, "", err
	}
	byteLen := units * 2
	if byteLen > uint64(d.Remaining()) {
		return start, "", io.ErrUnexpectedEOF
	}
	_, raw, err := d.ReadBytes(int(byteLen))
	if err != nil {
		return start, "", err
	}
	decoded, err := utf16BE.Bytes(raw)
	if err != nil {
		return start, "", fmt.Errorf("utf-16be decode: %w", err)
	}
	return start, string(decoded), nil
}

func (d *Decoder) readFixed(n int) (int64, []byte, error) {
	start, buf, err := d.ReadBytes(n)
	if err != nil {
		return start, nil, err
	}
	if len(buf) < n {
		return start, nil, io.ErrUnexpectedEOF
	}
	return start, buf, nil
}
