package chromium

import (
	"fmt"
	"io"
	"time"

	"github.com/golang/snappy"

	"github.com/wsaults/comms-assistant/leveldb/common"
)

// Allocation guards against corrupt length fields.
const (
	maxAllocBytes = 1 << 20
	maxArrayLen   = 1 << 20
	maxProps      = 1 << 20
	maxDepth      = 1 << 12
)

// Unsupported marks a single field whose serialization tag this decoder
// does not understand. Decoding of sibling fields continues around it.
type Unsupported struct {
	Tag byte `json:"tag"`
}

func (u Unsupported) String() string {
	return fmt.Sprintf("<unsupported:0x%02x>", u.Tag)
}

func (u Unsupported) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", u.String())), nil
}

// JSArray is a decoded JS array: indexed values plus any named properties
// that were attached to it.
type JSArray struct {
	Values     []any          `json:"values,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// JSMapEntry is one key/value pair of a decoded JS Map.
type JSMapEntry [2]any

// ObjectStoreDataValue is the decoded form of an object-store value blob.
type ObjectStoreDataValue struct {
	Version int `json:"version"`
	Value   any `json:"value,omitempty"`
}

// BlobReference points at externally stored blob content.
type BlobReference struct {
	Type      string `json:"type"`
	BlobSize  uint64 `json:"blob_size"`
	BlobIndex uint64 `json:"blob_index"`
}

// ParseObjectStoreDataValue decodes the object-store value envelope: a
// varint version, optionally a pseudo-version marker for blob-backed or
// snappy-compressed payloads, then the Blink/V8 serialized object.
func ParseObjectStoreDataValue(valueBytes []byte) (any, error) {
	if len(valueBytes) == 0 {
		return nil, nil
	}
	decoder := common.NewDecoder(valueBytes)
	_, version, err := decoder.DecodeVarint()
	if err != nil {
		return nil, fmt.Errorf("read value version: %w", err)
	}

	peek, err := decoder.Peek(3)
	if err == nil && len(peek) == 3 &&
		peek[0] == byte(BlinkVersionTag) && peek[1] == RequiresProcessingSSVPseudoVersion {
		switch peek[2] {
		case ReplaceWithBlob:
			decoder.ReadBytes(3)
			_, blobSize, _ := decoder.DecodeVarint()
			_, blobIndex, _ := decoder.DecodeVarint()
			return &ObjectStoreDataValue{
				Version: int(version),
				Value: &BlobReference{
					Type:      "BlobReference",
					BlobSize:  blobSize,
					BlobIndex: blobIndex,
				},
			}, nil
		case CompressedWithSnappy:
			decoder.ReadBytes(3)
			decompressed, err := snappy.Decode(nil, decoder.RemainingBytes())
			if err != nil {
				return nil, fmt.Errorf("snappy decompression failed: %w", err)
			}
			return parseBlink(decompressed, int(version))
		}
	}
	return parseBlink(decoder.RemainingBytes(), int(version))
}

func parseBlink(data []byte, version int) (any, error) {
	if len(data) == 0 {
		return &ObjectStoreDataValue{Version: version}, nil
	}
	bd := newBlinkDeserializer(data)
	value, err := bd.deserialize()
	if err != nil {
		return nil, fmt.Errorf("deserialize structured-clone value: %w", err)
	}
	return &ObjectStoreDataValue{Version: version, Value: value}, nil
}

// blinkDeserializer strips the Blink version envelope (and, from format 21
// on, the trailer descriptor) before handing the payload to V8 decoding.
type blinkDeserializer struct {
	decoder       *common.Decoder
	version       int
	trailerOffset uint64
	trailerSize   uint32
}

func newBlinkDeserializer(data []byte) *blinkDeserializer {
	return &blinkDeserializer{decoder: common.NewDecoder(data)}
}

func (bd *blinkDeserializer) readVersionEnvelope() error {
	peeked, err := bd.decoder.Peek(1)
	if err != nil || len(peeked) == 0 {
		return nil
	}
	if BlinkSerializationTag(peeked[0]) != BlinkVersionTag {
		return nil
	}
	bd.decoder.DecodeUint8()
	_, ver, err := bd.decoder.DecodeVarint()
	if err != nil {
		return err
	}
	bd.version = int(ver)
	if bd.version >= 21 {
		_, tag, err := bd.decoder.DecodeUint8()
		if err != nil {
			return err
		}
		if BlinkSerializationTag(tag) != BlinkTrailerOffset {
			return fmt.Errorf("expected trailer offset tag, got 0x%x", tag)
		}
		if _, bd.trailerOffset, err = bd.decoder.DecodeUint64BE(); err != nil {
			return err
		}
		if _, bd.trailerSize, err = bd.decoder.DecodeUint32BE(); err != nil {
			return err
		}
	}
	return nil
}

func (bd *blinkDeserializer) deserialize() (any, error) {
	if err := bd.readVersionEnvelope(); err != nil {
		return nil, err
	}
	payloadStart := bd.decoder.Offset()
	data := bd.decoder.RemainingBytes()
	if bd.trailerSize > 0 && bd.trailerOffset > uint64(payloadStart) &&
		bd.trailerOffset-uint64(payloadStart) <= uint64(len(data)) {
		data = data[:bd.trailerOffset-uint64(payloadStart)]
	}
	d := newV8Deserializer(data, bd)
	if err := d.readHeader(); err != nil {
		return nil, err
	}
	value, err := d.readObject()
	if err != nil {
		return nil, err
	}
	return value, nil
}

// readHostObject decodes Blink-level host objects (Blob and File handles).
func (bd *blinkDeserializer) readHostObject(d *v8Deserializer) (any, error) {
	_, tagByte, err := d.decoder.DecodeUint8()
	if err != nil {
		return nil, err
	}
	switch BlinkSerializationTag(tagByte) {
	case BlinkBlob:
		uuid, err := d.readUTF8StringWithLength()
		if err != nil {
			return nil, err
		}
		mimeType, err := d.readUTF8StringWithLength()
		if err != nil {
			return nil, err
		}
		_, size, err := d.decoder.DecodeVarint()
		if err != nil {
			return nil, err
		}
		return map[string]any{"type": "Blob", "uuid": uuid, "mime_type": mimeType, "size": size}, nil
	case BlinkFile:
		path, err := d.readUTF8StringWithLength()
		if err != nil {
			return nil, err
		}
		name, _ := d.readUTF8StringWithLength()
		relative, _ := d.readUTF8StringWithLength()
		uuid, err := d.readUTF8StringWithLength()
		if err != nil {
			return nil, err
		}
		mimeType, err := d.readUTF8StringWithLength()
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"type": "File", "path": path, "name": name,
			"relative": relative, "uuid": uuid, "mime_type": mimeType,
		}, nil
	default:
		return Unsupported{Tag: tagByte}, nil
	}
}

const latestV8Version uint32 = 15

// v8Deserializer decodes the V8 structured-clone stream into Go values:
// map[string]any, *JSArray, string, int64/uint64/float64, bool, time.Time,
// nil, and Unsupported placeholders.
type v8Deserializer struct {
	decoder  *common.Decoder
	objects  map[uint32]any
	nextID   uint32
	version  uint32
	delegate *blinkDeserializer
	depth    int
}

func newV8Deserializer(data []byte, delegate *blinkDeserializer) *v8Deserializer {
	return &v8Deserializer{
		decoder:  common.NewDecoder(data),
		objects:  make(map[uint32]any),
		delegate: delegate,
	}
}

func (d *v8Deserializer) assignNextID(obj any) {
	d.objects[d.nextID] = obj
	d.nextID++
}

func (d *v8Deserializer) readHeader() error {
	_, tag, err := d.decoder.DecodeUint8()
	if err != nil {
		return err
	}
	if V8SerializationTag(tag) != V8VersionTag {
		return fmt.Errorf("expected V8 version tag 0xFF, got 0x%x", tag)
	}
	_, ver, err := d.decoder.DecodeVarint()
	if err != nil {
		return err
	}
	d.version = uint32(ver)
	if d.version > latestV8Version {
		return fmt.Errorf("unsupported V8 serialization version %d (max %d)", d.version, latestV8Version)
	}
	return nil
}

func (d *v8Deserializer) readTag() (V8SerializationTag, error) {
	for {
		_, tagByte, err := d.decoder.DecodeUint8()
		if err != nil {
			return 0, err
		}
		tag := V8SerializationTag(tagByte)
		if tag == V8Padding {
			continue
		}
		return tag, nil
	}
}

// v8Reference wraps back-references so container readers can unwrap them
// without re-registering the object under a new id.
type v8Reference struct {
	ID    uint32
	Value any
}

func deref(v any) any {
	if ref, ok := v.(*v8Reference); ok {
		return ref.Value
	}
	return v
}

func (d *v8Deserializer) readObject() (any, error) {
	objectID := d.nextID
	value, err := d.readObjectInternal()
	if err != nil {
		return nil, err
	}
	if _, isRef := value.(*v8Reference); !isRef {
		d.objects[objectID] = value
	}

	// A typed-array view may trail its backing buffer.
	peeked, peekErr := d.decoder.Peek(1)
	if peekErr == nil && len(peeked) > 0 && V8SerializationTag(peeked[0]) == V8ArrayBufferViewTag {
		d.decoder.DecodeUint8()
		buffer, _ := deref(value).([]byte)
		view, err := d.readArrayBufferView(buffer)
		if err != nil {
			return nil, fmt.Errorf("read array buffer view: %w", err)
		}
		d.assignNextID(view)
		return view, nil
	}
	return value, nil
}

func (d *v8Deserializer) readObjectInternal() (any, error) {
	d.depth++
	if d.depth > maxDepth {
		return nil, fmt.Errorf("max recursion depth exceeded")
	}
	defer func() { d.depth-- }()

	tag, err := d.readTag()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}

	switch tag {
	case V8ObjectReference:
		_, id, err := d.decoder.DecodeVarint()
		if err != nil {
			return nil, fmt.Errorf("read object reference id: %w", err)
		}
		obj, ok := d.objects[uint32(id)]
		if !ok {
			return nil, fmt.Errorf("invalid object reference: id %d not seen", id)
		}
		return &v8Reference{ID: uint32(id), Value: obj}, nil
	case V8BeginJSObject:
		return d.readJSObject()
	case V8UTF8String, V8OneByteString:
		return d.readRawString()
	case V8TwoByteString:
		_, str, err := d.decoder.DecodeUTF16StringWithLength()
		return str, err
	case V8BeginDenseJSArray:
		return d.readDenseJSArray()
	case V8BeginSparseJSArray:
		return d.readSparseJSArray()
	case V8BeginJSMap:
		return d.readJSMap()
	case V8BeginJSSet:
		return d.readJSSet()
	case V8ArrayBuffer, V8SharedArrayBuffer:
		return d.readArrayBuffer()
	case V8RegExp:
		return d.readRegExp()
	case V8HostObject:
		if d.delegate == nil {
			return Unsupported{Tag: byte(tag)}, nil
		}
		return d.delegate.readHostObject(d)
	case V8TheHole, V8Null:
		return nil, nil
	case V8Undefined:
		return nil, nil
	case V8True, V8TrueObject:
		return true, nil
	case V8False, V8FalseObject:
		return false, nil
	case V8Int32:
		_, zigzag, err := d.decoder.DecodeVarint()
		if err != nil {
			return nil, fmt.Errorf("read int32: %w", err)
		}
		return int64(zigzag>>1) ^ -int64(zigzag&1), nil
	case V8Uint32:
		_, val, err := d.decoder.DecodeVarint()
		return val, err
	case V8Double, V8NumberObject:
		_, val, err := d.decoder.DecodeDouble()
		return val, err
	case V8BigInt, V8BigIntObject:
		return d.readBigInt()
	case V8Date:
		_, ms, err := d.decoder.DecodeDouble()
		if err != nil {
			return nil, err
		}
		return time.UnixMilli(int64(ms)).UTC(), nil
	case V8StringObject:
		val, err := d.readObject()
		if err != nil {
			return nil, err
		}
		val = deref(val)
		if _, ok := val.(string); !ok {
			return nil, fmt.Errorf("string object did not contain a string, got %T", val)
		}
		return val, nil
	case V8VerifyObjectCount:
		if _, _, err := d.decoder.DecodeVarint(); err != nil {
			return nil, err
		}
		return d.readObjectInternal()
	default:
		// Unknown tags have unknown payloads; flag the field and let the
		// caller keep whatever siblings were already decoded.
		return Unsupported{Tag: byte(tag)}, nil
	}
}

func (d *v8Deserializer) readRawString() (string, error) {
	_, length, err := d.decoder.DecodeVarint()
	if err != nil {
		return "", fmt.Errorf("read string length: %w", err)
	}
	if length > maxAllocBytes {
		d.decoder.Seek(int64(length), io.SeekCurrent)
		return "", fmt.Errorf("string length %d exceeds limit", length)
	}
	_, data, err := d.decoder.ReadBytes(int(length))
	if err != nil {
		return "", fmt.Errorf("read string data: %w", err)
	}
	return string(data), nil
}

func (d *v8Deserializer) readUTF8StringWithLength() (string, error) {
	return d.readRawString()
}

func (d *v8Deserializer) readJSObject() (map[string]any, error) {
	jsObject := make(map[string]any)
	num, err := d.readJSObjectProperties(jsObject, V8EndJSObject)
	if err != nil {
		return nil, err
	}
	_, expected, err := d.decoder.DecodeVarint()
	if err != nil {
		return nil, err
	}
	if int(expected) != num {
		return nil, fmt.Errorf("object property count mismatch: expected %d, decoded %d", expected, num)
	}
	d.assignNextID(jsObject)
	return jsObject, nil
}

func (d *v8Deserializer) readJSObjectProperties(into map[string]any, endTag V8SerializationTag) (int, error) {
	num := 0
	for {
		peeked, err := d.decoder.Peek(1)
		if err != nil || len(peeked) == 0 {
			return num, io.ErrUnexpectedEOF
		}
		if V8SerializationTag(peeked[0]) == endTag {
			d.decoder.DecodeUint8()
			break
		}
		keyObj, err := d.readObject()
		if err != nil {
			return num, err
		}
		keyStr, ok := deref(keyObj).(string)
		if !ok {
			return num, fmt.Errorf("property key is not a string, got %T", deref(keyObj))
		}
		valueObj, err := d.readObject()
		if err != nil {
			return num, err
		}
		into[keyStr] = deref(valueObj)
		num++
		if num > maxProps {
			return num, fmt.Errorf("too many properties: %d", num)
		}
	}
	return num, nil
}

func (d *v8Deserializer) readDenseJSArray() (any, error) {
	_, length, err := d.decoder.DecodeVarint()
	if err != nil {
		return nil, fmt.Errorf("read dense array length: %w", err)
	}
	if length > maxArrayLen {
		return nil, fmt.Errorf("dense array length too large: %d", length)
	}
	arr := &JSArray{Values: make([]any, length), Properties: make(map[string]any)}
	for i := 0; i < int(length); i++ {
		peeked, err := d.decoder.Peek(1)
		if err != nil || len(peeked) == 0 {
			return nil, io.ErrUnexpectedEOF
		}
		if V8SerializationTag(peeked[0]) == V8TheHole {
			d.decoder.DecodeUint8()
			continue
		}
		val, err := d.readObject()
		if err != nil {
			return nil, err
		}
		arr.Values[i] = deref(val)
	}
	num, err := d.readJSObjectProperties(arr.Properties, V8EndDenseJSArray)
	if err != nil {
		return nil, err
	}
	_, expectedNum, err := d.decoder.DecodeVarint()
	if err != nil {
		return nil, err
	}
	_, expectedLength, err := d.decoder.DecodeVarint()
	if err != nil {
		return nil, err
	}
	if int(expectedNum) != num || expectedLength != length {
		return nil, fmt.Errorf("dense array count mismatch: expected %d/%d, decoded %d/%d",
			expectedNum, expectedLength, num, length)
	}
	d.assignNextID(arr)
	return arr, nil
}

func (d *v8Deserializer) readSparseJSArray() (any, error) {
	_, length, err := d.decoder.DecodeVarint()
	if err != nil {
		return nil, err
	}
	if length > maxArrayLen {
		return nil, fmt.Errorf("sparse array length too large: %d", length)
	}
	arr := &JSArray{Values: make([]any, length), Properties: make(map[string]any)}
	num, err := d.readJSObjectProperties(arr.Properties, V8EndSparseJSArray)
	if err != nil {
		return nil, err
	}
	_, expectedNum, err := d.decoder.DecodeVarint()
	if err != nil {
		return nil, err
	}
	_, expectedLength, err := d.decoder.DecodeVarint()
	if err != nil {
		return nil, err
	}
	if int(expectedNum) != num || expectedLength != length {
		return nil, fmt.Errorf("sparse array count mismatch: expected %d/%d, decoded %d/%d",
			expectedNum, expectedLength, num, length)
	}
	d.assignNextID(arr)
	return arr, nil
}

func (d *v8Deserializer) readJSMap() (any, error) {
	var entries []JSMapEntry
	for {
		peeked, err := d.decoder.Peek(1)
		if err != nil || len(peeked) == 0 {
			return nil, io.ErrUnexpectedEOF
		}
		if V8SerializationTag(peeked[0]) == V8EndJSMap {
			d.decoder.DecodeUint8()
			break
		}
		key, err := d.readObject()
		if err != nil {
			return nil, err
		}
		value, err := d.readObject()
		if err != nil {
			return nil, err
		}
		entries = append(entries, JSMapEntry{deref(key), deref(value)})
		if len(entries) > maxArrayLen {
			return nil, fmt.Errorf("map too large: %d entries", len(entries))
		}
	}
	_, expected, err := d.decoder.DecodeVarint()
	if err != nil {
		return nil, err
	}
	if int(expected) != len(entries)*2 {
		return nil, fmt.Errorf("map entry count mismatch: expected %d, decoded %d", expected, len(entries)*2)
	}
	d.assignNextID(entries)
	return entries, nil
}

func (d *v8Deserializer) readJSSet() (any, error) {
	var elements []any
	for {
		peeked, err := d.decoder.Peek(1)
		if err != nil || len(peeked) == 0 {
			return nil, io.ErrUnexpectedEOF
		}
		if V8SerializationTag(peeked[0]) == V8EndJSSet {
			d.decoder.DecodeUint8()
			break
		}
		elem, err := d.readObject()
		if err != nil {
			return nil, err
		}
		elements = append(elements, deref(elem))
		if len(elements) > maxArrayLen {
			return nil, fmt.Errorf("set too large: %d elements", len(elements))
		}
	}
	_, expected, err := d.decoder.DecodeVarint()
	if err != nil {
		return nil, err
	}
	if int(expected) != len(elements) {
		return nil, fmt.Errorf("set element count mismatch: expected %d, decoded %d", expected, len(elements))
	}
	d.assignNextID(elements)
	return elements, nil
}

func (d *v8Deserializer) readBigInt() (any, error) {
	_, bitField, err := d.decoder.DecodeVarint()
	if err != nil {
		return nil, fmt.Errorf("read bigint bitfield: %w", err)
	}
	byteCount := bitField >> 1
	isNegative := bitField&0x1 == 1
	if byteCount > uint64(d.decoder.Remaining()) {
		return nil, io.ErrUnexpectedEOF
	}
	if byteCount > 8 {
		_, data, err := d.decoder.ReadBytes(int(byteCount))
		if err != nil {
			return nil, err
		}
		sign := ""
		if isNegative {
			sign = "-"
		}
		return fmt.Sprintf("<bigint:%s0x%x>", sign, data), nil
	}
	_, val, err := d.decoder.DecodeInt(int(byteCount))
	if err != nil {
		return nil, err
	}
	if isNegative {
		return -int64(val), nil
	}
	return val, nil
}

func (d *v8Deserializer) readRegExp() (any, error) {
	pattern, err := d.readObject()
	if err != nil {
		return nil, err
	}
	_, flags, err := d.decoder.DecodeVarint()
	if err != nil {
		return nil, err
	}
	regexp := map[string]any{"pattern": deref(pattern), "flags": flags}
	d.assignNextID(regexp)
	return regexp, nil
}

func (d *v8Deserializer) readArrayBuffer() (any, error) {
	_, byteLength, err := d.decoder.DecodeVarint()
	if err != nil {
		return nil, err
	}
	if byteLength > maxAllocBytes {
		return nil, fmt.Errorf("array buffer too large: %d", byteLength)
	}
	var data []byte
	if byteLength > 0 {
		_, data, err = d.decoder.ReadBytes(int(byteLength))
		if err != nil {
			return nil, err
		}
	}
	d.assignNextID(data)
	return data, nil
}

// ArrayBufferView is a typed-array window over its backing buffer.
type ArrayBufferView struct {
	Buffer []byte `json:"buffer"`
	Tag    byte   `json:"tag"`
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
	Flags  uint64 `json:"flags"`
}

func (d *v8Deserializer) readArrayBufferView(buffer []byte) (*ArrayBufferView, error) {
	_, tag, err := d.decoder.DecodeUint8()
	if err != nil {
		return nil, err
	}
	_, byteOffset, err := d.decoder.DecodeVarint()
	if err != nil {
		return nil, err
	}
	_, byteLength, err := d.decoder.DecodeVarint()
	if err != nil {
		return nil, err
	}
	var flags uint64
	if d.version >= 14 {
		if _, flags, err = d.decoder.DecodeVarint(); err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				return nil, err
			}
			flags = 0
		}
	}
	var viewBytes []byte
	if buffer != nil && byteOffset+byteLength <= uint64(len(buffer)) {
		viewBytes = buffer[byteOffset : byteOffset+byteLength]
	} else {
		viewBytes = buffer
	}
	return &ArrayBufferView{
		Buffer: viewBytes,
		Tag:    tag,
		Offset: byteOffset,
		Length: byteLength,
		Flags:  flags,
	}, nil
}
