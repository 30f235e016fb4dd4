package chromium

// KeyPrefixType classifies what a record key addresses within the shared
// LevelDB instance.
type KeyPrefixType int

const (
	GlobalMetadata   KeyPrefixType = 0
	DatabaseMetadata KeyPrefixType = 1
	ObjectStoreData  KeyPrefixType = 2
	ExistsEntry      KeyPrefixType = 3
	IndexData        KeyPrefixType = 4
	InvalidType      KeyPrefixType = 5
	BlobEntry        KeyPrefixType = 6
)

// V8SerializationTag identifies one field in the structured-clone stream.
type V8SerializationTag byte

const (
	V8VersionTag         V8SerializationTag = 0xFF
	V8Padding            V8SerializationTag = '\000'
	V8VerifyObjectCount  V8SerializationTag = '?'
	V8TheHole            V8SerializationTag = '-'
	V8Undefined          V8SerializationTag = '_'
	V8Null               V8SerializationTag = '0'
	V8True               V8SerializationTag = 'T'
	V8False              V8SerializationTag = 'F'
	V8Int32              V8SerializationTag = 'I'
	V8Uint32             V8SerializationTag = 'U'
	V8Double             V8SerializationTag = 'N'
	V8BigInt             V8SerializationTag = 'Z'
	V8UTF8String         V8SerializationTag = 'S'
	V8OneByteString      V8SerializationTag = '"'
	V8TwoByteString      V8SerializationTag = 'c'
	V8ObjectReference    V8SerializationTag = '^'
	V8BeginJSObject      V8SerializationTag = 'o'
	V8EndJSObject        V8SerializationTag = '{'
	V8BeginSparseJSArray V8SerializationTag = 'a'
	V8EndSparseJSArray   V8SerializationTag = '@'
	V8BeginDenseJSArray  V8SerializationTag = 'A'
	V8EndDenseJSArray    V8SerializationTag = '$'
	V8Date               V8SerializationTag = 'D'
	V8TrueObject         V8SerializationTag = 'y'
	V8FalseObject        V8SerializationTag = 'x'
	V8NumberObject       V8SerializationTag = 'n'
	V8BigIntObject       V8SerializationTag = 'z'
	V8StringObject       V8SerializationTag = 's'
	V8RegExp             V8SerializationTag = 'R'
	V8BeginJSMap         V8SerializationTag = ';'
	V8EndJSMap           V8SerializationTag = ':'
	V8BeginJSSet         V8SerializationTag = '\''
	V8EndJSSet           V8SerializationTag = ','
	V8ArrayBuffer        V8SerializationTag = 'B'
	V8ArrayBufferViewTag V8SerializationTag = 'V'
	V8SharedArrayBuffer  V8SerializationTag = 'u'
	V8HostObject         V8SerializationTag = '\\'
)

// GlobalMetadataKeyType defines keys scoped to the whole origin.
type GlobalMetadataKeyType byte

const (
	SchemaVersion GlobalMetadataKeyType = 0
	MaxDatabaseID GlobalMetadataKeyType = 1
	DataVersion   GlobalMetadataKeyType = 2
	DatabaseName  GlobalMetadataKeyType = 201
)

// IDBKeyType is the data type of one user-key component.
type IDBKeyType byte

const (
	IDBKeyNull   IDBKeyType = 0
	IDBKeyString IDBKeyType = 1
	IDBKeyDate   IDBKeyType = 2
	IDBKeyNumber IDBKeyType = 3
	IDBKeyArray  IDBKeyType = 4
	IDBKeyMinKey IDBKeyType = 5
	IDBKeyBinary IDBKeyType = 6
)

// Object-store value envelope markers.
const (
	RequiresProcessingSSVPseudoVersion = 0x11
	ReplaceWithBlob                    = 0x01
	CompressedWithSnappy               = 0x02
)

// BlinkSerializationTag represents tags in the Blink envelope that wraps
// the V8 payload.
type BlinkSerializationTag byte

const (
	BlinkVersionTag    BlinkSerializationTag = 0xFF
	BlinkBlob          BlinkSerializationTag = 'B'
	BlinkFile          BlinkSerializationTag = 'F'
	BlinkTrailerOffset BlinkSerializationTag = 0xFE
)
