package table

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func internalKey(userKey string, sequenceNumber uint64, recordType byte) []byte {
	key := []byte(userKey)
	return binary.LittleEndian.AppendUint64(key, sequenceNumber<<8|uint64(recordType))
}

func appendEntry(buf []byte, shared int, keyDelta, value []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(shared))
	buf = binary.AppendUvarint(buf, uint64(len(keyDelta)))
	buf = binary.AppendUvarint(buf, uint64(len(value)))
	buf = append(buf, keyDelta...)
	return append(buf, value...)
}

// buildBlock appends a single-restart trailer to the entry data.
func buildBlock(entries []byte) []byte {
	block := append([]byte(nil), entries...)
	block = binary.LittleEndian.AppendUint32(block, 0) // restart offset
	return binary.LittleEndian.AppendUint32(block, 1) // restart count
}

func twoEntryBlock() []byte {
	k1 := internalKey("apple", 10, 1)
	k2 := internalKey("apricot", 11, 1)
	entries := appendEntry(nil, 0, k1, []byte("red"))
	entries = appendEntry(entries, 2, k2[2:], []byte("orange"))
	return buildBlock(entries)
}

func TestBlockGetRecords(t *testing.T) {
	block := Block{
		Data:    twoEntryBlock(),
		Trailer: []byte{NoCompression, 0, 0, 0, 0},
	}
	records, err := block.GetRecords()
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, []byte("apple"), records[0].Key)
	assert.Equal(t, []byte("red"), records[0].Value)
	assert.Equal(t, uint64(10), records[0].SequenceNumber)
	assert.Equal(t, byte(1), records[0].RecordType)

	// The second key shares its "ap" prefix with the first.
	assert.Equal(t, []byte("apricot"), records[1].Key)
	assert.Equal(t, []byte("orange"), records[1].Value)
	assert.Equal(t, uint64(11), records[1].SequenceNumber)
}

func TestBlockGetRecordsSnappy(t *testing.T) {
	block := Block{
		Data:    snappy.Encode(nil, twoEntryBlock()),
		Trailer: []byte{Snappy, 0, 0, 0, 0},
	}
	records, err := block.GetRecords()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []byte("apricot"), records[1].Key)
}

func TestBlockCorruptRestartArray(t *testing.T) {
	data := binary.LittleEndian.AppendUint32(nil, 0xffff) // absurd restart count
	block := Block{Data: data, Trailer: []byte{NoCompression, 0, 0, 0, 0}}
	_, err := block.GetRecords()
	assert.Error(t, err)
}

func TestBlockSharedPrefixWithoutPredecessor(t *testing.T) {
	// First entry claims shared bytes it has no previous key to share.
	entries := appendEntry(nil, 3, internalKey("key", 1, 1), []byte("v"))
	block := Block{Data: buildBlock(entries), Trailer: []byte{NoCompression, 0, 0, 0, 0}}
	_, err := block.GetRecords()
	assert.Error(t, err)
}

// writeTableFile lays out a minimal table: one data block, an index block
// pointing at it, and a footer.
func writeTableFile(t *testing.T) string {
	t.Helper()

	dataBlock := twoEntryBlock()
	var f []byte
	f = append(f, dataBlock...)
	f = append(f, NoCompression, 0, 0, 0, 0)

	indexOffset := len(f)
	indexEntries := appendEntry(nil, 0, internalKey("apricot", 11, 1),
		binary.AppendUvarint(binary.AppendUvarint(nil, 0), uint64(len(dataBlock))))
	indexBlock := buildBlock(indexEntries)
	f = append(f, indexBlock...)
	f = append(f, NoCompression, 0, 0, 0, 0)

	footer := binary.AppendUvarint(nil, 0) // metaindex handle, unused
	footer = binary.AppendUvarint(footer, 0)
	footer = binary.AppendUvarint(footer, uint64(indexOffset))
	footer = binary.AppendUvarint(footer, uint64(len(indexBlock)))
	for len(footer) < TableFooterSize-len(tableMagic) {
		footer = append(footer, 0)
	}
	footer = append(footer, tableMagic...)
	f = append(f, footer...)

	path := filepath.Join(t.TempDir(), "000005.ldb")
	require.NoError(t, os.WriteFile(path, f, 0o644))
	return path
}

func TestFileReaderRoundTrip(t *testing.T) {
	path := writeTableFile(t)

	reader, err := NewFileReader(path)
	require.NoError(t, err)

	records, err := reader.GetKeyValueRecords()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []byte("apple"), records[0].Key)
	assert.Equal(t, []byte("apricot"), records[1].Key)
}

func TestFileReaderRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.ldb")
	require.NoError(t, os.WriteFile(path, make([]byte, TableFooterSize), 0o644))
	_, err := NewFileReader(path)
	assert.Error(t, err)
}
