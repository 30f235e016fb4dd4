package indexeddb

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsaults/comms-assistant/leveldb/log"
)

func appendBatch(data []byte, sequenceNumber uint64, keyValues map[string]string) []byte {
	batch := binary.LittleEndian.AppendUint64(nil, sequenceNumber)
	batch = binary.LittleEndian.AppendUint32(batch, uint32(len(keyValues)))
	for key, value := range keyValues {
		batch = append(batch, log.TypeValue)
		batch = binary.AppendUvarint(batch, uint64(len(key)))
		batch = append(batch, key...)
		batch = binary.AppendUvarint(batch, uint64(len(value)))
		batch = append(batch, value...)
	}
	data = binary.LittleEndian.AppendUint32(data, log.MaskedChecksum(log.TypeFull, batch))
	data = binary.LittleEndian.AppendUint16(data, uint16(len(batch)))
	data = append(data, log.TypeFull)
	return append(data, batch...)
}

func TestFolderReaderSkipsUnparseableRecords(t *testing.T) {
	// One record with a decodable key and empty value, one whose user key
	// carries a type byte no Chromium build emits.
	goodKey := string([]byte{0x00, 0x05, 0x01, 0x01, 0x03, 1, 2, 3, 4, 5, 6, 7, 8})
	badKey := string([]byte{0x00, 0x05, 0x01, 0x01, 0xfe})

	var data []byte
	data = appendBatch(data, 1, map[string]string{goodKey: ""})
	data = appendBatch(data, 2, map[string]string{badKey: ""})

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "000003.log"), data, 0o644))

	reader, err := NewFolderReader(dir)
	require.NoError(t, err)

	records, err := reader.GetLiveRecords()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, reader.SkippedRecords())
	assert.Equal(t, 0, reader.SkippedSegments())
	assert.Equal(t, 5, records[0].DatabaseID)
	assert.Equal(t, 1, records[0].ObjectStoreID)
	assert.Equal(t, uint64(1), records[0].SequenceNumber)
}

func TestNewFolderReaderRejectsUnrelatedDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("x"), 0o644))
	_, err := NewFolderReader(dir)
	assert.Error(t, err)
}
