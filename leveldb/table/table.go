// Package table reads LevelDB sorted-table (.ldb/.sst) files.
package table

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/wsaults/comms-assistant/leveldb/common"
)

// Constants from the LevelDB table format specification.
const (
	BlockTrailerSize            = 5
	PackedSequenceAndTypeLength = 8
	BlockRestartEntryLength     = 4
	TableFooterSize             = 48
)

var tableMagic = []byte{0x57, 0xfb, 0x80, 0x8b, 0x24, 0x75, 0x47, 0xdb}

// Block compression types, from the first trailer byte.
const (
	NoCompression byte = 0x0
	Snappy        byte = 0x1
	Zstd          byte = 0x4
)

// Block is one raw block plus its trailer.
type Block struct {
	Offset      int64
	BlockOffset int64
	Data        []byte
	Trailer     []byte
}

func (b *Block) buffer() ([]byte, error) {
	if len(b.Trailer) == 0 {
		return b.Data, nil
	}
	switch b.Trailer[0] {
	case Snappy:
		return snappy.Decode(nil, b.Data)
	case Zstd:
		reader, err := zstd.NewReader(bytes.NewReader(b.Data))
		if err != nil {
			return nil, err
		}
		defer reader.Close()
		return io.ReadAll(reader)
	default:
		return b.Data, nil
	}
}

// GetRecords decodes every key/value entry in the block, reconstructing
// prefix-compressed keys through the restart array.
func (b *Block) GetRecords() ([]common.KeyValueRecord, error) {
	buffer, err := b.buffer()
	if err != nil {
		return nil, fmt.Errorf("decompress block at %d: %w", b.BlockOffset, err)
	}

	if len(buffer) < BlockRestartEntryLength {
		return nil, nil
	}

	numRestarts := binary.LittleEndian.Uint32(buffer[len(buffer)-BlockRestartEntryLength:])
	trailerSize := (int(numRestarts) + 1) * BlockRestartEntryLength
	if trailerSize > len(buffer) {
		return nil, fmt.Errorf("block at %d has corrupt restart array (%d restarts, %d bytes)",
			b.BlockOffset, numRestarts, len(buffer))
	}

	decoder := common.NewDecoder(buffer[:len(buffer)-trailerSize])
	var records []common.KeyValueRecord
	var sharedKey []byte
	for decoder.Remaining() > 0 {
		record, newSharedKey, err := decodeKeyValueRecord(decoder, b.BlockOffset, sharedKey)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return records, fmt.Errorf("corrupt entry in block at %d: %w", b.BlockOffset, err)
		}
		records = append(records, record)
		sharedKey = newSharedKey
	}
	return records, nil
}

func decodeKeyValueRecord(decoder *common.Decoder, blockOffset int64, sharedKey []byte) (common.KeyValueRecord, []byte, error) {
	offset, sharedBytes, err := decoder.DecodeVarint()
	if err != nil {
		return common.KeyValueRecord{}, nil, err
	}
	_, unsharedBytes, err := decoder.DecodeVarint()
	if err != nil {
		return common.KeyValueRecord{}, nil, err
	}
	_, valueLength, err := decoder.DecodeVarint()
	if err != nil {
		return common.KeyValueRecord{}, nil, err
	}
	_, keyDelta, err := decoder.ReadBytes(int(unsharedBytes))
	if err != nil {
		return common.KeyValueRecord{}, nil, err
	}
	_, value, err := decoder.ReadBytes(int(valueLength))
	if err != nil {
		return common.KeyValueRecord{}, nil, err
	}

	if sharedBytes > uint64(len(sharedKey)) {
		return common.KeyValueRecord{}, nil, fmt.Errorf("shared prefix %d exceeds previous key length %d", sharedBytes, len(sharedKey))
	}
	newSharedKey := make([]byte, 0, int(sharedBytes)+len(keyDelta))
	newSharedKey = append(newSharedKey, sharedKey[:sharedBytes]...)
	newSharedKey = append(newSharedKey, keyDelta...)

	if len(newSharedKey) < PackedSequenceAndTypeLength {
		return common.KeyValueRecord{}, nil, fmt.Errorf("internal key too short: %d bytes", len(newSharedKey))
	}

	key := newSharedKey[:len(newSharedKey)-PackedSequenceAndTypeLength]
	sequenceAndType := binary.LittleEndian.Uint64(newSharedKey[len(newSharedKey)-PackedSequenceAndTypeLength:])

	return common.KeyValueRecord{
		Offset:         offset + blockOffset,
		Key:            key,
		Value:          value,
		SequenceNumber: sequenceAndType >> 8,
		RecordType:     byte(sequenceAndType & 0xff),
	}, newSharedKey, nil
}

// BlockHandle locates a block within the table file.
type BlockHandle struct {
	Offset      int64
	BlockOffset int64
	Length      int
}

func decodeBlockHandle(decoder *common.Decoder, baseOffset int64) (BlockHandle, error) {
	offset, blockOffset, err := decoder.DecodeVarint()
	if err != nil {
		return BlockHandle{}, err
	}
	_, length, err := decoder.DecodeVarint()
	if err != nil {
		return BlockHandle{}, err
	}
	return BlockHandle{
		Offset:      offset + baseOffset,
		BlockOffset: int64(blockOffset),
		Length:      int(length),
	}, nil
}

func (bh *BlockHandle) load(f *os.File) (Block, error) {
	data := make([]byte, bh.Length)
	if _, err := f.ReadAt(data, bh.BlockOffset); err != nil {
		return Block{}, fmt.Errorf("could not read block data: %w", err)
	}
	trailer := make([]byte, BlockTrailerSize)
	if _, err := f.ReadAt(trailer, bh.BlockOffset+int64(bh.Length)); err != nil && err != io.EOF {
		return Block{}, fmt.Errorf("could not read block trailer: %w", err)
	}
	return Block{
		Offset:      bh.Offset,
		BlockOffset: bh.BlockOffset,
		Data:        data,
		Trailer:     trailer,
	}, nil
}

// FileReader reads every key/value record from one table file.
type FileReader struct {
	filename   string
	indexBlock Block
}

// NewFileReader validates the footer magic and loads the index block.
func NewFileReader(filename string) (*FileReader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	fileSize := stat.Size()
	if fileSize < TableFooterSize {
		return nil, fmt.Errorf("%s too small for a table footer", filename)
	}

	magic := make([]byte, len(tableMagic))
	if _, err := f.ReadAt(magic, fileSize-int64(len(tableMagic))); err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, tableMagic) {
		return nil, fmt.Errorf("invalid table magic in %s", filename)
	}

	footer := make([]byte, TableFooterSize)
	if _, err := f.ReadAt(footer, fileSize-TableFooterSize); err != nil {
		return nil, err
	}
	footerDecoder := common.NewDecoder(footer)
	if _, err := decodeBlockHandle(footerDecoder, 0); err != nil { // metaindex, unused
		return nil, fmt.Errorf("decode metaindex handle: %w", err)
	}
	indexHandle, err := decodeBlockHandle(footerDecoder, 0)
	if err != nil {
		return nil, fmt.Errorf("decode index handle: %w", err)
	}
	indexBlock, err := indexHandle.load(f)
	if err != nil {
		return nil, fmt.Errorf("load index block: %w", err)
	}

	return &FileReader{filename: filename, indexBlock: indexBlock}, nil
}

// GetKeyValueRecords walks the index block and decodes every data block.
func (fr *FileReader) GetKeyValueRecords() ([]common.KeyValueRecord, error) {
	f, err := os.Open(fr.filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	indexRecords, err := fr.indexBlock.GetRecords()
	if err != nil {
		return nil, fmt.Errorf("decode index block: %w", err)
	}

	var allRecords []common.KeyValueRecord
	for _, indexRecord := range indexRecords {
		handleDecoder := common.NewDecoder(indexRecord.Value)
		blockHandle, err := decodeBlockHandle(handleDecoder, indexRecord.Offset)
		if err != nil {
			return allRecords, fmt.Errorf("decode block handle: %w", err)
		}
		dataBlock, err := blockHandle.load(f)
		if err != nil {
			return allRecords, fmt.Errorf("load data block: %w", err)
		}
		dataRecords, err := dataBlock.GetRecords()
		if err != nil {
			return allRecords, err
		}
		allRecords = append(allRecords, dataRecords...)
	}
	return allRecords, nil
}
