// Package log reads LevelDB write-ahead log (.log) files.
package log

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"

	zlog "github.com/rs/zerolog/log"

	"github.com/wsaults/comms-assistant/leveldb/common"
)

// Constants from the LevelDB log format specification.
const (
	BlockSize            = 32768
	PhysicalHeaderLength = 7
)

// Physical record types.
const (
	TypeFull   byte = 1
	TypeFirst  byte = 2
	TypeMiddle byte = 3
	TypeLast   byte = 4
)

// Internal record types.
const (
	TypeDeletion byte = 0x00
	TypeValue    byte = 0x01
)

// PhysicalRecord is one checksummed fragment inside a 32 KiB block.
type PhysicalRecord struct {
	Offset         int64
	Checksum       uint32
	Length         uint16
	RecordType     byte
	Contents       []byte
	ContentsOffset int64
	Recovered      bool
}

// WriteBatch is a decoded group of internal keys sharing a base sequence
// number.
type WriteBatch struct {
	Offset         int64
	SequenceNumber uint64
	Count          uint32
	Records        []common.ParsedInternalKey
	Recovered      bool
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// LevelDB stores CRCs masked so that checksums of data containing embedded
// CRCs do not degrade.
func mask(crc uint32) uint32 {
	return ((crc >> 15) | (crc << 17)) + 0xa282ead8
}

func unmask(masked uint32) uint32 {
	crc := masked - 0xa282ead8
	return (crc >> 17) | (crc << 15)
}

// MaskedChecksum computes the masked CRC the log format stores for a record
// type byte plus contents. Exported for fixture construction in tests.
func MaskedChecksum(recordType byte, contents []byte) uint32 {
	return mask(crc32.Checksum(append([]byte{recordType}, contents...), crcTable))
}

// FileReader reads every recoverable internal key from one .log file.
type FileReader struct {
	filename      string
	corruptBlocks int
}

func NewFileReader(filename string) *FileReader {
	return &FileReader{filename: filename}
}

// CorruptSegments reports how many blocks or batches were skipped or only
// partially recovered during the last GetParsedInternalKeys call.
func (fr *FileReader) CorruptSegments() int { return fr.corruptBlocks }

// GetParsedInternalKeys decodes the whole file, flattening write batches
// into individual keys. Corrupt fragments are skipped, not fatal.
func (fr *FileReader) GetParsedInternalKeys() ([]common.ParsedInternalKey, error) {
	batches, err := fr.getWriteBatches()
	if err != nil {
		return nil, err
	}
	var keys []common.ParsedInternalKey
	for _, batch := range batches {
		for i := range batch.Records {
			batch.Records[i].Recovered = batch.Recovered
			keys = append(keys, batch.Records[i])
		}
	}
	return keys, nil
}

func (fr *FileReader) getWriteBatches() ([]*WriteBatch, error) {
	physicalRecords, err := fr.getPhysicalRecords()
	if err != nil {
		return nil, err
	}

	var batches []*WriteBatch
	var buffer []byte
	var firstRecordOffset int64 = -1

	// A batch that never saw its TypeLast fragment is still decoded
	// best-effort; live writers leave trailing partial batches routinely.
	flushPartial := func(reason string) {
		if buffer == nil {
			return
		}
		zlog.Debug().Str("file", fr.filename).Int64("offset", firstRecordOffset).
			Str("reason", reason).Msg("recovering incomplete write batch")
		batch, err := decodeWriteBatch(buffer, firstRecordOffset)
		if err != nil {
			fr.corruptBlocks++
			zlog.Warn().Str("file", fr.filename).Int64("offset", firstRecordOffset).
				Err(err).Msg("could not recover incomplete write batch")
		} else {
			batch.Recovered = true
			batches = append(batches, batch)
		}
		buffer = nil
		firstRecordOffset = -1
	}

	for _, rec := range physicalRecords {
		switch rec.RecordType {
		case TypeFull:
			flushPartial("full record interrupted open batch")
			batch, err := decodeWriteBatch(rec.Contents, rec.ContentsOffset)
			if err != nil {
				fr.corruptBlocks++
				zlog.Warn().Str("file", fr.filename).Int64("offset", rec.ContentsOffset).
					Err(err).Msg("skipping undecodable write batch")
				continue
			}
			if rec.Recovered {
				batch.Recovered = true
			}
			batches = append(batches, batch)
		case TypeFirst:
			flushPartial("first record interrupted open batch")
			buffer = append([]byte(nil), rec.Contents...)
			firstRecordOffset = rec.ContentsOffset
		case TypeMiddle:
			if buffer == nil {
				fr.corruptBlocks++
				zlog.Warn().Str("file", fr.filename).Int64("offset", rec.ContentsOffset).
					Msg("middle fragment without a first fragment")
				continue
			}
			buffer = append(buffer, rec.Contents...)
		case TypeLast:
			if buffer == nil {
				fr.corruptBlocks++
				zlog.Warn().Str("file", fr.filename).Int64("offset", rec.ContentsOffset).
					Msg("last fragment without a first fragment")
				continue
			}
			buffer = append(buffer, rec.Contents...)
			batch, err := decodeWriteBatch(buffer, firstRecordOffset)
			buffer = nil
			if err != nil {
				fr.corruptBlocks++
				zlog.Warn().Str("file", fr.filename).Int64("offset", firstRecordOffset).
					Err(err).Msg("skipping undecodable multi-part write batch")
				firstRecordOffset = -1
				continue
			}
			if rec.Recovered {
				batch.Recovered = true
			}
			batches = append(batches, batch)
			firstRecordOffset = -1
		default:
			fr.corruptBlocks++
			zlog.Warn().Str("file", fr.filename).Int64("offset", rec.ContentsOffset).
				Uint8("type", rec.RecordType).Msg("unexpected physical record type")
			flushPartial("unexpected record type interrupted open batch")
		}
	}
	flushPartial("file ended with open batch")

	return batches, nil
}

func (fr *FileReader) getPhysicalRecords() ([]*PhysicalRecord, error) {
	f, err := os.Open(fr.filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("could not stat %s: %w", fr.filename, err)
	}
	fileSize := stat.Size()

	var records []*PhysicalRecord
	var blockOffset int64

	for blockOffset < fileSize {
		bytesToRead := int64(BlockSize)
		if blockOffset+bytesToRead > fileSize {
			bytesToRead = fileSize - blockOffset
		}

		blockData := make([]byte, bytesToRead)
		n, readErr := f.ReadAt(blockData, blockOffset)
		if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
			return records, fmt.Errorf("read error at offset %d: %w", blockOffset, readErr)
		}

		if n > 0 {
			decoder := common.NewDecoder(blockData[:n])
			for {
				record, decodeErr := decodePhysicalRecord(decoder, blockOffset)
				if decodeErr != nil {
					if decodeErr != io.EOF && decodeErr != io.ErrUnexpectedEOF {
						fr.corruptBlocks++
						zlog.Warn().Str("file", fr.filename).
							Int64("offset", blockOffset+decoder.Offset()).
							Err(decodeErr).Msg("abandoning corrupt block")
					}
					break
				}
				records = append(records, record)
			}
		}
		blockOffset += bytesToRead
	}
	return records, nil
}

func decodePhysicalRecord(decoder *common.Decoder, baseOffset int64) (*PhysicalRecord, error) {
	offset, checksum, err := decoder.DecodeUint32()
	if err != nil {
		return nil, err
	}
	_, length, err := decoder.DecodeUint16()
	if err != nil {
		return nil, err
	}
	_, recordType, err := decoder.DecodeUint8()
	if err != nil {
		return nil, err
	}

	// Zero trailer: padding at the tail of a block.
	if recordType == 0 && length == 0 {
		return nil, io.EOF
	}
	if recordType == 0 && length != 0 {
		return nil, fmt.Errorf("invalid zero-type record with length %d", length)
	}

	contentsOffset, contents, err := decoder.ReadBytes(int(length))
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}

	recovered := len(contents) < int(length)
	if computed := crc32.Checksum(append([]byte{recordType}, contents...), crcTable); computed != unmask(checksum) {
		zlog.Debug().Int64("offset", baseOffset+offset).
			Uint32("computed", computed).Uint32("expected", unmask(checksum)).
			Msg("checksum mismatch, keeping record for recovery")
		recovered = true
	}

	return &PhysicalRecord{
		Offset:         offset + baseOffset,
		Checksum:       checksum,
		Length:         length,
		RecordType:     recordType,
		Contents:       contents,
		ContentsOffset: contentsOffset + baseOffset,
		Recovered:      recovered,
	}, nil
}

func decodeWriteBatch(data []byte, contentsBaseOffset int64) (*WriteBatch, error) {
	decoder := common.NewDecoder(data)

	headerOffset, sequenceNumber, err := decoder.DecodeUint64()
	if err != nil {
		return nil, fmt.Errorf("batch header sequence: %w", err)
	}
	_, count, err := decoder.DecodeUint32()
	if err != nil {
		return nil, fmt.Errorf("batch header count: %w", err)
	}

	recovered := false
	var records []common.ParsedInternalKey
	for i := uint32(0); i < count; i++ {
		keyOffset := contentsBaseOffset + decoder.Offset()

		_, recordType, err := decoder.DecodeUint8()
		if err != nil {
			recovered = true
			break
		}
		_, key, err := decoder.DecodeBlobWithLength()
		if err != nil {
			recovered = true
			break
		}
		var value []byte
		if recordType == TypeValue {
			_, value, err = decoder.DecodeBlobWithLength()
			if err != nil {
				recovered = true
				break
			}
		}

		records = append(records, common.ParsedInternalKey{
			Offset:         keyOffset,
			RecordType:     recordType,
			Key:            key,
			Value:          value,
			SequenceNumber: sequenceNumber + uint64(i),
		})
	}
	if recovered {
		zlog.Debug().Int64("offset", contentsBaseOffset).
			Int("decoded", len(records)).Uint32("expected", count).
			Msg("partial write batch recovered")
	}

	return &WriteBatch{
		Offset:         contentsBaseOffset + headerOffset,
		SequenceNumber: sequenceNumber,
		Count:          uint32(len(records)),
		Records:        records,
		Recovered:      recovered,
	}, nil
}
