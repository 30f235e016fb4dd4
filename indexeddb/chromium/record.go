// Package chromium parses the composite key layout and structured-clone
// value encoding Chromium's IndexedDB backing store writes into LevelDB.
// All format knowledge lives here; callers only see decoded trees.
package chromium

import (
	"errors"
	"fmt"
	"time"

	"github.com/wsaults/comms-assistant/leveldb/common"
)

// IndexedDBKey is a parsed key of any record type.
type IndexedDBKey interface {
	ParseValue(valueBytes []byte) (any, error)
	GetKeyPrefix() *KeyPrefix
}

// BaseKey carries the prefix common to every key type.
type BaseKey struct {
	Prefix *KeyPrefix `json:"key_prefix"`
}

func (b *BaseKey) GetKeyPrefix() *KeyPrefix { return b.Prefix }

// KeyPrefix is the (database, object store, index) triple every key starts
// with. Database ids number the logical IndexedDB databases sharing this
// LevelDB instance.
type KeyPrefix struct {
	DatabaseID    int `json:"database_id"`
	ObjectStoreID int `json:"object_store_id"`
	IndexID       int `json:"index_id"`
}

// GetKeyPrefixType classifies the key from its id pattern.
func (kp *KeyPrefix) GetKeyPrefixType() (KeyPrefixType, error) {
	if kp.DatabaseID == 0 {
		return GlobalMetadata, nil
	}
	if kp.ObjectStoreID == 0 {
		return DatabaseMetadata, nil
	}
	switch kp.IndexID {
	case 1:
		return ObjectStoreData, nil
	case 2:
		return ExistsEntry, nil
	case 3:
		return BlobEntry, nil
	}
	if kp.IndexID >= 30 {
		return IndexData, nil
	}
	return InvalidType, fmt.Errorf("unknown key prefix type (index_id=%d)", kp.IndexID)
}

// DecodeKeyPrefix parses the packed-width prefix: one byte encodes the byte
// widths of the three ids that follow.
func DecodeKeyPrefix(decoder *common.Decoder) (*KeyPrefix, error) {
	_, widths, err := decoder.DecodeUint8()
	if err != nil {
		return nil, fmt.Errorf("read key prefix byte: %w", err)
	}

	dbIDLen := int(widths&0xE0>>5) + 1
	objStoreIDLen := int(widths&0x1C>>2) + 1
	indexIDLen := int(widths&0x03) + 1
	if indexIDLen > 4 {
		return nil, errors.New("invalid id widths in key prefix")
	}

	_, dbID, err := decoder.DecodeInt(dbIDLen)
	if err != nil {
		return nil, err
	}
	_, objStoreID, err := decoder.DecodeInt(objStoreIDLen)
	if err != nil {
		return nil, err
	}
	_, indexID, err := decoder.DecodeInt(indexIDLen)
	if err != nil {
		return nil, err
	}

	return &KeyPrefix{
		DatabaseID:    int(dbID),
		ObjectStoreID: int(objStoreID),
		IndexID:       int(indexID),
	}, nil
}

// ObjectStoreDataKey addresses one object in an object store.
type ObjectStoreDataKey struct {
	BaseKey
	UserKey IDBKey `json:"user_key"`
}

func (k *ObjectStoreDataKey) ParseValue(valueBytes []byte) (any, error) {
	return ParseObjectStoreDataValue(valueBytes)
}

// DatabaseNameKey maps an origin and database name to its numeric id.
type DatabaseNameKey struct {
	BaseKey
	Origin       string `json:"origin"`
	DatabaseName string `json:"database_name"`
}

func (k *DatabaseNameKey) ParseValue(valueBytes []byte) (any, error) {
	if len(valueBytes) == 0 {
		return nil, nil
	}
	decoder := common.NewDecoder(valueBytes)
	_, val, err := decoder.DecodeVarint()
	if err != nil {
		// Truncated metadata values are not worth failing a record over.
		return nil, nil
	}
	return val, nil
}

// GenericKey covers metadata keys whose details the pipeline never needs.
type GenericKey struct {
	BaseKey
	KeyType string `json:"key_type"`
	Details any    `json:"details,omitempty"`
}

func (k *GenericKey) ParseValue(valueBytes []byte) (any, error) {
	return fmt.Sprintf("raw:%x", valueBytes), nil
}

// IDBKey is one decoded component of the user key.
type IDBKey struct {
	Type  IDBKeyType `json:"type"`
	Value any        `json:"value"`
}

func decodeIDBKey(decoder *common.Decoder) (IDBKey, error) {
	_, typeByte, err := decoder.DecodeUint8()
	if err != nil {
		return IDBKey{}, err
	}
	keyType := IDBKeyType(typeByte)
	var value any

	switch keyType {
	case IDBKeyNull, IDBKeyMinKey:
		value = nil
	case IDBKeyString:
		_, val, err := decoder.DecodeUTF16StringWithCodeUnitCount()
		if err != nil {
			return IDBKey{}, err
		}
		value = val
	case IDBKeyDate:
		_, ms, err := decoder.DecodeDouble()
		if err != nil {
			return IDBKey{}, err
		}
		value = time.UnixMilli(int64(ms)).UTC()
	case IDBKeyNumber:
		_, val, err := decoder.DecodeDouble()
		if err != nil {
			return IDBKey{}, err
		}
		value = val
	case IDBKeyArray:
		_, length, err := decoder.DecodeVarint()
		if err != nil {
			return IDBKey{}, err
		}
		if length > uint64(decoder.Remaining()) {
			return IDBKey{}, fmt.Errorf("key array length %d exceeds remaining data", length)
		}
		arr := make([]IDBKey, length)
		for i := range arr {
			arr[i], err = decodeIDBKey(decoder)
			if err != nil {
				return IDBKey{}, err
			}
		}
		value = arr
	case IDBKeyBinary:
		_, val, err := decoder.DecodeBlobWithLength()
		if err != nil {
			return IDBKey{}, err
		}
		value = val
	default:
		return IDBKey{}, fmt.Errorf("unsupported IDBKeyType: %d", keyType)
	}

	return IDBKey{Type: keyType, Value: value}, nil
}

// ParseKey decodes a raw LevelDB key into a typed IndexedDB key.
func ParseKey(keyBytes []byte) (IndexedDBKey, error) {
	if len(keyBytes) == 0 {
		return nil, errors.New("cannot parse an empty key")
	}

	decoder := common.NewDecoder(keyBytes)
	prefix, err := DecodeKeyPrefix(decoder)
	if err != nil {
		return nil, fmt.Errorf("decode key prefix: %w", err)
	}
	baseKey := BaseKey{Prefix: prefix}

	// Prefix-only keys act as markers; nothing further to decode.
	if decoder.Remaining() == 0 {
		keyType, _ := prefix.GetKeyPrefixType()
		return &GenericKey{BaseKey: baseKey, KeyType: fmt.Sprintf("%v (prefix only)", keyType)}, nil
	}

	keyType, err := prefix.GetKeyPrefixType()
	if err != nil {
		return nil, err
	}

	switch keyType {
	case GlobalMetadata:
		peeked, err := decoder.Peek(1)
		if err != nil || len(peeked) == 0 {
			return &GenericKey{BaseKey: baseKey, KeyType: "GlobalMetadata"}, nil
		}
		metaType := GlobalMetadataKeyType(peeked[0])
		if metaType == DatabaseName {
			decoder.DecodeUint8()
			_, origin, errOrigin := decoder.DecodeUTF16StringWithCodeUnitCount()
			_, dbName, errDBName := decoder.DecodeUTF16StringWithCodeUnitCount()
			if errOrigin != nil || errDBName != nil {
				return nil, fmt.Errorf("decode database name key: origin=%v name=%v", errOrigin, errDBName)
			}
			return &DatabaseNameKey{BaseKey: baseKey, Origin: origin, DatabaseName: dbName}, nil
		}
		return &GenericKey{BaseKey: baseKey, KeyType: fmt.Sprintf("GlobalMetadata (type %d)", metaType)}, nil

	case DatabaseMetadata:
		return &GenericKey{BaseKey: baseKey, KeyType: "DatabaseMetadata"}, nil

	case ObjectStoreData, BlobEntry, ExistsEntry, IndexData:
		userKey, err := decodeIDBKey(decoder)
		if err != nil {
			return nil, fmt.Errorf("decode user key for type %v: %w", keyType, err)
		}
		if keyType == ObjectStoreData {
			return &ObjectStoreDataKey{BaseKey: baseKey, UserKey: userKey}, nil
		}
		return &GenericKey{BaseKey: baseKey, KeyType: "DataEntry", Details: userKey}, nil

	default:
		return nil, fmt.Errorf("invalid key type %v", keyType)
	}
}
