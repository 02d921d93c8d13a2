package blockstorage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"hash/crc32"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// checksum computes the CRC32C (Castagnoli) over (parent_hash, height,
// merkle_root, state_root).
func checksum(parent Hash, height uint64, merkleRoot, stateRoot Hash) uint32 {
	buf := make([]byte, 0, 32+8+32+32)
	buf = append(buf, parent[:]...)
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], height)
	buf = append(buf, h[:]...)
	buf = append(buf, merkleRoot[:]...)
	buf = append(buf, stateRoot[:]...)
	return crc32.Checksum(buf, crc32cTable)
}

// encodeStoredBlock serializes b deterministically via gob; the module's
// only binary format need, with no wire-compatibility requirement across
// versions, so the standard library encoder is the straightforward choice
// (see DESIGN.md).
func encodeStoredBlock(b StoredBlock) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeStoredBlock(data []byte) (StoredBlock, error) {
	var b StoredBlock
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return StoredBlock{}, err
	}
	return b, nil
}

func blockKey(hash Hash) []byte {
	return append([]byte("block/"), hash[:]...)
}

func heightKey(height uint64) []byte {
	key := make([]byte, len("height/")+8)
	copy(key, "height/")
	binary.BigEndian.PutUint64(key[len("height/"):], height)
	return key
}

func txKey(txHash []byte) []byte {
	return append([]byte("tx/"), txHash...)
}

func metaKey() []byte {
	return []byte("meta")
}

func encodeMetadata(m Metadata) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeMetadata(data []byte) (Metadata, error) {
	var m Metadata
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

func encodeTxLocation(loc TransactionLocation) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(loc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeTxLocation(data []byte) (TransactionLocation, error) {
	var loc TransactionLocation
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&loc); err != nil {
		return TransactionLocation{}, err
	}
	return loc, nil
}
