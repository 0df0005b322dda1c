package apply

import (
	"encoding/binary"
	"fmt"

	"github.com/diva-network/divachain/store"
)

const (
	prefixDataEntry  = "data:"  // data:<namespace>\x00<height:8 BE><seq:4 BE> -> raw bytes
	prefixDataLatest = "dataL:" // dataL:<namespace> -> raw bytes of the most recent entry
)

// DataStore persists DataCommand blobs under their namespace, keyed so a
// namespace's full history can be range-scanned and its latest value read
// in O(1). Backed by the same store.DB the block store itself uses.
type DataStore struct {
	db store.DB
}

// NewDataStore wraps db for namespaced blob storage.
func NewDataStore(db store.DB) *DataStore {
	return &DataStore{db: db}
}

func entryKey(namespace string, height uint64, seq uint32) []byte {
	k := make([]byte, 0, len(prefixDataEntry)+len(namespace)+1+8+4)
	k = append(k, prefixDataEntry...)
	k = append(k, namespace...)
	k = append(k, 0)
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], height)
	k = append(k, h[:]...)
	var s [4]byte
	binary.BigEndian.PutUint32(s[:], seq)
	k = append(k, s[:]...)
	return k
}

func latestKey(namespace string) []byte {
	return append([]byte(prefixDataLatest), namespace...)
}

// Put persists data under namespace at (height, seq) and updates the
// namespace's latest-value pointer.
func (d *DataStore) Put(namespace string, height uint64, seq uint32, data []byte) error {
	batch := d.db.NewBatch()
	batch.Set(entryKey(namespace, height, seq), data)
	batch.Set(latestKey(namespace), data)
	if err := batch.Write(); err != nil {
		return fmt.Errorf("datastore: put %s: %w", namespace, err)
	}
	return nil
}

// Latest returns the most recently written value for namespace.
func (d *DataStore) Latest(namespace string) ([]byte, error) {
	v, err := d.db.Get(latestKey(namespace))
	if err != nil {
		return nil, fmt.Errorf("datastore: latest %s: %w", namespace, err)
	}
	return v, nil
}

// Namespaces lists every namespace that has ever received a Put, by
// scanning the latest-value index.
func (d *DataStore) Namespaces() ([]string, error) {
	it := d.db.NewIterator([]byte(prefixDataLatest))
	defer it.Release()
	var out []string
	for it.Next() {
		out = append(out, string(it.Key()[len(prefixDataLatest):]))
	}
	return out, it.Error()
}
