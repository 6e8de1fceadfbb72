package devsim

import (
	"bytes"
	"strings"

	badger "github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"
)

// errKeyNotFound is returned by Store.Get for absent keys.
var errKeyNotFound = errors.New("key not found")

const keySep = "\x00"

func objectKey(node, list, key string) []byte {
	return []byte(node + keySep + list + keySep + key)
}

func listPrefix(node, list string) []byte {
	return []byte(node + keySep + list + keySep)
}

func nodePrefix(node string) []byte {
	return []byte(node + keySep)
}

// Store is the simulator datastore: one badger key per device object,
// laid out node/list/key.
type Store struct {
	db *badger.DB
}

// OpenStore opens an in-memory store when dirPath is empty, or a persistent
// one rooted at dirPath.
func OpenStore(dirPath string) (*Store, error) {
	var opts badger.Options
	if dirPath == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dirPath).WithSyncWrites(false).WithTruncate(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.WithMessage(err, "could not open simulator datastore")
	}
	return &Store{db: db}, nil
}

// Get returns a copy of the stored value.
func (s *Store) Get(node, list, key string) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(objectKey(node, list, key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, errKeyNotFound
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "get %s/%s/%s", node, list, key)
	}
	return val, nil
}

// Put stores value under node/list/key and returns the previous value, if any.
func (s *Store) Put(node, list, key string, value []byte) (prev []byte, err error) {
	err = s.db.Update(func(txn *badger.Txn) error {
		k := objectKey(node, list, key)
		item, err := txn.Get(k)
		switch {
		case err == nil:
			if prev, err = item.ValueCopy(nil); err != nil {
				return err
			}
		case err != badger.ErrKeyNotFound:
			return err
		}
		return txn.Set(k, value)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "put %s/%s/%s", node, list, key)
	}
	return prev, nil
}

// Delete removes node/list/key and returns the removed value.
func (s *Store) Delete(node, list, key string) ([]byte, error) {
	var prev []byte
	err := s.db.Update(func(txn *badger.Txn) error {
		k := objectKey(node, list, key)
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		if prev, err = item.ValueCopy(nil); err != nil {
			return err
		}
		return txn.Delete(k)
	})
	if err == badger.ErrKeyNotFound {
		return nil, errKeyNotFound
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "delete %s/%s/%s", node, list, key)
	}
	return prev, nil
}

// List returns every value of node/list in key order.
func (s *Store) List(node, list string) ([][]byte, error) {
	var out [][]byte
	prefix := listPrefix(node, list)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "list %s/%s", node, list)
	}
	return out, nil
}

// Nodes returns the ids of all nodes holding at least one object.
func (s *Store) Nodes() ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			i := bytes.Index(k, []byte(keySep))
			if i < 0 {
				continue
			}
			node := string(k[:i])
			if !seen[node] {
				seen[node] = true
				out = append(out, node)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithMessage(err, "list nodes")
	}
	return out, nil
}

// DropNode removes every object of node.
func (s *Store) DropNode(node string) error {
	if strings.Contains(node, keySep) {
		return errors.Errorf("invalid node id %q", node)
	}
	prefix := nodePrefix(node)
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.WithMessagef(err, "drop %s", node)
}

// Close releases the datastore.
func (s *Store) Close() error {
	return s.db.Close()
}
