package kv

import (
	"github.com/cockroachdb/pebble"
)

// PebbleIterator adapts a bounded pebble.Iterator to the KeyIterator
// contract, skipping keys rejected by match.
type PebbleIterator struct {
	iter  *pebble.Iterator
	match func(string) bool
}

func (i *PebbleIterator) Valid() bool {
	if i == nil || i.iter == nil {
		return false
	}
	return i.iter.Valid()
}

func (i *PebbleIterator) First() bool {
	if i == nil || i.iter == nil {
		return false
	}
	i.iter.First()
	return i.skip()
}

func (i *PebbleIterator) Next() bool {
	if !i.Valid() {
		return false
	}
	i.iter.Next()
	return i.skip()
}

func (i *PebbleIterator) skip() bool {
	for i.iter.Valid() {
		if i.match == nil || i.match(string(i.iter.Key())) {
			return true
		}
		i.iter.Next()
	}
	return false
}

func (i *PebbleIterator) Key() string {
	if !i.Valid() {
		return ""
	}
	return string(i.iter.Key())
}

func (i *PebbleIterator) Error() error {
	if i == nil || i.iter == nil {
		return nil
	}
	return i.iter.Error()
}

func (i *PebbleIterator) Close() error {
	if i == nil || i.iter == nil {
		return nil
	}
	err := i.iter.Close()
	i.iter = nil
	return err
}
