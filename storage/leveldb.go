package storage

//
// Copyright (c) 2019 ARM Limited.
//
// SPDX-License-Identifier: MIT
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to
// deal in the Software without restriction, including without limitation the
// rights to use, copy, modify, merge, publish, distribute, sublicense, and/or
// sell copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//

import (
	"sort"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	levelErrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	. "github.com/PelionIoT/pvrendezvous/logging"
)

// LevelDBIterator walks a list of ranges in order against one snapshot
type LevelDBIterator struct {
	snapshot  *leveldb.Snapshot
	current   iterator.Iterator
	ranges    []*util.Range
	prefix    []byte
	err       error
	direction int
}

func newLevelDBIterator(snapshot *leveldb.Snapshot, ranges []*util.Range, direction int) *LevelDBIterator {
	return &LevelDBIterator{snapshot: snapshot, ranges: ranges, direction: direction}
}

func (it *LevelDBIterator) Next() bool {
	for {
		if it.current == nil {
			if len(it.ranges) == 0 {
				return false
			}

			it.prefix = it.ranges[0].Start
			it.current = it.snapshot.NewIterator(it.ranges[0], nil)
			it.ranges = it.ranges[1:]

			if it.direction == BACKWARD {
				if it.current.Last() {
					return true
				}
			} else if it.current.Next() {
				return true
			}
		} else if it.direction == BACKWARD {
			if it.current.Prev() {
				return true
			}
		} else if it.current.Next() {
			return true
		}

		if it.current.Error() != nil {
			prometheusRecordStorageError("iterator.next()", "")
			it.err = it.current.Error()
			it.ranges = []*util.Range{}
		}

		it.current.Release()
		it.current = nil
		it.prefix = nil
	}
}

func (it *LevelDBIterator) Prefix() []byte {
	return it.prefix
}

func (it *LevelDBIterator) Key() []byte {
	if it.current == nil || it.err != nil {
		return nil
	}

	return it.current.Key()
}

func (it *LevelDBIterator) Value() []byte {
	if it.current == nil || it.err != nil {
		return nil
	}

	return it.current.Value()
}

func (it *LevelDBIterator) Release() {
	it.prefix = nil
	it.ranges = []*util.Range{}

	if it.snapshot != nil {
		it.snapshot.Release()
		it.snapshot = nil
	}

	if it.current == nil {
		return
	}

	it.current.Release()
	it.current = nil
}

func (it *LevelDBIterator) Error() error {
	return it.err
}

type LevelDBStorageDriver struct {
	file    string
	options *opt.Options
	db      *leveldb.DB
}

func NewLevelDBStorageDriver(file string, options *opt.Options) *LevelDBStorageDriver {
	return &LevelDBStorageDriver{file: file, options: options}
}

// Open tries to recover the database once if it is found corrupted
func (driver *LevelDBStorageDriver) Open() error {
	driver.Close()

	db, err := leveldb.OpenFile(driver.file, driver.options)

	if err != nil && levelErrors.IsCorrupted(err) {
		Log.Warningf("Journal database at %s is corrupted. Attempting recovery: %v", driver.file, err)

		db, err = leveldb.RecoverFile(driver.file, driver.options)

		if err != nil {
			prometheusRecordStorageError("recover()", driver.file)
			Log.Criticalf("Unable to recover journal database at %s: %v", driver.file, err)

			return ECorrupted
		}
	}

	if err != nil {
		prometheusRecordStorageError("open()", driver.file)

		return err
	}

	driver.db = db

	return nil
}

func (driver *LevelDBStorageDriver) Close() error {
	if driver.db == nil {
		return nil
	}

	err := driver.db.Close()
	driver.db = nil

	return err
}

func (driver *LevelDBStorageDriver) Get(keys [][]byte) ([][]byte, error) {
	if driver.db == nil {
		return nil, EClosed
	}

	if keys == nil {
		return [][]byte{}, nil
	}

	snapshot, err := driver.db.GetSnapshot()

	if err != nil {
		prometheusRecordStorageError("get()", driver.file)

		return nil, err
	}

	defer snapshot.Release()

	values := make([][]byte, len(keys))

	for i, key := range keys {
		if key == nil {
			continue
		}

		values[i], err = snapshot.Get(key, nil)

		if err == leveldb.ErrNotFound {
			values[i] = nil
		} else if err != nil {
			prometheusRecordStorageError("get()", driver.file)

			return nil, err
		}
	}

	return values, nil
}

// consolidateKeys drops keys that are covered by a shorter prefix in the set
func consolidateKeys(keys [][]byte) [][]byte {
	s := make([]string, 0, len(keys))

	for _, key := range keys {
		if key != nil {
			s = append(s, string(key))
		}
	}

	sort.Strings(s)

	result := make([][]byte, 0, len(s))
	last := ""

	for i, key := range s {
		if i > 0 && strings.HasPrefix(key, last) {
			continue
		}

		result = append(result, []byte(key))
		last = key
	}

	return result
}

func (driver *LevelDBStorageDriver) GetMatches(keys [][]byte) (StorageIterator, error) {
	if driver.db == nil {
		return nil, EClosed
	}

	snapshot, err := driver.db.GetSnapshot()

	if err != nil {
		prometheusRecordStorageError("getMatches()", driver.file)

		return nil, err
	}

	keys = consolidateKeys(keys)
	ranges := make([]*util.Range, 0, len(keys))

	for _, key := range keys {
		ranges = append(ranges, util.BytesPrefix(key))
	}

	return newLevelDBIterator(snapshot, ranges, FORWARD), nil
}

func (driver *LevelDBStorageDriver) GetRanges(ranges [][2][]byte, direction int) (StorageIterator, error) {
	if driver.db == nil {
		return nil, EClosed
	}

	snapshot, err := driver.db.GetSnapshot()

	if err != nil {
		prometheusRecordStorageError("getRanges()", driver.file)

		return nil, err
	}

	levelRanges := make([]*util.Range, len(ranges))

	for i := 0; i < len(ranges); i += 1 {
		levelRanges[i] = &util.Range{Start: ranges[i][0], Limit: ranges[i][1]}
	}

	return newLevelDBIterator(snapshot, levelRanges, direction), nil
}

func (driver *LevelDBStorageDriver) Batch(batch *Batch) error {
	if driver.db == nil {
		return EClosed
	}

	if batch == nil {
		return nil
	}

	b := new(leveldb.Batch)

	for _, op := range batch.SortedOps() {
		if op.IsPut() {
			b.Put(op.Key(), op.Value())
		} else if op.IsDelete() {
			b.Delete(op.Key())
		}
	}

	if err := driver.db.Write(b, nil); err != nil {
		prometheusRecordStorageError("batch()", driver.file)

		return err
	}

	return nil
}
