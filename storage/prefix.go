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

// PrefixedStorageDriver scopes every key under a fixed prefix so several
// tables can share one database
type PrefixedStorageDriver struct {
	prefix        []byte
	storageDriver StorageDriver
}

func NewPrefixedStorageDriver(prefix []byte, storageDriver StorageDriver) *PrefixedStorageDriver {
	return &PrefixedStorageDriver{prefix, storageDriver}
}

// Open and Close are left to the owner of the underlying driver
func (psd *PrefixedStorageDriver) Open() error {
	return nil
}

func (psd *PrefixedStorageDriver) Close() error {
	return nil
}

func (psd *PrefixedStorageDriver) addPrefix(k []byte) []byte {
	result := make([]byte, 0, len(psd.prefix)+len(k))

	result = append(result, psd.prefix...)
	result = append(result, k...)

	return result
}

func (psd *PrefixedStorageDriver) Get(keys [][]byte) ([][]byte, error) {
	prefixKeys := make([][]byte, len(keys))

	for i, key := range keys {
		if key != nil {
			prefixKeys[i] = psd.addPrefix(key)
		}
	}

	return psd.storageDriver.Get(prefixKeys)
}

func (psd *PrefixedStorageDriver) GetMatches(keys [][]byte) (StorageIterator, error) {
	prefixKeys := make([][]byte, len(keys))

	for i, key := range keys {
		prefixKeys[i] = psd.addPrefix(key)
	}

	iter, err := psd.storageDriver.GetMatches(prefixKeys)

	if err != nil {
		return nil, err
	}

	return &PrefixedIterator{psd.prefix, iter}, nil
}

func (psd *PrefixedStorageDriver) GetRanges(ranges [][2][]byte, direction int) (StorageIterator, error) {
	prefixedRanges := make([][2][]byte, len(ranges))

	for i := 0; i < len(ranges); i += 1 {
		prefixedRanges[i] = [2][]byte{psd.addPrefix(ranges[i][0]), psd.addPrefix(ranges[i][1])}
	}

	iter, err := psd.storageDriver.GetRanges(prefixedRanges, direction)

	if err != nil {
		return nil, err
	}

	return &PrefixedIterator{psd.prefix, iter}, nil
}

func (psd *PrefixedStorageDriver) Batch(batch *Batch) error {
	prefixedBatch := NewBatch()

	for _, op := range batch.BatchOps {
		if op.IsDelete() {
			prefixedBatch.Delete(psd.addPrefix(op.Key()))
		} else {
			prefixedBatch.Put(psd.addPrefix(op.Key()), op.Value())
		}
	}

	return psd.storageDriver.Batch(prefixedBatch)
}

type PrefixedIterator struct {
	prefix   []byte
	iterator StorageIterator
}

func (prefixedIterator *PrefixedIterator) Next() bool {
	return prefixedIterator.iterator.Next()
}

func (prefixedIterator *PrefixedIterator) Prefix() []byte {
	return trimPrefix(prefixedIterator.iterator.Prefix(), prefixedIterator.prefix)
}

func (prefixedIterator *PrefixedIterator) Key() []byte {
	return trimPrefix(prefixedIterator.iterator.Key(), prefixedIterator.prefix)
}

func (prefixedIterator *PrefixedIterator) Value() []byte {
	return prefixedIterator.iterator.Value()
}

func (prefixedIterator *PrefixedIterator) Release() {
	prefixedIterator.iterator.Release()
}

func (prefixedIterator *PrefixedIterator) Error() error {
	return prefixedIterator.iterator.Error()
}

func trimPrefix(key []byte, prefix []byte) []byte {
	if len(key) < len(prefix) {
		return nil
	}

	return key[len(prefix):]
}
