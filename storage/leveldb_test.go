package storage_test

import (
	. "github.com/PelionIoT/pvrendezvous/storage"
	"github.com/PelionIoT/pvrendezvous/util"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func collectKeys(iter StorageIterator) []string {
	keys := []string{}

	for iter.Next() {
		keys = append(keys, string(iter.Key()))
	}

	Expect(iter.Error()).Should(BeNil())

	iter.Release()

	return keys
}

var _ = Describe("LevelDBStorageDriver", func() {
	var driver *LevelDBStorageDriver

	BeforeEach(func() {
		driver = util.MakeNewStorageDriver()

		Expect(driver.Open()).Should(BeNil())
	})

	AfterEach(func() {
		driver.Close()
	})

	Specify("Every operation should fail with EClosed after Close", func() {
		Expect(driver.Close()).Should(BeNil())

		_, err := driver.Get([][]byte{[]byte("a")})

		Expect(err).Should(Equal(EClosed))
		Expect(driver.Batch(NewBatch())).Should(Equal(EClosed))

		_, err = driver.GetMatches([][]byte{[]byte("a")})

		Expect(err).Should(Equal(EClosed))

		_, err = driver.GetRanges([][2][]byte{}, FORWARD)

		Expect(err).Should(Equal(EClosed))
	})

	Specify("Get should return nil for missing keys and nil keys", func() {
		Expect(driver.Batch(NewBatch().Put([]byte("a"), []byte("1")))).Should(BeNil())

		values, err := driver.Get([][]byte{[]byte("a"), nil, []byte("b")})

		Expect(err).Should(BeNil())
		Expect(values).Should(Equal([][]byte{[]byte("1"), nil, nil}))
	})

	Specify("A batch should apply puts and deletes together", func() {
		Expect(driver.Batch(NewBatch().Put([]byte("a"), []byte("1")).Put([]byte("b"), []byte("2")))).Should(BeNil())
		Expect(driver.Batch(NewBatch().Delete([]byte("a")).Put([]byte("c"), []byte("3")))).Should(BeNil())

		values, err := driver.Get([][]byte{[]byte("a"), []byte("b"), []byte("c")})

		Expect(err).Should(BeNil())
		Expect(values).Should(Equal([][]byte{nil, []byte("2"), []byte("3")}))
	})

	Specify("GetMatches should not return a key twice for overlapping prefixes", func() {
		batch := NewBatch()

		for _, key := range []string{"ab", "abc", "abd", "b", "ba"} {
			batch.Put([]byte(key), []byte(key))
		}

		Expect(driver.Batch(batch)).Should(BeNil())

		iter, err := driver.GetMatches([][]byte{[]byte("abc"), []byte("ab"), []byte("ba")})

		Expect(err).Should(BeNil())
		Expect(collectKeys(iter)).Should(Equal([]string{"ab", "abc", "abd", "ba"}))
	})

	Specify("GetRanges should walk each range in the requested direction", func() {
		batch := NewBatch()

		for _, key := range []string{"a", "b", "c", "d", "e"} {
			batch.Put([]byte(key), []byte(key))
		}

		Expect(driver.Batch(batch)).Should(BeNil())

		ranges := [][2][]byte{{[]byte("a"), []byte("c")}, {[]byte("d"), []byte("f")}}

		iter, err := driver.GetRanges(ranges, FORWARD)

		Expect(err).Should(BeNil())
		Expect(collectKeys(iter)).Should(Equal([]string{"a", "b", "d", "e"}))

		iter, err = driver.GetRanges(ranges, BACKWARD)

		Expect(err).Should(BeNil())
		Expect(collectKeys(iter)).Should(Equal([]string{"b", "a", "e", "d"}))
	})
})

var _ = Describe("PrefixedStorageDriver", func() {
	var driver *LevelDBStorageDriver

	BeforeEach(func() {
		driver = util.MakeNewStorageDriver()

		Expect(driver.Open()).Should(BeNil())
	})

	AfterEach(func() {
		driver.Close()
	})

	Specify("Should isolate keys written through different prefixes", func() {
		journal := NewPrefixedStorageDriver([]byte("journal."), driver)
		other := NewPrefixedStorageDriver([]byte("other."), driver)

		Expect(journal.Batch(NewBatch().Put([]byte("k"), []byte("journal")))).Should(BeNil())
		Expect(other.Batch(NewBatch().Put([]byte("k"), []byte("other")))).Should(BeNil())

		values, err := journal.Get([][]byte{[]byte("k")})

		Expect(err).Should(BeNil())
		Expect(values[0]).Should(Equal([]byte("journal")))

		values, err = driver.Get([][]byte{[]byte("other.k")})

		Expect(err).Should(BeNil())
		Expect(values[0]).Should(Equal([]byte("other")))
	})

	Specify("Iterators should strip the prefix from keys", func() {
		journal := NewPrefixedStorageDriver([]byte("journal."), driver)

		Expect(journal.Batch(NewBatch().Put([]byte("x1"), []byte("1")).Put([]byte("x2"), []byte("2")))).Should(BeNil())
		Expect(driver.Batch(NewBatch().Put([]byte("x3"), []byte("3")))).Should(BeNil())

		iter, err := journal.GetMatches([][]byte{[]byte("x")})

		Expect(err).Should(BeNil())
		Expect(collectKeys(iter)).Should(Equal([]string{"x1", "x2"}))

		iter, err = journal.GetRanges([][2][]byte{{[]byte("x2"), []byte("x9")}}, FORWARD)

		Expect(err).Should(BeNil())
		Expect(collectKeys(iter)).Should(Equal([]string{"x2"}))
	})
})

var _ = Describe("Batch", func() {
	Specify("SortedOps should order operations by key and keep the last op per key", func() {
		batch := NewBatch().Put([]byte("b"), []byte("1")).Put([]byte("a"), []byte("2")).Delete([]byte("b"))
		ops := batch.SortedOps()

		Expect(batch.Size()).Should(Equal(2))
		Expect(ops[0].Key()).Should(Equal([]byte("a")))
		Expect(ops[0].IsPut()).Should(BeTrue())
		Expect(ops[1].Key()).Should(Equal([]byte("b")))
		Expect(ops[1].IsDelete()).Should(BeTrue())
	})
})
