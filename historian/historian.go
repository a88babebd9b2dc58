package historian

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
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	. "github.com/PelionIoT/pvrendezvous/logging"
	"github.com/PelionIoT/pvrendezvous/process"
	. "github.com/PelionIoT/pvrendezvous/storage"
)

var EStorage = errors.New("The journal storage driver encountered an error")

var (
	BY_TIME_PREFIX              = []byte{0}
	BY_SOURCE_AND_TIME_PREFIX   = []byte{1}
	BY_SERIAL_NUMBER_PREFIX     = []byte{2}
	SEQUENTIAL_COUNTER_PREFIX   = []byte{3}
	CURRENT_SIZE_COUNTER_PREFIX = []byte{4}
	DELIMETER                   = []byte(".")
)

const (
	EVENT_SESSION_CREATED = "session.created"
	EVENT_SESSION_CLOSED  = "session.closed"
	EVENT_RENDEZVOUS      = "rendezvous"
	EVENT_CLIENT          = "client.connected"
)

func encodeUint64(n uint64) []byte {
	encoded := make([]byte, 8)

	binary.BigEndian.PutUint64(encoded, n)

	return encoded
}

func joinKey(parts ...[]byte) []byte {
	size := 0

	for _, part := range parts {
		size += len(part)
	}

	key := make([]byte, 0, size)

	for _, part := range parts {
		key = append(key, part...)
	}

	return key
}

type Query struct {
	MinSerial *uint64
	Sources   []string
	Order     string
	Before    uint64
	After     uint64
	Limit     int
}

// Event is one journal entry. Timestamp is in unix nanoseconds.
type Event struct {
	Timestamp uint64 `json:"timestamp"`
	SourceID  string `json:"source"`
	Type      string `json:"type"`
	Data      string `json:"data"`
	UUID      string `json:"uuid"`
	Serial    uint64 `json:"serial"`
}

func (event *Event) indexBySerial() []byte {
	return joinKey(BY_SERIAL_NUMBER_PREFIX, encodeUint64(event.Serial))
}

func (event *Event) prefixByTime() []byte {
	return joinKey(BY_TIME_PREFIX, encodeUint64(event.Timestamp), DELIMETER)
}

func (event *Event) indexByTime() []byte {
	return joinKey(event.prefixByTime(), []byte(event.UUID))
}

func (event *Event) prefixBySourceAndTime() []byte {
	source := []byte(base64.StdEncoding.EncodeToString([]byte(event.SourceID)))

	return joinKey(BY_SOURCE_AND_TIME_PREFIX, source, DELIMETER, encodeUint64(event.Timestamp), DELIMETER)
}

func (event *Event) indexBySourceAndTime() []byte {
	return joinKey(event.prefixBySourceAndTime(), []byte(event.UUID))
}

// Historian is an append only journal of session lifecycle events with
// an optional cap on the number of retained events
type Historian struct {
	storageDriver StorageDriver
	nextID        uint64
	currentSize   uint64
	logLock       sync.Mutex
	eventLimit    uint64
}

func NewHistorian(storageDriver StorageDriver, eventLimit uint64) *Historian {
	var nextID uint64
	var currentSize uint64

	values, err := storageDriver.Get([][]byte{SEQUENTIAL_COUNTER_PREFIX, CURRENT_SIZE_COUNTER_PREFIX})

	if err == nil && len(values[0]) == 8 {
		nextID = binary.BigEndian.Uint64(values[0])
	}

	if err == nil && len(values[1]) == 8 {
		currentSize = binary.BigEndian.Uint64(values[1])
	}

	historian := &Historian{
		storageDriver: storageDriver,
		nextID:        nextID + 1,
		currentSize:   currentSize,
		eventLimit:    eventLimit,
	}

	historian.logLock.Lock()
	historian.rotateLog()
	historian.logLock.Unlock()

	return historian
}

func (historian *Historian) LogSize() uint64 {
	historian.logLock.Lock()
	defer historian.logLock.Unlock()

	return historian.currentSize
}

func (historian *Historian) LogSerial() uint64 {
	historian.logLock.Lock()
	defer historian.logLock.Unlock()

	return historian.nextID
}

// LogEvent assigns the event its serial number and UUID. A zero timestamp
// is replaced with the current time.
func (historian *Historian) LogEvent(event *Event) error {
	historian.logLock.Lock()
	defer historian.logLock.Unlock()

	if event.Timestamp == 0 {
		event.Timestamp = uint64(time.Now().UnixNano())
	}

	event.UUID = uuid.New().String()
	event.Serial = historian.nextID

	marshaledEvent, err := json.Marshal(event)

	if err != nil {
		Log.Errorf("Could not marshal event to JSON: %v", err.Error())

		return EStorage
	}

	batch := NewBatch()
	batch.Put(event.indexByTime(), marshaledEvent)
	batch.Put(event.indexBySourceAndTime(), marshaledEvent)
	batch.Put(event.indexBySerial(), marshaledEvent)
	batch.Put(SEQUENTIAL_COUNTER_PREFIX, encodeUint64(event.Serial))
	batch.Put(CURRENT_SIZE_COUNTER_PREFIX, encodeUint64(historian.currentSize+1))

	if err := historian.storageDriver.Batch(batch); err != nil {
		Log.Errorf("Storage driver error in LogEvent(%v): %s", event, err.Error())

		return EStorage
	}

	historian.nextID += 1
	historian.currentSize += 1

	if err := historian.rotateLog(); err != nil {
		return EStorage
	}

	return nil
}

func (historian *Historian) Query(query *Query) (*EventIterator, error) {
	var ranges [][2][]byte
	direction := FORWARD

	if query.Order == "desc" {
		direction = BACKWARD
	}

	before := query.Before

	if before == 0 {
		before = math.MaxUint64
	}

	sources := append([]string{}, query.Sources...)
	sort.Strings(sources)

	if query.MinSerial != nil {
		ranges = [][2][]byte{
			{
				(&Event{Serial: *query.MinSerial}).indexBySerial(),
				(&Event{Serial: math.MaxUint64}).indexBySerial(),
			},
		}
	} else if len(sources) == 0 {
		ranges = [][2][]byte{
			{
				(&Event{Timestamp: query.After}).prefixByTime(),
				(&Event{Timestamp: before}).prefixByTime(),
			},
		}
	} else {
		ranges = make([][2][]byte, 0, len(sources))

		for _, source := range sources {
			ranges = append(ranges, [2][]byte{
				(&Event{SourceID: source, Timestamp: query.After}).prefixBySourceAndTime(),
				(&Event{SourceID: source, Timestamp: before}).prefixBySourceAndTime(),
			})
		}
	}

	iter, err := historian.storageDriver.GetRanges(ranges, direction)

	if err != nil {
		Log.Errorf("Storage driver error in Query(%v): %s", query, err.Error())

		return nil, EStorage
	}

	return NewEventIterator(iter, query.Limit), nil
}

func (historian *Historian) purgeOldest(count int) error {
	var minSerial uint64

	eventIterator, err := historian.Query(&Query{MinSerial: &minSerial, Limit: count})

	if err != nil {
		return err
	}

	defer eventIterator.Release()

	for eventIterator.Next() {
		event := eventIterator.Event()
		batch := NewBatch()

		batch.Delete(event.indexByTime())
		batch.Delete(event.indexBySourceAndTime())
		batch.Delete(event.indexBySerial())
		batch.Put(CURRENT_SIZE_COUNTER_PREFIX, encodeUint64(historian.currentSize-1))

		if err := historian.storageDriver.Batch(batch); err != nil {
			Log.Errorf("Storage driver error while purging event %d: %v", event.Serial, err)

			return EStorage
		}

		historian.currentSize -= 1
	}

	return eventIterator.Error()
}

func (historian *Historian) rotateLog() error {
	if historian.eventLimit != 0 && historian.currentSize > historian.eventLimit {
		return historian.purgeOldest(int(historian.currentSize - historian.eventLimit))
	}

	return nil
}

// RecordSessions journals every session created or closed in registry
func (historian *Historian) RecordSessions(registry *process.SessionRegistry) {
	record := func(eventType string, id process.SessionID) {
		event := &Event{
			SourceID: fmt.Sprintf("session/%d", id),
			Type:     eventType,
			Data:     fmt.Sprintf("%d", id),
		}

		if err := historian.LogEvent(event); err != nil {
			Log.Warningf("Unable to journal %s for session %d: %v", eventType, id, err)
		}
	}

	registry.OnSessionCreated(func(id process.SessionID) {
		record(EVENT_SESSION_CREATED, id)
	})

	registry.OnSessionClosed(func(id process.SessionID) {
		record(EVENT_SESSION_CLOSED, id)
	})
}

type EventIterator struct {
	dbIterator   StorageIterator
	parseError   error
	currentEvent *Event
	limit        uint64
	eventsSeen   uint64
}

func NewEventIterator(iterator StorageIterator, limit int) *EventIterator {
	if limit < 0 {
		limit = 0
	}

	return &EventIterator{
		dbIterator: iterator,
		limit:      uint64(limit),
	}
}

func (ei *EventIterator) Next() bool {
	ei.currentEvent = nil

	if ei.limit != 0 && ei.eventsSeen >= ei.limit {
		return false
	}

	if !ei.dbIterator.Next() {
		if ei.dbIterator.Error() != nil {
			Log.Errorf("Storage driver error in Next(): %s", ei.dbIterator.Error())
		}

		return false
	}

	var event Event

	ei.parseError = json.Unmarshal(ei.dbIterator.Value(), &event)

	if ei.parseError != nil {
		Log.Errorf("Unable to parse journal entry %v: %s", ei.dbIterator.Key(), ei.parseError.Error())

		return false
	}

	ei.currentEvent = &event
	ei.eventsSeen += 1

	return true
}

func (ei *EventIterator) Event() *Event {
	return ei.currentEvent
}

func (ei *EventIterator) Release() {
	ei.dbIterator.Release()
}

func (ei *EventIterator) Error() error {
	if ei.parseError != nil || ei.dbIterator.Error() != nil {
		return EStorage
	}

	return nil
}
