package progress

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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/PelionIoT/pvrendezvous/comm"
	. "github.com/PelionIoT/pvrendezvous/logging"
	"github.com/PelionIoT/pvrendezvous/process"
)

const DefaultMinimumInterval = 500 * time.Millisecond

var EUnsupportedSource = errors.New("Object does not report progress or messages")
var EDuplicateSource = errors.New("A progress source is already registered with this id")

// ProgressSource is implemented by long running operations that
// report fractional progress.
type ProgressSource interface {
	OnProgress(cb func(progress float64, label string))
}

// MessageSource is implemented by objects that emit diagnostic text.
type MessageSource interface {
	OnMessage(cb func(text string))
}

// Owner is the view of a session that the handler needs in order to
// decide where events go.
type Owner interface {
	IsMultiClient() bool
	SymmetricBatch() bool
	IsClient() bool
	IsServerRoot() bool
	ClientCommunicator() *comm.Communicator
	DataServerCommunicator() *comm.Communicator
	RenderServerCommunicator() *comm.Communicator
	GroupController() process.Controller
}

type Handler struct {
	lock              sync.Mutex
	owner             Owner
	enabled           bool
	inProgress        bool
	handlersInstalled bool
	minInterval       time.Duration
	now               func() time.Time
	lastAccepted      time.Time
	hasAccepted       bool
	lastProgress      float64
	lastProgressLabel string
	lastMessage       string
	sources           map[uint64]string
	startedListeners  []func()
	progressListeners []func(float64, string)
	messageListeners  []func(string)
	finishedListeners []func()
}

func NewHandler(owner Owner) *Handler {
	return &Handler{
		owner:       owner,
		minInterval: DefaultMinimumInterval,
		now:         time.Now,
		sources:     make(map[uint64]string),
	}
}

func (handler *Handler) SetMinimumInterval(interval time.Duration) {
	handler.lock.Lock()
	defer handler.lock.Unlock()

	handler.minInterval = interval
}

func (handler *Handler) MinimumInterval() time.Duration {
	handler.lock.Lock()
	defer handler.lock.Unlock()

	return handler.minInterval
}

// SetClock replaces the time source used for rate limiting
func (handler *Handler) SetClock(now func() time.Time) {
	handler.lock.Lock()
	defer handler.lock.Unlock()

	handler.now = now
}

func (handler *Handler) OnStarted(cb func()) {
	handler.lock.Lock()
	defer handler.lock.Unlock()

	handler.startedListeners = append(handler.startedListeners, cb)
}

func (handler *Handler) OnProgress(cb func(progress float64, label string)) {
	handler.lock.Lock()
	defer handler.lock.Unlock()

	handler.progressListeners = append(handler.progressListeners, cb)
}

func (handler *Handler) OnMessage(cb func(text string)) {
	handler.lock.Lock()
	defer handler.lock.Unlock()

	handler.messageListeners = append(handler.messageListeners, cb)
}

func (handler *Handler) OnFinished(cb func()) {
	handler.lock.Lock()
	defer handler.lock.Unlock()

	handler.finishedListeners = append(handler.finishedListeners, cb)
}

func (handler *Handler) Enabled() bool {
	handler.lock.Lock()
	defer handler.lock.Unlock()

	return handler.enabled
}

func (handler *Handler) InProgress() bool {
	handler.lock.Lock()
	defer handler.lock.Unlock()

	return handler.inProgress
}

// LastProgress is only meaningful from inside a progress listener. It
// is reset as soon as the listeners return.
func (handler *Handler) LastProgress() (float64, string) {
	handler.lock.Lock()
	defer handler.lock.Unlock()

	return handler.lastProgress, handler.lastProgressLabel
}

func (handler *Handler) LastMessage() string {
	handler.lock.Lock()
	defer handler.lock.Unlock()

	return handler.lastMessage
}

// RegisterProgressSource hooks the handler up to anything implementing
// ProgressSource, MessageSource or both. Events reported by the source
// are attributed to id.
func (handler *Handler) RegisterProgressSource(source interface{}, id uint64) error {
	progressSource, reportsProgress := source.(ProgressSource)
	messageSource, reportsMessages := source.(MessageSource)

	if !reportsProgress && !reportsMessages {
		return EUnsupportedSource
	}

	handler.lock.Lock()

	if _, ok := handler.sources[id]; ok {
		handler.lock.Unlock()

		return EDuplicateSource
	}

	name := fmt.Sprintf("source-%d", id)

	if stringer, ok := source.(fmt.Stringer); ok {
		name = stringer.String()
	}

	handler.sources[id] = name
	handler.lock.Unlock()

	if reportsProgress {
		progressSource.OnProgress(func(progress float64, label string) {
			handler.ReportProgress(id, progress, label)
		})
	}

	if reportsMessages {
		messageSource.OnMessage(func(text string) {
			handler.ReportMessage(id, text)
		})
	}

	return nil
}

// UnregisterProgressSource stops forwarding events from the source with
// this id. The callbacks installed on the source stay but become no-ops.
func (handler *Handler) UnregisterProgressSource(id uint64) bool {
	handler.lock.Lock()
	defer handler.lock.Unlock()

	if _, ok := handler.sources[id]; !ok {
		return false
	}

	delete(handler.sources, id)

	return true
}

func (handler *Handler) PrepareProgress() {
	handler.lock.Lock()

	if handler.inProgress {
		Log.Debugf("PrepareProgress called while progress is already being reported. Nested progress is not supported")
	}

	handler.enabled = !handler.owner.IsMultiClient() && !handler.owner.SymmetricBatch()

	if !handler.enabled {
		handler.lock.Unlock()

		return
	}

	if !handler.handlersInstalled {
		handler.handlersInstalled = true
		handler.installHandlers()
	}

	handler.inProgress = true
	handler.hasAccepted = false
	listeners := handler.startedListeners
	handler.lock.Unlock()

	for _, cb := range listeners {
		cb()
	}
}

// installHandlers lets a blocking Receive on either server channel consume
// progress and message traffic instead of queueing it.
func (handler *Handler) installHandlers() {
	for _, communicator := range handler.serverCommunicators() {
		communicator.Handle(PROGRESS_EVENT_TAG, func(payload []byte) {
			progress, label, err := DecodeProgress(payload)

			if err != nil {
				Log.Warningf("Dropping progress event from %s: %v", communicator.RemoteAddress(), err)

				return
			}

			handler.deliverProgress(progress, label)
		})

		communicator.Handle(MESSAGE_EVENT_TAG, func(payload []byte) {
			handler.deliverMessage(DecodeMessage(payload))
		})
	}
}

func (handler *Handler) serverCommunicators() []*comm.Communicator {
	var communicators []*comm.Communicator

	dataServer := handler.owner.DataServerCommunicator()
	renderServer := handler.owner.RenderServerCommunicator()

	if dataServer != nil {
		communicators = append(communicators, dataServer)
	}

	if renderServer != nil && renderServer != dataServer {
		communicators = append(communicators, renderServer)
	}

	return communicators
}

// ReportProgress is called by registered sources. Events outside a
// PrepareProgress/CleanupPendingProgress window are ignored.
func (handler *Handler) ReportProgress(id uint64, progress float64, label string) {
	handler.lock.Lock()

	if !handler.enabled || !handler.inProgress {
		handler.lock.Unlock()

		return
	}

	name, ok := handler.sources[id]

	if !ok {
		handler.lock.Unlock()
		Log.Debugf("Ignoring progress from unregistered source %d", id)

		return
	}

	now := handler.now()

	if handler.hasAccepted && now.Sub(handler.lastAccepted) < handler.minInterval {
		handler.lock.Unlock()
		prometheusRecordDropped()

		return
	}

	handler.hasAccepted = true
	handler.lastAccepted = now
	handler.lock.Unlock()

	if label == "" {
		label = name
	}

	progress = clamp(progress)

	if err := handler.sendToClient(PROGRESS_EVENT_TAG, EncodeProgress(progress, label)); err != nil {
		Log.Warningf("Unable to forward progress to client: %v", err)
	}

	handler.deliverProgress(progress, label)
}

// ReportMessage forwards diagnostic text. Messages are never rate limited.
func (handler *Handler) ReportMessage(id uint64, text string) {
	handler.lock.Lock()

	_, ok := handler.sources[id]
	active := handler.enabled && handler.inProgress
	handler.lock.Unlock()

	if !active || !ok {
		return
	}

	if err := handler.sendToClient(MESSAGE_EVENT_TAG, EncodeMessage(text)); err != nil {
		Log.Warningf("Unable to forward message to client: %v", err)
	}

	handler.deliverMessage(text)
}

// sendToClient is a no-op everywhere except on a server root that has a
// client channel.
func (handler *Handler) sendToClient(tag int, payload []byte) error {
	if !handler.owner.IsServerRoot() {
		return nil
	}

	client := handler.owner.ClientCommunicator()

	if client == nil {
		return nil
	}

	if err := client.Send(tag, payload); err != nil {
		return err
	}

	if tag == PROGRESS_EVENT_TAG {
		prometheusRecordRelayed("progress")
	} else {
		prometheusRecordRelayed("message")
	}

	return nil
}

func (handler *Handler) deliverProgress(progress float64, label string) {
	handler.lock.Lock()
	handler.lastProgress = progress
	handler.lastProgressLabel = label
	listeners := handler.progressListeners
	handler.lock.Unlock()

	for _, cb := range listeners {
		cb(progress, label)
	}

	handler.lock.Lock()
	handler.lastProgress = 0
	handler.lastProgressLabel = ""
	handler.lock.Unlock()
}

func (handler *Handler) deliverMessage(text string) {
	handler.lock.Lock()
	handler.lastMessage = text
	listeners := handler.messageListeners
	handler.lock.Unlock()

	for _, cb := range listeners {
		cb(text)
	}

	handler.lock.Lock()
	handler.lastMessage = ""
	handler.lock.Unlock()
}

// CleanupPendingProgress closes the progress window. Servers meet at a
// barrier and the root tells the client it is done. Clients wait for that
// sentinel on every server channel, relaying whatever progress arrives
// in the meantime.
func (handler *Handler) CleanupPendingProgress() error {
	handler.lock.Lock()

	if !handler.inProgress {
		handler.lock.Unlock()
		Log.Debugf("CleanupPendingProgress called without a matching PrepareProgress")

		return nil
	}

	handler.lock.Unlock()

	var err error

	if handler.owner.IsClient() {
		for _, communicator := range handler.serverCommunicators() {
			if _, receiveErr := communicator.Receive(CLEANUP_TAG); receiveErr != nil && err == nil {
				err = receiveErr
			}
		}
	} else {
		if controller := handler.owner.GroupController(); controller != nil {
			err = controller.Barrier()
		}

		if err == nil && handler.owner.IsServerRoot() {
			if client := handler.owner.ClientCommunicator(); client != nil {
				err = client.Send(CLEANUP_TAG, []byte{0})

				if err == nil {
					prometheusRecordRelayed("cleanup")
				}
			}
		}
	}

	handler.lock.Lock()
	handler.inProgress = false
	listeners := handler.finishedListeners
	handler.lock.Unlock()

	for _, cb := range listeners {
		cb()
	}

	return err
}
