package routes

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
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PelionIoT/pvrendezvous/historian"
	. "github.com/PelionIoT/pvrendezvous/logging"
	"github.com/PelionIoT/pvrendezvous/process"
	"github.com/PelionIoT/pvrendezvous/session"
	"github.com/PelionIoT/pvrendezvous/version"
)

type StatusEndpoint struct {
	Process   *process.ProcessModule
	Historian *historian.Historian
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf8")
	w.WriteHeader(status)

	if body == nil {
		io.WriteString(w, "\n")

		return
	}

	encoded, _ := json.Marshal(body)
	io.WriteString(w, string(encoded)+"\n")
}

func (statusEndpoint *StatusEndpoint) summarize(registry *process.SessionRegistry, s process.Session) SessionSummary {
	summary := SessionSummary{
		ID:     uint64(registry.LookupID(s)),
		Roles:  []string{},
		Active: registry.GetActive() == s,
	}

	if sess, ok := s.(*session.Session); ok {
		summary.Roles = sess.Roles().Names()
		summary.MultiClient = sess.IsMultiClient()
		summary.InProgress = sess.ProgressHandler().InProgress()

		if connection := sess.MtoNConnection(); connection != nil && connection.GetCommunicator() != nil {
			peerRank := connection.PeerRank()
			summary.PeerRank = &peerRank
		}
	}

	return summary
}

func (statusEndpoint *StatusEndpoint) Attach(router *mux.Router) {
	router.HandleFunc("/role", func(w http.ResponseWriter, r *http.Request) {
		processModule := statusEndpoint.Process

		writeJSON(w, http.StatusOK, RoleStatus{
			Role:           processModule.Role().String(),
			Rank:           processModule.LocalProcessID(),
			Size:           processModule.NumberOfProcesses(),
			SymmetricBatch: processModule.SymmetricBatch(),
			Version:        version.PVRENDEZVOUS_VERSION,
		})
	}).Methods("GET")

	router.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		registry := statusEndpoint.Process.Sessions()
		summaries := make([]SessionSummary, 0, registry.Count())

		for _, s := range registry.Sessions() {
			summaries = append(summaries, statusEndpoint.summarize(registry, s))
		}

		writeJSON(w, http.StatusOK, summaries)
	}).Methods("GET")

	router.HandleFunc("/sessions/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(mux.Vars(r)["sessionID"], 10, 64)

		if err != nil {
			Log.Warningf("GET /sessions/{sessionID}: Unable to parse session ID as uint64: %v", err)

			writeJSON(w, http.StatusBadRequest, nil)

			return
		}

		registry := statusEndpoint.Process.Sessions()
		s := registry.Lookup(process.SessionID(id))

		if s == nil {
			writeJSON(w, http.StatusNotFound, nil)

			return
		}

		writeJSON(w, http.StatusOK, statusEndpoint.summarize(registry, s))
	}).Methods("GET")

	router.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		if statusEndpoint.Historian == nil {
			writeJSON(w, http.StatusNotFound, nil)

			return
		}

		query := &historian.Query{
			Sources: r.URL.Query()["source"],
			Order:   r.URL.Query().Get("order"),
		}

		if limit := r.URL.Query().Get("limit"); limit != "" {
			n, err := strconv.Atoi(limit)

			if err != nil || n < 0 {
				Log.Warningf("GET /events: Invalid limit %s", limit)

				writeJSON(w, http.StatusBadRequest, nil)

				return
			}

			query.Limit = n
		}

		if minSerial := r.URL.Query().Get("minSerial"); minSerial != "" {
			n, err := strconv.ParseUint(minSerial, 10, 64)

			if err != nil {
				Log.Warningf("GET /events: Invalid minSerial %s", minSerial)

				writeJSON(w, http.StatusBadRequest, nil)

				return
			}

			query.MinSerial = &n
		}

		iter, err := statusEndpoint.Historian.Query(query)

		if err != nil {
			Log.Warningf("GET /events: %v", err)

			writeJSON(w, http.StatusInternalServerError, nil)

			return
		}

		defer iter.Release()

		events := make([]*historian.Event, 0)

		for iter.Next() {
			events = append(events, iter.Event())
		}

		if iter.Error() != nil {
			Log.Warningf("GET /events: %v", iter.Error())

			writeJSON(w, http.StatusInternalServerError, nil)

			return
		}

		writeJSON(w, http.StatusOK, events)
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}
