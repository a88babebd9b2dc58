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
	"github.com/prometheus/client_golang/prometheus"
)

var (
	prometheusRelayedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pvrendezvous",
		Subsystem: "progress",
		Name:      "relayed_total",
		Help:      "Count of progress, message and cleanup messages sent to clients",
	}, []string{"kind"})

	prometheusDroppedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pvrendezvous",
		Subsystem: "progress",
		Name:      "rate_limited_total",
		Help:      "Count of progress events dropped by the rate limiter",
	})
)

func init() {
	prometheus.MustRegister(prometheusRelayedEvents, prometheusDroppedEvents)
}

func prometheusRecordRelayed(kind string) {
	prometheusRelayedEvents.With(prometheus.Labels{"kind": kind}).Inc()
}

func prometheusRecordDropped() {
	prometheusDroppedEvents.Inc()
}
