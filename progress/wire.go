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
	"bytes"
	"encoding/binary"
	"errors"
	"math"
)

const (
	CLEANUP_TAG        = 188969
	PROGRESS_EVENT_TAG = 188970
	MESSAGE_EVENT_TAG  = 188971
)

var EMalformedProgress = errors.New("The progress message is malformed")

// EncodeProgress produces [float64 little endian][label][0x00]
func EncodeProgress(progress float64, label string) []byte {
	encoded := make([]byte, 8, 8+len(label)+1)

	binary.LittleEndian.PutUint64(encoded, math.Float64bits(progress))
	encoded = append(encoded, label...)
	encoded = append(encoded, 0)

	return encoded
}

func DecodeProgress(encoded []byte) (float64, string, error) {
	if len(encoded) < 9 || encoded[len(encoded)-1] != 0 {
		return 0, "", EMalformedProgress
	}

	progress := math.Float64frombits(binary.LittleEndian.Uint64(encoded[0:8]))

	return progress, terminatedString(encoded[8:]), nil
}

// EncodeMessage produces [text][0x00]
func EncodeMessage(text string) []byte {
	encoded := make([]byte, 0, len(text)+1)
	encoded = append(encoded, text...)

	return append(encoded, 0)
}

func DecodeMessage(encoded []byte) string {
	return terminatedString(encoded)
}

func terminatedString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}

	return string(b)
}

func clamp(progress float64) float64 {
	if math.IsNaN(progress) || progress < 0 {
		return 0
	}

	if progress > 1 {
		return 1
	}

	return progress
}
