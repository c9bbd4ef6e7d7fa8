/*
Copyright 2019 The Vitess Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mysql

import (
	"bufio"
	"io"
	"sync"
)

// Because the Conn implementation always flushes before reading a
// response, every *bufio.Writer returns to the pool eventually, so a
// single pool is shared by all connections.

var writersPool = sync.Pool{New: func() interface{} { return bufio.NewWriterSize(nil, connBufferSize) }}

// newBufferedWriter returns a pooled writer targeting w.
func newBufferedWriter(w io.Writer) *bufio.Writer {
	bw := writersPool.Get().(*bufio.Writer)
	bw.Reset(w)
	return bw
}

// recycleBufferedWriter returns a writer to the pool. The caller must
// have flushed it already.
func recycleBufferedWriter(bw *bufio.Writer) {
	bw.Reset(nil)
	writersPool.Put(bw)
}
