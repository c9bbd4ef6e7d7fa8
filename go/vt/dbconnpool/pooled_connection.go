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

package dbconnpool

import (
	"time"
)

// pingThreshold is how long a pooled connection may sit idle before
// Get probes it with a ping. Overridable for tests.
var pingThreshold = time.Minute

// PooledDBConnection re-exposes DBConnection to be used by ConnectionPool.
type PooledDBConnection struct {
	*DBConnection
	timeCreated  time.Time
	timeUsed     time.Time
	timeAcquired time.Time
	pool         *ConnectionPool
}

// Recycle should be called to return the PooledDBConnection to the pool.
func (pc *PooledDBConnection) Recycle() {
	pc.pool.recordUsage(pc.timeAcquired)
	pc.timeAcquired = time.Time{}
	if pc.IsClosed() {
		pc.pool.Put(nil)
	} else {
		pc.timeUsed = time.Now()
		pc.pool.Put(pc)
	}
}

// needsPing returns true if the connection sat idle long enough that
// it should be probed before reuse.
func (pc *PooledDBConnection) needsPing() bool {
	return !pc.timeUsed.IsZero() && time.Since(pc.timeUsed) > pingThreshold
}
