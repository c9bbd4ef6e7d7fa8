/*
Copyright 2021 The Vitess Authors.

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

package pools

import (
	"sync"
	"time"

	"github.com/hoststack/mysqlwire/go/vt/log"
)

// RefreshCheck is a function used to determine if a resource pool should be
// refreshed (i.e. closed and reopened)
type RefreshCheck func() (bool, error)

type refreshPool interface {
	reopen()
	closeIdleResources()
}

func newPoolRefresh(pool refreshPool, refreshCheck RefreshCheck, refreshInterval time.Duration) *poolRefresh {
	if refreshCheck == nil || refreshInterval <= 0 {
		return nil
	}
	return &poolRefresh{
		pool:            pool,
		refreshCheck:    refreshCheck,
		refreshInterval: refreshInterval,
	}
}

type poolRefresh struct {
	refreshCheck    RefreshCheck
	refreshInterval time.Duration
	refreshStop     chan struct{}
	pool            refreshPool
	refreshTicker   *time.Ticker
	refreshWg       sync.WaitGroup
}

func (pr *poolRefresh) startRefreshTicker() {
	if pr == nil {
		return
	}
	pr.refreshTicker = time.NewTicker(pr.refreshInterval)
	pr.refreshStop = make(chan struct{})
	pr.refreshWg.Add(1)
	go func() {
		defer pr.refreshWg.Done()
		for {
			select {
			case <-pr.refreshTicker.C:
				val, err := pr.refreshCheck()
				if err != nil {
					log.Info(err)
				}
				if val {
					go pr.pool.reopen()
					return
				}
			case <-pr.refreshStop:
				return
			}
		}
	}()
}

func (pr *poolRefresh) stop() {
	if pr == nil || pr.refreshTicker == nil {
		return
	}
	pr.refreshTicker.Stop()
	close(pr.refreshStop)
	pr.refreshWg.Wait()
}
