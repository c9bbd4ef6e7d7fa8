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

package timer

import (
	"testing"
	"time"

	"github.com/hoststack/mysqlwire/go/sync2"
)

const (
	half    = time.Duration(500e5)
	quarter = time.Duration(250e5)
	tenth   = time.Duration(100e5)
)

var numcalls sync2.AtomicInt32

func f() {
	numcalls.Add(1)
}

func TestWait(t *testing.T) {
	numcalls.Set(0)
	timer := NewTimer(quarter)
	timer.Start(f)
	defer timer.Stop()
	time.Sleep(tenth)
	if numcalls.Get() != 0 {
		t.Errorf("want 0, received %v", numcalls.Get())
	}
	time.Sleep(quarter)
	if numcalls.Get() != 1 {
		t.Errorf("want 1, received %v", numcalls.Get())
	}
	time.Sleep(quarter)
	if numcalls.Get() != 2 {
		t.Errorf("want 2, received %v", numcalls.Get())
	}
}

func TestReset(t *testing.T) {
	numcalls.Set(0)
	timer := NewTimer(half)
	timer.Start(f)
	defer timer.Stop()
	timer.SetInterval(quarter)
	time.Sleep(tenth)
	if numcalls.Get() != 0 {
		t.Errorf("want 0, received %v", numcalls.Get())
	}
	time.Sleep(quarter)
	if numcalls.Get() != 1 {
		t.Errorf("want 1, received %v", numcalls.Get())
	}
}

func TestIndefinite(t *testing.T) {
	numcalls.Set(0)
	timer := NewTimer(0)
	timer.Start(f)
	defer timer.Stop()
	timer.TriggerAfter(quarter)
	time.Sleep(tenth)
	if numcalls.Get() != 0 {
		t.Errorf("want 0, received %v", numcalls.Get())
	}
	time.Sleep(quarter)
	if numcalls.Get() != 1 {
		t.Errorf("want 1, received %v", numcalls.Get())
	}
}
