// Copyright 2013, Google Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sync2

import (
	"testing"
	"time"
)

func TestAtomicInt32(t *testing.T) {
	i := NewAtomicInt32(1)
	if i.Get() != 1 {
		t.Errorf("want 1, got %d", i.Get())
	}
	if i.Add(1) != 2 {
		t.Errorf("want 2, got %d", i.Get())
	}
	i.Set(3)
	if i.Get() != 3 {
		t.Errorf("want 3, got %d", i.Get())
	}
	if !i.CompareAndSwap(3, 4) {
		t.Error("want true, got false")
	}
	if i.CompareAndSwap(3, 5) {
		t.Error("want false, got true")
	}
}

func TestAtomicInt64(t *testing.T) {
	i := NewAtomicInt64(1)
	if i.Get() != 1 {
		t.Errorf("want 1, got %d", i.Get())
	}
	if i.Add(1) != 2 {
		t.Errorf("want 2, got %d", i.Get())
	}
	i.Set(3)
	if i.Get() != 3 {
		t.Errorf("want 3, got %d", i.Get())
	}
}

func TestAtomicDuration(t *testing.T) {
	d := NewAtomicDuration(time.Second)
	if d.Get() != time.Second {
		t.Errorf("want time.Second, got %v", d.Get())
	}
	d.Set(time.Minute)
	if d.Get() != time.Minute {
		t.Errorf("want time.Minute, got %v", d.Get())
	}
	if d.Add(time.Second) != time.Minute+time.Second {
		t.Errorf("want time.Minute+time.Second, got %v", d.Get())
	}
}

func TestAtomicBool(t *testing.T) {
	b := NewAtomicBool(true)
	if !b.Get() {
		t.Error("want true, got false")
	}
	b.Set(false)
	if b.Get() {
		t.Error("want false, got true")
	}
	if !b.CompareAndSwap(false, true) {
		t.Error("want true, got false")
	}
	if b.CompareAndSwap(false, true) {
		t.Error("want false, got true")
	}
}
