/*
Copyright 2017 Google Inc.

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

package stats

import (
	"bytes"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/hoststack/mysqlwire/go/sync2"
)

// Counter is expvar.Int+Get+hook
type Counter struct {
	i    sync2.AtomicInt64
	help string
}

// NewCounter returns a new Counter
func NewCounter(name string, help string) *Counter {
	v := &Counter{help: help}
	if name != "" {
		publish(name, v)
	}
	return v
}

// Add adds the provided value to the Counter
func (v *Counter) Add(delta int64) {
	v.i.Add(delta)
}

// Reset resets the counter value to 0
func (v *Counter) Reset() {
	v.i.Set(int64(0))
}

// Get returns the value
func (v *Counter) Get() int64 {
	return v.i.Get()
}

// String is the implementation of expvar.var
func (v *Counter) String() string {
	return strconv.FormatInt(v.i.Get(), 10)
}

// Help returns the help string
func (v *Counter) Help() string {
	return v.help
}

// Gauge is an unlabeled metric whose values can go up/down.
type Gauge struct {
	Counter
}

// NewGauge creates a new Gauge and publishes it if name is set
func NewGauge(name string, help string) *Gauge {
	v := &Gauge{Counter: Counter{help: help}}

	if name != "" {
		publish(name, v)
	}
	return v
}

// Set sets the value
func (v *Gauge) Set(value int64) {
	v.Counter.i.Set(value)
}

// Counters is similar to expvar.Map, except that
// it doesn't allow floats. It is used to build CountersWithLabels.
type Counters struct {
	// mu only protects adding and retrieving the value (*int64) from the map,
	// modification to the actual number (int64) should be done with atomic funcs.
	mu     sync.RWMutex
	counts map[string]*int64
	help   string
}

// String implements expvar
func (c *Counters) String() string {
	b := bytes.NewBuffer(make([]byte, 0, 4096))

	c.mu.RLock()
	defer c.mu.RUnlock()

	fmt.Fprintf(b, "{")
	firstValue := true
	for k, a := range c.counts {
		if firstValue {
			firstValue = false
		} else {
			fmt.Fprintf(b, ", ")
		}
		fmt.Fprintf(b, "%q: %v", k, atomic.LoadInt64(a))
	}
	fmt.Fprintf(b, "}")
	return b.String()
}

func (c *Counters) getValueAddr(name string) *int64 {
	c.mu.RLock()
	a, ok := c.counts[name]
	c.mu.RUnlock()

	if ok {
		return a
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// we need to check the existence again
	// as it may be created by other goroutine.
	a, ok = c.counts[name]
	if ok {
		return a
	}
	a = new(int64)
	c.counts[name] = a
	return a
}

// Add adds a value to a named counter.
func (c *Counters) Add(name string, value int64) {
	a := c.getValueAddr(name)
	atomic.AddInt64(a, value)
}

// ResetAll resets all counter values and clears all keys.
func (c *Counters) ResetAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[string]*int64)
}

// Counts returns a copy of the Counters' map.
func (c *Counters) Counts() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[string]int64, len(c.counts))
	for k, a := range c.counts {
		counts[k] = atomic.LoadInt64(a)
	}
	return counts
}

// Help returns the help string.
func (c *Counters) Help() string {
	return c.help
}

// CountersWithLabels provides a labelName for the tagged values in Counters.
// It provides a Counts method which can be used for tracking rates.
type CountersWithLabels struct {
	Counters
	labelName string
}

// NewCountersWithLabels create a new Counters instance. If name is set,
// the variable gets published. The function also accepts an optional
// list of tags that pre-creates them initialized to 0.
// labelName is a category name used to organize the tags.
func NewCountersWithLabels(name string, help string, labelName string, tags ...string) *CountersWithLabels {
	c := &CountersWithLabels{
		Counters: Counters{
			counts: make(map[string]*int64),
			help:   help,
		},
		labelName: labelName,
	}

	for _, tag := range tags {
		c.counts[tag] = new(int64)
	}
	if name != "" {
		publish(name, c)
	}
	return c
}

// LabelName returns the label name.
func (c *CountersWithLabels) LabelName() string {
	return c.labelName
}

// CounterFunc converts a function that returns
// an int64 as an expvar.
// For implementations that differentiate between Counters/Gauges,
// CounterFunc's values only go up (or are reset to 0)
type CounterFunc struct {
	Mf   MetricFunc
	help string
}

// NewCounterFunc creates a new CounterFunc instance and publishes it if name is set
func NewCounterFunc(name string, help string, Mf MetricFunc) *CounterFunc {
	c := &CounterFunc{
		Mf:   Mf,
		help: help,
	}

	if name != "" {
		publish(name, c)
	}
	return c
}

// Help returns the help string
func (cf *CounterFunc) Help() string {
	return cf.help
}

// String implements expvar.Var
func (cf *CounterFunc) String() string {
	return cf.Mf.String()
}

// MetricFunc defines an interface for things that can be exported with calls to stats.CounterFunc/stats.GaugeFunc
type MetricFunc interface {
	FloatVal() float64
	String() string
}

// IntFunc converts a function that returns an int64 as both an expvar and a MetricFunc
type IntFunc func() int64

// FloatVal is the implementation of MetricFunc
func (f IntFunc) FloatVal() float64 {
	return float64(f())
}

// String is the implementation of expvar.var
func (f IntFunc) String() string {
	return strconv.FormatInt(f(), 10)
}

// GaugeFunc converts a function that returns an int64 as an expvar.
// It's a wrapper around CounterFunc for values that go up/down
// for implementations (like Prometheus) that need to differ between Counters and Gauges.
type GaugeFunc struct {
	CounterFunc
}

// NewGaugeFunc creates a new GaugeFunc instance and publishes it if name is set
func NewGaugeFunc(name string, help string, Mf MetricFunc) *GaugeFunc {
	i := &GaugeFunc{
		CounterFunc: CounterFunc{
			Mf:   Mf,
			help: help,
		}}

	if name != "" {
		publish(name, i)
	}
	return i
}
