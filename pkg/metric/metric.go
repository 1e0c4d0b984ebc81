// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package metric provides primitives for collecting metrics.
//
// Metrics are named with slash-separated paths (e.g. "/mm/faults") and are
// exported through a private Prometheus registry, where the path is flattened
// into a Prometheus-compatible name under the "mmsim" namespace.
package metric

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// namespace prefixes every exported metric name.
const namespace = "mmsim"

var (
	// registry holds every metric created by this package.
	registry = prometheus.NewRegistry()

	// factory registers collectors with registry on creation.
	factory = promauto.With(registry)

	// registered lists the path of every metric created, in creation order.
	registered []string
)

// register records name as created and returns its Prometheus name.
func register(name string) string {
	pn := promName(name)
	registered = append(registered, name)
	return pn
}

// Registered returns the sorted paths of every metric created so far.
func Registered() []string {
	names := slices.Clone(registered)
	slices.Sort(names)
	return names
}

// Field contains the field name and allowed values for the metric which is
// used in registration of the metric.
type Field struct {
	// name is the metric field name.
	name string

	// allowedValues is the list of allowed values for the field.
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues []string) Field {
	return Field{
		name:          name,
		allowedValues: allowedValues,
	}
}

// fieldSet validates field values against the allowed values declared at
// registration.
type fieldSet []Field

func (fs fieldSet) names() []string {
	names := make([]string, 0, len(fs))
	for _, f := range fs {
		names = append(names, f.name)
	}
	return names
}

func (fs fieldSet) check(metric string, values []string) {
	if len(values) != len(fs) {
		panic(fmt.Sprintf("metric %s: got %d field values, want %d", metric, len(values), len(fs)))
	}
	for i, v := range values {
		if !slices.Contains(fs[i].allowedValues, v) {
			panic(fmt.Sprintf("metric %s: value %q not allowed for field %q", metric, v, fs[i].name))
		}
	}
}

// promName converts a metric path into a Prometheus metric name.
func promName(name string) string {
	if !strings.HasPrefix(name, "/") {
		panic(fmt.Sprintf("metric name must start with '/': %q", name))
	}
	return namespace + strings.ReplaceAll(strings.ReplaceAll(name, "/", "_"), "-", "_")
}

// Uint64Metric encapsulates a cumulative uint64 value, optionally broken
// down by fields.
type Uint64Metric struct {
	name   string
	fields fieldSet
	vec    *prometheus.CounterVec
}

// MustCreateNewUint64Metric creates and registers a new cumulative metric. It
// panics if the name is malformed or already registered.
func MustCreateNewUint64Metric(name, description string, fields ...Field) *Uint64Metric {
	fs := fieldSet(fields)
	return &Uint64Metric{
		name:   name,
		fields: fs,
		vec: factory.NewCounterVec(prometheus.CounterOpts{
			Name: register(name),
			Help: description,
		}, fs.names()),
	}
}

// Increment increments the metric by 1.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	m.IncrementBy(1, fieldValues...)
}

// IncrementBy increments the metric by v.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	m.fields.check(m.name, fieldValues)
	m.vec.WithLabelValues(fieldValues...).Add(float64(v))
}

// Value returns the current value of the metric for the given fields.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	m.fields.check(m.name, fieldValues)
	var pm dto.Metric
	if err := m.vec.WithLabelValues(fieldValues...).Write(&pm); err != nil {
		panic(fmt.Sprintf("metric %s: %v", m.name, err))
	}
	return uint64(pm.GetCounter().GetValue())
}

// Int64Gauge is a value that may go up and down.
type Int64Gauge struct {
	name  string
	gauge prometheus.Gauge
}

// MustCreateNewInt64Gauge creates and registers a new gauge.
func MustCreateNewInt64Gauge(name, description string) *Int64Gauge {
	return &Int64Gauge{
		name: name,
		gauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: register(name),
			Help: description,
		}),
	}
}

// Add adds v, which may be negative, to the gauge.
func (g *Int64Gauge) Add(v int64) {
	g.gauge.Add(float64(v))
}

// Value returns the current value of the gauge.
func (g *Int64Gauge) Value() int64 {
	var pm dto.Metric
	if err := g.gauge.Write(&pm); err != nil {
		panic(fmt.Sprintf("metric %s: %v", g.name, err))
	}
	return int64(pm.GetGauge().GetValue())
}

// DistributionMetric represents a distribution of values, with samples
// bucketed by the given upper bounds.
type DistributionMetric struct {
	name   string
	fields fieldSet
	vec    *prometheus.HistogramVec
}

// MustCreateNewDistributionMetric creates and registers a new distribution
// metric.
func MustCreateNewDistributionMetric(name, description string, buckets []float64, fields ...Field) *DistributionMetric {
	fs := fieldSet(fields)
	return &DistributionMetric{
		name:   name,
		fields: fs,
		vec: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    register(name),
			Help:    description,
			Buckets: buckets,
		}, fs.names()),
	}
}

// AddSample adds a sample to the distribution.
func (d *DistributionMetric) AddSample(sample float64, fieldValues ...string) {
	d.fields.check(d.name, fieldValues)
	d.vec.WithLabelValues(fieldValues...).Observe(sample)
}

// SampleCount returns the number of samples recorded for the given fields.
func (d *DistributionMetric) SampleCount(fieldValues ...string) uint64 {
	d.fields.check(d.name, fieldValues)
	var pm dto.Metric
	if err := d.vec.WithLabelValues(fieldValues...).(prometheus.Metric).Write(&pm); err != nil {
		panic(fmt.Sprintf("metric %s: %v", d.name, err))
	}
	return pm.GetHistogram().GetSampleCount()
}

// ExponentialBuckets returns count bucket bounds starting at start, each
// factor times the previous one.
func ExponentialBuckets(start, factor float64, count int) []float64 {
	return prometheus.ExponentialBuckets(start, factor, count)
}

// Gather returns a snapshot of every registered metric family, sorted by
// name.
func Gather() ([]*dto.MetricFamily, error) {
	return registry.Gather()
}

// WriteText writes every registered metric in the Prometheus text exposition
// format.
func WriteText(w io.Writer) error {
	mfs, err := Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing metric %q: %w", mf.GetName(), err)
		}
	}
	return nil
}
