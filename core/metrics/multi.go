package metrics

import "errors"

// MultiSink fans cycle records out to several sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordCycle forwards the record to every sink and joins their errors.
func (m *MultiSink) RecordCycle(rec CycleRecord) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordCycle(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordAllocation forwards the record to the sinks supporting it.
func (m *MultiSink) RecordAllocation(rec CycleRecord) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(AllocationRecorder); ok {
			if err := r.RecordAllocation(rec); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Record sends rec to sink, and to its allocation recorder for solved cycles.
func Record(sink MetricsSink, rec CycleRecord) error {
	err := sink.RecordCycle(rec)
	if !rec.Outcome.Solved() {
		return err
	}
	if r, ok := sink.(AllocationRecorder); ok {
		err = errors.Join(err, r.RecordAllocation(rec))
	}
	return err
}

// Close closes the sinks holding resources.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
