package diag

import "sync"

// Record is one captured diagnostic.
type Record struct {
	Severity Severity
	Message  string
}

// Recorder is an in-memory Sink that captures diagnostics for inspection.
// Used by tests and by components that need to replay recent diagnostics.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Trace(msg string) { r.append(SeverityTrace, msg) }
func (r *Recorder) Warn(msg string)  { r.append(SeverityWarn, msg) }
func (r *Recorder) Error(msg string) { r.append(SeverityError, msg) }

func (r *Recorder) append(sev Severity, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, Record{Severity: sev, Message: msg})
}

// Records returns a copy of everything captured so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// BySeverity returns captured records matching sev.
func (r *Recorder) BySeverity(sev Severity) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records {
		if rec.Severity == sev {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of captured records.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
