package jobs

import (
	"fmt"
	"time"
)

// Kind of remote work submitted to a backend
type Kind string

const (
	KindHadoop   Kind = "hadoop"
	KindSpark    Kind = "spark"
	KindPySpark  Kind = "pyspark"
	KindSparkSQL Kind = "spark-sql"
)

// DistCpClass is the bulk-copy tool every backend reuses verbatim
const DistCpClass = "org.apache.hadoop.tools.DistCp"

// Spec describes one job submission. Validated at construction; the
// engine treats the executable references as opaque.
type Spec struct {
	Kind Kind

	// Executable references; which ones are required depends on Kind.
	Jarfile     string
	ClassName   string
	PySparkFile string
	QueryFile   string

	// Args passed to the driver application, not to the submitting
	// wrapper.
	Args []string

	// Properties are merged over the executor's base properties;
	// these values win on collision.
	Properties map[string]string

	// PollInterval overrides the executor default for polled
	// backends. Ignored by synchronous backends.
	PollInterval time.Duration

	// StdoutPath captures job output when set (synchronous mode).
	StdoutPath string
}

// Validate rejects malformed kind/reference combinations. These are
// contract violations, never retried.
func (s Spec) Validate() error {
	switch s.Kind {
	case KindHadoop:
		if s.Jarfile == "" && s.ClassName == "" {
			return fmt.Errorf("%w: hadoop job needs a jarfile or classname", ErrContract)
		}
	case KindSpark:
		if s.Jarfile == "" {
			return fmt.Errorf("%w: spark job needs a jarfile", ErrContract)
		}
	case KindPySpark:
		if s.PySparkFile == "" {
			return fmt.Errorf("%w: pyspark job needs a script", ErrContract)
		}
	case KindSparkSQL:
		if s.QueryFile == "" {
			return fmt.Errorf("%w: spark-sql job needs a query file", ErrContract)
		}
	default:
		return fmt.Errorf("%w: unknown job kind %q", ErrContract, s.Kind)
	}
	return nil
}

// Result holds the service-reported timing of one successful job.
// PendingTime is zero for backends that do not report queueing delay.
type Result struct {
	RunTime     time.Duration
	PendingTime time.Duration
	// Stdout is populated by synchronous backends.
	Stdout string
}

// WallTime is the total service-reported duration, run plus pending.
func (r Result) WallTime() time.Duration {
	return r.RunTime + r.PendingTime
}
