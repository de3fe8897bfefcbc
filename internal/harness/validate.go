package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/config"
)

var knownSinks = map[string]bool{"csv": true, "postgres": true, "kafka": true}

// ValidationError holds per-setting validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %s", k, e.Fields[k])
	}
	return "invalid harness config: " + strings.Join(parts, "; ")
}

// Validate checks the harness section of cfg against the backends the run
// would need.
func Validate(cfg *config.Config) error {
	h := cfg.Harness
	errs := make(map[string]string)
	if strings.TrimSpace(h.QueriesPath) == "" {
		errs["harness.queriesPath"] = "queries file is required"
	}
	if h.QueryIDColumn == "" || h.QueryColumn == "" {
		errs["harness.queryIdColumn"] = "query id and text columns are required"
	} else if h.QueryIDColumn == h.QueryColumn {
		errs["harness.queryIdColumn"] = "query id and text columns must differ"
	}
	if h.TopK < 0 {
		errs["harness.topK"] = "must not be negative"
	}
	if h.Concurrency < 0 {
		errs["harness.concurrency"] = "must not be negative"
	}
	for _, name := range h.Sinks {
		switch {
		case !knownSinks[name]:
			errs["harness.sinks"] = fmt.Sprintf("unknown sink %q", name)
		case name == "csv" && h.OutputPath == "":
			errs["harness.outputPath"] = "required by the csv sink"
		case name == "postgres" && cfg.Postgres.Host == "":
			errs["postgres.host"] = "required by the postgres sink"
		case name == "kafka" && len(cfg.Kafka.Brokers) == 0:
			errs["kafka.brokers"] = "required by the kafka sink"
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
