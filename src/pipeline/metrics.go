package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the pipeline metrics. It is written to a textfile at the end
// of a run because a batch job has no scrape endpoint.
var Registry = prometheus.NewRegistry()

var (
	RecordsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "misinfo_records_processed_total",
			Help: "Tweet records processed by the table builder",
		},
		[]string{"status"},
	)

	FilesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "misinfo_input_files_total",
			Help: "Input files seen by the table builder",
		},
		[]string{"status"},
	)

	RelationRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "misinfo_relation_rows_total",
			Help: "Rows written per relation table",
		},
		[]string{"relation"},
	)

	URLExpansions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "misinfo_url_expansions_total",
			Help: "Short URL expansions by outcome",
		},
		[]string{"outcome"},
	)

	ExpansionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "misinfo_url_expansion_duration_seconds",
			Help:    "Time to resolve one short URL",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20},
		},
	)

	MergedRows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "misinfo_merged_rows_total",
			Help: "Rows written to the merged tweet table",
		},
	)

	AccountsSummarized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "misinfo_accounts_summarized_total",
			Help: "Accounts written to the account summary table",
		},
	)
)

func init() {
	Registry.MustRegister(RecordsProcessed)
	Registry.MustRegister(FilesProcessed)
	Registry.MustRegister(RelationRows)
	Registry.MustRegister(URLExpansions)
	Registry.MustRegister(ExpansionDuration)
	Registry.MustRegister(MergedRows)
	Registry.MustRegister(AccountsSummarized)
}

// WriteMetrics writes the registry in the node exporter textfile format.
func WriteMetrics(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
