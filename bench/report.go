package bench

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/fatih/color"
)

// PrintSummary writes the statistics of one transport.
func PrintSummary(w io.Writer, title string, s Summary) error {
	_, err := fmt.Fprintf(w, "%s Results:\n  Min:     %v\n  Average: %v\n  Max:     %v\n  P99:     %v\n",
		title, s.Min, s.Mean, s.Max, s.P99)
	return err
}

// PrintComparison writes which transport was faster and by how much.
func PrintComparison(w io.Writer, c Comparison) error {
	if _, err := fmt.Fprintln(w, "Comparison:"); err != nil {
		return err
	}

	faster, slower := "TCP", "Unix"
	if c.UnixFaster {
		faster, slower = "Unix", "TCP"
	}
	_, err := color.New(color.FgGreen).Fprintf(w, "  %s sockets are %.2fx faster than %s\n", faster, c.Factor, slower)
	return err
}

var csvHeader = []string{"transport", "count", "min_ns", "mean_ns", "max_ns", "p99_ns", "median_ns", "stddev_ns"}

// WriteCSV writes one row per transport, sorted by name, to the file at path.
func WriteCSV(path string, results map[string]Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := writeCSV(f, results); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeCSV(w io.Writer, results map[string]Summary) error {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, name := range names {
		s := results[name]
		err := cw.Write([]string{
			name,
			strconv.Itoa(s.Count),
			strconv.FormatInt(int64(s.Min), 10),
			strconv.FormatInt(int64(s.Mean), 10),
			strconv.FormatInt(int64(s.Max), 10),
			strconv.FormatInt(int64(s.P99), 10),
			strconv.FormatInt(int64(s.Median), 10),
			strconv.FormatInt(int64(s.StdDev), 10),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
