// Command perf-regression compares two `go test -bench` outputs and fails when a tracked
// benchmark of the session hot path got slower than the allowed ratio.
//
//	go test -run '^$' -bench . -count 5 . > new.txt
//	perf-regression --baseline old.txt --candidate new.txt
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

const defaultThreshold = 0.30

// defaultTracked lists the benchmarks every request pays for, with the units compared.
var defaultTracked = []string{
	"BenchmarkVerifySession:ns/op,allocs/op",
	"BenchmarkVerifySessionRedis:ns/op",
	"BenchmarkAllowRequest:ns/op,allocs/op",
	"BenchmarkCheckCSRFToken:ns/op",
}

// samples maps benchmark name to unit to the values seen across -count runs.
type samples map[string]map[string][]float64

type comparison struct {
	Benchmark string
	Unit      string
	Baseline  float64
	Candidate float64
	Delta     float64
}

func main() {
	var (
		baselinePath  string
		candidatePath string
		threshold     float64
		tracked       []string
	)

	cmd := &cobra.Command{
		Use:          "perf-regression",
		Short:        "Fail when tracked benchmarks regress past a threshold",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if threshold < 0 {
				return fmt.Errorf("--threshold must be >= 0")
			}
			spec, err := parseTracked(tracked)
			if err != nil {
				return err
			}
			baseline, err := parseBenchmarkFile(baselinePath, spec)
			if err != nil {
				return fmt.Errorf("parse baseline: %w", err)
			}
			candidate, err := parseBenchmarkFile(candidatePath, spec)
			if err != nil {
				return fmt.Errorf("parse candidate: %w", err)
			}

			results, failures := compare(spec, baseline, candidate, threshold)
			printResults(cmd.OutOrStdout(), results)
			if len(failures) > 0 {
				for _, f := range failures {
					fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", f)
				}
				return fmt.Errorf("performance regression threshold exceeded")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baselinePath, "baseline", "", "benchmark output of the reference build")
	cmd.Flags().StringVar(&candidatePath, "candidate", "", "benchmark output of the build under test")
	cmd.Flags().Float64Var(&threshold, "threshold", defaultThreshold, "maximum allowed regression ratio (0.30 = +30%)")
	cmd.Flags().StringSliceVar(&tracked, "track", defaultTracked, "Benchmark:unit[,unit] pairs to compare")
	_ = cmd.MarkFlagRequired("baseline")
	_ = cmd.MarkFlagRequired("candidate")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// parseTracked turns "Name:unit,unit" entries into a lookup table. StringSlice splits on
// commas, so a bare unit following an entry belongs to the previous benchmark.
func parseTracked(entries []string) (map[string][]string, error) {
	out := map[string][]string{}
	last := ""
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, unit, ok := strings.Cut(entry, ":")
		if !ok {
			if last == "" {
				return nil, fmt.Errorf("tracked entry %q has no benchmark name", entry)
			}
			out[last] = append(out[last], entry)
			continue
		}
		if !strings.HasPrefix(name, "Benchmark") || unit == "" {
			return nil, fmt.Errorf("tracked entry %q must look like BenchmarkName:unit", entry)
		}
		out[name] = append(out[name], unit)
		last = name
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no benchmarks tracked")
	}
	return out, nil
}

func parseBenchmarkFile(path string, tracked map[string][]string) (samples, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return parseBenchmarks(file, tracked)
}

func parseBenchmarks(r io.Reader, tracked map[string][]string) (samples, error) {
	out := samples{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || !strings.HasPrefix(fields[0], "Benchmark") {
			continue
		}
		name := trimProcs(fields[0])
		if _, ok := tracked[name]; !ok {
			continue
		}
		if out[name] == nil {
			out[name] = map[string][]float64{}
		}
		for i := 2; i+1 < len(fields); i += 2 {
			value, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			out[name][fields[i+1]] = append(out[name][fields[i+1]], value)
		}
	}
	return out, scanner.Err()
}

// trimProcs drops the -GOMAXPROCS suffix go test appends to benchmark names.
func trimProcs(raw string) string {
	if idx := strings.LastIndexByte(raw, '-'); idx > 0 {
		if _, err := strconv.Atoi(raw[idx+1:]); err == nil {
			return raw[:idx]
		}
	}
	return raw
}

func compare(tracked map[string][]string, baseline, candidate samples, threshold float64) ([]comparison, []string) {
	names := make([]string, 0, len(tracked))
	for name := range tracked {
		names = append(names, name)
	}
	slices.Sort(names)

	var (
		results  []comparison
		failures []string
	)
	for _, name := range names {
		for _, unit := range tracked[name] {
			if len(baseline[name][unit]) == 0 || len(candidate[name][unit]) == 0 {
				failures = append(failures, fmt.Sprintf("missing samples for %s %s", name, unit))
				continue
			}
			base := median(baseline[name][unit])
			cand := median(candidate[name][unit])
			c := comparison{Benchmark: name, Unit: unit, Baseline: base, Candidate: cand}
			switch {
			case base > 0:
				c.Delta = (cand - base) / base
			case cand > 0:
				// Anything above a zero baseline (typically allocs/op) is a regression.
				c.Delta = 1 + threshold
			}
			results = append(results, c)
			if c.Delta > threshold {
				failures = append(failures, fmt.Sprintf("%s %s regressed by %+0.2f%% (limit %+0.2f%%)", name, unit, c.Delta*100, threshold*100))
			}
		}
	}
	return results, failures
}

func printResults(w io.Writer, results []comparison) {
	fmt.Fprintln(w, "benchmark unit baseline candidate delta")
	for _, c := range results {
		fmt.Fprintf(w, "%s %s %.3f %.3f %+0.2f%%\n", c.Benchmark, c.Unit, c.Baseline, c.Candidate, c.Delta*100)
	}
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
