package collect

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/processtriage/pt/internal/decision"
)

// ReadSystemLoad samples /proc/loadavg, /proc/meminfo, and
// /proc/pressure/cpu and blends them with the current scan queue size into
// a decision.LoadSignals, the same raw inputs LoadScore expects.
// Individual signals that can't be read (e.g. no PSI support on older
// kernels) are left at zero rather than failing the whole read.
func ReadSystemLoad(procRoot string, queueLength, queueCapacity float64) decision.LoadSignals {
	return decision.LoadSignals{
		QueueLength:   queueLength,
		QueueCapacity: queueCapacity,
		LoadPerCore:   readLoadPerCore(procRoot),
		MemoryFrac:    readMemoryFrac(procRoot),
		PSISome10s:    readPSISome10s(procRoot),
	}
}

func readLoadPerCore(procRoot string) float64 {
	data, err := os.ReadFile(procRoot + "/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0
	}
	oneMin, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	cores := runtime.NumCPU()
	if cores < 1 {
		cores = 1
	}
	return oneMin / float64(cores)
}

func readMemoryFrac(procRoot string) float64 {
	data, err := os.ReadFile(procRoot + "/meminfo")
	if err != nil {
		return 0
	}
	var total, available float64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch strings.TrimSuffix(fields[0], ":") {
		case "MemTotal":
			total, _ = strconv.ParseFloat(fields[1], 64)
		case "MemAvailable":
			available, _ = strconv.ParseFloat(fields[1], 64)
		}
	}
	if total <= 0 {
		return 0
	}
	used := total - available
	if used < 0 {
		used = 0
	}
	return used / total
}

// readPSISome10s parses the "avg10" field of the "some" line in
// /proc/pressure/cpu, e.g. "some avg10=2.34 avg60=1.12 avg300=0.50 total=...".
func readPSISome10s(procRoot string) float64 {
	data, err := os.ReadFile(procRoot + "/pressure/cpu")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "some ") {
			continue
		}
		for _, field := range strings.Fields(line) {
			if v, ok := strings.CutPrefix(field, "avg10="); ok {
				pct, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return 0
				}
				return pct / 100.0
			}
		}
	}
	return 0
}
