package collect

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFakeLoadTree(t *testing.T, loadavg, meminfo, pressureCPU string) string {
	t.Helper()
	root := t.TempDir()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("fixture setup: %v", err)
		}
	}

	if loadavg != "" {
		must(os.WriteFile(filepath.Join(root, "loadavg"), []byte(loadavg), 0o644))
	}
	if meminfo != "" {
		must(os.WriteFile(filepath.Join(root, "meminfo"), []byte(meminfo), 0o644))
	}
	if pressureCPU != "" {
		must(os.MkdirAll(filepath.Join(root, "pressure"), 0o755))
		must(os.WriteFile(filepath.Join(root, "pressure", "cpu"), []byte(pressureCPU), 0o644))
	}
	return root
}

func TestReadSystemLoad_AllSignalsPresent(t *testing.T) {
	root := writeFakeLoadTree(t,
		"4.00 3.50 2.00 3/512 12345\n",
		"MemTotal:       16000000 kB\nMemAvailable:    4000000 kB\n",
		"some avg10=2.34 avg60=1.12 avg300=0.50 total=98765\nfull avg10=0.00 avg60=0.00 avg300=0.00 total=0\n",
	)

	got := ReadSystemLoad(root, 5, 10)

	if got.QueueLength != 5 || got.QueueCapacity != 10 {
		t.Errorf("expected queue signals to pass through unchanged, got %+v", got)
	}
	if got.LoadPerCore <= 0 {
		t.Errorf("expected a positive load-per-core, got %v", got.LoadPerCore)
	}
	wantMemFrac := (16000000.0 - 4000000.0) / 16000000.0
	if diff := got.MemoryFrac - wantMemFrac; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected memory fraction %v, got %v", wantMemFrac, got.MemoryFrac)
	}
	if diff := got.PSISome10s - 0.0234; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected PSI some avg10 0.0234, got %v", got.PSISome10s)
	}
}

func TestReadSystemLoad_MissingFilesFallBackToZero(t *testing.T) {
	root := writeFakeLoadTree(t, "", "", "")

	got := ReadSystemLoad(root, 1, 4)

	if got.LoadPerCore != 0 {
		t.Errorf("expected load-per-core 0 when loadavg is missing, got %v", got.LoadPerCore)
	}
	if got.MemoryFrac != 0 {
		t.Errorf("expected memory fraction 0 when meminfo is missing, got %v", got.MemoryFrac)
	}
	if got.PSISome10s != 0 {
		t.Errorf("expected PSI 0 when pressure/cpu is missing, got %v", got.PSISome10s)
	}
	if got.QueueLength != 1 || got.QueueCapacity != 4 {
		t.Errorf("expected queue signals to still pass through, got %+v", got)
	}
}

func TestReadSystemLoad_NoPSISupport(t *testing.T) {
	// Older kernels without CONFIG_PSI have no /proc/pressure directory at all.
	root := writeFakeLoadTree(t,
		"1.00 1.00 1.00 1/100 99\n",
		"MemTotal:       8000000 kB\nMemAvailable:    8000000 kB\n",
		"",
	)

	got := ReadSystemLoad(root, 0, 1)

	if got.PSISome10s != 0 {
		t.Errorf("expected PSI 0 without pressure support, got %v", got.PSISome10s)
	}
	if got.MemoryFrac != 0 {
		t.Errorf("expected memory fraction 0 when all memory is available, got %v", got.MemoryFrac)
	}
}
