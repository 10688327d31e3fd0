package collect

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/processtriage/pt/internal/identity"
	"github.com/processtriage/pt/internal/supervision"
)

// supervisorPattern maps a substring of a parent's comm/cmdline to the
// supervision category and confidence it implies. Matching is
// case-sensitive on the literal binary/session names real supervisors use.
type supervisorPattern struct {
	needle     string
	category   supervision.Category
	confidence float64
	name       string
}

var ancestryPatterns = []supervisorPattern{
	{needle: "claude", category: supervision.CategoryAgent, confidence: 0.95, name: "claude-agent"},
	{needle: "code-server", category: supervision.CategoryIDE, confidence: 0.9, name: "vscode-server"},
	{needle: "code", category: supervision.CategoryIDE, confidence: 0.85, name: "vscode"},
	{needle: "gitlab-runner", category: supervision.CategoryCI, confidence: 0.95, name: "gitlab-runner"},
	{needle: "buildkite-agent", category: supervision.CategoryCI, confidence: 0.95, name: "buildkite-agent"},
	{needle: "systemd", category: supervision.CategoryOrchestrator, confidence: 0.9, name: "systemd"},
	{needle: "containerd-shim", category: supervision.CategoryOrchestrator, confidence: 0.9, name: "containerd-shim"},
	{needle: "tmux", category: supervision.CategoryTerminal, confidence: 0.6, name: "tmux"},
}

var environPatterns = []supervisorPattern{
	{needle: "CLAUDECODE=", category: supervision.CategoryAgent, confidence: 0.95, name: "claude-agent"},
	{needle: "CI=true", category: supervision.CategoryCI, confidence: 0.9, name: "generic-ci"},
	{needle: "GITHUB_ACTIONS=", category: supervision.CategoryCI, confidence: 0.95, name: "github-actions"},
	{needle: "VSCODE_PID=", category: supervision.CategoryIDE, confidence: 0.85, name: "vscode"},
}

// AncestryDetector walks a process's parent chain via /proc/<pid>/stat and
// matches each ancestor's comm against ancestryPatterns.
type AncestryDetector struct {
	procRoot string
	maxDepth int
}

// NewAncestryDetector builds a detector that walks at most maxDepth
// ancestors before giving up.
func NewAncestryDetector(procRoot string, maxDepth int) *AncestryDetector {
	if maxDepth <= 0 {
		maxDepth = 8
	}
	return &AncestryDetector{procRoot: procRoot, maxDepth: maxDepth}
}

// Detect implements supervision.AncestryDetector.
func (d *AncestryDetector) Detect(id identity.ProcessIdentity) (supervision.Result, error) {
	pid := id.PID
	for depth := 0; depth < d.maxDepth; depth++ {
		comm, ppid, err := readCommAndPPID(d.procRoot, pid)
		if err != nil {
			if depth == 0 {
				return supervision.Result{}, supervision.ErrProcessNotFound
			}
			break // Ancestor vanished; stop walking, return whatever we found.
		}
		for _, pat := range ancestryPatterns {
			if strings.Contains(comm, pat.needle) {
				return supervision.Result{
					IsSupervised:   true,
					Confidence:     pat.confidence,
					Category:       pat.category,
					SupervisorName: pat.name,
					Evidence: []supervision.Evidence{{
						Type:        "ancestry",
						Description: fmt.Sprintf("ancestor comm %q matched %q", comm, pat.needle),
						Weight:      pat.confidence,
					}},
				}, nil
			}
		}
		if ppid <= 1 {
			break
		}
		pid = uint32(ppid)
	}
	return supervision.Result{}, nil
}

// EnvironDetector matches a process's /proc/<pid>/environ block against
// environPatterns.
type EnvironDetector struct {
	procRoot string
}

// NewEnvironDetector builds an environ-based detector.
func NewEnvironDetector(procRoot string) *EnvironDetector {
	return &EnvironDetector{procRoot: procRoot}
}

// Detect implements supervision.EnvironDetector.
func (d *EnvironDetector) Detect(id identity.ProcessIdentity) (supervision.Result, error) {
	data, err := os.ReadFile(fmt.Sprintf("%s/%d/environ", d.procRoot, id.PID))
	if err != nil {
		return supervision.Result{}, err
	}
	vars := strings.Split(string(data), "\x00")
	for _, v := range vars {
		for _, pat := range environPatterns {
			if strings.HasPrefix(v, pat.needle) {
				return supervision.Result{
					IsSupervised:   true,
					Confidence:     pat.confidence,
					Category:       pat.category,
					SupervisorName: pat.name,
					Evidence: []supervision.Evidence{{
						Type:        "environ",
						Description: fmt.Sprintf("environment variable %q present", pat.needle),
						Weight:      pat.confidence,
					}},
				}, nil
			}
		}
	}
	return supervision.Result{}, nil
}

// IPCDetector inspects a process's open file descriptors for unix sockets
// pointing at known supervisor paths (e.g. an editor's IPC socket).
type IPCDetector struct {
	procRoot      string
	supervisorFDs []string // substrings of fd symlink targets that imply supervision
}

// NewIPCDetector builds an IPC-socket-based detector.
func NewIPCDetector(procRoot string) *IPCDetector {
	return &IPCDetector{
		procRoot:      procRoot,
		supervisorFDs: []string{"vscode-ipc", ".claude", "docker.sock"},
	}
}

// Detect implements supervision.IPCDetector.
func (d *IPCDetector) Detect(id identity.ProcessIdentity) (supervision.Result, error) {
	fdDir := fmt.Sprintf("%s/%d/fd", d.procRoot, id.PID)
	entries, err := os.ReadDir(fdDir)
	if err != nil {
		return supervision.Result{}, err
	}
	for _, e := range entries {
		target, err := os.Readlink(fdDir + "/" + e.Name())
		if err != nil {
			continue
		}
		for _, needle := range d.supervisorFDs {
			if strings.Contains(target, needle) {
				return supervision.Result{
					IsSupervised:   true,
					Confidence:     0.7,
					Category:       supervision.CategoryOther,
					SupervisorName: needle,
					Evidence: []supervision.Evidence{{
						Type:        "ipc",
						Description: fmt.Sprintf("fd points at %q", target),
						Weight:      0.7,
					}},
				}, nil
			}
		}
	}
	return supervision.Result{}, nil
}

func readCommAndPPID(procRoot string, pid uint32) (comm string, ppid int, err error) {
	data, err := os.ReadFile(fmt.Sprintf("%s/%d/stat", procRoot, pid))
	if err != nil {
		return "", 0, err
	}
	open := strings.IndexByte(string(data), '(')
	close := strings.LastIndexByte(string(data), ')')
	if open < 0 || close < 0 || close <= open {
		return "", 0, fmt.Errorf("malformed /proc/%d/stat", pid)
	}
	comm = string(data[open+1 : close])
	fields := strings.Fields(string(data[close+2:]))
	if len(fields) < 2 {
		return "", 0, fmt.Errorf("short /proc/%d/stat", pid)
	}
	ppidVal, err := strconv.Atoi(fields[1])
	if err != nil {
		return "", 0, err
	}
	return comm, ppidVal, nil
}
