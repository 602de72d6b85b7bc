package monitor

import (
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// AgentProcess is a running coding-assistant process found on the host.
type AgentProcess struct {
	PID        int
	WorkingDir string
	CPUPercent float64
}

// DiscoverAgentProcesses walks the process table looking for claude
// processes so sessions can be tagged with a live PID.
func DiscoverAgentProcesses() (map[string]AgentProcess, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	byDir := make(map[string]AgentProcess)
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		cmdline, _ := p.Cmdline()
		if !isAgentProcess(name, cmdline) {
			continue
		}
		cwd, err := p.Cwd()
		if err != nil || cwd == "" {
			continue
		}
		cpu, _ := p.CPUPercent()

		// Multiple processes in one directory: keep the busiest.
		if existing, ok := byDir[cwd]; ok && existing.CPUPercent >= cpu {
			continue
		}
		byDir[cwd] = AgentProcess{
			PID:        int(p.Pid),
			WorkingDir: cwd,
			CPUPercent: cpu,
		}
	}

	return byDir, nil
}

func isAgentProcess(name, cmdline string) bool {
	exe := filepath.Base(name)
	if exe == "claude" || exe == "claude-code" {
		return true
	}
	// node running the claude entrypoint
	if exe == "node" && strings.Contains(cmdline, "claude") && !strings.Contains(cmdline, "node_modules/.bin") {
		return true
	}
	return false
}
