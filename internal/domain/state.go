package domain

import "strings"

type LifecycleState string

const (
	LifecycleStarted LifecycleState = "STARTED"
	LifecycleStopped LifecycleState = "STOPPED"
	LifecycleUnknown LifecycleState = "UNKNOWN"
)

// ParseLifecycleState maps a control-plane state string onto LifecycleState.
// Anything unrecognised is UNKNOWN.
func ParseLifecycleState(s string) LifecycleState {
	switch LifecycleState(strings.ToUpper(strings.TrimSpace(s))) {
	case LifecycleStarted:
		return LifecycleStarted
	case LifecycleStopped:
		return LifecycleStopped
	}
	return LifecycleUnknown
}

func (ls LifecycleState) IsStarted() bool {
	return ls == LifecycleStarted
}

type InstanceState string

const (
	InstanceRunning InstanceState = "RUNNING"
	InstanceDown    InstanceState = "DOWN"
	InstanceCrashed InstanceState = "CRASHED"
	InstanceOther   InstanceState = "OTHER"
)

func ParseInstanceState(s string) InstanceState {
	switch InstanceState(strings.ToUpper(strings.TrimSpace(s))) {
	case InstanceRunning:
		return InstanceRunning
	case InstanceDown:
		return InstanceDown
	case InstanceCrashed:
		return InstanceCrashed
	}
	return InstanceOther
}

type Instance struct {
	Index int
	State InstanceState
}

type Process struct {
	Type string
	ID   string
}

// AnyRunning reports whether at least one instance is RUNNING.
func AnyRunning(instances []Instance) bool {
	for _, in := range instances {
		if in.State == InstanceRunning {
			return true
		}
	}
	return false
}

// RenderInstances gives a compact "RUNNING,DOWN" view for log lines.
func RenderInstances(instances []Instance) string {
	if len(instances) == 0 {
		return "no-instances"
	}
	states := make([]string, 0, len(instances))
	for _, in := range instances {
		states = append(states, string(in.State))
	}
	return strings.Join(states, ",")
}

// PrimaryProcess picks the "web" process, falling back to the first one.
func PrimaryProcess(processes []Process) (Process, bool) {
	for _, p := range processes {
		if p.Type == "web" {
			return p, true
		}
	}
	if len(processes) == 0 {
		return Process{}, false
	}
	return processes[0], true
}
