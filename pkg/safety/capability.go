// Package safety statically analyzes code versions for security-relevant
// capabilities and computes the capability delta a patch introduces. It
// is an under-approximating analysis: it flags patterns, not proven
// exploits, and exists to assist a human approval decision, not to
// enforce one.
package safety

import "sort"

// Capability is a security-relevant code pattern detected by structural
// analysis.
type Capability string

const (
	CapabilityFilesystemRead  Capability = "filesystem_read"
	CapabilityFilesystemWrite Capability = "filesystem_write"
	CapabilityNetwork         Capability = "network_request"
	CapabilitySubprocess      Capability = "subprocess"
	CapabilityEval            Capability = "eval_exec"
	CapabilityDeserialize     Capability = "unsafe_deserialization"
	CapabilitySocket          Capability = "socket"
)

// Detection is a single static-analysis finding.
type Detection struct {
	Capability Capability `json:"capability"`
	Path       string     `json:"file_path"`
	Line       int        `json:"line_number"`
	Snippet    string     `json:"code_snippet"`
}

type detectionKey struct {
	capability Capability
	path       string
	line       int
}

func (d Detection) key() detectionKey {
	return detectionKey{d.Capability, d.Path, d.Line}
}

// Delta is the change in detected capabilities between two manifests:
// three disjoint sets keyed by (capability, file, line).
type Delta struct {
	Added     []Detection `json:"added"`
	Removed   []Detection `json:"removed"`
	Unchanged []Detection `json:"unchanged"`
}

// ComputeDelta compares base and candidate detection sets.
func ComputeDelta(base, candidate []Detection) Delta {
	baseSet := make(map[detectionKey]Detection, len(base))
	for _, d := range base {
		baseSet[d.key()] = d
	}
	candSet := make(map[detectionKey]Detection, len(candidate))
	for _, d := range candidate {
		candSet[d.key()] = d
	}

	var delta Delta
	for k, d := range candSet {
		if _, ok := baseSet[k]; !ok {
			delta.Added = append(delta.Added, d)
		}
	}
	for k, d := range baseSet {
		if _, ok := candSet[k]; ok {
			delta.Unchanged = append(delta.Unchanged, d)
		} else {
			delta.Removed = append(delta.Removed, d)
		}
	}

	sortDetections(delta.Added)
	sortDetections(delta.Removed)
	sortDetections(delta.Unchanged)
	return delta
}

func sortDetections(ds []Detection) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].Path != ds[j].Path {
			return ds[i].Path < ds[j].Path
		}
		if ds[i].Line != ds[j].Line {
			return ds[i].Line < ds[j].Line
		}
		return ds[i].Capability < ds[j].Capability
	})
}
