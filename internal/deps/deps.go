package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Requirement names an external binary and whether conversions need it.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status is the outcome of checking one Requirement. Command holds the
// resolved path when the binary was found.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// CheckBinaries resolves every requirement, in order.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, len(requirements))
	for i, req := range requirements {
		results[i] = check(req)
	}
	return results
}

func check(req Requirement) Status {
	st := Status{
		Name:        req.Name,
		Command:     strings.TrimSpace(req.Command),
		Description: strings.TrimSpace(req.Description),
		Optional:    req.Optional,
	}
	if st.Command == "" {
		st.Detail = "command not configured"
		return st
	}
	// Explicit paths are checked in place so a bad configured path is
	// reported as such instead of as missing from PATH.
	if strings.ContainsRune(st.Command, filepath.Separator) {
		info, err := os.Stat(st.Command)
		switch {
		case err != nil:
			st.Detail = fmt.Sprintf("%s does not exist", st.Command)
		case !isExecutable(info):
			st.Detail = fmt.Sprintf("%s is not executable", st.Command)
		default:
			st.Available = true
		}
		return st
	}
	resolved, err := exec.LookPath(st.Command)
	if err != nil {
		st.Detail = fmt.Sprintf("binary %q not found in PATH", st.Command)
		return st
	}
	st.Command = resolved
	st.Available = true
	return st
}

// Missing filters statuses down to required binaries that are unavailable.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, s := range statuses {
		if s.Optional || s.Available {
			continue
		}
		out = append(out, s)
	}
	return out
}
