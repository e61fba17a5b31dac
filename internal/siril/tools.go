package siril

import (
	"os/exec"
	"strings"
)

// ToolStatus represents the availability of an external tool.
type ToolStatus struct {
	Name      string
	Available bool
	Version   string
	Path      string
	Error     error
}

// versionArgs maps known binaries to the flag that prints their version.
var versionArgs = map[string][]string{
	"siril-cli": {"--version"},
	"siril":     {"--version"},
	"convert":   {"-version"},
	"magick":    {"-version"},
}

// CheckTool verifies that binary is on PATH (or is an existing path) and
// extracts its version line.
func CheckTool(binary string) ToolStatus {
	status := ToolStatus{Name: binary}
	path, err := exec.LookPath(binary)
	if err != nil {
		status.Error = err
		return status
	}
	status.Path = path

	args, ok := versionArgs[baseName(binary)]
	if !ok {
		status.Available = true
		return status
	}

	output, err := exec.Command(path, args...).CombinedOutput()
	if err != nil && len(output) == 0 {
		status.Error = err
		return status
	}
	// Some tools exit non-zero for version output but still print it.
	status.Available = true
	status.Version = extractVersion(string(output))
	return status
}

// Tools reports the engine binary plus the ImageMagick tools used for RAW
// probing and previews.
func Tools(sirilPath string) []ToolStatus {
	if sirilPath == "" {
		sirilPath = "siril-cli"
	}
	return []ToolStatus{
		CheckTool(sirilPath),
		CheckTool("magick"),
		CheckTool("convert"),
	}
}

func baseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}

// extractVersion extracts version information from tool output
func extractVersion(output string) string {
	lines := strings.Split(output, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.Contains(line, "version") || strings.Contains(line, "Version") {
			return line
		}
	}
	if len(lines) > 0 && strings.TrimSpace(lines[0]) != "" {
		return strings.TrimSpace(lines[0])
	}
	return "unknown"
}
