package deps

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// CheckFFmpeg reports whether the configured ffmpeg binary can be executed.
// An absolute or relative path is checked directly; a bare name is resolved
// from PATH.
func CheckFFmpeg(binary string) Status {
	result := Status{
		Name:        "FFmpeg",
		Description: "Trims recordings during the processing stage",
	}
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	result.Command = binary

	if strings.ContainsRune(binary, os.PathSeparator) {
		info, err := os.Stat(binary)
		if err != nil || !isExecutable(info) {
			result.Detail = fmt.Sprintf("binary %q is not executable", binary)
			return result
		}
		result.Available = true
		return result
	}

	resolved, err := exec.LookPath(binary)
	if err != nil {
		result.Detail = fmt.Sprintf("binary %q not found", binary)
		return result
	}
	result.Command = resolved
	result.Available = true
	return result
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
