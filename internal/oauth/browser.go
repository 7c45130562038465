package oauth

import (
	"fmt"
	"os/exec"
	"runtime"
)

// openBrowser launches the user's default browser at authURL. If it
// fails (headless environment, no GUI session), the caller is
// expected to log the URL for manual copy/paste.
func openBrowser(authURL string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "windows":
		cmd = "rundll32"
		args = []string{"url.dll,FileProtocolHandler", authURL}
	case "darwin":
		cmd = "open"
		args = []string{authURL}
	case "linux":
		if _, err := exec.LookPath("xdg-open"); err != nil {
			return fmt.Errorf("xdg-open not found in PATH: %w", err)
		}
		cmd = "xdg-open"
		args = []string{authURL}
	default:
		return fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	return exec.Command(cmd, args...).Start()
}
