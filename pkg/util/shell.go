package util

import "os"

// GetShell returns the shell used to run agent and verifier commands. It
// honors the SHELL environment variable and defaults to /usr/bin/bash.
func GetShell() string {
	shell, ok := os.LookupEnv("SHELL")
	if !ok {
		shell = "/usr/bin/bash"
	}

	return shell
}
