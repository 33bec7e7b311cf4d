package denylist

// DefaultPatterns contains the hardcoded critical patterns.
// They form the safety floor: a loaded file can add entries but never remove these.
var DefaultPatterns = Patterns{
	Files: []string{
		"/etc/shadow",
		"/etc/gshadow",
		"/etc/sudoers",
		"/etc/master.passwd",
		"~/.ssh/",
		"**/.ssh/id_",
		"~/.aws/credentials",
		"~/.gnupg/",
		"~/.password-store/",
		"~/.docker/config.json",
		"**/*.kdbx",
		"/library/keychains/",
		"~/library/keychains/",
		"/windows/system32/config/sam",
		"/windows/system32/config/security",
		"appdata/roaming/microsoft/credentials",
		"appdata/local/microsoft/credentials",
		"appdata/roaming/microsoft/protect",
		"~/.mozilla/firefox/",
		"~/.config/google-chrome/",
		"~/.config/chromium/",
		"library/application support/google/chrome",
		"library/application support/firefox/profiles",
		"appdata/local/google/chrome/user data",
		"appdata/roaming/mozilla/firefox/profiles",
	},
	Commands: []string{
		"rm -rf / ",
		"rm -rf /*",
		"rm -fr / ",
		"rm -fr /*",
		"rm -rf ~ ",
		"rm -rf ~/ ",
		"--no-preserve-root",
		"del /s /q c:\\",
		"rd /s /q c:\\",
		"format c:",
		"mkfs",
		"diskpart",
		"dd if=/dev/zero of=/dev/",
		"dd if=/dev/random of=/dev/",
		"of=/dev/sd",
		"of=/dev/nvme",
		"> /dev/sda",
		"> /dev/nvme",
		":(){ :|:& };:",
		":(){:|:&};:",
		"chmod -r 777 / ",
	},
	Processes: []string{
		"init",
		"systemd",
		"launchd",
		"kthreadd",
		"kernel_task",
		"windowserver",
		"loginwindow",
		"csrss",
		"wininit",
		"winlogon",
		"smss",
		"lsass",
		"services",
		"svchost",
		"system",
	},
}
