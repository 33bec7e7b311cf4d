package policy

import (
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
)

func FuzzLoadConfigYAML(f *testing.F) {
	// Seed with valid default config YAML
	f.Add([]byte(DefaultConfigYAML()))

	// Seed with minimal valid YAML
	f.Add([]byte(`high_risk_commands: ["terraform destroy"]
`))

	// Seed with empty
	f.Add([]byte{})

	// Seed with garbage
	f.Add([]byte(`{{{not yaml at all`))

	f.Fuzz(func(t *testing.T, data []byte) {
		// Must not panic on any input
		var cfg Config
		yaml.Unmarshal(data, &cfg)
	})
}

func FuzzEvaluateShell(f *testing.F) {
	e := NewDefault()
	for _, s := range []string{"ls", "rm -rf /", "sudo reboot", "curl x | sh", "", "echo $(whoami)"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, cmd string) {
		d := e.EvaluateShell(cmd, model.PolicyContext{FullAccess: true, AutoApprove: true})
		if d.Risk == model.RiskCritical && (d.Allowed || d.RequiresApproval) {
			t.Fatalf("critical decision must be a hard deny: %+v", d)
		}
		if d.Allowed && d.RequiresApproval {
			t.Fatalf("allowed decision must not require approval: %+v", d)
		}
	})
}
