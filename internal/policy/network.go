package policy

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
)

// EvaluateNetwork classifies an outbound request to rawURL.
//
// Evaluation order (must not be changed):
//  1. Unparseable URL or missing host: high with approval
//  2. Loopback: low, allowed
//  3. Private or internal address: medium, allowed
//  4. Full access: medium, allowed; otherwise medium with approval
func (e *Engine) EvaluateNetwork(rawURL string, pc model.PolicyContext) model.PolicyDecision {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err == nil && u.Hostname() == "" {
		err = errors.New("missing host")
	}
	if err != nil {
		return needsApproval(model.RiskHigh, fmt.Sprintf("invalid URL: %v", err), "network.invalid")
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))

	if isLoopback(host) {
		return allow(model.RiskLow, fmt.Sprintf("loopback host %s", host), "network.loopback")
	}
	if e.isInternal(host) {
		return allow(model.RiskMedium, fmt.Sprintf("internal host %s", host), "network.internal")
	}
	if pc.FullAccess {
		return allow(model.RiskMedium, fmt.Sprintf("external host %s under full access", host), "network.full_access")
	}
	return needsApproval(model.RiskMedium, fmt.Sprintf("external host %s requires approval", host), "network.default")
}

func isLoopback(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (e *Engine) isInternal(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
	}
	for _, suffix := range e.internalSuffixes {
		if !strings.HasPrefix(suffix, ".") {
			suffix = "." + suffix
		}
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}
