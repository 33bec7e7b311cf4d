// warden governs the actions of an autonomous agent: every proposed action
// is classified by policy, risky ones wait for a human and dangerous ones are
// refused.
package main

import "github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/cli"

func main() {
	cli.Execute()
}
