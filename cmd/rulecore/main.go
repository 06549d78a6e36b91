// Command rulecore runs the CORE rule-execution runtime: it loads rule
// artifacts from a remote registry or a local directory, caches them, and
// keeps the cache current over the configured lifecycle (hot-reload,
// periodic version refresh, graceful shutdown).
package main

import "github.com/decisiongrid/rulecore/cmd/rulecore/cmd"

func main() {
	cmd.Execute()
}
