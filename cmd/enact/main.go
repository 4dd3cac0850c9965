// Command enact is the governance proxy for AI agent tool calls.
package main

import "github.com/enact-ai/enact/cmd/enact/cmd"

func main() {
	cmd.Execute()
}
