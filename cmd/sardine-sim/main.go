// Command sardine-sim sends segmented messages between two dispatchers
// over an in-memory lossy link and reports each outcome.
package main

import "github.com/gordian-engine/sardine/cmd/sardine-sim/commands"

func main() {
	commands.Execute()
}
