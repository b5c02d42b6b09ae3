// eurechat is the interactive chat client: it registers with the directory
// service, runs a local peer listener for inbound messages, and chats
// directly with other clients over peer-to-peer connections.
package main

import (
	"os"

	"github.com/SokratisVidros/eurechat/cmd/eurechat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		commands.PrintErr("Error: %v", err)
		os.Exit(1)
	}
}
