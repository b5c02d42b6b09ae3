// eurechatd is the eurechat directory service: it registers chat clients,
// answers queries about who is online, and prunes clients whose peer
// listeners stop answering.
package main

import (
	"os"

	"github.com/SokratisVidros/eurechat/cmd/eurechatd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		commands.PrintErr("Error: %v", err)
		os.Exit(1)
	}
}
