// Package commands implements the CLI for the eurechat client.
package commands

import (
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/SokratisVidros/eurechat/internal/logger"
)

// Version information injected at build time.
var Version = "dev"

var (
	directoryAddr string
	bindAddress   string
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:   "eurechat <username> [password]",
	Short: "Eurechat peer-to-peer chat client",
	Long: `Eurechat is a peer-to-peer chat client. It authenticates against the
directory service, announces a local listening port for inbound messages,
and then chats directly with other users; the directory never relays a
message.

Interactive commands:
  chat <user> <text>     Chat with another user
  list [<user>]          List online users, or look one up
  ping <user>            Ping a user's peer listener
  secret <user> <text>   Ask the riddle bot for the secret token
  help                   Show the command list
  bye                    Leave the directory and quit`,
	Args:          cobra.RangeArgs(1, 2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runClient,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Flags().StringVarP(&directoryAddr, "directory", "d", "127.0.0.1:8888", "Directory service address")
	rootCmd.Flags().StringVarP(&bindAddress, "bind", "b", "127.0.0.1", "Local address announced for peer connections")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug output")
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

func runClient(cmd *cobra.Command, args []string) error {
	level := "WARN" // keep the prompt clean unless asked otherwise
	if verbose {
		level = "DEBUG"
	}
	if err := logger.Init(logger.Config{Level: level, Format: "text", Output: "stderr"}); err != nil {
		return err
	}

	username := args[0]
	password := ""
	if len(args) == 2 {
		password = args[1]
	} else {
		prompt := promptui.Prompt{Label: "Password", Mask: '*'}
		result, err := prompt.Run()
		if err != nil {
			return err
		}
		password = result
	}

	return runPrompt(cmd.Context(), username, password)
}
