package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/SokratisVidros/eurechat/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write the default configuration to the config file location so it can
be edited. Uses --config when given, otherwise the default location at
$XDG_CONFIG_HOME/eurechat/config.yaml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := GetConfigFile()
		if path == "" {
			path = config.DefaultConfigPath()
		}

		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
		}

		if err := config.Save(config.GetDefaultConfig(), path); err != nil {
			return err
		}
		fmt.Printf("Wrote default configuration to %s\n", path)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}
