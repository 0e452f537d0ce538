package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/veridoc-ai/remediation-engine/cmd/remediate/ui"
)

var (
	cfgFile string
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "remediate",
	Short: "Document accessibility remediation engine",
	Long: `Remediate validates PDF documents, scans them for accessibility issues,
applies automated repairs, and generates manual remediation guidance for
what automation could not fix.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		ui.Init(noColor)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
