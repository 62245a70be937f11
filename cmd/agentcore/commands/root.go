// Package commands provides the agentcore CLI's cobra command tree,
// grounded on cmd/opencode/commands/root.go, trimmed to the spec §6
// boundary modes: --server, --web (stub), --server-url (stub), and a
// positional-prompt non-interactive mode.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentcore-ai/agentcore/internal/logging"
)

var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

var (
	printLogs   bool
	logLevel    string
	logFile     bool
	rootDir     string
	globalModel string
)

var rootCmd = &cobra.Command{
	Use:   "agentcore [message...]",
	Short: "agentcore - AI coding-assistant backend",
	Long: `agentcore drives the session streaming engine, event bus, and RPC
router described by this repository. Run it with a positional message for a
one-shot non-interactive turn, 'agentcore --server' for the HTTP API, or
'agentcore --web'/'agentcore --server-url' for the stubbed client modes.`,
	Version: Version,
	Args:    cobra.ArbitraryArgs,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logCfg := logging.Config{
			Level:     logging.ParseLevel(logLevel),
			Output:    os.Stderr,
			Pretty:    printLogs,
			LogToFile: logFile,
		}
		if !printLogs && !logFile {
			logCfg.Level = logging.FatalLevel
		}
		logging.Init(logCfg)
	},
	RunE: runRoot,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&logFile, "log-file", false, "Write logs to /tmp/opencode-YYYYMMDD-HHMMSS.log")
	rootCmd.PersistentFlags().StringVar(&rootDir, "directory", "", "Working directory")
	rootCmd.PersistentFlags().StringVarP(&globalModel, "model", "m", "", "Model to use (provider/model format)")

	rootCmd.Flags().Bool("server", false, "Start the HTTP API server")
	rootCmd.Flags().Bool("web", false, "Start the server and open the web GUI (out of scope; prints a notice)")
	rootCmd.Flags().String("server-url", "", "Connect to a remote agentcore server instead of running one locally (stub)")
	rootCmd.Flags().Int("port", 8080, "Port to listen on, with --server or --web")

	rootCmd.SetVersionTemplate(fmt.Sprintf("agentcore %s (%s)\n", Version, BuildTime))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func runRoot(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetBool("server")
	web, _ := cmd.Flags().GetBool("web")
	serverURL, _ := cmd.Flags().GetString("server-url")
	port, _ := cmd.Flags().GetInt("port")

	switch {
	case web:
		return runWeb(port)
	case serverURL != "":
		return runRemoteClient(serverURL)
	case server:
		return runServe(port)
	case len(args) > 0:
		return runPrompt(args)
	default:
		return cmd.Help()
	}
}

// GetWorkDir returns the working directory from the --directory flag or the
// process's current directory.
func GetWorkDir() (string, error) {
	if rootDir != "" {
		return rootDir, nil
	}
	return os.Getwd()
}

// GetGlobalModel returns the --model flag value.
func GetGlobalModel() string { return globalModel }
