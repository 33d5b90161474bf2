package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nucleus/webhdfs/internal/config"
	"github.com/nucleus/webhdfs/pkg/webhdfs"
)

var (
	confFile   string
	host       string
	port       int
	user       string
	transport  string
	delegation string
	logLevel   string
)

func initCommands() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "webhdfs",
		Short:             "WebHDFS command line client",
		PersistentPreRunE: rootCmdPersistentPreRunE,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringVarP(&confFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&host, "host", "", "NameNode host")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", 0, "WebHDFS port")
	rootCmd.PersistentFlags().StringVarP(&user, "user", "u", "", "HDFS user name")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "", "http or https")
	rootCmd.PersistentFlags().StringVar(&delegation, "delegation", "", "Delegation token")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	putCmd := &cobra.Command{
		Use:     "put <local> <remote>",
		Short:   "Upload a local file",
		PreRunE: putCmdPreRunE,
		Run:     putCmdRun,
	}

	getCmd := &cobra.Command{
		Use:     "get <remote> <local>",
		Short:   "Download a file",
		Long:    "Download a file. Use - as <local> to write to stdout.",
		PreRunE: exactArgs(2),
		Run:     getCmdRun,
	}

	statCmd := &cobra.Command{
		Use:     "stat <remote>",
		Short:   "Print the FileStatus of a path as JSON",
		PreRunE: exactArgs(1),
		Run:     statCmdRun,
	}

	lsCmd := &cobra.Command{
		Use:     "ls <remote>",
		Short:   "List a directory as JSON",
		PreRunE: exactArgs(1),
		Run:     lsCmdRun,
	}

	duCmd := &cobra.Command{
		Use:     "du <remote>",
		Short:   "Print the ContentSummary of a path as JSON",
		PreRunE: exactArgs(1),
		Run:     duCmdRun,
	}

	putCmdInitFlags(putCmd)

	rootCmd.AddCommand(putCmd, getCmd, statCmd, lsCmd, duCmd)

	return rootCmd
}

func rootCmdPersistentPreRunE(cmd *cobra.Command, args []string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	return nil
}

// loadConfig merges the config file, the environment and the global flags,
// in increasing order of precedence.
func loadConfig() (webhdfs.Config, error) {
	cfg, err := config.Load(confFile)
	if err != nil {
		return webhdfs.Config{}, err
	}
	if host != "" {
		cfg.Host = host
	}
	if port != 0 {
		cfg.Port = port
	}
	if user != "" {
		cfg.User = user
	}
	if transport != "" {
		cfg.Transport = transport
	}
	if delegation != "" {
		cfg.Delegation = delegation
	}
	return cfg, nil
}

func newClient() (*webhdfs.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return webhdfs.New(cfg, webhdfs.WithLogger(log.StandardLogger()))
}

func exactArgs(n int) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("invalid command syntax: expected %d arguments, got %d", n, len(args))
		}
		return nil
	}
}

func fatalError(err error) {
	fmt.Fprintf(os.Stderr, "Error processing command: %v\n", err)
	os.Exit(1)
}

func main() {

	mainCmd := initCommands()

	if err := mainCmd.Execute(); err != nil {
		os.Exit(-1)
	}
}
