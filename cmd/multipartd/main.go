// Command multipartd serves the entity codecs over HTTP.
//
// Run:
//
//	go run ./cmd/multipartd serve
//
// Then explore:
//
//	POST http://localhost:8080/inspect   summarize a multipart body (JSON, YAML or XML by Accept)
//	POST http://localhost:8080/echo      stream the parts back as multipart
//	POST http://localhost:8080/upload    spool file parts to disk and report digests
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Version: version,
	Use:     "multipartd",
	Short:   "Streaming multipart inspection server",
	Long: `multipartd parses multipart bodies incrementally and answers with
negotiated JSON, YAML, XML or multipart responses.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := Load(configFile(cmd), cmd.Flags())
		if err != nil {
			return err
		}
		slog.SetDefault(newLogger(cfg, os.Stdout))
		cmd.SetContext(withConfig(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config.yaml)")
}

func configFile(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
