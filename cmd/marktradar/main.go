package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	godotenv.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "marktradar",
		Short: "Watch marketplace searches and notify on new and price-changed listings",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(scanCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())
	root.AddCommand(searchesCmd())

	return root
}

func scanCmd() *cobra.Command {
	var dispatch bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan cycle for every active search",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(dispatch)
		},
	}

	cmd.Flags().BoolVar(&dispatch, "dispatch", true, "deliver pending notifications after scanning")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server only",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the daemon: scheduler, dispatcher and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func searchesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "searches",
		Short: "Manage monitored searches",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all searches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearchesList()
		},
	})

	var (
		label    string
		url      string
		kind     string
		chatID   string
		threadID string
		interval int64
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a search",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearchesAdd(label, url, kind, chatID, threadID, interval)
		},
	}
	add.Flags().StringVar(&label, "label", "", "human-readable name")
	add.Flags().StringVar(&url, "url", "", "marketplace search URL")
	add.Flags().StringVar(&kind, "kind", "html", "source kind: html or rss")
	add.Flags().StringVar(&chatID, "chat", "", "notification chat id")
	add.Flags().StringVar(&threadID, "thread", "", "notification thread id (optional)")
	add.Flags().Int64Var(&interval, "interval", 300, "scan interval in seconds")
	add.MarkFlagRequired("url")
	add.MarkFlagRequired("chat")
	cmd.AddCommand(add)

	return cmd
}
