package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "recsignal [command]",
		SilenceUsage: true,
		Short:        "recsignal evaluates server health readings into alerts",
	}
	root.AddCommand(serveCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		log.Printf("recsignal: %v", err)
		os.Exit(1)
	}
}
