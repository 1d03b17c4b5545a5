package main

import (
	"fmt"
	"os"

	"github.com/n9te9/federation-router/federation/graph"
	"github.com/n9te9/federation-router/server"
	"github.com/spf13/cobra"
)

const version = "v0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of the federation router",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("federation-router " + version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a new federation-router project",
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Init()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the federation router",
	Run: func(cmd *cobra.Command, args []string) {
		server.Run()
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [subgraph-sdl-files...]",
	Short: "Compose the given subgraph schemas and report composition errors",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subGraphs := make([]*graph.SubGraphV2, 0, len(args))
		for _, path := range args {
			src, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}

			sg, err := graph.NewSubGraphV2(path, src, "")
			if err != nil {
				return fmt.Errorf("failed to parse %s: %w", path, err)
			}

			subGraphs = append(subGraphs, sg)
		}

		if _, err := graph.NewSuperGraphV2(subGraphs); err != nil {
			return fmt.Errorf("composition failed: %w", err)
		}

		fmt.Printf("composed %d subgraphs successfully\n", len(subGraphs))
		return nil
	},
}

func main() {
	rootCmd := &cobra.Command{Use: "federation-router"}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
