package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/grishy/gopkgview/internal/config"
)

// Set by the release build via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type serveOptions struct {
	addr         string
	skipBrowser  bool
	watch        bool
	layoutEngine string
	elkURL       string
	fromNeo4j    bool
	fromURL      string
}

type viewOptions struct {
	std, ext, err, direct bool
	selected, hovered     string
	format                string
	layout                bool
	fromURL               string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath    string
		root          string
		gomod         string
		maxGoroutines int
		logLevel      string
		logFormat     string
		neo4jURI      string
		serveOpts     serveOptions
		viewOpts      viewOptions
		statsJSON     bool
	)

	load := func(cmd *cobra.Command) (*config.Config, error) {
		cfg, err := config.Load(configPath, cmd.Flags())
		if err != nil {
			return nil, err
		}
		setupLogging(cfg)
		return cfg, nil
	}

	rootCmd := &cobra.Command{
		Use:   "gopkgview",
		Short: "Interactive viewer of a Go module's package import graph",
		Long: "gopkgview builds the import graph of a Go module and serves an interactive\n" +
			"viewer in the browser. Without a subcommand it runs serve.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, serveOpts)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file path (YAML)")
	pf.StringVar(&root, "root", ".", "Path to the root directory of the code [$GO_PKGVIEW_ROOT]")
	pf.StringVar(&gomod, "gomod", "", "Path to the go.mod file to detect external modules (default <root>/go.mod)")
	pf.IntVar(&maxGoroutines, "max-goroutines", 20, "Maximum number of goroutines to parse packages")
	pf.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	pf.StringVar(&neo4jURI, "neo4j-uri", "", "Neo4j URI of the graph store")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Build the graph and serve the viewer",
		RunE:  rootCmd.RunE,
	}
	addServeFlags(rootCmd.Flags(), &serveOpts)
	addServeFlags(serveCmd.Flags(), &serveOpts)

	viewCmd := &cobra.Command{
		Use:   "view",
		Short: "Derive the view once and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			return runView(cmd, cfg, viewOpts)
		},
	}
	vf := viewCmd.Flags()
	vf.BoolVar(&viewOpts.std, "std", false, "Show standard library packages")
	vf.BoolVar(&viewOpts.ext, "ext", false, "Show external packages")
	vf.BoolVar(&viewOpts.err, "err", true, "Show packages that failed to parse")
	vf.BoolVar(&viewOpts.direct, "direct", false, "Only edges touching the selected package")
	vf.StringVar(&viewOpts.selected, "selected", "", "Selected package import path")
	vf.StringVar(&viewOpts.hovered, "hovered", "", "Hovered package import path")
	vf.StringVarP(&viewOpts.format, "format", "f", "json", "Output format: json, dot, mermaid")
	vf.BoolVar(&viewOpts.layout, "layout", false, "Run layout and include positions (json only)")
	vf.StringVar(&viewOpts.fromURL, "from-url", "", "Load the graph from a running viewer's /data endpoint")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print import graph statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			return runStats(cmd, cfg, statsJSON)
		},
	}
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output statistics as JSON")

	storeCmd := &cobra.Command{
		Use:   "store",
		Short: "Build the graph and store it in Neo4j",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			return runStore(cmd, cfg)
		},
	}

	importersCmd := &cobra.Command{
		Use:   "importers <import-path>",
		Short: "List the packages importing a package, from the graph store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			return runImporters(cmd, cfg, args[0])
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gopkgview %s (commit %s, built %s)\n", version, commit, date)
		},
	}

	rootCmd.AddCommand(serveCmd, viewCmd, statsCmd, storeCmd, importersCmd, versionCmd)
	return rootCmd
}

func addServeFlags(fs *pflag.FlagSet, o *serveOptions) {
	fs.StringVar(&o.addr, "addr", ":0", "Address to listen on")
	fs.BoolVar(&o.skipBrowser, "skip-browser", false, "Don't open the browser")
	fs.BoolVar(&o.watch, "watch", false, "Rebuild the graph when sources change")
	fs.StringVar(&o.layoutEngine, "layout-engine", "layered", "Layout engine: layered or elk")
	fs.StringVar(&o.elkURL, "elk-url", "", "URL of the ELK layout service")
	fs.BoolVar(&o.fromNeo4j, "from-neo4j", false, "Load the graph from Neo4j instead of building it")
	fs.StringVar(&o.fromURL, "from-url", "", "Load the graph from a running viewer's /data endpoint")
}
