package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/bibcite/internal"
	pkgconfig "github.com/starford/bibcite/pkg/config"
)

const defaultConfigPath = "config/config.yaml"

func loadOptions(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOrDefault(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if lib := cmd.String("library"); lib != "" {
		cfg.Library.DefaultURL = lib
	}

	return []internal.Option{internal.WithConfig(cfg)}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, opts...)
}

func renderFile(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("render: a file argument is required (use - for stdin)")
	}

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("render: read %s: %w", path, err)
	}

	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	docID := cmd.String("document-id")
	if docID == "" && path != "-" {
		docID = filepath.Clean(path)
	}
	out, err := internal.RenderDocument(ctx, docID, string(data), opts...)
	if err != nil {
		return err
	}
	_, err = io.WriteString(os.Stdout, out)
	return err
}

func clearCache(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	if err := internal.ClearCache(ctx, opts...); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "bibcite",
		Usage:  "Citation service: expands [bibshow], [bibcite] and [bibtex] directives against remote BibTeX/CSL-JSON libraries",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: defaultConfigPath,
				Value:       defaultConfigPath,
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "library",
				Aliases: []string{"l"},
				Usage:   "Default library URL (overrides library.default_url)",
				Sources: cli.EnvVars("BIBCITE_LIBRARY_URL"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: serveMCP,
			},
			{
				Name:      "render",
				Usage:     "Render a document's directives to stdout",
				ArgsUsage: "<file|->",
				Action:    renderFile,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "document-id",
						Usage: "Document scope id (defaults to the file path)",
					},
				},
			},
			{
				Name:   "clear-cache",
				Usage:  "Forget fetch state and stored libraries",
				Action: clearCache,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
