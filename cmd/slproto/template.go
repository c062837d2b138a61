package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/slproto/slproto/internal/cli"
	"github.com/slproto/slproto/internal/config"
	"github.com/slproto/slproto/internal/template"
	"github.com/slproto/slproto/internal/util"
)

const maxTemplateBytes = 4 << 20

// loadRegistry parses the template at path. An empty path falls back to the
// configured template file, then to the bundled template.
func loadRegistry(cfg *config.Config, path string) (*template.Registry, string, error) {
	if path == "" && cfg != nil {
		if p := cfg.GetApplicationData().Templates.Path; p != "" && util.FileExists(p) {
			path = p
		}
	}
	if path == "" {
		reg, err := template.Default()
		return reg, "bundled", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read template %s: %w", path, err)
	}
	tmpl, err := template.Parse(string(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse template %s: %w", path, err)
	}
	return template.NewRegistry(tmpl), path, nil
}

func templateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Work with message templates",
		Long: `Parse, inspect and compile message templates.

Without a file argument the configured template path is used, and the
bundled template when that is unset or missing.`,
	}
	cmd.AddCommand(
		templateParseCmd(),
		templateListCmd(),
		templateShowCmd(),
		templateGenCmd(),
		templateFetchCmd(),
	)
	return cmd
}

func templateParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse [file]",
		Short: "Check that a template parses",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, source, err := loadRegistry(cfg, firstArg(args))
			if err != nil {
				return err
			}

			counts := make(map[template.Frequency]int)
			zerocoded := 0
			for _, m := range reg.Template().Messages {
				counts[m.Frequency]++
				if m.Zerocoded() {
					zerocoded++
				}
			}
			fmt.Printf("%s: %d messages (high %d, medium %d, low %d, fixed %d), %d zerocoded\n",
				source, reg.Len(),
				counts[template.FrequencyHigh], counts[template.FrequencyMedium],
				counts[template.FrequencyLow], counts[template.FrequencyFixed],
				zerocoded)
			return nil
		},
	}
}

func templateListCmd() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "list [file]",
		Short: "List the messages of a template",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, _, err := loadRegistry(cfg, firstArg(args))
			if err != nil {
				return err
			}
			n := cli.RenderTemplate(os.Stdout, reg.Template(), filter)
			fmt.Printf("%d of %d messages\n", n, reg.Len())
			return nil
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Only list names containing this text")
	return cmd
}

func templateShowCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "show <message>",
		Short: "Show the blocks and fields of one message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, _, err := loadRegistry(cfg, file)
			if err != nil {
				return err
			}
			m, ok := reg.ByName(args[0])
			if !ok {
				return fmt.Errorf("message %q not found", args[0])
			}
			cli.RenderMessage(os.Stdout, m)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Template file")
	return cmd
}

func templateGenCmd() *cobra.Command {
	var output, pkg string
	cmd := &cobra.Command{
		Use:   "gen [file]",
		Short: "Generate Go declarations from a template",
		Long: `Generate one Go type per message and per repeated block.

The output is deterministic: the same template always produces the
same file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, source, err := loadRegistry(cfg, firstArg(args))
			if err != nil {
				return err
			}
			src, err := template.Generate(reg.Template(), template.GeneratorOptions{
				Package: pkg,
				Source:  filepath.Base(source),
			})
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err := os.Stdout.Write(src)
				return err
			}
			if err := util.EnsureDir(filepath.Dir(output)); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			if err := os.WriteFile(output, src, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Printf("wrote %d messages to %s\n", reg.Len(), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	cmd.Flags().StringVarP(&pkg, "package", "p", "messages", "Package name of the generated file")
	return cmd
}

func templateFetchCmd() *cobra.Command {
	var url, output string
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download the message template",
		Long: `Download a message template, check that it parses and store it at
the configured template path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tc := cfg.GetApplicationData().Templates
			if url == "" {
				url = tc.SourceURL
			}
			if url == "" {
				url = config.DefaultTemplateURL
			}
			if output == "" {
				output = tc.Path
			}
			if output == "" {
				return fmt.Errorf("no output path: pass --output or set application_data.templates.path")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			data, err := download(ctx, url)
			if err != nil {
				return err
			}

			tmpl, err := template.Parse(string(data))
			if err != nil {
				return fmt.Errorf("downloaded template does not parse: %w", err)
			}
			if err := util.EnsureDir(filepath.Dir(output)); err != nil {
				return fmt.Errorf("failed to create template directory: %w", err)
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}

			log.Info().Str("url", url).Str("path", output).Int("messages", len(tmpl.Messages)).Msg("template fetched")
			fmt.Printf("saved %d messages to %s\n", len(tmpl.Messages), output)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Template URL (default from config)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (default from config)")
	return cmd
}

func download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", AppName+"/"+AppVersion)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download %s: %s", url, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTemplateBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	return data, nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
