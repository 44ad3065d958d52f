// Command brandscan extracts a brand record from a website and prints it as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/docutag/brandscan"
	"github.com/docutag/brandscan/firecrawl"
	"github.com/docutag/brandscan/llm"
	"github.com/docutag/brandscan/models"
)

const version = "1.0.0"

// options holds the flags shared by all subcommands
type options struct {
	llmProvider  string
	llmModel     string
	llmBaseURL   string
	firecrawlURL string
	noProvider   bool
	maxLinks     int
	images       bool
	probeLogos   bool
	timeout      time.Duration
	debug        bool
}

// output is what extract prints
type output struct {
	Record    models.BrandRecord `json:"record"`
	Warnings  []string           `json:"warnings,omitempty"`
	FetchPath string             `json:"fetch_path"`
	Duration  float64            `json:"duration_seconds"`
}

func main() {
	// Missing .env is fine, the environment is used as-is
	_ = godotenv.Load()

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "brandscan",
		Short:         "Extract brand identity from a website",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.llmProvider, "llm-provider", envOr("LLM_PROVIDER", llm.ProviderOllama), "language model backend (ollama, anthropic, openai)")
	flags.StringVar(&opts.llmModel, "llm-model", os.Getenv("LLM_MODEL"), "model name (defaults per backend)")
	flags.StringVar(&opts.llmBaseURL, "llm-url", os.Getenv("LLM_BASE_URL"), "backend base URL (defaults per backend)")
	flags.StringVar(&opts.firecrawlURL, "firecrawl-url", envOr("FIRECRAWL_URL", firecrawl.DefaultBaseURL), "scraping provider base URL")
	flags.BoolVar(&opts.noProvider, "no-provider", false, "always fetch pages directly")
	flags.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall time limit")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newExtractCmd(opts),
		newAskCmd(opts),
		newMigrateCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "brandscan version %s\n", version)
			},
		},
	)
	return root
}

func newExtractCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <url>",
		Short: "Extract a brand record and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.pipeline(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			result, err := p.Extract(ctx, args[0], opts.pipelineOptions())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), output{
				Record:    result.Record,
				Warnings:  result.Warnings,
				FetchPath: result.FetchPath,
				Duration:  result.Duration.Seconds(),
			})
		},
	}
	addExtractFlags(cmd, opts)
	return cmd
}

func newAskCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <url> <message>",
		Short: "Extract a brand, then answer a customer message in its voice",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.pipeline(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			result, err := p.Extract(ctx, args[0], opts.pipelineOptions())
			if err != nil {
				return err
			}
			reply, err := p.Assistant().Reply(ctx, result.Record, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
	addExtractFlags(cmd, opts)
	return cmd
}

func addExtractFlags(cmd *cobra.Command, opts *options) {
	cmd.Flags().IntVar(&opts.maxLinks, "max-links", brandscan.DefaultMaxLinks, "maximum links in the record")
	cmd.Flags().BoolVar(&opts.images, "images", false, "include content images")
	cmd.Flags().BoolVar(&opts.probeLogos, "probe-logos", false, "download logo candidates and reject tiny images")
}

func (o *options) pipelineOptions() brandscan.PipelineOptions {
	return brandscan.PipelineOptions{
		PreferProvider: !o.noProvider,
		MaxLinks:       o.maxLinks,
		IncludeImages:  o.images,
	}
}

// pipeline builds a Pipeline from the flags, logging to w
func (o *options) pipeline(w io.Writer) (*brandscan.Pipeline, error) {
	level := slog.LevelWarn
	if o.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))

	// API keys come from the environment only
	var apiKey string
	switch o.llmProvider {
	case llm.ProviderAnthropic:
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	case llm.ProviderOpenAI:
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	model, err := llm.New(llm.Config{
		Provider: o.llmProvider,
		Model:    o.llmModel,
		BaseURL:  o.llmBaseURL,
		APIKey:   apiKey,
	})
	if err != nil {
		return nil, err
	}

	var provider *firecrawl.Client
	if key := os.Getenv("FIRECRAWL_API_KEY"); key != "" && !o.noProvider {
		provider = firecrawl.NewClient(o.firecrawlURL, key, nil)
	}

	config := brandscan.DefaultConfig()
	config.ProbeLogos = o.probeLogos
	return brandscan.New(config, model, provider, brandscan.WithLogger(logger))
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
