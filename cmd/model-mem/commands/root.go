package commands

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/docker/model-mem/pkg/hub"
)

// globalOptions are the flags shared by every subcommand.
type globalOptions struct {
	token    string
	endpoint string
	timeout  time.Duration
	debug    bool
}

// NewRootCmd returns the model-mem command tree. extra options are applied to
// every Hub client after the flag-derived ones.
func NewRootCmd(extra ...hub.Option) *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           "model-mem",
		Short:         "Estimate the parameter count and memory footprint of Hugging Face models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.token, "token", os.Getenv("HF_TOKEN"), "Hugging Face access token (defaults to $HF_TOKEN)")
	flags.StringVar(&opts.endpoint, "endpoint", envOr("HF_ENDPOINT", hub.DefaultEndpoint), "Hub endpoint (defaults to $HF_ENDPOINT)")
	flags.DurationVar(&opts.timeout, "timeout", envDuration("MODEL_MEM_TIMEOUT", hub.DefaultTimeout), "Per-request timeout")
	flags.BoolVar(&opts.debug, "debug", os.Getenv("DEBUG") == "1", "Enable debug logging")

	rootCmd.AddCommand(
		newVersionCmd(),
		newInspectCmd(opts, extra),
	)
	return rootCmd
}

func (o *globalOptions) logger(cmd *cobra.Command) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(cmd.ErrOrStderr())
	if o.debug {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

func (o *globalOptions) client(log *logrus.Logger, revision string, extra []hub.Option) (*hub.Client, error) {
	opts := []hub.Option{
		hub.WithEndpoint(o.endpoint),
		hub.WithTimeout(o.timeout),
		hub.WithUserAgent("model-mem/" + Version),
		hub.WithLogger(log),
	}
	if o.token != "" {
		opts = append(opts, hub.WithToken(o.token))
	}
	if revision != "" {
		opts = append(opts, hub.WithRevision(revision))
	}
	return hub.NewClient(append(opts, extra...)...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return fallback
}
