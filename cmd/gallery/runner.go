package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/photo-gallery/backend/internal/cliconfig"
	"github.com/photo-gallery/backend/internal/client"
	"github.com/urfave/cli/v3"
)

// errNothingToUpload is returned when every file given to upload was rejected.
var errNothingToUpload = errors.New("no acceptable files to upload")

// Runner holds the dependencies of every command action.
type Runner struct {
	logger *log.Logger
	output io.Writer
}

// RunnerOpts configures a Runner.
type RunnerOpts struct {
	Logger *log.Logger
	Output io.Writer
}

// NewRunner creates a Runner, defaulting to stderr logging and stdout output.
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Runner{logger: opts.Logger, output: opts.Output}
}

func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "gallery",
		Usage:   "Upload and manage photo gallery images",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "gallery.toml",
				Sources: cli.EnvVars("GALLERY_CONFIG"),
			},
			&cli.StringFlag{Name: "server", Usage: "Gallery server URL", Sources: cli.EnvVars("GALLERY_SERVER")},
			&cli.StringFlag{Name: "owner", Usage: "Gallery owner", Sources: cli.EnvVars("GALLERY_OWNER")},
			&cli.StringFlag{Name: "token", Usage: "Bearer token", Sources: cli.EnvVars("GALLERY_TOKEN")},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Enable debug logging"},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool("verbose") {
				r.logger.SetLevel(log.DebugLevel)
			}
			return ctx, nil
		},
		Commands: r.register(),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range []func(*Runner) *cli.Command{initCommand, uploadCommand, listCommand, deleteCommand} {
		commands = append(commands, fn(r))
	}
	return commands
}

func initCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "init",
		Usage:  "Write an example configuration file",
		Action: r.Init,
	}
}

// Init writes the example configuration to the --config path.
func (r *Runner) Init(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if err := cliconfig.CreateConfigFile(path); err != nil {
		return err
	}
	abs, _ := filepath.Abs(path)
	return r.writePlainln("Configuration written to %s", abs)
}

// load reads the configuration file and applies the global flag overrides.
func (r *Runner) load(cmd *cli.Command) (*cliconfig.Config, error) {
	cfg, err := cliconfig.LoadConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if s := cmd.String("server"); s != "" {
		cfg.ServerURL = s
	}
	if s := cmd.String("owner"); s != "" {
		cfg.Owner = s
	}
	if s := cmd.String("token"); s != "" {
		cfg.Token = s
	}
	if cfg.Owner == "" {
		return nil, cliconfig.ErrNoOwner
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (r *Runner) client(cfg *cliconfig.Config) *client.Client {
	return client.New(cfg.ServerURL, cfg.Owner, client.WithToken(cfg.Token))
}

func (r *Runner) writeJSON(data any) error {
	output, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if _, err := fmt.Fprintf(r.output, "%s\n", output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	if _, err := fmt.Fprintf(r.output, format+"\n", args...); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
