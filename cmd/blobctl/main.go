package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-blob/pkg/blobstorage"
	"github.com/tendant/simple-blob/pkg/blobstorage/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalOptions are the persistent flags shared by every subcommand
type globalOptions struct {
	configFile  string
	databaseURL string
	storeType   string
	containerID string
	verbose     bool
}

func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "blobctl",
		Short: "Blob storage command line client",
		Long: `Blob storage command line client.

Reads the same configuration as blob-server (config file, then DATABASE_URL and
friends from the environment, then flags) and operates on one container,
selected with --store-type and --container.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (JSON, YAML or TOML)")
	flags.StringVar(&opts.databaseURL, "database", "", "metadata database url (overrides DATABASE_URL)")
	flags.StringVarP(&opts.storeType, "store-type", "t", blobstorage.StoreTypeFilesystem.String(), "store type of the container")
	flags.StringVar(&opts.containerID, "container", "", "container id (default container of the store type when omitted)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(NewContainersCommand(opts))
	rootCmd.AddCommand(NewListCommand(opts))
	rootCmd.AddCommand(NewPutCommand(opts))
	rootCmd.AddCommand(NewGetCommand(opts))
	rootCmd.AddCommand(NewUpdateCommand(opts))
	rootCmd.AddCommand(NewDeleteCommand(opts))
	rootCmd.AddCommand(NewStatCommand(opts))

	return rootCmd
}

// session is an opened configuration: repository plus registry
type session struct {
	registry *blobstorage.Registry
	close    func() error
}

func openSession(ctx context.Context, cmd *cobra.Command, opts *globalOptions) (*session, error) {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	var loadOpts []config.Option
	if opts.configFile != "" {
		loadOpts = append(loadOpts, config.WithConfigFile(opts.configFile))
	}
	loadOpts = append(loadOpts, config.WithEnv())
	if opts.databaseURL != "" {
		loadOpts = append(loadOpts, config.WithDatabase(opts.databaseURL))
	}

	cfg, err := config.Load(loadOpts...)
	if err != nil {
		return nil, err
	}

	repo, closeRepo, err := cfg.BuildRepository(ctx)
	if err != nil {
		return nil, err
	}

	registry, err := cfg.BuildRegistry(ctx, repo, logger)
	if err != nil {
		_ = closeRepo()
		return nil, err
	}

	return &session{registry: registry, close: closeRepo}, nil
}

// container resolves the container selected by --store-type and --container
func (s *session) container(cmd *cobra.Command, opts *globalOptions) (blobstorage.Container, error) {
	storeType, err := blobstorage.ParseStoreType(opts.storeType)
	if err != nil {
		return nil, err
	}

	var container blobstorage.Container
	if cmd.Flags().Changed("container") {
		container = s.registry.GetContainer(storeType, opts.containerID)
	} else {
		container = s.registry.GetDefaultContainer(storeType)
	}
	if container == nil {
		return nil, fmt.Errorf("no %s container %q configured", storeType, opts.containerID)
	}
	return container, nil
}

// withContainer opens a session, resolves the selected container and runs fn
func withContainer(cmd *cobra.Command, opts *globalOptions, fn func(ctx context.Context, c blobstorage.Container) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openSession(ctx, cmd, opts)
	if err != nil {
		return err
	}
	defer s.close()

	container, err := s.container(cmd, opts)
	if err != nil {
		return err
	}
	return fn(ctx, container)
}
