package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-blob/pkg/blobstorage"
)

// NewContainersCommand lists the configured containers
func NewContainersCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "containers",
		Short: "List configured containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			defer s.close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STORE TYPE\tCONTAINER\tREAD ONLY")
			for _, c := range s.registry.Containers() {
				id := c.ContainerID()
				if id == "" {
					id = "(default)"
				}
				fmt.Fprintf(w, "%s\t%s\t%t\n", c.StoreType(), id, c.ReadOnly())
			}
			return w.Flush()
		},
	}
}

// NewListCommand lists blob metadata in the selected container
func NewListCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List blobs in a container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, opts, func(ctx context.Context, c blobstorage.Container) error {
				records, err := c.GetAllMetadata(ctx)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "BLOB ID\tSIZE\tCONTENT TYPE\tUPDATED")
				for _, m := range records {
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", m.BlobID, m.Size, m.ContentType, m.UpdatedAt.Format("2006-01-02 15:04:05"))
				}
				return w.Flush()
			})
		},
	}
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// NewPutCommand stores a file as a new blob
func NewPutCommand(opts *globalOptions) *cobra.Command {
	var contentType string

	cmd := &cobra.Command{
		Use:   "put <file|->",
		Short: "Store a file as a new blob",
		Long:  `Store a file (or stdin with "-") as a new blob and print its blob id.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			return withContainer(cmd, opts, func(ctx context.Context, c blobstorage.Container) error {
				blob, err := c.CreateContent(ctx, blobstorage.CreateContentRequest{
					Content:     data,
					ContentType: contentType,
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), blob.BlobID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&contentType, "content-type", "", "content type recorded with the blob")
	return cmd
}

// NewUpdateCommand overwrites a blob, creating it when it does not exist
func NewUpdateCommand(opts *globalOptions) *cobra.Command {
	var contentType string

	cmd := &cobra.Command{
		Use:   "update <blob-id> <file|->",
		Short: "Overwrite a blob's content",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}

			return withContainer(cmd, opts, func(ctx context.Context, c blobstorage.Container) error {
				blob, err := c.UpdateContent(ctx, blobstorage.UpdateContentRequest{
					BlobID:      args[0],
					Content:     data,
					ContentType: contentType,
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), blob.BlobID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&contentType, "content-type", "", "content type recorded with the blob")
	return cmd
}

// NewGetCommand writes a blob's content to a file or stdout
func NewGetCommand(opts *globalOptions) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "get <blob-id>",
		Short: "Download a blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, opts, func(ctx context.Context, c blobstorage.Container) error {
				blob, err := c.GetContent(ctx, args[0])
				if err != nil {
					return err
				}
				if blob == nil {
					return fmt.Errorf("blob %s: %w", args[0], blobstorage.ErrBlobNotFound)
				}

				if outputPath == "" || outputPath == "-" {
					_, err = cmd.OutOrStdout().Write(blob.Content)
					return err
				}
				return os.WriteFile(outputPath, blob.Content, 0644)
			})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default stdout)")
	return cmd
}

// NewDeleteCommand removes a blob and its metadata
func NewDeleteCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <blob-id>...",
		Aliases: []string{"delete"},
		Short:   "Delete blobs",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, opts, func(ctx context.Context, c blobstorage.Container) error {
				for _, blobID := range args {
					if err := c.DeleteContent(ctx, blobID); err != nil {
						return err
					}
					if opts.verbose {
						fmt.Fprintf(cmd.ErrOrStderr(), "deleted %s\n", blobID)
					}
				}
				return nil
			})
		},
	}
}

// NewStatCommand prints a blob's metadata as JSON
func NewStatCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <blob-id>",
		Short: "Show blob metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, opts, func(ctx context.Context, c blobstorage.Container) error {
				metadata, err := c.GetMetadata(ctx, args[0])
				if err != nil {
					return err
				}
				if metadata == nil {
					return fmt.Errorf("blob %s: %w", args[0], blobstorage.ErrMetadataNotFound)
				}

				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(metadata)
			})
		},
	}
}
