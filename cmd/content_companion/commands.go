package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/italolelis/content_companion/internal/downloader"
	"github.com/italolelis/content_companion/internal/storage"
	"github.com/spf13/cobra"
)

func init() {
	var (
		title       string
		contentType string
		fileSize    int64
	)

	downloadCmd := &cobra.Command{
		Use:   "download <content-id>",
		Short: "Download a content item for offline use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ct, ok := storage.ParseContentType(contentType)
			if !ok {
				return fmt.Errorf("unknown content type %q", contentType)
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				progress := func(percent float64) {
					fmt.Fprintf(cmd.ErrOrStderr(), "\r%5.1f%%", percent)
				}

				rec, err := a.downloader.Start(ctx, downloader.Item{
					ID:          args[0],
					Title:       title,
					ContentType: ct,
					FileSize:    fileSize,
				}, progress)

				fmt.Fprintln(cmd.ErrOrStderr())

				if code, _ := downloader.CodeOf(err); code == downloader.CodeAlreadyDownloaded {
					err = nil
				}

				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
	downloadCmd.Flags().StringVar(&title, "title", "", "title stored with the download")
	downloadCmd.Flags().StringVar(&contentType, "type", "video", "content type (video, audio, ebook, live)")
	downloadCmd.Flags().Int64Var(&fileSize, "size", 0, "expected file size in bytes, if known")

	removeCmd := &cobra.Command{
		Use:   "remove <content-id>",
		Short: "Delete a downloaded item and its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.downloader.Remove(ctx, args[0])
			})
		},
	}

	var interactionType string

	likeCmd := &cobra.Command{
		Use:   "like <content-id>",
		Short: "Toggle the like on a content item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.interactions.ToggleLike(ctx, args[0], interactionType)
				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	likeCmd.Flags().StringVar(&interactionType, "type", "media", "content type (media, artist, merch)")

	saveCmd := &cobra.Command{
		Use:   "save <content-id>",
		Short: "Toggle the bookmark on a content item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.interactions.ToggleSave(ctx, args[0], "media")
				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Replace the local library and playlists with the backend's",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.syncer.Sync(ctx)
				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete partial and untracked files from the download directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.downloader.Purge(ctx, a.cfg.PurgeMinAge)
				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}

	rootCmd.AddCommand(downloadCmd, removeCmd, likeCmd, saveCmd, syncCmd, purgeCmd)
}

// withApp builds the application for a one-shot command and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, configFrom(ctx))
	if err != nil {
		return err
	}

	err = fn(ctx, a)
	a.close(context.WithoutCancel(ctx))

	var derr *downloader.Error
	if errors.As(err, &derr) {
		return errors.New(derr.Message)
	}

	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
