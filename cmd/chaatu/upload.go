package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zulandar/chaatu/internal/api"
)

func newUploadCmd() *cobra.Command {
	var (
		configPath string
		chatID     string
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a document to a conversation",
		Long:  "Uploads a PDF or Word document (15MB max) to an existing conversation, showing progress.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, configPath, chatID, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to chaatu config file")
	cmd.Flags().StringVar(&chatID, "chat", "", "conversation ID (required)")
	cmd.MarkFlagRequired("chat")
	return cmd
}

func runUpload(cmd *cobra.Command, configPath, chatID, path string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	client, err := newAPIClient(cfg)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	name := filepath.Base(path)
	mimeType := api.MimeTypeFor(name)
	if err := api.ValidateUpload(chatID, name, mimeType, info.Size()); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	doc, err := client.UploadDocument(cmd.Context(), chatID, name, mimeType, f, info.Size(), func(pct int) {
		fmt.Fprintf(out, "\r%s %s", name, progressBar(pct))
	})
	fmt.Fprintln(out)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Uploaded %s (%s bytes) as %s\n", doc.Filename, formatCount(doc.Size), doc.ID)
	return nil
}
