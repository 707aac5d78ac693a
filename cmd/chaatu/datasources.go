package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/chaatu/internal/api"
)

func newConnectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "Manage linked data sources",
	}

	cmd.AddCommand(newConnectionsListCmd())
	cmd.AddCommand(newConnectionsAddCmd())
	cmd.AddCommand(newConnectionsDeleteCmd())
	return cmd
}

func newConnectionsListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List data source connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			client, err := newAPIClient(cfg)
			if err != nil {
				return err
			}

			conns, err := client.ListConnections(cmd.Context(), cfg.UserID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(conns) == 0 {
				fmt.Fprintln(out, "No connections.")
				return nil
			}
			printConnectionList(out, conns)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to chaatu config file")
	return cmd
}

func newConnectionsAddCmd() *cobra.Command {
	var (
		configPath string
		name       string
	)

	cmd := &cobra.Command{
		Use:   "add <source-type>",
		Short: "Link a new data source",
		Long:  "Links a new data source. Supported types: " + strings.Join(api.SourceTypes, ", ") + ".",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceType, ok := api.LookupSourceType(args[0])
			if !ok {
				return fmt.Errorf("unsupported source type %q (supported: %s)", args[0], strings.Join(api.SourceTypes, ", "))
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			client, err := newAPIClient(cfg)
			if err != nil {
				return err
			}
			if name == "" {
				name = fmt.Sprintf("%s's %s", cfg.UserID, sourceType)
			}

			conn, err := client.CreateConnection(cmd.Context(), name, sourceType, cfg.UserID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s connection %q as %s\n", conn.SourceType, conn.Name, conn.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to chaatu config file")
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to \"<user>'s <type>\")")
	return cmd
}

func newConnectionsDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <connection-id>",
		Short: "Remove a data source connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			client, err := newAPIClient(cfg)
			if err != nil {
				return err
			}

			if err := client.DeleteConnection(cmd.Context(), args[0]); err != nil {
				if api.IsNotFound(err) {
					return fmt.Errorf("connection %s not found", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted connection %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to chaatu config file")
	return cmd
}

func newFilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Manage uploaded files",
	}

	cmd.AddCommand(newFilesListCmd())
	cmd.AddCommand(newFilesDeleteCmd())
	return cmd
}

func newFilesListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List uploaded files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			client, err := newAPIClient(cfg)
			if err != nil {
				return err
			}

			files, err := client.ListFiles(cmd.Context(), cfg.UserID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(files) == 0 {
				fmt.Fprintln(out, "No files.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSIZE\tSOURCE\tADDED")
			for _, f := range files {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					f.ID, truncate(f.Filename, 40), formatCount(f.Size), f.Connection, formatTime(f.CreatedAt.Time))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to chaatu config file")
	return cmd
}

func newFilesDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <file-id>",
		Short: "Delete an uploaded file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			client, err := newAPIClient(cfg)
			if err != nil {
				return err
			}

			if err := client.DeleteFile(cmd.Context(), args[0]); err != nil {
				if api.IsNotFound(err) {
					return fmt.Errorf("file %s not found", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted file %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to chaatu config file")
	return cmd
}

func printConnectionList(out io.Writer, conns []api.Connection) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tLAST SYNCED")
	for _, c := range conns {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			c.ID, truncate(c.Name, 40), c.SourceType, c.Status, formatTime(c.LastSyncedAt.Time))
	}
	w.Flush()
}
