package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/chaatu/internal/api"
)

func newChatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "Manage saved conversations",
	}

	cmd.AddCommand(newChatsListCmd())
	cmd.AddCommand(newChatsShowCmd())
	cmd.AddCommand(newChatsDeleteCmd())
	return cmd
}

func newChatsListCmd() *cobra.Command {
	var (
		configPath string
		userID     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations",
		Long:  "Lists the user's conversations, most recent first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			client, err := newAPIClient(cfg)
			if err != nil {
				return err
			}
			if userID == "" {
				userID = cfg.UserID
			}

			chats, err := client.ListChats(cmd.Context(), userID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(chats) == 0 {
				fmt.Fprintln(out, "No conversations.")
				return nil
			}
			printChatList(out, chats)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to chaatu config file")
	cmd.Flags().StringVar(&userID, "user", "", "user ID (defaults to config user_id)")
	return cmd
}

func newChatsShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <chat-id>",
		Short: "Show a conversation's messages",
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

			chat, err := client.GetChat(cmd.Context(), args[0])
			if err != nil {
				if api.IsNotFound(err) {
					return fmt.Errorf("chat %s not found", args[0])
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s  %s  (%s)\n\n", chat.ID, chat.Title, formatTime(chat.CreatedAt.Time))
			if len(chat.Messages) == 0 {
				fmt.Fprintln(out, "No messages.")
				return nil
			}
			for _, m := range chat.Messages {
				fmt.Fprintf(out, "%s> %s\n", m.Role, m.Content)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to chaatu config file")
	return cmd
}

func newChatsDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <chat-id>",
		Short: "Delete a conversation",
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

			if err := client.DeleteChat(cmd.Context(), args[0]); err != nil {
				if api.IsNotFound(err) {
					return fmt.Errorf("chat %s not found", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted chat %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to chaatu config file")
	return cmd
}

func printChatList(out io.Writer, chats []api.Chat) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tCREATED")
	for _, c := range chats {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, truncate(c.Title, 48), formatTime(c.CreatedAt.Time))
	}
	w.Flush()
}
