package main

import (
	"fmt"

	"github.com/grandpa-ai/grandpa/internal/client"
	"github.com/grandpa-ai/grandpa/internal/history"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and manage conversation history",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:3478", "grandpa server URL")

	list := &cobra.Command{
		Use:   "list",
		Short: "List all sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := client.New(serverURL).Sessions(cmd.Context())
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Println("No sessions yet.")
				return nil
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show [session]",
		Short: "Print a session's messages (default today)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := history.TodaySessionID()
			if len(args) > 0 {
				sessionID = args[0]
			}
			messages, err := client.New(serverURL).History(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			if len(messages) == 0 {
				fmt.Printf("Session %s is empty.\n", sessionID)
				return nil
			}
			for _, msg := range messages {
				fmt.Printf("[%s] %s: %s\n", msg.Timestamp, msg.Role, msg.Content)
			}
			return nil
		},
	}

	clear := &cobra.Command{
		Use:   "clear [session]",
		Short: "Erase a session's messages (default today)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := history.TodaySessionID()
			if len(args) > 0 {
				sessionID = args[0]
			}
			if err := client.New(serverURL).Clear(cmd.Context(), sessionID); err != nil {
				return err
			}
			fmt.Printf("Session %s cleared.\n", sessionID)
			return nil
		},
	}

	cmd.AddCommand(list, show, clear)
	return cmd
}
