package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/grandpa-ai/grandpa/internal/client"
	"github.com/grandpa-ai/grandpa/internal/history"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	var (
		serverURL string
		sessionID string
		noStream  bool
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message to the assistant",
		Long:  "Sends one message and prints the response. With no arguments, starts an\ninteractive loop; type \"exit\" or press Ctrl-D to leave.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				sessionID = history.TodaySessionID()
			}
			c := client.New(serverURL)

			ctx := cmd.Context()
			if err := c.Health(ctx); err != nil {
				return fmt.Errorf("cannot reach grandpa server at %s (is \"grandpa serve\" running?): %w", serverURL, err)
			}

			if len(args) > 0 {
				return sendOnce(ctx, c, sessionID, strings.Join(args, " "), noStream)
			}
			return interactiveLoop(ctx, c, sessionID, noStream)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:3478", "grandpa server URL")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (default today's date)")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the full response instead of streaming")
	return cmd
}

func sendOnce(ctx context.Context, c *client.Client, sessionID, text string, noStream bool) error {
	if noStream {
		response, err := c.Send(ctx, sessionID, text)
		if err != nil {
			return err
		}
		fmt.Println(response)
		return nil
	}

	if err := c.SendStream(ctx, sessionID, text, os.Stdout); err != nil {
		return err
	}
	fmt.Println()
	return nil
}

func interactiveLoop(ctx context.Context, c *client.Client, sessionID string, noStream bool) error {
	fmt.Printf("Chatting in session %s. Type \"exit\" to leave.\n", sessionID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := sendOnce(ctx, c, sessionID, line, noStream); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
}
