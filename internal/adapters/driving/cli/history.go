package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/lectern/internal/core/domain"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [document-id]",
	Short: "Show the conversation about a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "maximum number of messages")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if chatService == nil {
		return errors.New("chat service not configured")
	}
	userID, err := currentUser()
	if err != nil {
		return err
	}

	messages, err := chatService.History(cmd.Context(), args[0], userID, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to get history: %w", err)
	}

	if len(messages) == 0 {
		cmd.Println("No messages yet.")
		return nil
	}

	// Stored newest first; print in reading order.
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		label := "You"
		if msg.Role == domain.RoleAssistant {
			label = "lectern"
		}
		cmd.Printf("%s %s\n%s\n\n",
			headingStyle.Render(label),
			mutedStyle.Render(msg.CreatedAt.Format("2006-01-02 15:04")),
			msg.Content)
	}
	return nil
}
