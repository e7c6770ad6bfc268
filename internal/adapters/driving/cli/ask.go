package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [document-id] [question]",
	Short: "Ask a question about a document",
	Long: `Starts a conversation turn with the document agent. The agent reads the
paper details and searches the document before answering, and may call its
tools a limited number of times. Questions and answers are kept in the
document's chat history.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	if chatService == nil {
		return errors.New("chat service not configured")
	}
	userID, err := currentUser()
	if err != nil {
		return err
	}

	docID := args[0]
	question := strings.Join(args[1:], " ")

	reply, err := chatService.Ask(cmd.Context(), docID, userID, question)
	if err != nil {
		return fmt.Errorf("failed to answer: %w", err)
	}

	cmd.Println(reply.Content)
	cmd.Println()

	if msg, ok := reply.Metadata["error"].(string); ok {
		cmd.Println(errorStyle.Render("Note: " + msg))
	}
	cmd.Println(mutedStyle.Render(describeSession(reply.Metadata)))
	return nil
}

// describeSession summarises the agent metadata of an answer in one line.
func describeSession(meta map[string]any) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%v", meta["termination"]))

	if turns, ok := meta["turns"].(int); ok {
		b.WriteString(fmt.Sprintf(", %d turns", turns))
	}
	if calls, ok := meta["api_calls"].(int); ok {
		b.WriteString(fmt.Sprintf(", %d tool calls", calls))
	}
	if used, ok := meta["used_functions"].([]string); ok && len(used) > 0 {
		b.WriteString(" (" + strings.Join(used, ", ") + ")")
	}
	return b.String()
}
