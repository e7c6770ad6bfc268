// Package cli provides the lectern command line interface.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/lectern/internal/core/ports/driving"
	"github.com/custodia-labs/lectern/internal/logger"
)

// version is set at build time with -ldflags "-X ...cli.version=...".
var version = "dev"

var verbose bool

var (
	documentService driving.DocumentService
	analysisService driving.AnalysisService
	chatService     driving.ChatService
	toolService     driving.ToolService
	settingsService driving.SettingsService
)

// Services holds the driving ports the commands call into.
// Any field may be nil; commands that need it report it as not configured.
type Services struct {
	Document driving.DocumentService
	Analysis driving.AnalysisService
	Chat     driving.ChatService
	Tools    driving.ToolService
	Settings driving.SettingsService
}

// SetServices installs the services used by the commands.
func SetServices(s Services) {
	documentService = s.Document
	analysisService = s.Analysis
	chatService = s.Chat
	toolService = s.Tools
	settingsService = s.Settings
}

var rootCmd = &cobra.Command{
	Use:   "lectern",
	Short: "Analyse documents and ask questions about them",
	Long: `lectern splits uploaded documents into sections, summarises them with a
language model, and answers questions about them with a tool-using agent
that searches the document before it replies.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print debug output")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// currentUser returns the configured local user.
func currentUser() (string, error) {
	if settingsService == nil {
		return "", errors.New("settings service not configured")
	}
	settings, err := settingsService.Get()
	if err != nil {
		return "", fmt.Errorf("failed to get settings: %w", err)
	}
	return settings.UserID, nil
}
