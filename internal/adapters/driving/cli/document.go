package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/lectern/internal/core/ports/driving"
)

var (
	ingestTitle string
	ingestMIME  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Upload a document",
	Long: `Reads a text, markdown or HTML file, extracts its text and stores it as a
new document. The document stays pending until it is analysed.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var replaceCmd = &cobra.Command{
	Use:   "replace [document-id] [file]",
	Short: "Replace the text of a document",
	Long: `Swaps the text of an existing document while keeping its conversation.
The previous analysis is discarded; run analyze again afterwards.`,
	Args: cobra.ExactArgs(2),
	RunE: runReplace,
}

var documentCmd = &cobra.Command{
	Use:     "docs",
	Aliases: []string{"document"},
	Short:   "Manage uploaded documents",
	Long:    `Commands for listing, inspecting and deleting uploaded documents.`,
	RunE:    runDocumentList,
}

var documentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your documents",
	Args:  cobra.NoArgs,
	RunE:  runDocumentList,
}

var documentContentCmd = &cobra.Command{
	Use:   "content [document-id]",
	Short: "Print the extracted text of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentContent,
}

var documentDetailsCmd = &cobra.Command{
	Use:   "details [document-id]",
	Short: "Show document metadata and analysis status",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentDetails,
}

var documentDeleteCmd = &cobra.Command{
	Use:   "delete [document-id]",
	Short: "Delete a document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentDelete,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestTitle, "title", "t", "", "document title (derived from the text when empty)")
	ingestCmd.Flags().StringVar(&ingestMIME, "mime", "", "MIME type (detected from the file name when empty)")

	documentCmd.AddCommand(documentListCmd)
	documentCmd.AddCommand(documentContentCmd)
	documentCmd.AddCommand(documentDetailsCmd)
	documentCmd.AddCommand(documentDeleteCmd)

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(replaceCmd)
	rootCmd.AddCommand(documentCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}
	userID, err := currentUser()
	if err != nil {
		return err
	}

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	doc, err := documentService.Ingest(cmd.Context(), driving.IngestRequest{
		OwnerID:  userID,
		URI:      path,
		Title:    ingestTitle,
		MIMEType: ingestMIME,
		Data:     data,
	})
	if err != nil {
		return fmt.Errorf("failed to ingest document: %w", err)
	}

	cmd.Printf("Ingested %q as %s\n", doc.Title, doc.ID)
	cmd.Printf("Run 'lectern analyze %s' to summarise it.\n", doc.ID)
	return nil
}

func runReplace(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}
	userID, err := currentUser()
	if err != nil {
		return err
	}

	docID, path := args[0], args[1]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	doc, err := documentService.Replace(cmd.Context(), docID, userID, data)
	if err != nil {
		return fmt.Errorf("failed to replace document: %w", err)
	}

	cmd.Printf("Replaced text of %s (%q).\n", doc.ID, doc.Title)
	return nil
}

func runDocumentList(cmd *cobra.Command, _ []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}
	userID, err := currentUser()
	if err != nil {
		return err
	}

	docs, err := documentService.List(cmd.Context(), userID)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	if len(docs) == 0 {
		cmd.Println("No documents found.")
		return nil
	}

	cmd.Printf("Documents (%d):\n\n", len(docs))
	for i := range docs {
		cmd.Printf("  %s  %-10s %3d%%  %s\n", docs[i].ID, docs[i].Status, docs[i].Progress, docs[i].Title)
	}
	return nil
}

func runDocumentContent(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}
	userID, err := currentUser()
	if err != nil {
		return err
	}

	doc, err := documentService.Get(cmd.Context(), args[0], userID)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	cmd.Println(doc.Content)
	return nil
}

func runDocumentDetails(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}
	userID, err := currentUser()
	if err != nil {
		return err
	}

	details, err := documentService.GetDetails(cmd.Context(), args[0], userID)
	if err != nil {
		return fmt.Errorf("failed to get document details: %w", err)
	}

	cmd.Printf("Document Details: %s\n\n", details.ID)
	cmd.Printf("  Title:       %s\n", details.Title)
	cmd.Printf("  URI:         %s\n", details.URI)
	cmd.Printf("  Status:      %s (%d%%)\n", details.Status, details.Progress)
	cmd.Printf("  Chunks:      %d (%d analysed)\n", details.ChunkCount, details.AnalysedChunks)
	if len(details.Keywords) > 0 {
		cmd.Printf("  Keywords:    %s\n", strings.Join(details.Keywords, ", "))
	}
	cmd.Printf("  Created:     %s\n", details.CreatedAt.Format("2006-01-02 15:04:05"))
	cmd.Printf("  Updated:     %s\n", details.UpdatedAt.Format("2006-01-02 15:04:05"))

	return nil
}

func runDocumentDelete(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}
	userID, err := currentUser()
	if err != nil {
		return err
	}

	docID := args[0]
	if err := documentService.Delete(cmd.Context(), docID, userID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	cmd.Printf("Document %s deleted.\n", docID)
	return nil
}
