package tools

import (
	"context"

	agenticrag "github.com/changxeokSong/agentic-rag"
	"github.com/changxeokSong/agentic-rag/internal/adapters"
	"github.com/changxeokSong/agentic-rag/internal/storage"
)

// DocumentStore is the slice of storage the document tools need.
type DocumentStore interface {
	SearchDocuments(ctx context.Context, query string, limit int) ([]storage.Document, error)
	ListDocuments(ctx context.Context) ([]storage.Document, error)
	SaveDocument(ctx context.Context, name, content string) error
}

const defaultSearchLimit = 5

// NewSearchDocumentsTool searches the stored document corpus.
func NewSearchDocumentsTool(store DocumentStore) agenticrag.Tool {
	return adapters.NewFuncTool("search_documents",
		func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
			query, err := parseString(input, "query")
			if err != nil {
				return nil, err
			}
			limit, err := parseNumber(input, "limit", defaultSearchLimit)
			if err != nil {
				return nil, err
			}

			docs, err := store.SearchDocuments(ctx, query, int(limit))
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"query":     query,
				"count":     len(docs),
				"documents": docs,
			}, nil
		},
		adapters.WithDescription("Searches stored documents by name or content and returns the matches."),
		adapters.WithParameters(map[string]string{
			"query": "text to search for",
			"limit": "maximum number of matches, optional",
		}),
		adapters.WithRequired("query"),
		adapters.WithReturns("matching documents with their content"),
		adapters.WithCategory("documents"),
	)
}

// NewListFilesTool lists the names of all stored documents.
func NewListFilesTool(store DocumentStore) agenticrag.Tool {
	return adapters.NewFuncTool("list_files",
		func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
			docs, err := store.ListDocuments(ctx)
			if err != nil {
				return nil, err
			}
			names := make([]string, len(docs))
			for i, doc := range docs {
				names[i] = doc.Name
			}
			return map[string]interface{}{
				"count": len(names),
				"files": names,
			}, nil
		},
		adapters.WithDescription("Lists the names of all stored documents."),
		adapters.WithReturns("the document names, newest first"),
		adapters.WithCategory("documents"),
	)
}

// NewSaveDocumentTool stores or replaces a named document.
func NewSaveDocumentTool(store DocumentStore) agenticrag.Tool {
	return adapters.NewFuncTool("save_document",
		func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
			name, err := parseString(input, "name")
			if err != nil {
				return nil, err
			}
			content, err := parseString(input, "content")
			if err != nil {
				return nil, err
			}
			if err := store.SaveDocument(ctx, name, content); err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"name":   name,
				"status": "saved",
			}, nil
		},
		adapters.WithDescription("Stores a named document, replacing any previous content."),
		adapters.WithParameters(map[string]string{
			"name":    "document name",
			"content": "full document content",
		}),
		adapters.WithRequired("name", "content"),
		adapters.WithReturns("confirmation of the saved document"),
		adapters.WithCategory("documents"),
	)
}
