package main

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/orgatlas"
)

func (a *app) projectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create and list projects",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := a.openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			p, err := e.CreateProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := a.openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			projects, err := e.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), projects)
		},
	})
	return cmd
}

func (a *app) documentCmd() *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "document",
		Short: "Add and inspect documents",
	}
	cmd.PersistentFlags().StringVarP(&projectID, "project", "p", "", "Project ID")

	add := &cobra.Command{
		Use:   "add <file>...",
		Short: "Add files to a project",
		Long: `Extract text from each file and store it as an uploaded document.

Supported formats: txt, md, csv, pdf, docx, xlsx.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project is required")
			}
			e, _, err := a.openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			docs := make([]*orgatlas.Document, 0, len(args))
			for _, path := range args {
				doc, err := e.AddDocumentFile(cmd.Context(), projectID, path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				doc.Content = ""
				docs = append(docs, doc)
			}
			return printJSON(cmd.OutOrStdout(), docs)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List a project's documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project is required")
			}
			e, _, err := a.openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			docs, err := e.ListDocuments(cmd.Context(), projectID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), docs)
		},
	}

	show := &cobra.Command{
		Use:   "show <document-id>",
		Short: "Show a document with its content and status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := a.openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			doc, err := e.GetDocument(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}

	del := &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete a document and the graph rows extracted from it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := a.openEngine()
			if err != nil {
				return err
			}
			defer e.Close()
			return e.DeleteDocument(cmd.Context(), args[0])
		},
	}

	entities := &cobra.Command{
		Use:   "entities <document-id>",
		Short: "List the entities extracted from a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := a.openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			ents, err := e.DocumentEntities(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ents)
		},
	}

	cmd.AddCommand(add, list, show, del, entities)
	return cmd
}

func (a *app) graphCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Dump a project's entities, edges, insights and counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := a.openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			g, err := e.Graph(cmd.Context(), projectID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), g)
		},
	}
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Project ID")
	cmd.MarkFlagRequired("project")
	return cmd
}

// extractResult is one line of extract output.
type extractResult struct {
	DocumentID string                      `json:"document_id"`
	Summary    *orgatlas.ExtractionSummary `json:"summary,omitempty"`
	Error      string                      `json:"error,omitempty"`
}

func (a *app) extractCmd() *cobra.Command {
	var (
		concurrency int
		failFast    bool
	)

	cmd := &cobra.Command{
		Use:   "extract <document-id>...",
		Short: "Run an extraction pass over documents",
		Long: `Run one extraction pass per document with the configured provider.

Documents are processed in parallel up to --concurrency. A failed pass is
reported and leaves its document failed; with --fail-fast the remaining
passes are cancelled.

Examples:
  orgatlas extract d1 d2
  orgatlas extract --provider hosted --model claude-sonnet-4-5 d1
  ORGATLAS_PROVIDER_BASE_URL=http://gpu:8000 orgatlas extract d1`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.bindFlags(cmd, map[string]string{
				"provider.kind":       "provider",
				"provider.model_name": "model",
				"provider.base_url":   "base-url",
			}); err != nil {
				return err
			}
			e, cfg, err := a.openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			results := make([]extractResult, len(args))
			var mu sync.Mutex
			failed := 0

			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(max(concurrency, 1))
			for i, id := range args {
				g.Go(func() error {
					sum, err := e.Extract(ctx, id, cfg.Provider)
					res := extractResult{DocumentID: id, Summary: sum}
					if err != nil {
						res.Error = err.Error()
						slog.Error("extract: pass failed", "doc_id", id, "error", err)
						mu.Lock()
						failed++
						mu.Unlock()
					}
					results[i] = res
					if err != nil && failFast {
						return err
					}
					return nil
				})
			}
			waitErr := g.Wait()

			if err := printJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			if waitErr != nil {
				return waitErr
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d passes failed", failed, len(args))
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVarP(&concurrency, "concurrency", "c", 2, "Documents processed in parallel")
	f.BoolVar(&failFast, "fail-fast", false, "Cancel remaining passes after the first failure")
	f.String("provider", "", "Provider kind: hosted or local")
	f.String("model", "", "Model name")
	f.String("base-url", "", "Provider base URL")
	return cmd
}

func (a *app) territoriesCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "territories",
		Short: "Show a project's known and frontier territories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := a.openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			view, err := e.ListTerritories(cmd.Context(), projectID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Project ID")
	cmd.MarkFlagRequired("project")
	return cmd
}

func (a *app) agentsCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Show a project's agents and coordinator hierarchy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := a.openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			view, err := e.ListAgents(cmd.Context(), projectID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Project ID")
	cmd.MarkFlagRequired("project")
	return cmd
}

func (a *app) entitiesCmd() *cobra.Command {
	var (
		projectID string
		k         int
	)

	cmd := &cobra.Command{
		Use:   "entities",
		Short: "List, search and review entities",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every entity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := a.openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			ents, err := e.ListEntities(cmd.Context(), projectID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ents)
		},
	}

	similar := &cobra.Command{
		Use:   "similar <query>",
		Short: "Find entities nearest to a query (requires embeddings)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := a.openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			matches, err := e.SimilarEntities(cmd.Context(), projectID, args[0], k)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), matches)
		},
	}
	similar.Flags().IntVar(&k, "k", 10, "Number of matches")
	for _, c := range []*cobra.Command{list, similar} {
		c.Flags().StringVarP(&projectID, "project", "p", "", "Project ID")
		c.MarkFlagRequired("project")
	}

	review := &cobra.Command{
		Use:   "review <entity-id> <pending|approved|rejected>",
		Short: "Set an entity's review status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := a.openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			ent, err := e.ReviewEntity(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ent)
		},
	}

	cmd.AddCommand(list, similar, review)
	return cmd
}
