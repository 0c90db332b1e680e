package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/fieldops-backend/internal/services"
)

func kbCmd() *cobra.Command {
	kb := &cobra.Command{Use: "kb", Short: "Manage the SOP knowledge base"}
	kb.AddCommand(kbImportCmd())
	kb.AddCommand(kbSearchCmd())
	return kb
}

func kbImportCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "import <file.md>",
		Short: "Import SOPs from a Markdown file, one per heading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return withDB(cmd.Context(), func(ctx context.Context, db *gorm.DB) error {
				n, err := services.NewKnowledgeService(db).ImportMarkdown(ctx, f, category)
				if err != nil {
					return fmt.Errorf("import %s: %w", args[0], err)
				}
				log.Info().Str("file", args[0]).Str("category", category).Int("created", n).Msg("SOPs imported")
				fmt.Fprintf(cmd.OutOrStdout(), "%d SOP(s) imported\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "general", "category assigned to every imported SOP")
	return cmd
}

func kbSearchCmd() *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank SOP paragraphs against a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := strings.Join(args, " ")
			return withDB(cmd.Context(), func(ctx context.Context, db *gorm.DB) error {
				kb := services.NewKnowledgeService(db)
				if err := kb.Rebuild(ctx); err != nil {
					return err
				}
				results := kb.Search(q, k)
				out := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(out, results)
				}
				tw := newTable(out, table.Row{"Score", "SOP", "Snippet"})
				for _, r := range results {
					tw.AppendRow(table.Row{fmt.Sprintf("%.2f", r.Score), r.Title, r.Snippet})
				}
				tw.SetColumnConfigs([]table.ColumnConfig{{Number: 3, WidthMax: 80}})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&k, "top", "k", 5, "number of results")
	return cmd
}
