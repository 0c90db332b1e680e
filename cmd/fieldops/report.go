package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/fieldops-backend/internal/classify"
	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/repo"
	"github.com/tbourn/fieldops-backend/internal/services"
	"github.com/tbourn/fieldops-backend/internal/store"
	"github.com/tbourn/fieldops-backend/internal/syncer"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.Style().Format.Footer = text.FormatDefault
	tw.AppendHeader(header)
	return tw
}

func overdueCmd() *cobra.Command {
	var accessToken string
	cmd := &cobra.Command{
		Use:   "overdue",
		Short: "List issues past their SLA window",
		Long: `overdue reads issues from the local store, or from the configured remote
store when --access-token is given, and prints those past the 24h window.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, db *gorm.DB) error {
				records, err := openRecords(ctx, db, accessToken)
				if err != nil {
					return err
				}
				items := records.Overdue()
				out := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(out, items)
				}
				renderOverdue(out, records.State().Backend, items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&accessToken, "access-token", "", "OAuth access token; reads from the remote store instead of the local one")
	return cmd
}

// openRecords loads the record service, connected to the remote store when
// accessToken is set.
func openRecords(ctx context.Context, db *gorm.DB, accessToken string) (*services.RecordService, error) {
	var remote store.Connector
	if accessToken != "" {
		c, err := connector(cfg.Remote.Backend)
		if err != nil {
			return nil, err
		}
		remote = c
	}
	co := syncer.New(store.NewLocal(db), remote)
	if err := co.Load(ctx); err != nil {
		return nil, err
	}
	if remote != nil {
		if _, err := co.Connect(ctx, store.Credentials{
			APIKey:        cfg.Remote.GoogleAPIKey,
			AccessToken:   accessToken,
			SpreadsheetID: cfg.Remote.SpreadsheetID,
			MongoURI:      cfg.Remote.MongoURI,
			MongoDatabase: cfg.Remote.MongoDatabase,
		}); err != nil {
			return nil, err
		}
	}
	return services.NewRecordService(co, db), nil
}

func renderOverdue(w io.Writer, backend string, items []services.IssueView) {
	if len(items) == 0 {
		fmt.Fprintf(w, "No overdue issues (%s).\n", backend)
		return
	}
	tw := newTable(w, table.Row{"ID", "Reference", "Type", "Division", "Status", "Created", "SLA"})
	for _, it := range items {
		tw.AppendRow(table.Row{
			shortID(it.ID), it.Reference, it.Type, it.Division, it.Status,
			it.CreatedAt.Local().Format("2006-01-02 15:04"), text.FgRed.Sprint(it.SLA.Label),
		})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", backend, fmt.Sprintf("%d overdue", len(items))})
	tw.Render()
}

func partnersCmd() *cobra.Command {
	var f repo.PartnerFilter
	var status string
	cmd := &cobra.Command{
		Use:   "partners",
		Short: "List partners with their volume trend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if status != "" {
				f.Status = classify.Health(strings.ToUpper(strings.TrimSpace(status)))
				if !f.Status.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
			}
			return withDB(cmd.Context(), func(ctx context.Context, db *gorm.DB) error {
				svc := &services.PartnerService{DB: db}
				partners, err := svc.List(ctx, f)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(out, partners)
				}
				counts, err := svc.Health(ctx)
				if err != nil {
					return err
				}
				renderPartners(out, partners, counts)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "trend filter: growth, stagnant or at_risk")
	cmd.Flags().StringVar(&f.Province, "province", "", "province filter")
	cmd.Flags().StringVarP(&f.Query, "query", "q", "", "match on name, NIA or city")
	return cmd
}

var healthColor = map[classify.Health]text.Colors{
	classify.Growth:  {text.FgGreen},
	classify.Stagnant: {text.FgYellow},
	classify.AtRisk:   {text.FgRed, text.Bold},
}

func renderPartners(w io.Writer, partners []domain.Partner, counts map[classify.Health]int) {
	tw := newTable(w, table.Row{"Name", "NIA", "City", "Province", "M-2", "M-1", "Current", "Status"})
	for _, p := range partners {
		tw.AppendRow(table.Row{
			p.Name, p.NIA, p.City, p.Province,
			p.VolumeM2, p.VolumeM1, p.VolumeCurrent,
			healthColor[p.Status].Sprint(string(p.Status)),
		})
	}
	var summary []string
	for _, h := range []classify.Health{classify.Growth, classify.Stagnant, classify.AtRisk} {
		summary = append(summary, fmt.Sprintf("%s %d", h, counts[h]))
	}
	tw.AppendFooter(table.Row{fmt.Sprintf("%d partners", len(partners)), "", "", "", "", "", "", strings.Join(summary, " / ")})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	tw.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
