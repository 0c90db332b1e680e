package sheets

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/tbourn/fieldops-backend/internal/store"
)

// googleValues calls the Sheets v4 API for one spreadsheet. Requests carry
// the user's OAuth token as bearer and the application API key as the "key"
// query parameter.
type googleValues struct {
	svc *gsheets.Service
	id  string
	key googleapi.CallOption
}

func (g *googleValues) SheetTitles(ctx context.Context) ([]string, error) {
	ss, err := g.svc.Spreadsheets.Get(g.id).Fields("sheets.properties.title").Context(ctx).Do(g.key)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ss.Sheets))
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			out = append(out, s.Properties.Title)
		}
	}
	return out, nil
}

func (g *googleValues) AddSheets(ctx context.Context, titles []string) error {
	reqs := make([]*gsheets.Request, len(titles))
	for i, t := range titles {
		reqs[i] = &gsheets.Request{AddSheet: &gsheets.AddSheetRequest{
			Properties: &gsheets.SheetProperties{Title: t},
		}}
	}
	_, err := g.svc.Spreadsheets.BatchUpdate(g.id, &gsheets.BatchUpdateSpreadsheetRequest{Requests: reqs}).
		Context(ctx).Do(g.key)
	return err
}

func (g *googleValues) Get(ctx context.Context, rng string) ([][]any, error) {
	vr, err := g.svc.Spreadsheets.Values.Get(g.id, rng).Context(ctx).Do(g.key)
	if err != nil {
		return nil, err
	}
	return vr.Values, nil
}

func (g *googleValues) Update(ctx context.Context, rng string, rows [][]any) error {
	_, err := g.svc.Spreadsheets.Values.Update(g.id, rng, &gsheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").Context(ctx).Do(g.key)
	return err
}

func (g *googleValues) Append(ctx context.Context, rng string, rows [][]any) error {
	_, err := g.svc.Spreadsheets.Values.Append(g.id, rng, &gsheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do(g.key)
	return err
}

func (g *googleValues) Clear(ctx context.Context, rng string) error {
	_, err := g.svc.Spreadsheets.Values.Clear(g.id, rng, &gsheets.ClearValuesRequest{}).
		Context(ctx).Do(g.key)
	return err
}

// newValuesAPI is a seam for tests.
var newValuesAPI = func(ctx context.Context, creds store.Credentials) (valuesAPI, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken, TokenType: "Bearer"})
	svc, err := gsheets.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, err
	}
	return &googleValues{
		svc: svc,
		id:  creds.SpreadsheetID,
		key: googleapi.QueryParameter("key", creds.APIKey),
	}, nil
}

// Connect validates creds, builds the API client and runs EnsureSchema as
// the access check. Blank credentials fail before any network call.
func Connect(ctx context.Context, creds store.Credentials) (store.Backend, error) {
	if err := store.Require(
		"api_key", creds.APIKey,
		"access_token", creds.AccessToken,
		"spreadsheet_id", creds.SpreadsheetID,
	); err != nil {
		return nil, err
	}
	api, err := newValuesAPI(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("sheets: client: %w", err)
	}
	b := newBackend(api)
	if err := b.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// Connector is Connect as a store.Connector.
var Connector store.Connector = store.ConnectorFunc(Connect)
