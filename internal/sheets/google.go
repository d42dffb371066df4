package sheets

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// NewService authenticates with a Google service-account JSON key.
//
// The spreadsheet must be shared with the service account's e-mail address;
// the account has no access to anything else.
func NewService(ctx context.Context, credentialsFile string) (*gsheets.Service, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("sheets: reading service account file: %w", err)
	}

	conf, err := google.JWTConfigFromJSON(data, gsheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("sheets: parsing service account file: %w", err)
	}

	svc, err := gsheets.NewService(ctx, option.WithHTTPClient(conf.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("sheets: creating client: %w", err)
	}
	return svc, nil
}

// GoogleTable is a Table backed by one worksheet (tab) of a Google
// spreadsheet.
type GoogleTable struct {
	svc           *gsheets.Service
	spreadsheetID string
	title         string
	sheetID       int64
	url           string
}

var _ Table = (*GoogleTable)(nil)

// OpenGoogleTable resolves the worksheet called title, creating the tab when
// the spreadsheet does not have one yet.
func OpenGoogleTable(ctx context.Context, svc *gsheets.Service, spreadsheetID, title string) (*GoogleTable, error) {
	ss, err := svc.Spreadsheets.Get(spreadsheetID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: opening spreadsheet %s: %w", spreadsheetID, err)
	}

	t := &GoogleTable{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		title:         title,
		url:           ss.SpreadsheetUrl,
	}

	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			t.sheetID = sh.Properties.SheetId
			return t, nil
		}
	}

	resp, err := svc.Spreadsheets.BatchUpdate(spreadsheetID, &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			AddSheet: &gsheets.AddSheetRequest{
				Properties: &gsheets.SheetProperties{Title: title},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: adding worksheet %q: %w", title, err)
	}
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil && resp.Replies[0].AddSheet.Properties != nil {
		t.sheetID = resp.Replies[0].AddSheet.Properties.SheetId
	}
	return t, nil
}

func (t *GoogleTable) Header(ctx context.Context) ([]string, error) {
	vr, err := t.svc.Spreadsheets.Values.Get(t.spreadsheetID, t.a1("1:1")).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	if len(vr.Values) == 0 {
		return nil, nil
	}
	return cellStrings(vr.Values[0]), nil
}

// WriteHeader clears row 1, writes the header, then makes it bold and
// frozen in one batch update.
func (t *GoogleTable) WriteHeader(ctx context.Context, header []string) error {
	if _, err := t.svc.Spreadsheets.Values.Clear(t.spreadsheetID, t.a1("1:1"), &gsheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return err
	}

	_, err := t.svc.Spreadsheets.Values.Update(t.spreadsheetID, t.a1("A1"), &gsheets.ValueRange{
		Values: [][]interface{}{toInterfaces(header)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return err
	}

	_, err = t.svc.Spreadsheets.BatchUpdate(t.spreadsheetID, &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{
			{
				UpdateSheetProperties: &gsheets.UpdateSheetPropertiesRequest{
					Properties: &gsheets.SheetProperties{
						SheetId:        t.sheetID,
						GridProperties: &gsheets.GridProperties{FrozenRowCount: 1},
					},
					Fields: "gridProperties.frozenRowCount",
				},
			},
			{
				RepeatCell: &gsheets.RepeatCellRequest{
					Range: &gsheets.GridRange{SheetId: t.sheetID, StartRowIndex: 0, EndRowIndex: 1},
					Cell: &gsheets.CellData{
						UserEnteredFormat: &gsheets.CellFormat{
							TextFormat:      &gsheets.TextFormat{Bold: true},
							BackgroundColor: &gsheets.Color{Red: 0.9, Green: 0.9, Blue: 0.9},
						},
					},
					Fields: "userEnteredFormat(textFormat,backgroundColor)",
				},
			},
		},
	}).Context(ctx).Do()
	return err
}

// KeyColumn reads column A unformatted, so numeric ids come back without
// thousands separators or exponent notation.
func (t *GoogleTable) KeyColumn(ctx context.Context) ([]string, error) {
	vr, err := t.svc.Spreadsheets.Values.Get(t.spreadsheetID, t.a1("A:A")).
		ValueRenderOption("UNFORMATTED_VALUE").
		Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	out := make([]string, len(vr.Values))
	for i, row := range vr.Values {
		if len(row) > 0 {
			out[i] = cellString(row[0])
		}
	}
	return out, nil
}

func (t *GoogleTable) AppendRow(ctx context.Context, values []string) error {
	_, err := t.svc.Spreadsheets.Values.Append(t.spreadsheetID, t.a1("A1"), &gsheets.ValueRange{
		Values: [][]interface{}{toInterfaces(values)},
	}).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	return err
}

func (t *GoogleTable) UpdateCell(ctx context.Context, row, col int, value string) error {
	cell := columnLetter(col) + strconv.Itoa(row)
	_, err := t.svc.Spreadsheets.Values.Update(t.spreadsheetID, t.a1(cell), &gsheets.ValueRange{
		Values: [][]interface{}{{value}},
	}).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	return err
}

func (t *GoogleTable) URL() string {
	if t.url != "" {
		return t.url
	}
	return "https://docs.google.com/spreadsheets/d/" + t.spreadsheetID
}

// a1 qualifies a range with the quoted worksheet title.
func (t *GoogleTable) a1(rng string) string {
	return "'" + strings.ReplaceAll(t.title, "'", "''") + "'!" + rng
}

// columnLetter converts a 1-based column index to its A1 letters.
func columnLetter(col int) string {
	var s []byte
	for col > 0 {
		col--
		s = append([]byte{byte('A' + col%26)}, s...)
		col /= 26
	}
	return string(s)
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func cellStrings(row []interface{}) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = cellString(v)
	}
	return out
}

func cellString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
