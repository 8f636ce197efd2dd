// Package sheets appends batch extraction results to a Google Sheet, one row
// per file.
//
// Credentials come from GOOGLE_APPLICATION_CREDENTIALS (service account file)
// or GOOGLE_CREDENTIALS (inline JSON). The service account needs edit access
// to the spreadsheet.
package sheets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
	"ocrpipe/internal/logger"
	"ocrpipe/pkg/services"
)

// DefaultSheetName is the tab batch results go to when none is given.
const DefaultSheetName = "Extractions"

const previewLength = 200

var (
	spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

	headers = []interface{}{
		"File", "Status", "Profile", "File type", "Method", "Best strategy",
		"Confidence", "Characters", "Corrected", "Cache hit", "Time (ms)",
		"Error", "Processed", "Text preview",
	}
)

// lastColumn is the column letter of the final header
var lastColumn = string(rune('A' + len(headers) - 1))

// Service writes extraction results to one spreadsheet
type Service struct {
	sheetsService *sheets.Service
	spreadsheetID string
	log           zerolog.Logger
}

// Row is one sheet line describing the outcome of a file
type Row struct {
	File         string
	Status       string
	Profile      string
	FileType     string
	Method       string
	BestStrategy string
	Confidence   float64
	Characters   int
	Corrected    bool
	CacheHit     bool
	DurationMS   int64
	Error        string
	ProcessedAt  string
	Preview      string
}

// NewSheetsService creates a Google Sheets client for the spreadsheet at sheetURL
func NewSheetsService(ctx context.Context, sheetURL string) (*Service, error) {
	const op = "NewSheetsService"

	log := logger.WithComponent("sheets")

	spreadsheetID, err := ExtractSpreadsheetID(sheetURL)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to extract spreadsheet ID: %w", op, err)
	}
	log.Debug().Str("spreadsheet_id", spreadsheetID).Msg("Extracted spreadsheet ID")

	var creds []byte
	if credsFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credsFile != "" {
		creds, err = os.ReadFile(credsFile)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to read credentials file: %w", op, err)
		}
	} else if credsJSON := os.Getenv("GOOGLE_CREDENTIALS"); credsJSON != "" {
		creds = []byte(credsJSON)
	} else {
		return nil, fmt.Errorf("%s: neither GOOGLE_APPLICATION_CREDENTIALS nor GOOGLE_CREDENTIALS is set", op)
	}

	config, err := google.JWTConfigFromJSON(creds, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse credentials: %w", op, err)
	}

	sheetsService, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create sheets service: %w", op, err)
	}

	return &Service{
		sheetsService: sheetsService,
		spreadsheetID: spreadsheetID,
		log:           log,
	}, nil
}

// ExtractSpreadsheetID returns the spreadsheet ID embedded in a Google Sheets URL
func ExtractSpreadsheetID(url string) (string, error) {
	matches := spreadsheetIDPattern.FindStringSubmatch(url)
	if len(matches) < 2 {
		return "", fmt.Errorf("invalid Google Sheets URL format")
	}
	return matches[1], nil
}

// WriteBatchResults appends one row per item to sheetName, creating the tab
// and its header row when missing
func (s *Service) WriteBatchResults(ctx context.Context, items []services.BatchItem, sheetName string) error {
	const op = "WriteBatchResults"

	if sheetName == "" {
		sheetName = DefaultSheetName
	}
	s.log.Info().
		Str("sheet", sheetName).
		Int("rows", len(items)).
		Msg("Writing batch results to Google Sheet")

	if err := s.ensureSheetWithHeaders(ctx, sheetName); err != nil {
		return fmt.Errorf("%s: failed to ensure sheet exists: %w", op, err)
	}

	rows := RowsFromItems(items, time.Now())
	values := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		values = append(values, row.Values())
	}

	_, err := s.sheetsService.Spreadsheets.Values.Append(
		s.spreadsheetID,
		sheetName+"!A:"+lastColumn,
		&sheets.ValueRange{Values: values},
	).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to append values to sheet: %w", op, err)
	}

	s.log.Info().
		Int("rows_written", len(values)).
		Msg("Successfully wrote batch results to Google Sheet")
	return nil
}

// RowsFromItems converts batch items into sheet rows stamped with processedAt
func RowsFromItems(items []services.BatchItem, processedAt time.Time) []Row {
	stamp := processedAt.Format("2006-01-02 15:04:05")
	rows := make([]Row, 0, len(items))

	for _, item := range items {
		row := Row{
			File:        filepath.Base(item.File),
			Status:      item.Status,
			Error:       item.Error,
			ProcessedAt: stamp,
		}

		if env := item.Envelope; env != nil {
			md := env.Metadata
			row.Profile = md.Profile
			row.FileType = env.FileType
			row.Method = md.Method
			if md.MethodUsed != "" {
				row.Method = md.MethodUsed
			}
			row.BestStrategy = md.BestStrategy
			row.Confidence = md.Confidence
			row.Characters = utf8.RuneCountInString(env.Text)
			row.Corrected = md.Corrected
			row.CacheHit = md.CacheHit
			row.DurationMS = md.ProcessingTimeMS
			row.Preview = preview(env.Text)
		}

		rows = append(rows, row)
	}
	return rows
}

// Values returns the row in header order
func (r Row) Values() []interface{} {
	return []interface{}{
		r.File,         // A
		r.Status,       // B
		r.Profile,      // C
		r.FileType,     // D
		r.Method,       // E
		r.BestStrategy, // F
		r.Confidence,   // G
		r.Characters,   // H
		r.Corrected,    // I
		r.CacheHit,     // J
		r.DurationMS,   // K
		r.Error,        // L
		r.ProcessedAt,  // M
		r.Preview,      // N
	}
}

// preview flattens text to one line and cuts it at previewLength runes
func preview(text string) string {
	flat := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(flat) <= previewLength {
		return flat
	}
	runes := []rune(flat)
	return string(runes[:previewLength]) + "…"
}

// ensureSheetWithHeaders ensures the sheet exists and has a header row
func (s *Service) ensureSheetWithHeaders(ctx context.Context, sheetName string) error {
	const op = "ensureSheetWithHeaders"

	spreadsheet, err := s.sheetsService.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get spreadsheet: %w", op, err)
	}

	var sheetExists bool
	var sheetID int64
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties.Title == sheetName {
			sheetExists = true
			sheetID = sheet.Properties.SheetId
			break
		}
	}

	if !sheetExists {
		s.log.Info().Str("sheet", sheetName).Msg("Creating new sheet")

		batchUpdateReq := &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{
				{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: sheetName}}},
			},
		}
		resp, err := s.sheetsService.Spreadsheets.BatchUpdate(s.spreadsheetID, batchUpdateReq).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("%s: failed to create sheet: %w", op, err)
		}
		sheetID = resp.Replies[0].AddSheet.Properties.SheetId
	}

	headerRange := fmt.Sprintf("%s!A1:%s1", sheetName, lastColumn)
	resp, err := s.sheetsService.Spreadsheets.Values.Get(s.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get headers: %w", op, err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	s.log.Info().Str("sheet", sheetName).Msg("Adding headers to sheet")
	_, err = s.sheetsService.Spreadsheets.Values.Update(
		s.spreadsheetID,
		headerRange,
		&sheets.ValueRange{Values: [][]interface{}{headers}},
	).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to add headers: %w", op, err)
	}

	if err := s.formatHeaders(ctx, sheetID); err != nil {
		s.log.Warn().Err(err).Msg("Failed to format headers, continuing anyway")
	}
	return nil
}

// formatHeaders makes the header row bold, shades it and sizes the columns
func (s *Service) formatHeaders(ctx context.Context, sheetID int64) error {
	const op = "formatHeaders"

	columns := int64(len(headers))
	requests := []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   columns,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat:      &sheets.TextFormat{Bold: true},
						BackgroundColor: &sheets.Color{Red: 0.9, Green: 0.9, Blue: 0.9},
					},
				},
				Fields: "userEnteredFormat(textFormat,backgroundColor)",
			},
		},
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   columns,
				},
			},
		},
	}

	batchUpdateReq := &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}
	if _, err := s.sheetsService.Spreadsheets.BatchUpdate(s.spreadsheetID, batchUpdateReq).Context(ctx).Do(); err != nil {
		return fmt.Errorf("%s: failed to format headers: %w", op, err)
	}
	return nil
}
