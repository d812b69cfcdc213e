package export

import (
	"context"
	"fmt"
	"os"

	"campusbook/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsWriter mirrors reservations into one tab of a spreadsheet.
type SheetsWriter struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	logger        *zerolog.Logger
}

func NewSheetsWriter(ctx context.Context, credentialsFile, spreadsheetID, sheetName string, logger *zerolog.Logger) (*SheetsWriter, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	jwtConfig, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwtConfig.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	return newSheetsWriter(srv, spreadsheetID, sheetName, logger), nil
}

func newSheetsWriter(srv *sheets.Service, spreadsheetID, sheetName string, logger *zerolog.Logger) *SheetsWriter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &SheetsWriter{service: srv, spreadsheetID: spreadsheetID, sheetName: sheetName, logger: logger}
}

// ReplaceReservations clears the tab and rewrites the header plus one row per
// reservation.
func (s *SheetsWriter) ReplaceReservations(ctx context.Context, reservations []*models.Reservation) error {
	clearRange := s.sheetName + "!A:Z"
	if _, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, clearRange, &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to clear %s: %w", s.sheetName, err)
	}

	values := make([][]interface{}, 0, len(reservations)+1)
	values = append(values, headerRow())
	for _, r := range reservations {
		values = append(values, row(r))
	}

	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.sheetName+"!A1", &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", s.sheetName, err)
	}

	s.logger.Info().
		Str("spreadsheet_id", s.spreadsheetID).
		Int("rows", len(reservations)).
		Msg("reservations sheet replaced")
	return nil
}
