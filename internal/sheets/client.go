package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/pkg/logger"
)

// DefaultWorksheet is the tab both spreadsheets keep their data on.
const DefaultWorksheet = "main"

// valueInputOption keeps display strings exactly as written.
const valueInputOption = "RAW"

const (
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 8 * time.Second
	retryMaxElapsedTime  = 45 * time.Second
)

// Target addresses one worksheet.
type Target struct {
	SpreadsheetID string `mapstructure:"spreadsheetID"`
	Worksheet     string `mapstructure:"worksheet"`
}

func (t Target) worksheet() string {
	if t.Worksheet == "" {
		return DefaultWorksheet
	}
	return t.Worksheet
}

// a1 prefixes rng with the quoted worksheet name.
func (t Target) a1(rng string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(t.worksheet(), "'", "''"), rng)
}

// Config selects the credentials and the two spreadsheets the pipelines use.
type Config struct {
	// CredentialsFile is a service-account JSON file path or the JSON itself.
	CredentialsFile string
	Students        Target
	Sales           Target
}

// valuesAPI is the slice of the Sheets values API the client needs.
type valuesAPI interface {
	Get(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error)
	BatchUpdate(ctx context.Context, spreadsheetID string, data []*gsheets.ValueRange) (int, error)
	Update(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}) (int, error)
}

// Client reads the roster and writes practice dates and leads.
type Client struct {
	values  valuesAPI
	cfg     Config
	backoff func(ctx context.Context) backoff.BackOffContext
}

// ClientOptions turns a credentials setting into API client options.
// Values starting with "{" are treated as inline JSON.
func ClientOptions(creds string) []option.ClientOption {
	creds = strings.TrimSpace(creds)
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

// NewClient creates a Sheets API client. Without credentials the
// application default credentials are used.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Students.SpreadsheetID == "" || cfg.Sales.SpreadsheetID == "" {
		return nil, apperrors.NewFatal(apperrors.ErrValidation, "both spreadsheet IDs are required")
	}
	opts := append(ClientOptions(cfg.CredentialsFile), option.WithScopes(gsheets.SpreadsheetsScope))
	srv, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, apperrors.NewFatal(apperrors.ErrSheets, "failed to create sheets service: %v", err)
	}
	logger.Log.Info("Sheets client created",
		zap.String("students_spreadsheet", cfg.Students.SpreadsheetID),
		zap.String("sales_spreadsheet", cfg.Sales.SpreadsheetID),
	)
	return newClient(&serviceValues{srv: srv}, cfg), nil
}

func newClient(values valuesAPI, cfg Config) *Client {
	return &Client{
		values:  values,
		cfg:     cfg,
		backoff: defaultBackoff,
	}
}

func defaultBackoff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = retryMaxElapsedTime
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// do runs op, retrying quota and server errors.
func (c *Client) do(ctx context.Context, opName string, op func() error) error {
	notify := func(err error, d time.Duration) {
		logger.FromContext(ctx).Warn("Retrying sheets call",
			zap.String("operation", opName),
			zap.Error(err),
			zap.Duration("after", d),
		)
	}
	err := backoff.RetryNotify(func() error {
		err := op()
		if err == nil || isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, c.backoff(ctx), notify)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", apperrors.ErrSheets, opName, err)
	}
	return nil
}

func isTransient(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}

// serviceValues adapts *sheets.Service to valuesAPI.
type serviceValues struct {
	srv *gsheets.Service
}

func (s *serviceValues) Get(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error) {
	resp, err := s.srv.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (s *serviceValues) BatchUpdate(ctx context.Context, spreadsheetID string, data []*gsheets.ValueRange) (int, error) {
	req := &gsheets.BatchUpdateValuesRequest{
		ValueInputOption: valueInputOption,
		Data:             data,
	}
	resp, err := s.srv.Spreadsheets.Values.BatchUpdate(spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	return int(resp.TotalUpdatedCells), nil
}

func (s *serviceValues) Update(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}) (int, error) {
	resp, err := s.srv.Spreadsheets.Values.Update(spreadsheetID, rng, &gsheets.ValueRange{Values: rows}).
		ValueInputOption(valueInputOption).
		Context(ctx).
		Do()
	if err != nil {
		return 0, err
	}
	return int(resp.UpdatedCells), nil
}
