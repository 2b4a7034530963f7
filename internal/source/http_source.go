package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/timetable-sync/pkg/config"
	appErrors "github.com/noah-isme/timetable-sync/pkg/errors"
)

// maxBodyBytes bounds upstream payloads.
const maxBodyBytes = 8 << 20

// HTTPSource fetches the timetable and substitution feeds over HTTP.
type HTTPSource struct {
	timetableURL    string
	substitutionURL string
	token           string
	client          *http.Client
	logger          *zap.Logger
}

// NewHTTPSource constructs a source from cfg. The client timeout is a safety
// net; callers are expected to bound requests through their context.
func NewHTTPSource(cfg config.SourceConfig, logger *zap.Logger) *HTTPSource {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSource{
		timetableURL:    cfg.TimetableURL,
		substitutionURL: cfg.SubstitutionURL,
		token:           cfg.AuthToken,
		client:          &http.Client{Timeout: 2 * timeout},
		logger:          logger,
	}
}

// FetchTimetable returns the raw timetable payload.
func (s *HTTPSource) FetchTimetable(ctx context.Context) ([]byte, error) {
	if s.timetableURL == "" {
		return nil, appErrors.Clone(appErrors.ErrFetchNetwork, "timetable source url is not configured")
	}
	return s.get(ctx, s.timetableURL)
}

// FetchSubstitutions returns the raw substitution feed, or nil when no feed
// is configured.
func (s *HTTPSource) FetchSubstitutions(ctx context.Context) ([]byte, error) {
	if s.substitutionURL == "" {
		return nil, nil
	}
	return s.get(ctx, s.substitutionURL)
}

func (s *HTTPSource) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrFetchNetwork.Code, appErrors.ErrFetchNetwork.Status, "invalid source url")
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	s.logger.Debug("source responded",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, appErrors.FetchHTTPError(resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if len(body) > maxBodyBytes {
		return nil, appErrors.Clone(appErrors.ErrFetchNetwork, fmt.Sprintf("source payload exceeds %d bytes", maxBodyBytes))
	}
	return body, nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return appErrors.Wrap(err, appErrors.ErrFetchTimeout.Code, appErrors.ErrFetchTimeout.Status, appErrors.ErrFetchTimeout.Message)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return appErrors.Wrap(err, appErrors.ErrFetchTimeout.Code, appErrors.ErrFetchTimeout.Status, appErrors.ErrFetchTimeout.Message)
	}
	return appErrors.Wrap(err, appErrors.ErrFetchNetwork.Code, appErrors.ErrFetchNetwork.Status, appErrors.ErrFetchNetwork.Message)
}
