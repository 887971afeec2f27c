package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parley-ai/voicebridge/internal/resilience"
	"github.com/rs/zerolog"
)

// DefaultControlAPI is the telephony control API base URL.
const DefaultControlAPI = "https://api.twilio.com"

// Dialer places outbound calls through the telephony control API and
// points their media stream back at this service. Placement happens
// before any live call exists, so it may retry with backoff.
type Dialer struct {
	// APIBase is overridable for tests.
	APIBase string

	accountSID string
	authToken  string
	from       string
	streamURL  string
	httpClient *http.Client
	retry      *resilience.RetryConfig
	logger     zerolog.Logger
}

// NewDialer creates a dialer. streamURL is the public wss:// endpoint
// the provider should connect its media stream to.
func NewDialer(accountSID, authToken, from, streamURL string, retry *resilience.RetryConfig, logger zerolog.Logger) *Dialer {
	return &Dialer{
		APIBase:    DefaultControlAPI,
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		streamURL:  streamURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		retry:      retry,
		logger:     logger,
	}
}

type callResponse struct {
	Sid     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// PlaceCall creates an outbound call to number "to" running the named
// task, and returns the provider call id.
func (d *Dialer) PlaceCall(ctx context.Context, to, taskName string) (string, error) {
	twiml := fmt.Sprintf(
		`<Response><Connect><Stream url=%q><Parameter name="task" value=%q/></Stream></Connect></Response>`,
		d.streamURL, taskName,
	)
	form := url.Values{
		"To":    {to},
		"From":  {d.from},
		"Twiml": {twiml},
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", d.APIBase, d.accountSID)

	var sid string
	err := resilience.Retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(d.accountSID, d.authToken)

		resp, err := d.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("call placement request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("failed to read call placement response: %w", err)
		}
		if resp.StatusCode >= 300 {
			return fmt.Errorf("call placement returned status %d: %s", resp.StatusCode, string(body))
		}
		var cr callResponse
		if err := json.Unmarshal(body, &cr); err != nil {
			return fmt.Errorf("failed to parse call placement response: %w", err)
		}
		if cr.Sid == "" {
			return fmt.Errorf("call placement response missing sid")
		}
		sid = cr.Sid
		return nil
	}, d.retry)
	if err != nil {
		return "", err
	}

	d.logger.Info().
		Str("call_sid", sid).
		Str("to", to).
		Str("task", taskName).
		Msg("Outbound call placed")
	return sid, nil
}
