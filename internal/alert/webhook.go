package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// Sender posts payloads to webhook endpoints. 5xx responses and transport
// errors are retried with linear backoff; 4xx responses are final.
type Sender struct {
	Client   *http.Client
	Attempts int
	Backoff  time.Duration
}

// DefaultSender is used by Send and by dispatchers.
var DefaultSender = &Sender{
	Client:   &http.Client{Timeout: 5 * time.Second},
	Attempts: 3,
	Backoff:  time.Second,
}

// Send posts event to cfg using DefaultSender.
func Send(cfg AlertConfig, event AlertEvent) error {
	return DefaultSender.Send(context.Background(), cfg, event)
}

// Send posts event to cfg.URL in cfg.Format.
func (s *Sender) Send(ctx context.Context, cfg AlertConfig, event AlertEvent) error {
	body, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	attempts := max(s.Attempts, 1)

	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * s.Backoff):
			}
		}
		retry, err := s.post(ctx, cfg, body)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", attempts, lastErr)
}

func (s *Sender) post(ctx context.Context, cfg AlertConfig, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "warden")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return true, err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return false, fmt.Errorf("webhook rejected: HTTP %d", resp.StatusCode)
	default:
		return true, fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
	}
}
