package utils

import (
	"net/http"
	"time"

	"github.com/aisopod/aisopod/pkg/logger"
)

// DoRequestWithRetry performs req with client, retrying transient failures
// (connection errors, 429, and 5xx responses) up to three times with
// exponential backoff. The final attempt's response or error is returned
// as-is so callers can inspect status codes normally.
func DoRequestWithRetry(client *http.Client, req *http.Request) (*http.Response, error) {
	const maxAttempts = 3
	backoff := 500 * time.Millisecond

	var lastResp *http.Response
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := client.Do(req)
		if err == nil && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastResp = resp
			lastErr = nil
		}

		if attempt == maxAttempts {
			break
		}

		if resp != nil {
			resp.Body.Close()
		}

		logger.WarnCF("utils", "retrying HTTP request", map[string]any{
			"url":     req.URL.String(),
			"attempt": attempt,
		})
		time.Sleep(backoff)
		backoff *= 2
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return lastResp, nil
}
