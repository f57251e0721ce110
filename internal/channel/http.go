package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPSender posts to a downstream provider gateway. The gateway owns retry
// and backoff policy; this client only reports the outcome.
type HTTPSender struct {
	BaseURL string
	Client  *http.Client
}

type sendRequest struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	Priority  string `json:"priority"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

func (s HTTPSender) Send(ctx context.Context, recipient, message, priority string) (string, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	body, err := json.Marshal(sendRequest{Recipient: recipient, Message: message, Priority: priority})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sender returned status %d", resp.StatusCode)
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.MessageID == "" {
		return "", errors.New("sender returned no message id")
	}
	return out.MessageID, nil
}
