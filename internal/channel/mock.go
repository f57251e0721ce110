package channel

import (
	"context"
	"fmt"

	"github.com/queueflow/backend/internal/utils"
)

// MockSender stands in when no provider URL is configured. Message ids are
// derived from the payload hash so repeated sends are recognizable in logs.
type MockSender struct {
	Channel string
}

func (m MockSender) Send(ctx context.Context, recipient, message, priority string) (string, error) {
	h := utils.HashStringToUint64(m.Channel + "|" + recipient + "|" + message)
	return fmt.Sprintf("mock-%s-%x", m.Channel, h), nil
}
