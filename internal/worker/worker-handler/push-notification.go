package worker_handler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"github.com/xenn00/chat-presence/config"
	"github.com/xenn00/chat-presence/internal/notifier"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type pushRequest struct {
	To    string `json:"to"`
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
	Sound string `json:"sound"`
}

// HandlePushNotification resolves the target's device token and posts
// the notification to the push gateway. Users without a registered
// token are skipped, not failed.
func (wh *WorkerHandler) HandlePushNotification(ctx context.Context, raw []byte) error {
	var payload notifier.PushPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("invalid push payload: %w", err)
	}

	token, appErr := wh.Directory.FindPushToken(ctx, payload.TargetUserID)
	if appErr != nil {
		return fmt.Errorf("push token lookup failed: %s", appErr.Message)
	}
	if token == "" {
		log.Debug().Str("userID", payload.TargetUserID).Msg("worker: no push token registered, skipping")
		return nil
	}

	body, err := json.Marshal(pushRequest{
		To:    token,
		Body:  payload.Body,
		Sound: "default",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.Conf.PUSH.GatewayUrl, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := wh.pushClient.Do(req)
	if err != nil {
		return fmt.Errorf("push gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("push gateway returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		// client error, retrying won't help
		log.Warn().Int("status", resp.StatusCode).Str("userID", payload.TargetUserID).Msg("worker: push rejected")
		return nil
	}

	return nil
}
