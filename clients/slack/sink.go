package slack

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/slack-go/slack"

	"connmonitor/models"
)

// AlertSink posts formatted alerts to a Slack incoming webhook.
type AlertSink struct {
	webhookURL  string
	environment string
	httpClient  *http.Client
}

func NewAlertSink(webhookURL, environment string, httpClient *http.Client) *AlertSink {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &AlertSink{
		webhookURL:  webhookURL,
		environment: environment,
		httpClient:  httpClient,
	}
}

func (s *AlertSink) SendAlert(ctx context.Context, message string, severity models.AlertSeverity) error {
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.httpClient, s.buildMessage(message, severity)); err != nil {
		return fmt.Errorf("failed to post %s alert to Slack: %w", severity, err)
	}
	return nil
}

func (s *AlertSink) buildMessage(message string, severity models.AlertSeverity) *slack.WebhookMessage {
	prefix := ""
	if s.environment != "" && s.environment != "prod" {
		prefix = fmt.Sprintf("[%s] ", s.environment)
	}

	text := prefix + message
	section := slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)
	footer := slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Severity:* %s", strings.ToUpper(string(severity))), false, false),
	)

	return &slack.WebhookMessage{
		Text:   text,
		Blocks: &slack.Blocks{BlockSet: []slack.Block{section, footer}},
	}
}
