package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"connmonitor/models"
)

// maxEmbedDescription is Discord's limit for an embed description.
const maxEmbedDescription = 4096

var severityColors = map[models.AlertSeverity]int{
	models.AlertSeverityInfo:    0x3498db,
	models.AlertSeverityWarning: 0xf1c40f,
	models.AlertSeverityError:   0xe74c3c,
}

// MessageSender is the part of a discordgo session the sink needs
type MessageSender interface {
	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
}

// AlertSink posts formatted alerts as embeds to a Discord channel.
type AlertSink struct {
	sender    MessageSender
	channelID string
	now       func() time.Time
}

func NewAlertSink(botToken, channelID string) (*AlertSink, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	return NewAlertSinkWithSender(session, channelID), nil
}

func NewAlertSinkWithSender(sender MessageSender, channelID string) *AlertSink {
	return &AlertSink{sender: sender, channelID: channelID, now: time.Now}
}

func (s *AlertSink) SendAlert(ctx context.Context, message string, severity models.AlertSeverity) error {
	_, err := s.sender.ChannelMessageSendComplex(s.channelID, s.buildMessage(message, severity), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to send %s alert to Discord channel %s: %w", severity, s.channelID, err)
	}
	return nil
}

func (s *AlertSink) buildMessage(message string, severity models.AlertSeverity) *discordgo.MessageSend {
	title, body, _ := strings.Cut(message, "\n")
	title = strings.ReplaceAll(title, "*", "")
	if len(body) > maxEmbedDescription {
		body = body[:maxEmbedDescription-3] + "..."
	}

	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       title,
			Description: body,
			Color:       severityColors[severity],
			Timestamp:   s.now().UTC().Format(time.RFC3339),
			Footer:      &discordgo.MessageEmbedFooter{Text: strings.ToUpper(string(severity))},
		}},
	}
}
