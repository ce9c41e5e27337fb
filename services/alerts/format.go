package alerts

import (
	"fmt"
	"strings"
	"time"

	"connmonitor/models"
)

var severityIcons = map[models.AlertSeverity]string{
	models.AlertSeverityInfo:    "ℹ️",
	models.AlertSeverityWarning: "⚠️",
	models.AlertSeverityError:   "🚨",
}

var alertTitles = map[models.AlertType]string{
	models.AlertTypeConnectionLost:     "Connection Lost",
	models.AlertTypeNoActiveAgents:     "No Active Agents",
	models.AlertTypeHighCPU:            "High CPU Usage",
	models.AlertTypeHighMemory:         "High Memory Usage",
	models.AlertTypeHealthReport:       "Health Report",
	models.AlertTypeAgentConnected:     "Agent Connected",
	models.AlertTypeAgentDisconnected:  "Agent Disconnected",
	models.AlertTypeReconnecting:       "Reconnecting",
	models.AlertTypeReconnectFailed:    "Reconnection Failed",
	models.AlertTypeConnected:          "Connected",
	models.AlertTypeSystemDegraded:     "System Degraded",
	models.AlertTypeSystemShuttingDown: "System Shutting Down",
}

// FormatMessage renders the display text sent to notification sinks.
func FormatMessage(alert models.Alert) string {
	icon, ok := severityIcons[alert.Severity]
	if !ok {
		icon = severityIcons[models.AlertSeverityInfo]
	}
	title, ok := alertTitles[alert.Type]
	if !ok {
		title = string(alert.Type)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n", icon, title)
	fmt.Fprintf(&b, "%s\n", alert.Message)

	meta := alert.Metadata
	if meta.ProjectName != "" {
		fmt.Fprintf(&b, "• Project: %s\n", meta.ProjectName)
	}
	if meta.Location != "" {
		fmt.Fprintf(&b, "• Location: %s\n", meta.Location)
	}
	if meta.ClientID != nil {
		fmt.Fprintf(&b, "• Agent: %s\n", *meta.ClientID)
	}
	if meta.Component != nil {
		fmt.Fprintf(&b, "• Component: %s\n", *meta.Component)
	}
	if meta.AdditionalInfo != nil && *meta.AdditionalInfo != "" {
		fmt.Fprintf(&b, "• Details: %s\n", *meta.AdditionalInfo)
	}
	fmt.Fprintf(&b, "• Time: %s", alert.Timestamp.UTC().Format(time.RFC3339))

	return b.String()
}
