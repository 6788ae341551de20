package monitor

// Event topics published by the monitor.
const (
	TopicHealthUpdated = "monitor.health.updated"
	TopicAlertRaised   = "monitor.alert.raised"
)
