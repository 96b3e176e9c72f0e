// Package notify carries risk alerts out of band. The interface is
// intentionally small so the RMS can depend on it without importing
// concrete implementations.
package notify

// TextNotifier delivers a plain text notification.
type TextNotifier interface {
	SendText(text string) error
}

// Noop discards notifications; used when no channel is configured.
type Noop struct{}

func (Noop) SendText(string) error { return nil }
