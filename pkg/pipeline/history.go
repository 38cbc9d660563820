package pipeline

// History applies the single legal post-append mutation to a
// ConversationLog: truncating the last assistant message to what the user
// actually heard before a barge-in.
type History struct {
	log *ConversationLog
}

// NewHistory binds a History manager to log.
func NewHistory(log *ConversationLog) *History {
	return &History{log: log}
}

// Truncate scans the log backwards to the last assistant message with
// non-empty content and, if playedPrefix is shorter than its content,
// overwrites it with playedPrefix + "... [interrupted]". This is the sole
// legal post-append mutation of an assistant message.
func (h *History) Truncate(playedPrefix string) {
	messages := h.log.Snapshot()
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != RoleAssistant || messages[i].Content == "" {
			continue
		}
		if len(playedPrefix) < len(messages[i].Content) {
			h.log.rewriteLastAssistant(playedPrefix + "... [interrupted]")
		}
		return
	}
}
