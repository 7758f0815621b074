package logger

// Intention is the semantic intent of a log line, orthogonal to its level.
// Console output renders it as an icon, files keep it as an attribute.
type Intention string

const (
	IntentionNarration  Intention = "narration"
	IntentionDirective  Intention = "directive"
	IntentionExtraction Intention = "extraction"
	IntentionCondense   Intention = "condense"
	IntentionStatistics Intention = "statistics"
	IntentionStatus     Intention = "status"
	IntentionOutput     Intention = "output"
	IntentionWarning    Intention = "warning"
	IntentionError      Intention = "error"
	IntentionSuccess    Intention = "success"
	IntentionDebug      Intention = "debug"
	IntentionCancel     Intention = "cancel"
	IntentionConfig     Intention = "config"
)

func iconFor(i Intention) string {
	switch i {
	case IntentionNarration:
		return "📜"
	case IntentionDirective:
		return "🎲"
	case IntentionExtraction:
		return "🧮"
	case IntentionCondense:
		return "🗜️"
	case IntentionStatistics:
		return "📊"
	case IntentionStatus:
		return "ℹ️"
	case IntentionOutput:
		return "↳"
	case IntentionSuccess:
		return "✅"
	case IntentionDebug:
		return "🛠️"
	case IntentionCancel:
		return "🛑"
	case IntentionConfig:
		return "⚙️"
	default:
		return "➤"
	}
}
