package logger

// Intention tags what a log line is about, independent of its level. The
// console handler turns it into an icon; file output keeps it as a plain
// "intention" attribute.
type Intention string

const (
	IntentionConnect  Intention = "connect"
	IntentionRPC      Intention = "rpc"
	IntentionDispatch Intention = "dispatch"
	IntentionCron     Intention = "cron"
	IntentionStatus   Intention = "status"
	IntentionSuccess  Intention = "success"
	IntentionConfig   Intention = "config"
	IntentionCancel   Intention = "cancel"
)

func iconFor(i Intention) string {
	switch i {
	case IntentionConnect:
		return "🔌"
	case IntentionRPC:
		return "↔"
	case IntentionDispatch:
		return "📨"
	case IntentionCron:
		return "⏰"
	case IntentionStatus:
		return "ℹ️"
	case IntentionSuccess:
		return "✅"
	case IntentionConfig:
		return "⚙️"
	case IntentionCancel:
		return "🛑"
	default:
		return "➤"
	}
}
