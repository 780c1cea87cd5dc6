package chat

import (
	"go.uber.org/zap"

	"github.com/madlen/chatd/internal/domain"
)

// NoticeLevel is the severity of a user-facing notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a one-shot user-facing notification about a terminal turn
// state.
type Notice struct {
	Level NoticeLevel
	Code  string
	Text  string
}

// Notifier receives user-facing notices. The orchestrator pushes exactly
// one notice per failed or stopped turn.
type Notifier interface {
	Push(notice Notice)
}

// NoticeFor maps an error code to its user-facing notice per the
// taxonomy. Unknown codes get the fallback text as a generic error.
func NoticeFor(code, fallback string) Notice {
	switch code {
	case domain.ErrCodeMissingKey, domain.ErrCodeUnauthorized:
		return Notice{NoticeError, code, "Missing/invalid API key. Set OPENROUTER_API_KEY in your .env file"}
	case domain.ErrCodePayment:
		return Notice{NoticeError, code, "Payment required: no credit for this model/account."}
	case domain.ErrCodeRateLimited, "429":
		return Notice{NoticeWarning, code, "Rate limited. Try again soon or switch model."}
	case domain.ErrCodeModelNotFound, "404":
		return Notice{NoticeError, code, "Model not found/unavailable. Pick another."}
	case domain.ErrCodeUpstream5xx:
		return Notice{NoticeError, code, "Provider issue (5xx). Please retry."}
	case domain.ErrCodeAborted:
		return Notice{NoticeInfo, code, "Generation stopped."}
	case domain.ErrCodeNetwork:
		return Notice{NoticeError, code, "Network error. Check your connection."}
	default:
		if fallback == "" {
			fallback = "LLM error"
		}
		return Notice{NoticeError, code, fallback}
	}
}

// LogNotifier writes notices to the structured log.
type LogNotifier struct {
	Log *zap.Logger
}

func (n *LogNotifier) Push(notice Notice) {
	fields := []zap.Field{zap.String("code", notice.Code)}
	switch notice.Level {
	case NoticeError:
		n.Log.Error(notice.Text, fields...)
	case NoticeWarning:
		n.Log.Warn(notice.Text, fields...)
	default:
		n.Log.Info(notice.Text, fields...)
	}
}
