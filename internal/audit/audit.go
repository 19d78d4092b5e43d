// Package audit emits structured audit entries for account and moderation
// actions through the context logger.
package audit

import (
	"context"

	"github.com/Tyrowin/lobbychat/internal/logging"
)

const (
	ActionRegister       = "user.register"
	ActionLogin          = "user.login"
	ActionLoginFailed    = "user.login_failed"
	ActionMessageDeleted = "message.delete"
)

const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, username, msg string) {
	l := logging.Ctx(ctx)
	l.Info().
		Str(logging.FieldLogType, logging.LogTypeAudit).
		Str(FieldAction, action).
		Str(logging.FieldUsername, username).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action, username, detail, msg string) {
	l := logging.Ctx(ctx)
	l.Info().
		Str(logging.FieldLogType, logging.LogTypeAudit).
		Str(FieldAction, action).
		Str(logging.FieldUsername, username).
		Str(FieldDetail, detail).
		Msg(msg)
}
