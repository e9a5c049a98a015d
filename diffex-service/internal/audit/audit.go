package audit

import (
	"context"

	"github.com/weiawesome/diffex/diffex-service/internal/domain"
	"github.com/weiawesome/diffex/pkg/log"
)

// Audit actions for diffex-service.
const (
	ActionClearAll       = "cache.clear"
	ActionClearResultSet = "cache.clear_result_set"
	ActionClearTopHits   = "cache.clear_top_hits"
	ActionToggle         = "cache.toggle"
)

// Where an audited action came from.
const (
	SourceAPI   = "api"
	SourceEvent = "event"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldSource = "source"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, source, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(FieldSource, source).
		Msg(msg)
}

// LogResultSet emits an audit log for an action on one result-set.
func LogResultSet(ctx context.Context, action, source string, rs domain.ResultSetID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(FieldSource, source).
		Int64(log.FieldResultSetID, int64(rs)).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action, source, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(FieldSource, source).
		Str(FieldDetail, detail).
		Msg(msg)
}
