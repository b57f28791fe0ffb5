package service

import (
	"context"

	auditdomain "github.com/smallbiznis/subhub/internal/audit/domain"
	"go.uber.org/zap"
)

// Record writes an audit entry for target and only logs a failure. Business
// operations never fail because their audit trail could not be written.
func Record(ctx context.Context, svc auditdomain.Service, log *zap.Logger, action, targetType, targetID string, metadata map[string]any) {
	if svc == nil {
		return
	}
	id := targetID
	if err := svc.AuditLog(ctx, "", nil, action, targetType, &id, metadata); err != nil && log != nil {
		log.Warn("audit log dropped",
			zap.String("action", action),
			zap.String("target_id", targetID),
			zap.Error(err),
		)
	}
}
