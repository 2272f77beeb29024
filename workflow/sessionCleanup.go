package workflow

import (
	"context"
	"time"

	"github.com/T0MGL/0rdefy-sub003/config"
	"github.com/T0MGL/0rdefy-sub003/models"
	"github.com/T0MGL/0rdefy-sub003/utils"
	"github.com/sirupsen/logrus"
)

type CleanupResult struct {
	BusinessId string `json:"business_id"`
	SessionId  int    `json:"session_id"`
	Code       string `json:"code"`
	Err        error  `json:"-"`
}

// CleanupExpiredSessions force-abandons open sessions idle past the
// SESSION_FORCE_ABANDON_HOURS threshold, across every business. Each
// abandonment releases the session's orders back to confirmed; stock never
// moved for them, so nothing else needs undoing.
func CleanupExpiredSessions(ctx context.Context) ([]CleanupResult, error) {
	logger := config.GetLogger()
	cutoff := time.Now().UTC().Add(-config.SessionForceAbandonAfter())

	type staleRow struct {
		ID         int
		BusinessId string
		Code       string
	}
	var rows []staleRow
	scanCtx := utils.SetSkipTenantScopeInContext(ctx, true)
	db := config.GetDB()
	err := db.WithContext(scanCtx).Model(&models.FulfillmentSession{}).
		Select("id, business_id, code").
		Where("status <> ? AND updated_at < ?", models.SessionStatusCompleted, cutoff).
		Order("business_id, id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	results := make([]CleanupResult, 0, len(rows))
	for _, row := range rows {
		bizCtx := utils.SetBusinessIdInContext(ctx, row.BusinessId)
		if err := AcquireSessionMaintenanceLock(db, row.BusinessId); err != nil {
			results = append(results, CleanupResult{BusinessId: row.BusinessId, SessionId: row.ID, Code: row.Code, Err: err})
			continue
		}
		_, err := models.AbandonSession(bizCtx, row.ID, "auto-abandoned: idle past force-abandon threshold")
		ReleaseSessionMaintenanceLock(db, row.BusinessId)
		if err != nil {
			// The session may have progressed between the scan and the lock.
			config.LogError(logger, "sessionCleanup.go", "CleanupExpiredSessions", "abandon failed", row.ID, err)
			results = append(results, CleanupResult{BusinessId: row.BusinessId, SessionId: row.ID, Code: row.Code, Err: err})
			continue
		}
		logger.WithFields(logrus.Fields{
			"business_id": row.BusinessId,
			"session":     row.Code,
		}).Info("expired fulfillment session abandoned")
		results = append(results, CleanupResult{BusinessId: row.BusinessId, SessionId: row.ID, Code: row.Code})
	}
	return results, nil
}
