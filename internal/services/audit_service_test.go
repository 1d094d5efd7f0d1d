package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/passgate/internal/database/testutil"
	"github.com/charlesng35/passgate/internal/models"
)

func TestAuditServiceLogAndList(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	ctx := context.Background()
	userID := "5c1f7a52-8b44-4c55-9b8e-9f7c1b0d2a11"
	require.NoError(t, svc.Log(ctx, AuditEntry{
		UserID:    &userID,
		Address:   " Auditor@Example.com ",
		Action:    "auth.login",
		Result:    AuditSuccess,
		IPAddress: "10.0.0.1",
		Metadata:  map[string]any{"method": "EMAIL"},
	}))
	require.NoError(t, svc.Log(ctx, AuditEntry{
		Address: "other@example.com",
		Action:  "auth.login",
		Result:  AuditFailure,
	}))

	logs, total, err := svc.List(ctx, AuditListOptions{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, logs, 2)

	logs, total, err = svc.List(ctx, AuditListOptions{Filters: AuditFilters{Address: "AUDITOR@example.com"}})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "auditor@example.com", logs[0].Address)
	require.NotNil(t, logs[0].UserID)
	require.Equal(t, userID, *logs[0].UserID)

	var metadata map[string]any
	require.NoError(t, json.Unmarshal(logs[0].Metadata, &metadata))
	require.Equal(t, "EMAIL", metadata["method"])

	_, total, err = svc.List(ctx, AuditListOptions{Filters: AuditFilters{Result: AuditFailure}})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
}

func TestAuditServiceRejectsIncompleteEntries(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	require.Error(t, svc.Log(context.Background(), AuditEntry{Result: AuditSuccess}))
	require.Error(t, svc.Log(context.Background(), AuditEntry{Action: "auth.login"}))

	_, err = NewAuditService(nil)
	require.Error(t, err)
}

func TestAuditServiceCleanupOlderThan(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.AuditLog{
		Action:    "old.action",
		Result:    AuditSuccess,
		CreatedAt: time.Now().AddDate(0, 0, -10),
	}).Error)
	require.NoError(t, db.Create(&models.AuditLog{
		Action: "fresh.action",
		Result: AuditSuccess,
	}).Error)

	rows, err := svc.CleanupOlderThan(context.Background(), 5)
	require.NoError(t, err)
	require.EqualValues(t, 1, rows)

	_, err = svc.CleanupOlderThan(context.Background(), 0)
	require.Error(t, err)
}
