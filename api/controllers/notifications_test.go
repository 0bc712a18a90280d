package controllers

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/safetransit/internal/notifications"
	"github.com/angelmondragon/safetransit/pkg/enums"
)

func TestNotificationTestDefaultsToTestType(t *testing.T) {
	stack := newTestStack(t)
	d := createDeposit(t, stack)
	logg := testLogger()

	rec := serve(NotificationTest(stack.depositSvc, stack.dispatcher, logg), jsonRequest(t, http.MethodPost, "/api/scheduler/test-notification", map[string]string{
		"deposit_id": d.ID.String(),
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result notifications.SendResult
	decodeEnvelope(t, rec, &result)
	require.NotNil(t, result.Record)
	assert.Equal(t, enums.NotificationTypeTest, result.Record.Type)
	assert.Equal(t, "alice@example.com", result.Record.Recipient)

	rec = serve(NotificationList(stack.dispatcher, logg), jsonRequest(t, http.MethodGet, "/api/scheduler/notifications?deposit_id="+d.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var page notifications.ListResult
	decodeEnvelope(t, rec, &page)
	assert.EqualValues(t, 1, page.Total)

	req := addRouteParam(jsonRequest(t, http.MethodGet, "/api/deposit/"+d.ID.String()+"/notifications", nil), "id", d.ID.String())
	rec = serve(DepositNotifications(stack.dispatcher, logg), req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNotificationTestValidation(t *testing.T) {
	stack := newTestStack(t)
	d := createDeposit(t, stack)
	logg := testLogger()
	handler := NotificationTest(stack.depositSvc, stack.dispatcher, logg)

	rec := serve(handler, jsonRequest(t, http.MethodPost, "/", map[string]string{"deposit_id": d.ID.String(), "type": "weekly"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(handler, jsonRequest(t, http.MethodPost, "/", map[string]string{"deposit_id": uuid.NewString()}))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(NotificationList(stack.dispatcher, logg), jsonRequest(t, http.MethodGet, "/?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
