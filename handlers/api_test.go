package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"guildrag/models"
	"guildrag/services"
	"guildrag/usecases/chat"
)

func newTestRouter(opsService services.SyncOperationsService, queueService services.EmbedQueueService) *mux.Router {
	router := mux.NewRouter()
	NewAPIHandler(opsService, queueService, nil).SetupEndpoints(router)
	return router
}

func TestHandleEnqueueSync_InvalidJSON(t *testing.T) {
	router := newTestRouter(new(services.MockSyncOperationsService), new(services.MockEmbedQueueService))

	req := httptest.NewRequest("POST", "/api/v1/sync", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEnqueueSync_MissingGuildID(t *testing.T) {
	router := newTestRouter(new(services.MockSyncOperationsService), new(services.MockEmbedQueueService))

	req := httptest.NewRequest("POST", "/api/v1/sync", strings.NewReader(`{"scope":"guild"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "guild_id")
}

func TestHandleEnqueueSync_DefaultsScopeAndRequester(t *testing.T) {
	opsService := new(services.MockSyncOperationsService)
	opsService.On("EnqueueSyncOperation", mock.Anything, "guild_1",
		models.SyncScopeGuild, []string(nil), "api").
		Return(&models.SyncOperation{
			ID:      "op_1",
			GuildID: "guild_1",
			Scope:   models.SyncScopeGuild,
			Status:  models.SyncStatusQueued,
		}, nil)

	router := newTestRouter(opsService, new(services.MockEmbedQueueService))
	req := httptest.NewRequest("POST", "/api/v1/sync", strings.NewReader(`{"guild_id":"guild_1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var op models.SyncOperation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &op))
	assert.Equal(t, "op_1", op.ID)
	opsService.AssertExpectations(t)
}

func TestHandleGetOperation_NotFound(t *testing.T) {
	opsService := new(services.MockSyncOperationsService)
	opsService.On("GetOperationByID", mock.Anything, "op_missing").
		Return(mo.None[*models.SyncOperation](), nil)

	router := newTestRouter(opsService, new(services.MockEmbedQueueService))
	req := httptest.NewRequest("GET", "/api/v1/operations/op_missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetOperation_ReturnsProgress(t *testing.T) {
	opsService := new(services.MockSyncOperationsService)
	opsService.On("GetOperationByID", mock.Anything, "op_1").
		Return(mo.Some(&models.SyncOperation{
			ID:       "op_1",
			GuildID:  "guild_1",
			Status:   models.SyncStatusRunning,
			Progress: models.SyncProgress{Processed: 42, Total: 100, Message: "chunking"},
		}), nil)

	router := newTestRouter(opsService, new(services.MockEmbedQueueService))
	req := httptest.NewRequest("GET", "/api/v1/operations/op_1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var op models.SyncOperation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &op))
	assert.Equal(t, 42, op.Progress.Processed)
	assert.Equal(t, models.SyncStatusRunning, op.Status)
}

func TestHandleGetEmbedBacklog_ReturnsCount(t *testing.T) {
	queueService := new(services.MockEmbedQueueService)
	queueService.On("CountReadyForGuild", mock.Anything, "guild_1").Return(7, nil)

	router := newTestRouter(new(services.MockSyncOperationsService), queueService)
	req := httptest.NewRequest("GET", "/api/v1/guilds/guild_1/embed-backlog", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "guild_1", body["guild_id"])
	assert.Equal(t, float64(7), body["ready"])
	queueService.AssertExpectations(t)
}

func TestHandleGetEmbedBacklog_CountFailure(t *testing.T) {
	queueService := new(services.MockEmbedQueueService)
	queueService.On("CountReadyForGuild", mock.Anything, "guild_1").
		Return(0, assert.AnError)

	router := newTestRouter(new(services.MockSyncOperationsService), queueService)
	req := httptest.NewRequest("GET", "/api/v1/guilds/guild_1/embed-backlog", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleChat_MissingFields(t *testing.T) {
	router := newTestRouter(new(services.MockSyncOperationsService), new(services.MockEmbedQueueService))

	req := httptest.NewRequest("POST", "/api/v1/chat", strings.NewReader(`{"guild_id":"guild_1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFormatAnswer_AppendsCitations(t *testing.T) {
	answer := &chat.Answer{
		Text: "回答です [#1]",
		Citations: []chat.Citation{
			{Label: "[#1] 2025/03/01 18:00", JumpLink: "https://discord.com/channels/g/c/m"},
		},
	}

	formatted := formatAnswer(answer)
	assert.Contains(t, formatted, "回答です")
	assert.Contains(t, formatted, "出典")
	assert.Contains(t, formatted, "https://discord.com/channels/g/c/m")
}

func TestFormatAnswer_NoCitations(t *testing.T) {
	answer := &chat.Answer{Text: "情報がありません"}
	assert.Equal(t, "情報がありません", formatAnswer(answer))
}
