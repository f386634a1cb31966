package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"guildrag/core"
	"guildrag/models"
	"guildrag/services"
	"guildrag/usecases/chat"
)

// APIHandler mirrors the slash-command surface over HTTP so operators and
// dashboards can enqueue syncs and query answers without going through
// Discord.
type APIHandler struct {
	opsService   services.SyncOperationsService
	queueService services.EmbedQueueService
	chatUseCase  *chat.ChatUsecase
}

func NewAPIHandler(
	opsService services.SyncOperationsService,
	queueService services.EmbedQueueService,
	chatUseCase *chat.ChatUsecase,
) *APIHandler {
	return &APIHandler{
		opsService:   opsService,
		queueService: queueService,
		chatUseCase:  chatUseCase,
	}
}

func (h *APIHandler) SetupEndpoints(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/sync", h.handleEnqueueSync).Methods("POST")
	api.HandleFunc("/operations/{id}", h.handleGetOperation).Methods("GET")
	api.HandleFunc("/guilds/{guildID}/embed-backlog", h.handleGetEmbedBacklog).Methods("GET")
	api.HandleFunc("/chat", h.handleChat).Methods("POST")
}

type enqueueSyncRequest struct {
	GuildID     string   `json:"guild_id"`
	Scope       string   `json:"scope"`
	TargetIDs   []string `json:"target_ids,omitempty"`
	RequestedBy string   `json:"requested_by"`
}

func (h *APIHandler) handleEnqueueSync(w http.ResponseWriter, r *http.Request) {
	var req enqueueSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.GuildID == "" {
		writeJSONError(w, http.StatusBadRequest, "guild_id is required")
		return
	}
	if req.Scope == "" {
		req.Scope = string(models.SyncScopeGuild)
	}
	if req.RequestedBy == "" {
		req.RequestedBy = "api"
	}

	op, err := h.opsService.EnqueueSyncOperation(
		r.Context(), req.GuildID, models.SyncScope(req.Scope), req.TargetIDs, req.RequestedBy)
	if err != nil {
		log.Printf("❌ Failed to enqueue sync via API: %v", err)
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, op)
}

func (h *APIHandler) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	maybeOp, err := h.opsService.GetOperationByID(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if maybeOp.IsAbsent() {
		writeJSONError(w, http.StatusNotFound, "operation not found")
		return
	}
	writeJSON(w, http.StatusOK, maybeOp.MustGet())
}

// handleGetEmbedBacklog reports how many windows in the guild still await an
// embedding, across all sync operations.
func (h *APIHandler) handleGetEmbedBacklog(w http.ResponseWriter, r *http.Request) {
	guildID := mux.Vars(r)["guildID"]
	ready, err := h.queueService.CountReadyForGuild(r.Context(), guildID)
	if err != nil {
		log.Printf("❌ Failed to count embed backlog for guild %s: %v", guildID, err)
		writeJSONError(w, http.StatusInternalServerError, "failed to count embed backlog")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"guild_id": guildID,
		"ready":    ready,
	})
}

type chatRequest struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Query     string `json:"query"`
}

func (h *APIHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.GuildID == "" || req.Query == "" {
		writeJSONError(w, http.StatusBadRequest, "guild_id and query are required")
		return
	}
	if req.UserID == "" {
		req.UserID = "api"
	}

	answer, err := h.chatUseCase.Answer(r.Context(), req.GuildID, req.ChannelID, req.UserID, req.Query)
	if err != nil {
		log.Printf("❌ Chat via API failed: %v", err)
		status := http.StatusInternalServerError
		if core.ErrorCode(err) == "" {
			status = http.StatusBadRequest
		}
		writeJSONError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("❌ Failed to write JSON response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
