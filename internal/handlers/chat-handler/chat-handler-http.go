package chat_handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/xenn00/chat-presence/internal/dtos/chat_dto"
	app_error "github.com/xenn00/chat-presence/internal/errors"
	"github.com/xenn00/chat-presence/internal/handlers"
	"github.com/xenn00/chat-presence/internal/middleware"
	chat_service "github.com/xenn00/chat-presence/internal/use-case/chat-case"
	"github.com/xenn00/chat-presence/state"
)

type ChatHandler struct {
	State    *state.AppState
	Validate *validator.Validate
	Service  chat_service.ChatServiceContract
}

func NewChatHandler(state *state.AppState, service chat_service.ChatServiceContract) *ChatHandler {
	validate := validator.New()
	validate.RegisterValidation("objectID", chat_dto.ObjectIDValidator)
	return &ChatHandler{
		State:    state,
		Validate: validate,
		Service:  service,
	}
}

func (h *ChatHandler) OpenRoom(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	roomID := chi.URLParam(r, "roomId")

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return app_error.NewAppError(http.StatusUnauthorized, "user id is not found in context", "context")
	}

	resp, err := h.Service.OpenRoom(r.Context(), roomID, userID)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(handlers.CreateResponse("room opened", *resp, requestID(r)))
	return nil
}

func (h *ChatHandler) CloseRoom(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	roomID := chi.URLParam(r, "roomId")

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return app_error.NewAppError(http.StatusUnauthorized, "user id is not found in context", "context")
	}

	resp, err := h.Service.CloseRoom(r.Context(), roomID, userID)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(handlers.CreateResponse("room closed", *resp, requestID(r)))
	return nil
}

func (h *ChatHandler) SignalLifecycle(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	var req chat_dto.LifecycleSignalRequest
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return app_error.NewAppError(http.StatusBadRequest, "Invalid JSON", "body")
	}

	if err := h.Validate.Struct(req); err != nil {
		return app_error.NewAppError(http.StatusBadRequest, fmt.Sprintf("Invalid fields: %v", err), "validation")
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return app_error.NewAppError(http.StatusUnauthorized, "user id is not found in context", "context")
	}

	if err := h.Service.SignalLifecycle(r.Context(), userID, req); err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(handlers.CreateResponse("lifecycle signal applied", req.Signal, requestID(r)))
	return nil
}

func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	var req chat_dto.MarkReadRequest
	defer r.Body.Close()

	roomID := chi.URLParam(r, "roomId")

	// upTo may also arrive as a query param for clients without a body
	req.UpTo = r.URL.Query().Get("up_to")
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return app_error.NewAppError(http.StatusBadRequest, "Invalid JSON", "body")
		}
	}

	if err := h.Validate.Struct(req); err != nil {
		return app_error.NewAppError(http.StatusBadRequest, fmt.Sprintf("Invalid fields: %v", err), "validation")
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return app_error.NewAppError(http.StatusUnauthorized, "user id is not found in context", "context")
	}

	resp, err := h.Service.MarkRead(r.Context(), roomID, userID, req)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(handlers.CreateResponse("messages marked read", *resp, requestID(r)))
	return nil
}

func (h *ChatHandler) GetUnreadCount(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	roomID := chi.URLParam(r, "roomId")

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return app_error.NewAppError(http.StatusUnauthorized, "user id is not found in context", "context")
	}

	resp, err := h.Service.GetUnreadCount(r.Context(), roomID, userID)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(handlers.CreateResponse("unread count fetched", *resp, requestID(r)))
	return nil
}

func (h *ChatHandler) ListRooms(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return app_error.NewAppError(http.StatusUnauthorized, "user id is not found in context", "context")
	}

	resp, err := h.Service.ListRoomsSortedByActivity(r.Context(), userID)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(handlers.CreateResponse("rooms fetched", resp, requestID(r)))
	return nil
}

func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	roomID := chi.URLParam(r, "roomId")

	var req chat_dto.GetMessagesRequest
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, convErr := strconv.Atoi(v)
		if convErr != nil {
			return app_error.NewAppError(http.StatusBadRequest, "limit must be a number", "limit")
		}
		req.Limit = limit
	}
	if v := r.URL.Query().Get("before_id"); v != "" {
		req.BeforeID = &v
	}

	if err := h.Validate.Struct(req); err != nil {
		return app_error.NewAppError(http.StatusBadRequest, fmt.Sprintf("Invalid fields: %v", err), "validation")
	}

	resp, err := h.Service.GetMessages(r.Context(), roomID, req)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(handlers.CreateResponse("messages fetch successfully", resp, requestID(r)))
	return nil
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	var req chat_dto.SendMessageRequest
	defer r.Body.Close()

	roomID := chi.URLParam(r, "roomId")

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return app_error.NewAppError(http.StatusBadRequest, "Invalid JSON", "body")
	}

	if err := h.Validate.Struct(req); err != nil {
		return app_error.NewAppError(http.StatusBadRequest, fmt.Sprintf("Invalid fields: %v", err), "validation")
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return app_error.NewAppError(http.StatusUnauthorized, "user id is not found in context", "context")
	}

	resp, err := h.Service.SendMessage(r.Context(), roomID, userID, req)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(handlers.CreateResponse("message sent successfully", *resp, requestID(r)))
	return nil
}

func (h *ChatHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	roomID := chi.URLParam(r, "roomId")
	messageID := chi.URLParam(r, "messageId")

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return app_error.NewAppError(http.StatusUnauthorized, "user id is not found in context", "context")
	}

	if err := h.Service.DeleteMessage(r.Context(), roomID, messageID, userID); err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(handlers.CreateResponse("message deleted", messageID, requestID(r)))
	return nil
}

func requestID(r *http.Request) string {
	reqID, ok := r.Context().Value(middleware.RequestIdKey).(string)
	if !ok {
		return "unknown"
	}
	return reqID
}
