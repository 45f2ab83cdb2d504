package handlers

import (
	"errors"
	"net/http"

	"github.com/Dosada05/pong-arena/middleware"
	"github.com/Dosada05/pong-arena/models"
	"github.com/Dosada05/pong-arena/services"
)

type RoomHandler struct {
	roomService *services.RoomService
}

func NewRoomHandler(rs *services.RoomService) *RoomHandler {
	return &RoomHandler{roomService: rs}
}

type joinRoomInput struct {
	Role     models.RoomRole `json:"role"`
	Password string          `json:"password"`
}

// CreateHandler обрабатывает POST /api/rooms
func (h *RoomHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	currentUserID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required to create a room")
		return
	}

	var input services.CreateRoomInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	room, err := h.roomService.CreateRoom(r.Context(), currentUserID, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"room": room}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ListHandler обрабатывает GET /api/rooms?status=waiting
func (h *RoomHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	var status *models.RoomStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := models.RoomStatus(raw)
		switch s {
		case models.RoomStatusWaiting, models.RoomStatusPlaying, models.RoomStatusFinished:
			status = &s
		default:
			badRequestResponse(w, r, errors.New("invalid status query parameter"))
			return
		}
	}

	rooms, err := h.roomService.ListRooms(r.Context(), status)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"rooms": rooms}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetByIDHandler обрабатывает GET /api/rooms/{roomID}
func (h *RoomHandler) GetByIDHandler(w http.ResponseWriter, r *http.Request) {
	roomID, err := getStringFromURL(r, "roomID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	room, err := h.roomService.GetRoom(r.Context(), roomID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"room": room}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// JoinHandler обрабатывает POST /api/rooms/{roomID}/join
func (h *RoomHandler) JoinHandler(w http.ResponseWriter, r *http.Request) {
	currentUserID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required to join a room")
		return
	}
	roomID, err := getStringFromURL(r, "roomID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input joinRoomInput
	if r.ContentLength != 0 {
		if err := readJSON(w, r, &input); err != nil {
			badRequestResponse(w, r, err)
			return
		}
	}

	room, err := h.roomService.JoinRoom(r.Context(), roomID, currentUserID, input.Role, input.Password)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"room": room}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// LeaveHandler обрабатывает POST /api/rooms/{roomID}/leave
func (h *RoomHandler) LeaveHandler(w http.ResponseWriter, r *http.Request) {
	currentUserID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required to leave a room")
		return
	}
	roomID, err := getStringFromURL(r, "roomID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	room, err := h.roomService.LeaveRoom(r.Context(), roomID, currentUserID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"room": room}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
