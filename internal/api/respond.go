package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tessfa-ye/callcenter-livechat/internal/chat"
	"github.com/tessfa-ye/callcenter-livechat/internal/types"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// respondError maps a domain error onto an HTTP status with the taxonomy
// code in the body
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var authErr *types.AuthenticationError
	var transErr *types.InvalidTransitionError
	var sigErr *types.SignalingError

	switch {
	case errors.As(err, &authErr):
		status = http.StatusUnauthorized
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrNotMessageOwner):
		status = http.StatusForbidden
	case errors.Is(err, chat.ErrEmptyBody),
		errors.Is(err, chat.ErrBodyTooLarge),
		errors.Is(err, chat.ErrSelfMessage):
		status = http.StatusBadRequest
	case errors.As(err, &transErr):
		status = http.StatusConflict
	case errors.As(err, &sigErr):
		status = http.StatusBadGateway
	}

	respondJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  types.ErrorCode(err),
	})
}
