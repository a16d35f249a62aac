package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"review-hub/internal/domain"
	httpinfra "review-hub/internal/infra/http"
	"review-hub/internal/usecase/scheduling"
)

// PostService — операции над отложенными постами, доступные через API.
type PostService interface {
	Submit(ctx context.Context, sub domain.Submission) (scheduling.SubmitResult, error)
	ListUpcoming(ctx context.Context, userID string) ([]domain.ScheduledPost, error)
	Get(ctx context.Context, userID, postID string) (domain.ScheduledPost, error)
	Cancel(ctx context.Context, userID, postID string) (domain.ScheduledPost, error)
	AttachCredentials(ctx context.Context, userID, postID string, tokens domain.TokenDetails) (scheduling.SubmitResult, error)
}

var _ PostService = (*scheduling.Service)(nil)

// Handler обслуживает /api/v1 маршруты отложенных постов.
type Handler struct {
	svc PostService
	log zerolog.Logger
}

// NewHandler создаёт обработчик.
func NewHandler(svc PostService, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, log: logger}
}

// Register монтирует маршруты. Аутентификацию подключает вызывающая сторона.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/v1/schedule", h.schedule)
	r.Get("/api/v1/scheduled-posts", h.list)
	r.Get("/api/v1/scheduled-posts/{id}", h.get)
	r.Post("/api/v1/scheduled-posts/{id}/cancel", h.cancel)
	r.Put("/api/v1/scheduled-posts/{id}/credentials", h.attachCredentials)
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data"`
}

type scheduleRequest struct {
	Content      string               `json:"content"`
	AccountID    string               `json:"accountId"`
	LocationID   string               `json:"locationId"`
	BusinessName string               `json:"businessName"`
	IsScheduled  bool                 `json:"isScheduled"`
	ScheduledFor string               `json:"scheduledFor"`
	Timezone     string               `json:"timezone"`
	IsRecurring  bool                 `json:"isRecurring"`
	RepeatType   string               `json:"repeatType"`
	RepeatDays   []string             `json:"repeatDays"`
	TokenDetails *domain.TokenDetails `json:"tokenDetails"`
}

func (req scheduleRequest) toSubmission(userID string) (domain.Submission, error) {
	sub := domain.Submission{
		Content:      req.Content,
		AccountID:    req.AccountID,
		LocationID:   req.LocationID,
		BusinessName: req.BusinessName,
		IsScheduled:  req.IsScheduled,
		IsRecurring:  req.IsRecurring,
		RepeatType:   domain.RepeatType(req.RepeatType),
		RepeatDays:   req.RepeatDays,
		CreatedBy:    userID,
		TokenDetails: req.TokenDetails,
	}
	if req.IsScheduled && req.ScheduledFor != "" {
		at, err := domain.ParseScheduledFor(req.ScheduledFor, req.Timezone)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidTimezone) {
				return domain.Submission{}, err
			}
			return domain.Submission{}, fmt.Errorf("%w: scheduledFor: %v", domain.ErrValidation, err)
		}
		sub.ScheduledFor = &at
	}
	return sub, nil
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpinfra.UserID(r.Context())
	if !ok {
		httpinfra.WriteError(w, http.StatusUnauthorized, errors.New("unauthorized"))
		return
	}
	defer r.Body.Close()
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	sub, err := req.toSubmission(userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	res, err := h.svc.Submit(r.Context(), sub)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	message := "Post created successfully"
	if res.Post.IsScheduled {
		message = "Post scheduled successfully"
	}
	httpinfra.WriteJSON(w, http.StatusCreated, envelope{Success: true, Message: message, Data: res.Post})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpinfra.UserID(r.Context())
	if !ok {
		httpinfra.WriteError(w, http.StatusUnauthorized, errors.New("unauthorized"))
		return
	}
	posts, err := h.svc.ListUpcoming(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if posts == nil {
		posts = []domain.ScheduledPost{}
	}
	httpinfra.WriteJSON(w, http.StatusOK, envelope{Success: true, Data: posts})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpinfra.UserID(r.Context())
	if !ok {
		httpinfra.WriteError(w, http.StatusUnauthorized, errors.New("unauthorized"))
		return
	}
	post, err := h.svc.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, envelope{Success: true, Data: post})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpinfra.UserID(r.Context())
	if !ok {
		httpinfra.WriteError(w, http.StatusUnauthorized, errors.New("unauthorized"))
		return
	}
	post, err := h.svc.Cancel(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, envelope{Success: true, Message: "Post cancelled", Data: post})
}

func (h *Handler) attachCredentials(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpinfra.UserID(r.Context())
	if !ok {
		httpinfra.WriteError(w, http.StatusUnauthorized, errors.New("unauthorized"))
		return
	}
	defer r.Body.Close()
	var tokens domain.TokenDetails
	if err := json.NewDecoder(r.Body).Decode(&tokens); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	res, err := h.svc.AttachCredentials(r.Context(), userID, chi.URLParam(r, "id"), tokens)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, envelope{Success: true, Message: "Credentials saved", Data: res.Post})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		httpinfra.WriteError(w, http.StatusBadRequest, domain.ErrValidation, domain.ValidationMessages(err)...)
	case errors.Is(err, domain.ErrInvalidTimezone):
		httpinfra.WriteError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrPostNotFound):
		httpinfra.WriteError(w, http.StatusNotFound, domain.ErrPostNotFound)
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrStatusConflict):
		httpinfra.WriteError(w, http.StatusConflict, err)
	default:
		h.log.Error().Err(err).Str("request_id", httpinfra.RequestID(r)).Str("path", r.URL.Path).Msg("api: ошибка обработки запроса")
		httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("internal server error"))
	}
}
