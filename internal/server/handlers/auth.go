package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/iudanet/scorekeeper/internal/models"
	"github.com/iudanet/scorekeeper/internal/server/jwt"
	"github.com/iudanet/scorekeeper/internal/server/storage"
	"github.com/iudanet/scorekeeper/internal/validation"
	"github.com/iudanet/scorekeeper/pkg/api"
)

const maxEnrollBody = 4 << 10

// EnrollHandler обрабатывает регистрацию устройств
type EnrollHandler struct {
	logger     *slog.Logger
	devices    storage.DeviceStorage
	tokens     *jwt.Service
	validate   *validator.Validate
	enrollCode string
	bcryptCost int
}

// NewEnrollHandler создает handler регистрации устройств.
// enrollCode требуется для привилегированных ролей; пустой код запрещает их регистрацию.
func NewEnrollHandler(logger *slog.Logger, devices storage.DeviceStorage, tokens *jwt.Service, enrollCode string) *EnrollHandler {
	return &EnrollHandler{
		logger:     logger,
		devices:    devices,
		tokens:     tokens,
		validate:   validator.New(),
		enrollCode: enrollCode,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// Enroll обрабатывает POST /api/v1/devices/enroll
// Регистрирует устройство или повторно выдает токен уже зарегистрированному
func (h *EnrollHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.EnrollRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEnrollBody)).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode enroll request", slog.Any("error", err))
		sendError(h.logger, w, codeInvalidRequest, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		sendError(h.logger, w, codeInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidateDeviceName(req.Name); err != nil {
		sendError(h.logger, w, codeInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}

	role := models.Role(req.Role)
	if privileged(role) && !h.codeMatches(req.EnrollCode) {
		h.logger.WarnContext(ctx, "privileged enrollment denied",
			slog.String("device_id", req.DeviceID),
			slog.String("role", req.Role))
		sendError(h.logger, w, codeEnrollCode, "enroll code required for role "+req.Role, http.StatusForbidden)
		return
	}

	existing, err := h.devices.GetDevice(ctx, req.DeviceID)
	switch {
	case err == nil:
		// повторная регистрация: тот же секрет и та же роль
		if bcrypt.CompareHashAndPassword([]byte(existing.SecretHash), []byte(req.Secret)) != nil || existing.Role != role {
			h.logger.WarnContext(ctx, "device re-enrollment denied", slog.String("device_id", req.DeviceID))
			sendError(h.logger, w, codeDeviceExists, "device already enrolled", http.StatusConflict)
			return
		}
		h.issueToken(w, r, existing, http.StatusOK)
		return
	case !errors.Is(err, storage.ErrDeviceNotFound):
		h.logger.ErrorContext(ctx, "failed to get device", slog.Any("error", err))
		sendError(h.logger, w, codeInternal, "internal server error", http.StatusInternalServerError)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Secret), h.bcryptCost)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to hash device secret", slog.Any("error", err))
		sendError(h.logger, w, codeInternal, "internal server error", http.StatusInternalServerError)
		return
	}

	device := &models.Device{
		ID:         req.DeviceID,
		Name:       req.Name,
		Role:       role,
		SecretHash: string(hash),
		CreatedAt:  time.Now().UTC(),
	}

	if err := h.devices.CreateDevice(ctx, device); err != nil {
		if errors.Is(err, storage.ErrDeviceAlreadyExists) {
			sendError(h.logger, w, codeDeviceExists, "device name already taken", http.StatusConflict)
			return
		}
		h.logger.ErrorContext(ctx, "failed to create device", slog.Any("error", err))
		sendError(h.logger, w, codeInternal, "internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.InfoContext(ctx, "device enrolled",
		slog.String("device_id", device.ID),
		slog.String("name", device.Name),
		slog.String("role", string(device.Role)))

	h.issueToken(w, r, device, http.StatusCreated)
}

func (h *EnrollHandler) issueToken(w http.ResponseWriter, r *http.Request, device *models.Device, status int) {
	token, expiresAt, err := h.tokens.Generate(device.ID, device.Role)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to generate token", slog.Any("error", err))
		sendError(h.logger, w, codeInternal, "internal server error", http.StatusInternalServerError)
		return
	}

	sendJSON(h.logger, w, api.EnrollResponse{
		DeviceID:  device.ID,
		Role:      string(device.Role),
		Token:     token,
		ExpiresAt: expiresAt,
	}, status)
}

func (h *EnrollHandler) codeMatches(code string) bool {
	if h.enrollCode == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(code), []byte(h.enrollCode)) == 1
}

// privileged роли, которые перекрывают правки остальных
func privileged(role models.Role) bool {
	return role == models.RoleOfficial || role == models.RoleSystem
}
