package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/tendo/internal/apperrors"
	"github.com/example/tendo/internal/middleware"
	"github.com/example/tendo/internal/models"
	"github.com/example/tendo/internal/validator"
)

// ProfileHandler manages the caller's own account.
type ProfileHandler struct {
	db       *gorm.DB
	validate *validator.Validator
}

// NewProfileHandler constructs ProfileHandler.
func NewProfileHandler(db *gorm.DB, validate *validator.Validator) *ProfileHandler {
	return &ProfileHandler{db: db, validate: validate}
}

// GetProfile returns authenticated user profile.
func (h *ProfileHandler) GetProfile(c *fiber.Ctx) error {
	user, err := h.currentUser(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": userResponse(*user)})
}

type updateProfileRequest struct {
	FirstName   string `json:"first_name" validate:"max=100"`
	LastName    string `json:"last_name" validate:"max=100"`
	DisplayName string `json:"display_name" validate:"max=200"`
}

// UpdateProfile updates user profile fields. Empty fields are left unchanged.
func (h *ProfileHandler) UpdateProfile(c *fiber.Ctx) error {
	user, err := h.currentUser(c)
	if err != nil {
		return err
	}

	var req updateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.BadRequest("invalid request body")
	}
	if err := h.validate.Validate(&req); err != nil {
		return err
	}

	updates := map[string]any{}
	if req.FirstName != "" {
		updates["first_name"] = req.FirstName
	}
	if req.LastName != "" {
		updates["last_name"] = req.LastName
	}
	if req.DisplayName != "" {
		updates["display_name"] = req.DisplayName
	}
	if len(updates) == 0 {
		return apperrors.BadRequest("no fields to update")
	}

	if err := h.db.WithContext(c.UserContext()).Model(user).Updates(updates).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": userResponse(*user)})
}

func (h *ProfileHandler) currentUser(c *fiber.Ctx) (*models.User, error) {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return nil, apperrors.Unauthorized("unauthorized")
	}

	var user models.User
	if err := h.db.WithContext(c.UserContext()).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("user not found")
		}
		return nil, err
	}
	return &user, nil
}
