package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/Jenks18/kara-sub001/internal/services"
)

// StoreHandler serves the store directory. Reads come from the in-memory
// snapshot, not the database, so they stay cheap for mobile clients that
// poll on app start.
type StoreHandler struct {
	dir *services.Directory
}

// NewStoreHandler creates a new store handler
func NewStoreHandler(dir *services.Directory) *StoreHandler {
	return &StoreHandler{dir: dir}
}

// ListStores returns all known stores
func (h *StoreHandler) ListStores(c *fiber.Ctx) error {
	return Success(c, h.dir.Stores())
}

// GetStore returns a single store by ID
func (h *StoreHandler) GetStore(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return Error(c, fiber.StatusBadRequest, "invalid store ID")
	}

	store := h.dir.StoreByID(id)
	if store == nil {
		return Error(c, fiber.StatusNotFound, "store not found")
	}

	return Success(c, store)
}
