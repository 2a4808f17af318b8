package handlers

import (
	"net/http"

	"clubsite/internal/services"
	"clubsite/internal/status"

	"github.com/pocketbase/pocketbase/core"
)

type ScannerHandler struct {
	scanner *services.Scanner
}

func NewScannerHandler(scanner *services.Scanner) *ScannerHandler {
	return &ScannerHandler{scanner: scanner}
}

type ScanReq struct {
	Codigo    string `json:"codigo"`
	EventoID  string `json:"eventoId" validate:"required"`
	Ubicacion string `json:"ubicacion"`
}

// Validate - door check of a presented code. An unknown code is a normal
// negative result, not an error.
func (h *ScannerHandler) Validate(e *core.RequestEvent) error {
	who := actor(e)
	if who == nil {
		return apiError("scanner.Validate()", status.ErrUnauthorized)
	}
	if !who.CanScan() {
		return apiError("scanner.Validate()", status.ErrForbidden)
	}

	var req ScanReq
	if err := bind(e, &req); err != nil {
		return err
	}

	res, err := h.scanner.Validate(e.Request.Context(), services.ScanRequest{
		Code:     req.Codigo,
		EventID:  req.EventoID,
		Location: req.Ubicacion,
	}, who)
	if err != nil {
		return apiError("scanner.Validate()", err)
	}
	return e.JSON(http.StatusOK, res)
}
