package handlers

import (
	"net/http"

	"clubsite/internal/services"
	"clubsite/models"

	"github.com/pocketbase/pocketbase/core"
)

type ShopHandler struct {
	shop *services.ShopService
}

func NewShopHandler(shop *services.ShopService) *ShopHandler {
	return &ShopHandler{shop: shop}
}

type CheckoutReq struct {
	Items []struct {
		ProductID string `json:"product_id" validate:"required"`
		VariantID string `json:"variant_id"`
		Quantity  int    `json:"quantity" validate:"gt=0"`
	} `json:"items" validate:"required,min=1,dive"`
	Contact struct {
		Name    string `json:"name" validate:"required"`
		Email   string `json:"email" validate:"required,email"`
		Phone   string `json:"phone"`
		Address string `json:"address"`
	} `json:"contact"`
	Pickup        bool   `json:"pickup"`
	PaymentMethod string `json:"payment_method"`
}

// Checkout - place a storefront order and open its gateway checkout
func (h *ShopHandler) Checkout(e *core.RequestEvent) error {
	var req CheckoutReq
	if err := bind(e, &req); err != nil {
		return err
	}

	in := services.CheckoutRequest{
		Contact:       models.Contact(req.Contact),
		Pickup:        req.Pickup,
		PaymentMethod: req.PaymentMethod,
		Purchaser:     actor(e),
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, services.CartItem(it))
	}

	res, err := h.shop.PlaceOrder(e.Request.Context(), in)
	if err != nil {
		return apiError("shop.PlaceOrder()", err)
	}
	return e.JSON(http.StatusCreated, res)
}
