package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/ole/internal/domain"
)

// createOrderRequest — приём заказа от checkout-коллаборатора. ID опционален:
// при его отсутствии движок присваивает собственный.
type createOrderRequest struct {
	ID            string `json:"id"`
	CustomerID    string `json:"customer_id" binding:"required"`
	PaymentMethod string `json:"payment_method" binding:"required"`
	Currency      string `json:"currency" binding:"required"`
	AmountMinor   int64  `json:"amount_minor"`
}

type statusChangeRequest struct {
	Status string `json:"status" binding:"required"`
	Notes  string `json:"notes"`
}

type paymentStatusChangeRequest struct {
	Status string `json:"status" binding:"required"`
	Notes  string `json:"notes"`
}

type cancellationRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type confirmDeficitRequest struct {
	ChargeRequestID string `json:"charge_request_id" binding:"required"`
	Status          string `json:"status" binding:"required"`
}

type orderResponse struct {
	ID            string    `json:"id"`
	CustomerID    string    `json:"customer_id"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	PaymentMethod string    `json:"payment_method"`
	Currency      string    `json:"currency"`
	AmountMinor   int64     `json:"amount_minor"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toOrderResponse(order domain.Order) orderResponse {
	return orderResponse{
		ID:            order.ID,
		CustomerID:    order.CustomerID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		PaymentMethod: string(order.PaymentMethod),
		Currency:      order.Currency,
		AmountMinor:   order.AmountMinor,
		Version:       order.Version,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}

type historyRecordResponse struct {
	Seq       int64     `json:"seq"`
	Dimension string    `json:"dimension"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	ActorRole string    `json:"actor_role"`
	ActorID   string    `json:"actor_id,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Occurred  time.Time `json:"occurred"`
}

func toHistoryResponse(records []domain.StatusChangeRecord) []historyRecordResponse {
	result := make([]historyRecordResponse, 0, len(records))
	for _, rec := range records {
		result = append(result, historyRecordResponse{
			Seq:       rec.Seq,
			Dimension: string(rec.Dimension),
			From:      rec.From,
			To:        rec.To,
			ActorRole: string(rec.ActorRole),
			ActorID:   rec.ActorID,
			Notes:     rec.Notes,
			Occurred:  rec.Occurred,
		})
	}
	return result
}

type intentResponse struct {
	ID                       string     `json:"id"`
	OrderID                  string     `json:"order_id"`
	Reason                   string     `json:"reason"`
	State                    string     `json:"state"`
	RefundMinor              int64      `json:"refund_minor"`
	DeficitMinor             int64      `json:"deficit_minor"`
	ShippingFeeDeductedMinor int64      `json:"shipping_fee_deducted_minor"`
	ChargeRequestID          string     `json:"charge_request_id,omitempty"`
	ExpiresAt                *time.Time `json:"expires_at,omitempty"`
}

func toIntentResponse(intent domain.CancellationIntent) intentResponse {
	resp := intentResponse{
		ID:                       intent.ID,
		OrderID:                  intent.OrderID,
		Reason:                   string(intent.Reason),
		State:                    string(intent.State),
		RefundMinor:              intent.Quote.RefundMinor,
		DeficitMinor:             intent.Quote.DeficitMinor,
		ShippingFeeDeductedMinor: intent.Quote.ShippingFeeDeductedMinor,
		ChargeRequestID:          intent.ChargeRequestID,
	}
	if !intent.ExpiresAt.IsZero() {
		expires := intent.ExpiresAt
		resp.ExpiresAt = &expires
	}
	return resp
}

type cancellationResponse struct {
	Order  orderResponse  `json:"order"`
	Intent intentResponse `json:"intent"`
}

type visibleStatusesResponse struct {
	Role     string   `json:"role"`
	Statuses []string `json:"statuses"`
}
