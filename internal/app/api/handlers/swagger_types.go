package handlers

import (
	"github.com/fatflowers/cashier-receipts/internal/app/service/notification"
	"github.com/fatflowers/cashier-receipts/internal/models"
	"github.com/fatflowers/cashier-receipts/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

// RespSubmitReceipt wraps SubmitReceiptResponse in the standard envelope.
type RespSubmitReceipt struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    SubmitReceiptResponse    `json:"data"`
}

type RespEntitlement struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    EntitlementView          `json:"data"`
}

type RespEntitlementHistory struct {
	Code    response.APIResponseCode   `json:"code"`
	Message string                     `json:"message"`
	Data    EntitlementHistoryResponse `json:"data"`
}

type RespLedgerEntry struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    models.LedgerEntry       `json:"data"`
}

type RespNotification struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    notification.Result      `json:"data"`
}
