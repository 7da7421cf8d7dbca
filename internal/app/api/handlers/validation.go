package handlers

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/fatflowers/cashier-receipts/internal/receipt"
)

// RegisterValidations installs the custom binding tags used by request types.
func RegisterValidations() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("receipt_env", func(fl validator.FieldLevel) bool {
		_, err := receipt.ParseEnvironment(fl.Field().String())
		return err == nil
	})
}
