package dto

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/nsxzhou1114/bloodlink-api/internal/model"
)

var registerOnce sync.Once

// RegisterValidations 向gin的校验引擎注册自定义规则
func RegisterValidations() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("bloodgroup", validateBloodGroup)
		}
	})
}

// validateBloodGroup 校验血型取值
func validateBloodGroup(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	for _, g := range model.BloodGroups {
		if g == value {
			return true
		}
	}
	return false
}
