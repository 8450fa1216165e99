package controllers

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func creditsCacheKey(userID string) string {
	return "credits:user:" + userID
}
