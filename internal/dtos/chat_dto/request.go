package chat_dto

import (
	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type SendMessageRequest struct {
	Content string `json:"content" validate:"required,min=1"`
}

type MarkReadRequest struct {
	UpTo string `json:"up_to" validate:"omitempty,objectID"` // defaults to the room's latest message
}

type GetMessagesRequest struct {
	Limit    int     `json:"limit" validate:"omitempty,min=1,max=100"`
	BeforeID *string `json:"before_id,omitempty" query:"before_id"` // for cursor pagination
}

// LifecycleSignalRequest carries a client runtime signal: app state
// transitions and chat screen visibility changes both fold into
// presence.
type LifecycleSignalRequest struct {
	Signal string `json:"signal" validate:"required,oneof=background foreground hidden visible"`
}

func ObjectIDValidator(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	_, err := bson.ObjectIDFromHex(id)
	return err == nil
}
