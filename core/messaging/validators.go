package messaging

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/darasa/core"
)

var (
	msgTypeTag  = "msgtype"
	msgTypeText = "invalid message type"

	msgPriorityTag  = "msgpriority"
	msgPriorityText = "invalid priority"

	boxTag  = "inboxbox"
	boxText = "invalid box; must be one of: all, sent, received, unread"
)

// InitValidators registers this package's custom validators and translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(msgTypeTag, msgTypeValidation)
	core.RegisterCustomTranslation(validate, translator, msgTypeTag, msgTypeText)

	_ = validate.RegisterValidation(msgPriorityTag, msgPriorityValidation)
	core.RegisterCustomTranslation(validate, translator, msgPriorityTag, msgPriorityText)

	_ = validate.RegisterValidation(boxTag, boxValidation)
	core.RegisterCustomTranslation(validate, translator, boxTag, boxText)
}

func contains(vals []string, val string) bool {
	for _, v := range vals {
		if v == val {
			return true
		}
	}
	return false
}

func msgTypeValidation(fl validator.FieldLevel) bool {
	return contains(AllTypes, fl.Field().String())
}

func msgPriorityValidation(fl validator.FieldLevel) bool {
	return contains(AllPriorities, fl.Field().String())
}

func boxValidation(fl validator.FieldLevel) bool {
	return contains([]string{BoxAll, BoxSent, BoxReceived, BoxUnread}, fl.Field().String())
}
