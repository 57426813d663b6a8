package middleware

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/zapfunnel/zapfunnel/pkg/apperr"
	"github.com/zapfunnel/zapfunnel/ui/rest"
)

// Recovery converts handler panics into JSON error responses. Typed apperr
// values keep their status and code; anything else becomes a 500.
func Recovery() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		defer func() {
			err := recover()
			if err != nil {
				var res rest.ResponseData
				res.Status = 500
				res.Code = "INTERNAL_SERVER_ERROR"
				res.Message = fmt.Sprintf("%v", err)

				logrus.Errorf("Panic recovered in middleware: %v", err)

				if generic, ok := err.(apperr.GenericError); ok {
					res.Status = generic.StatusCode()
					res.Code = generic.ErrCode()
					res.Message = generic.Error()
				}
				if res.Status < 100 {
					// Provider transport errors carry code 0.
					res.Status = 500
				}

				_ = ctx.Status(res.Status).JSON(res)
			}
		}()

		return ctx.Next()
	}
}
