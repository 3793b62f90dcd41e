package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	applogger "MarketSync/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Recover converts handler panics into 500 responses so one bad request
// cannot take down the engine.
func Recover(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			defer func() {
				if r := recover(); r != nil {
					err, ok := r.(error)
					if !ok {
						err = fmt.Errorf("%v", r)
					}
					if l != nil {
						l.Error("handler panic",
							applogger.String("path", c.Path()),
							applogger.Error(err),
							applogger.String("stack", string(debug.Stack())),
						)
					}
					_ = c.JSON(http.StatusInternalServerError, map[string]interface{}{
						"status":  http.StatusInternalServerError,
						"message": "internal server error",
					})
				}
			}()
			return next(c)
		}
	}
}
