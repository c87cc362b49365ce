package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"quiz-delivery-service/internal/domain"
	"quiz-delivery-service/internal/logging"
)

const requestIDHeader = "X-Request-ID"

// requestLogger tags the request context with a request id and logs one line
// per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)

		ctx := logging.With(c.Request.Context(), logrus.Fields{"requestId": id})
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		entry := logging.WithContext(ctx).WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("http: request failed")
			return
		}
		entry.Info("http: request handled")
	}
}

// errorResponder renders the last error a handler attached with c.Error.
func errorResponder() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		status := statusOf(err)
		if status >= http.StatusInternalServerError {
			logging.WithContext(c.Request.Context()).WithError(err).Error("http: unhandled error")
			c.JSON(status, errorBody{Error: "An unexpected error occurred.", Kind: domain.KindOf(err).String()})
			return
		}
		c.JSON(status, errorBody{Error: messageOf(err), Kind: domain.KindOf(err).String()})
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func statusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindState, domain.KindConflict:
		return http.StatusConflict
	case domain.KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func messageOf(err error) string {
	var e *domain.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// bindError turns binding failures into validation errors naming each field.
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.Validationf("invalid request: %v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
	}
	return domain.Validationf("invalid request: %s", strings.Join(msgs, "; "))
}
