package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ole/internal/domain"
)

const headerIdempotencyKey = "Idempotency-Key"

// bodyCaptureWriter дублирует тело ответа в буфер, чтобы сохранить его
// для повторов по тому же idempotency-key.
type bodyCaptureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyCaptureWriter) Write(p []byte) (int, error) {
	w.body.Write(p)
	return w.ResponseWriter.Write(p)
}

func (w *bodyCaptureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// IdempotencyMiddleware защищает мутирующие запросы от повторов. Ключ берётся
// из заголовка Idempotency-Key; отпечаток запроса считается по методу, пути и
// телу, поэтому переиспользование ключа с другим запросом отклоняется.
// Сохранённый ответ воспроизводится для завершённых запросов, незавершённые
// дубликаты получают 409.
func IdempotencyMiddleware(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) gin.HandlerFunc {
	if logger == nil {
		logger = log.NewEntry(log.New())
	}

	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(headerIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			writeBadRequest(c, err)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		requestHash := fingerprintRequest(c.Request.Method, c.Request.URL.Path, body)

		existing, err := repo.CreateProcessing(key, requestHash, time.Now().UTC().Add(ttl))
		switch {
		case err == nil:
			// Первый запрос с этим ключом, пропускаем дальше и сохраняем ответ.
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorResponse{
				Code:    "idempotency_key_reused",
				Message: "idempotency key was already used with a different request",
			})
			return
		case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
			replayIdempotentResponse(c, existing)
			return
		default:
			logger.WithError(err).Error("failed to register idempotency key")
			c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{
				Code:    "internal",
				Message: "idempotency storage unavailable",
			})
			return
		}

		writer := &bodyCaptureWriter{ResponseWriter: c.Writer}
		c.Writer = writer

		c.Next()

		status := writer.Status()
		responseBody := writer.body.Bytes()
		if status < http.StatusBadRequest {
			err = repo.MarkDone(key, responseBody, status)
		} else {
			err = repo.MarkFailed(key, responseBody, status)
		}
		if err != nil {
			logger.WithError(err).WithField("idempotency_key", key).
				Error("failed to persist idempotent response")
		}
	}
}

// replayIdempotentResponse отдаёт сохранённый ответ завершённого запроса.
// Дубликат запроса, который ещё обрабатывается, получает 409.
func replayIdempotentResponse(c *gin.Context, rec domain.IdempotencyRecord) {
	if rec.Status == domain.IdempotencyStatusProcessing {
		c.AbortWithStatusJSON(http.StatusConflict, errorResponse{
			Code:    "request_in_flight",
			Message: "request with this idempotency key is still being processed",
		})
		return
	}

	c.Header("Content-Type", "application/json; charset=utf-8")
	c.String(rec.HTTPStatus, string(rec.ResponseBody))
	c.Abort()
}

func fingerprintRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
