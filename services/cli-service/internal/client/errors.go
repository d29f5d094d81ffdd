package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"

	pkgerrors "WorkshopPlatform/pkg/errors"
)

// ErrUnreachable сервер недоступен: сетевая ошибка или таймаут
var ErrUnreachable = errors.New("servidor no disponible")

type unreachableError struct {
	cause error
}

func (e *unreachableError) Error() string {
	return ErrUnreachable.Error() + ": " + e.cause.Error()
}

func (e *unreachableError) Unwrap() []error {
	return []error{ErrUnreachable, e.cause}
}

// classifyTransport отделяет сетевые сбои от отмены вызывающим
func classifyTransport(ctx context.Context, err error) error {
	if ctx.Err() == context.Canceled {
		return err
	}
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &unreachableError{cause: err}
	}
	return err
}

// IsUnreachable ошибка связи с сервером, включая таймаут
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// IsRejected сервер отказал в учетных данных сессии (401 или 403)
func IsRejected(err error) bool {
	var e *pkgerrors.Error
	if !errors.As(err, &e) {
		return false
	}
	status := e.HTTPStatus()
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// needsRefresh ответ, после которого имеет смысл одно обновление и повтор
func needsRefresh(err error) bool {
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.ErrUnauthorized, pkgerrors.ErrInvalidSession, pkgerrors.ErrSessionExpired:
		return true
	}
	return false
}

// decodeError восстанавливает ошибку сервера из тела ответа
func decodeError(resp *http.Response) error {
	var body pkgerrors.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Error.Code == "" {
		body.Error.Code = codeForStatus(resp.StatusCode)
		body.Error.Message = http.StatusText(resp.StatusCode)
	}

	e := pkgerrors.New(body.Error.Code, body.Error.Message)
	if body.Error.RequestID != "" {
		e = e.WithDetails("request_id=" + body.Error.RequestID)
	}
	return e
}

func codeForStatus(status int) pkgerrors.ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return pkgerrors.ErrValidation
	case http.StatusUnauthorized:
		return pkgerrors.ErrUnauthorized
	case http.StatusForbidden:
		return pkgerrors.ErrForbidden
	case http.StatusNotFound:
		return pkgerrors.ErrNotFound
	case http.StatusTooManyRequests:
		return pkgerrors.ErrTooManyRequests
	case http.StatusServiceUnavailable:
		return pkgerrors.ErrTransientStore
	default:
		return pkgerrors.ErrInternal
	}
}
