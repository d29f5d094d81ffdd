package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"WorkshopPlatform/pkg/logger"
)

// ErrorDomain домен ошибок в gRPC ErrorInfo
const ErrorDomain = "auth.workshop"

// Error представляет кастомную ошибку с дополнительной информацией
type Error struct {
	Code    ErrorCode       `json:"code"`
	Message string          `json:"message"`
	Details string          `json:"details,omitempty"`
	Cause   error           `json:"-"`
	Context context.Context `json:"-"`
}

// ErrorCode представляет код ошибки
type ErrorCode string

// Определение кодов ошибок
const (
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrValidation   ErrorCode = "VALIDATION_ERROR"
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrForbidden    ErrorCode = "FORBIDDEN"
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
	ErrConflict     ErrorCode = "CONFLICT"

	ErrInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrAccountLocked      ErrorCode = "ACCOUNT_LOCKED"
	ErrAccountInactive    ErrorCode = "ACCOUNT_INACTIVE"
	ErrInvalidSession     ErrorCode = "INVALID_SESSION"
	ErrSessionExpired     ErrorCode = "SESSION_EXPIRED"
	ErrTransientStore     ErrorCode = "TRANSIENT_STORE_ERROR"
	ErrTooManyRequests    ErrorCode = "TOO_MANY_REQUESTS"
)

// Error возвращает сообщение об ошибке
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap возвращает причину ошибки
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду
func (e *Error) Is(target error) bool {
	if targetError, ok := target.(*Error); ok {
		return e.Code == targetError.Code
	}
	return false
}

// New создает новую кастомную ошибку
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap оборачивает существующую ошибку в кастомную
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Transient оборачивает сбой хранилища (Postgres, Redis).
// Такие ошибки не повторяются внутри ядра и всегда доходят до вызывающего.
func Transient(err error, op string) *Error {
	return Wrap(err, ErrTransientStore, op)
}

// CodeOf возвращает код ошибки из цепочки или ErrInternal
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrInternal
}

// IsCode проверяет, содержит ли цепочка ошибку с заданным кодом
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// WithDetails добавляет детали к ошибке
func (e *Error) WithDetails(details string) *Error {
	if e == nil {
		return nil
	}
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
		Context: e.Context,
	}
}

// WithContext добавляет контекст к ошибке
func (e *Error) WithContext(ctx context.Context) *Error {
	if e == nil {
		return nil
	}
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   e.Cause,
		Context: ctx,
	}
}

func (e *Error) grpcCode() codes.Code {
	switch e.Code {
	case ErrNotFound:
		return codes.NotFound
	case ErrValidation:
		return codes.InvalidArgument
	case ErrUnauthorized, ErrInvalidCredentials, ErrInvalidSession, ErrSessionExpired:
		return codes.Unauthenticated
	case ErrForbidden, ErrAccountLocked, ErrAccountInactive:
		return codes.PermissionDenied
	case ErrConflict:
		return codes.AlreadyExists
	case ErrTransientStore:
		return codes.Unavailable
	case ErrTooManyRequests:
		return codes.ResourceExhausted
	case ErrInternal:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// ToGRPCErr переводит кастомную ошибку в gRPC статус.
// Код ошибки передается в ErrorInfo.Reason, детали и request_id в Metadata.
func (e *Error) ToGRPCErr() error {
	if e == nil {
		return nil
	}

	st := status.New(e.grpcCode(), e.Message)

	info := &errdetails.ErrorInfo{
		Reason:   string(e.Code),
		Domain:   ErrorDomain,
		Metadata: map[string]string{},
	}
	if e.Details != "" {
		info.Metadata["details"] = e.Details
	}
	if e.Context != nil {
		if id := logger.RequestIDFromContext(e.Context); id != "" {
			info.Metadata["request_id"] = id
		}
	}

	if withDetails, err := st.WithDetails(info); err == nil {
		st = withDetails
	}
	return st.Err()
}

// FromGRPCErr преобразует gRPC ошибку в кастомную ошибку
func FromGRPCErr(err error) *Error {
	if err == nil {
		return nil
	}

	grpcStatus, ok := status.FromError(err)
	if !ok {
		return Wrap(err, ErrInternal, "internal error")
	}

	// Точный код приходит в ErrorInfo, если его положил наш сервер
	for _, detail := range grpcStatus.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.GetDomain() == ErrorDomain {
			return &Error{
				Code:    ErrorCode(info.GetReason()),
				Message: grpcStatus.Message(),
				Details: info.GetMetadata()["details"],
			}
		}
	}

	var code ErrorCode
	switch grpcStatus.Code() {
	case codes.NotFound:
		code = ErrNotFound
	case codes.InvalidArgument:
		code = ErrValidation
	case codes.Unauthenticated:
		code = ErrUnauthorized
	case codes.PermissionDenied:
		code = ErrForbidden
	case codes.AlreadyExists:
		code = ErrConflict
	case codes.Unavailable:
		code = ErrTransientStore
	case codes.ResourceExhausted:
		code = ErrTooManyRequests
	default:
		code = ErrInternal
	}

	return &Error{
		Code:    code,
		Message: grpcStatus.Message(),
	}
}

// ExtractErrorDetails извлекает детали из gRPC ошибки
func ExtractErrorDetails(err error) string {
	if err == nil {
		return ""
	}

	if grpcStatus, ok := status.FromError(err); ok {
		for _, detail := range grpcStatus.Details() {
			if info, ok := detail.(*errdetails.ErrorInfo); ok {
				return info.GetMetadata()["details"]
			}
		}
	}

	return ""
}

// HTTPStatus возвращает соответствующий HTTP статус для ошибки
func (e *Error) HTTPStatus() int {
	if e == nil {
		return http.StatusOK
	}

	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrValidation:
		return http.StatusBadRequest
	case ErrUnauthorized, ErrInvalidCredentials, ErrInvalidSession, ErrSessionExpired:
		return http.StatusUnauthorized
	case ErrForbidden, ErrAccountLocked, ErrAccountInactive:
		return http.StatusForbidden
	case ErrConflict:
		return http.StatusConflict
	case ErrTooManyRequests:
		return http.StatusTooManyRequests
	case ErrTransientStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetUserMessage возвращает сообщение для конечного пользователя.
// Пользователи приложения испаноязычные, поэтому тексты на испанском.
func (e *Error) GetUserMessage() string {
	if e == nil {
		return ""
	}

	switch e.Code {
	case ErrNotFound:
		return "Recurso no encontrado"
	case ErrValidation:
		return "Datos inválidos"
	case ErrUnauthorized:
		return "No autorizado"
	case ErrForbidden:
		return "Acceso denegado"
	case ErrConflict:
		return "Conflicto de datos"
	case ErrInvalidCredentials:
		return "Usuario o contraseña incorrectos"
	case ErrAccountLocked:
		return "Cuenta bloqueada. Contacte al administrador"
	case ErrAccountInactive:
		return "Cuenta inactiva por falta de uso. Contacte al administrador"
	case ErrInvalidSession:
		return "Sesión inválida. Inicie sesión nuevamente"
	case ErrSessionExpired:
		return "Su sesión ha expirado. Inicie sesión nuevamente"
	case ErrTransientStore:
		return "Servicio no disponible temporalmente. Intente más tarde"
	case ErrTooManyRequests:
		return "Demasiados intentos. Espere un momento"
	default:
		return "Error interno del servidor"
	}
}

// ErrorResponse тело JSON ответа с ошибкой
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody содержимое ответа с ошибкой
type ErrorBody struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// WriteJSON отправляет ошибку клиенту. Любая ошибка без кода считается внутренней,
// ее текст наружу не выдается.
func WriteJSON(w http.ResponseWriter, r *http.Request, err error) {
	var e *Error
	if !stderrors.As(err, &e) {
		e = Wrap(err, ErrInternal, "internal error")
	}

	body := ErrorResponse{Error: ErrorBody{
		Code:    e.Code,
		Message: e.GetUserMessage(),
	}}
	if e.Code == ErrValidation {
		body.Error.Details = e.Details
	}
	if r != nil {
		body.Error.RequestID = logger.RequestIDFromContext(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus())
	_ = json.NewEncoder(w).Encode(body)
}

// Middleware перехватывает панику обработчика и отвечает INTERNAL_ERROR
func Middleware(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					log.Error("panic in handler",
						logger.CtxField(r.Context()),
						logger.String("path", r.URL.Path),
						logger.Any("panic", recovered),
					)
					WriteJSON(w, r, New(ErrInternal, "internal server error").
						WithDetails(fmt.Sprintf("panic: %v", recovered)))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
