package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	pkgerrors "WorkshopPlatform/pkg/errors"
	"WorkshopPlatform/pkg/logger"
)

// RequestIDHeader ключ метаданных с идентификатором запроса
const RequestIDHeader = "x-request-id"

// UnaryServerInterceptor проставляет request_id, логирует вызов,
// переводит ошибки *errors.Error в gRPC статус и перехватывает панику
func UnaryServerInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		ctx = logger.ContextWithRequestID(ctx, requestIDFromMetadata(ctx))
		start := time.Now()

		defer func() {
			if recovered := recover(); recovered != nil {
				log.Error("panic in grpc handler",
					logger.CtxField(ctx),
					logger.String("method", info.FullMethod),
					logger.Any("panic", recovered),
				)
				err = status.Error(codes.Internal, fmt.Sprintf("panic: %v", recovered))
			}
		}()

		resp, err = handler(ctx, req)
		err = ToStatus(ctx, err)

		fields := []logger.Field{
			logger.CtxField(ctx),
			logger.String("method", info.FullMethod),
			logger.Duration("duration", time.Since(start)),
		}
		if err != nil {
			fields = append(fields, logger.String("code", status.Code(err).String()), logger.Error(err))
			log.Warn("grpc call failed", fields...)
		} else {
			log.Debug("grpc call completed", fields...)
		}
		return resp, err
	}
}

// ToStatus переводит ошибку домена в gRPC статус. Ошибки, уже являющиеся
// статусом, возвращаются без изменений.
func ToStatus(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var e *pkgerrors.Error
	if errors.As(err, &e) {
		return e.WithContext(ctx).ToGRPCErr()
	}
	return status.Error(codes.Internal, "internal error")
}

func requestIDFromMetadata(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(RequestIDHeader); len(vals) > 0 && vals[0] != "" {
			return vals[0]
		}
	}
	return uuid.NewString()
}
