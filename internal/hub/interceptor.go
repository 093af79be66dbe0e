package hub

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ClientHeader names the caller in logs when set in request metadata.
const ClientHeader = "x-mcphub-client"

func loggingInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		attrs := []any{
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"elapsed", time.Since(start),
		}
		if client := clientFromContext(ctx); client != "" {
			attrs = append(attrs, "client", client)
		}
		if err != nil {
			log.Warn("rpc failed", append(attrs, "error", err)...)
		} else {
			log.Debug("rpc", attrs...)
		}
		return resp, err
	}
}

// deadlineInterceptor applies d to calls without a deadline of their own.
// Health and reflection calls are left alone.
func deadlineInterceptor(d time.Duration) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok || d <= 0 || !strings.HasPrefix(info.FullMethod, "/"+ServiceName+"/") {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return handler(ctx, req)
	}
}

func clientFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(ClientHeader); len(v) > 0 {
		return v[0]
	}
	return ""
}
