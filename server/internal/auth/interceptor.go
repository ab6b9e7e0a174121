package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// APIKeyInterceptor guards unary RPCs with the shared worker key. The key is
// read from the header metadata entry, which gRPC lowercases. Calls pass
// unchecked unless mode is "apikey" and key is set.
func APIKeyInterceptor(mode, header, key string) grpc.UnaryServerInterceptor {
	if !enabled(mode, key) {
		return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
			return next(ctx, req)
		}
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		for _, v := range md.Get(header) {
			if matches(v, key) {
				return next(ctx, req)
			}
		}
		remote := "unknown"
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}
		slog.Warn("auth: rejected grpc call", "method", info.FullMethod, "remote", remote)
		return nil, status.Error(codes.Unauthenticated, "missing or invalid api key")
	}
}

func enabled(mode, key string) bool {
	return mode == "apikey" && key != ""
}

func matches(got, key string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(key)) == 1
}
