package api

import (
	"context"
	"errors"

	"github.com/matheus3301/chatsync/internal/apiclient"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/deeplink"
	"github.com/matheus3301/chatsync/internal/outbox"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

func invalidArgument(msg string) error {
	return grpcstatus.Error(codes.InvalidArgument, msg)
}

// toStatus maps a service error to a gRPC status. The message is the
// server-provided detail when there is one.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	msg := apiclient.DetailOf(err)

	var code codes.Code
	switch {
	case errors.Is(err, context.Canceled):
		return grpcstatus.FromContextError(err).Err()
	case errors.Is(err, outbox.ErrEmptyContent), errors.Is(err, outbox.ErrContentTooLong),
		errors.Is(err, deeplink.ErrEmptyUsername):
		code = codes.InvalidArgument
	case errors.Is(err, chat.ErrNotFound), apiclient.IsNotFound(err):
		code = codes.NotFound
	case apiclient.IsUnauthorized(err):
		code = codes.Unauthenticated
	case apiclient.IsTransient(err):
		code = codes.Unavailable
	case apiclient.IsValidation(err):
		code = codes.InvalidArgument
	default:
		code = codes.Internal
	}
	return grpcstatus.Error(code, msg)
}
