package lockclient

import (
	"context"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/locks"
)

// LocalAPI drives a locks.Service in-process on behalf of one session.
type LocalAPI struct {
	service   *locks.Service
	sessionID string
}

// Bind returns an API backed directly by service.
func Bind(service *locks.Service, sessionID string) LocalAPI {
	return LocalAPI{service: service, sessionID: sessionID}
}

func (api LocalAPI) Acquire(ctx context.Context, canvasID string) (locks.Lock, error) {
	return api.service.Acquire(ctx, canvasID, api.sessionID)
}

func (api LocalAPI) Refresh(ctx context.Context, canvasID string) (locks.Lock, error) {
	return api.service.Refresh(ctx, canvasID, api.sessionID)
}

func (api LocalAPI) Release(ctx context.Context, canvasID string) error {
	return api.service.Release(ctx, canvasID, api.sessionID)
}

func (api LocalAPI) Status(ctx context.Context, canvasID string) (locks.Lock, bool, error) {
	return api.service.Status(ctx, canvasID)
}
