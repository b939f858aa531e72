package session

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/apiclient"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/documents"
)

// LocalDocuments serves DocumentAPI from an in-process documents.Service.
type LocalDocuments struct {
	service   *documents.Service
	sessionID string
}

// BindDocuments returns a DocumentAPI that saves as sessionID.
func BindDocuments(service *documents.Service, sessionID string) LocalDocuments {
	return LocalDocuments{service: service, sessionID: sessionID}
}

func (local LocalDocuments) LoadDocument(ctx context.Context, canvasID string) (apiclient.Document, error) {
	document, err := local.service.Load(ctx, canvasID)
	if errors.Is(err, documents.ErrDocumentNotFound) {
		return apiclient.Document{}, apiclient.ErrDocumentNotFound
	}
	if err != nil {
		return apiclient.Document{}, err
	}
	return toDocument(document), nil
}

func (local LocalDocuments) SaveDocument(ctx context.Context, canvasID string, data []byte) (apiclient.Document, error) {
	document, err := local.service.Save(ctx, documents.SaveRequest{CanvasID: canvasID, SessionID: local.sessionID, Data: data})
	if errors.Is(err, documents.ErrLocked) {
		return apiclient.Document{}, apiclient.ErrLockLost
	}
	if err != nil {
		return apiclient.Document{}, err
	}
	return toDocument(document), nil
}

func toDocument(document documents.CanvasDocument) apiclient.Document {
	return apiclient.Document{
		CanvasID:  document.CanvasID,
		Name:      document.Name,
		Version:   document.Version,
		Archived:  document.Archived,
		UpdatedAt: document.UpdatedAt(),
		Data:      json.RawMessage(document.Data),
	}
}
