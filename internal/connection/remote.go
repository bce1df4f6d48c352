package connection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/smartdevs17/droneops-sync/internal/models"
	"github.com/smartdevs17/droneops-sync/pkg/utils"
)

// RemoteClient is the client side of the authoritative remote service
type RemoteClient interface {
	// Health is the side-effect free liveness call
	Health(ctx context.Context) error
	Create(ctx context.Context, store models.StoreName, payload map[string]interface{}) (*RemoteRecord, error)
	Update(ctx context.Context, store models.StoreName, id string, payload map[string]interface{}) (*RemoteRecord, error)
	Delete(ctx context.Context, store models.StoreName, id string) error
	List(ctx context.Context, store models.StoreName) ([]map[string]interface{}, error)
}

// RemoteRecord is a record as confirmed by the remote service
type RemoteRecord struct {
	ID   string                 `json:"id"`
	Data map[string]interface{} `json:"data"`
}

// HTTPError is a non-2xx answer from the remote service
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func newHTTPError(status int, body []byte) *HTTPError {
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)

	message := payload.Message
	if message == "" {
		message = payload.Error
	}
	if message == "" {
		message = string(body)
		if len(message) > 200 {
			message = message[:200]
		}
	}
	return &HTTPError{StatusCode: status, Code: payload.Code, Message: message}
}

// unwrapData accepts both a bare payload and one wrapped as {"data": ...}
func unwrapData(body []byte) (interface{}, error) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if obj, ok := raw.(map[string]interface{}); ok {
		if inner, ok := obj["data"]; ok {
			switch inner.(type) {
			case map[string]interface{}, []interface{}:
				return inner, nil
			}
		}
	}
	return raw, nil
}

func decodeRecord(body []byte) (*RemoteRecord, error) {
	if len(body) == 0 {
		return &RemoteRecord{}, nil
	}
	raw, err := unwrapData(body)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeRemoteCall, "Malformed remote record", err)
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeRemoteCall, "Malformed remote record", "expected a JSON object")
	}
	return &RemoteRecord{ID: models.IDFromData(obj), Data: obj}, nil
}

func decodeList(body []byte) ([]map[string]interface{}, error) {
	raw, err := unwrapData(body)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeRemoteCall, "Malformed remote list", err)
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeRemoteCall, "Malformed remote list", "expected a JSON array")
	}
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]interface{}); ok {
			out = append(out, obj)
		}
	}
	return out, nil
}

// createPayload drops the placeholder id so the remote service assigns one
func createPayload(payload map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if k == "id" {
			continue
		}
		out[k] = v
	}
	return out
}
