package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/core-tools/hsu-node-agent/pkg/config"
	"github.com/core-tools/hsu-node-agent/pkg/domain"
	"github.com/core-tools/hsu-node-agent/pkg/errors"
	"github.com/core-tools/hsu-node-agent/pkg/logging"
)

// Stop can take the whole escalation budget
const DefaultClientTimeout = 60 * time.Second

// NewHTTPClientGateway returns the operation set of a remote agent reached
// at baseURL. Error responses come back as domain errors of the same type.
func NewHTTPClientGateway(baseURL string, client *http.Client, logger logging.Logger) domain.Contract {
	if client == nil {
		client = &http.Client{Timeout: DefaultClientTimeout}
	}
	return &httpClientGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

type httpClientGateway struct {
	baseURL string
	client  *http.Client
	logger  logging.Logger
}

func (gw *httpClientGateway) serverPath(id string, action string) string {
	path := apiPrefix + "/" + url.PathEscape(id)
	if action != "" {
		path += "/" + action
	}
	return path
}

func (gw *httpClientGateway) do(ctx context.Context, op string, method string, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.NewValidationError("failed to encode request", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, gw.baseURL+path, reader)
	if err != nil {
		return errors.NewInternalError("failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", mimeJson)
	}

	resp, err := gw.client.Do(req)
	if err != nil {
		gw.logger.Errorf("%s client gateway: %v", op, err)
		return errors.NewIOError("request failed", err).WithContext("path", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		err := decodeError(resp)
		gw.logger.Debugf("%s client gateway: %v", op, err)
		return err
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.NewIOError("failed to decode response", err).WithContext("path", path)
		}
	}

	gw.logger.Debugf("%s client gateway done", op)
	return nil
}

func decodeError(resp *http.Response) error {
	var body ErrorResponse
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &body); err != nil || body.Type == "" {
		return errors.NewInternalError(fmt.Sprintf("unexpected response %d: %s", resp.StatusCode, strings.TrimSpace(string(data))), nil)
	}
	return errors.NewDomainError(body.Type, body.Error, nil).WithContext("status", resp.StatusCode)
}

func (gw *httpClientGateway) List(ctx context.Context) ([]domain.ServerStatus, error) {
	var statuses []domain.ServerStatus
	if err := gw.do(ctx, "List", http.MethodGet, apiPrefix, nil, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

func (gw *httpClientGateway) Create(ctx context.Context, def config.ServerDefinition) (domain.ServerStatus, error) {
	var status domain.ServerStatus
	err := gw.do(ctx, "Create", http.MethodPost, apiPrefix, def, &status)
	return status, err
}

func (gw *httpClientGateway) Update(ctx context.Context, id string, def config.ServerDefinition) (domain.ServerStatus, error) {
	var status domain.ServerStatus
	err := gw.do(ctx, "Update", http.MethodPut, gw.serverPath(id, ""), def, &status)
	return status, err
}

func (gw *httpClientGateway) Delete(ctx context.Context, id string) error {
	return gw.do(ctx, "Delete", http.MethodDelete, gw.serverPath(id, ""), nil, nil)
}

func (gw *httpClientGateway) Start(ctx context.Context, id string) error {
	return gw.do(ctx, "Start", http.MethodPost, gw.serverPath(id, "start"), nil, nil)
}

func (gw *httpClientGateway) Stop(ctx context.Context, id string) error {
	return gw.do(ctx, "Stop", http.MethodPost, gw.serverPath(id, "stop"), nil, nil)
}

func (gw *httpClientGateway) Restart(ctx context.Context, id string) error {
	return gw.do(ctx, "Restart", http.MethodPost, gw.serverPath(id, "restart"), nil, nil)
}

func (gw *httpClientGateway) Backup(ctx context.Context, id string) (string, error) {
	var resp BackupResponse
	if err := gw.do(ctx, "Backup", http.MethodPost, gw.serverPath(id, "backup"), nil, &resp); err != nil {
		return "", err
	}
	return resp.Path, nil
}

func (gw *httpClientGateway) SendCommand(ctx context.Context, id string, line string) error {
	cmd := CommandRequest{Type: commandMessageType, Data: line}
	return gw.do(ctx, "Command", http.MethodPost, gw.serverPath(id, "command"), cmd, nil)
}
