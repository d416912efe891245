// Package http sends each sync request as one POST to the hub and reads the
// response from the response body. It cannot receive pushed events, so
// subscribe tasks sent over it fail at the hub.
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/buger/jsonparser"

	"github.com/friflo/fliox.go/internal/codec"
	"github.com/friflo/fliox.go/pkg/connection"
	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/logger"
	"github.com/friflo/fliox.go/pkg/protocol"
)

type Connection struct {
	BaseURL string
	Codec   codec.Codec

	httpClient *http.Client
	logger     logger.Logger
}

var _ connection.Connection = (*Connection)(nil)

func New(p *connection.Config) *Connection {
	con := Connection{
		BaseURL: p.BaseURL,
		Codec:   p.Codec,
		logger:  p.Logger,
		httpClient: &http.Client{
			Timeout: constants.DefaultHTTPTimeout, // Set a default timeout to avoid hanging requests
		},
	}
	if p.Timeout > 0 {
		con.httpClient.Timeout = p.Timeout
	}
	if con.logger == nil {
		con.logger = logger.Discard()
	}
	return &con
}

// Connect checks that the hub is reachable.
func (c *Connection) Connect(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+constants.HealthPath, http.NoBody)
	if err != nil {
		return err
	}
	_, err = c.MakeRequest(httpReq)
	return err
}

func (c *Connection) Close(ctx context.Context) error {
	return nil
}

func (c *Connection) SetTimeout(timeout time.Duration) *Connection {
	c.httpClient.Timeout = timeout
	return c
}

func (c *Connection) SetHTTPClient(client *http.Client) *Connection {
	c.httpClient = client
	return c
}

func (c *Connection) Send(ctx context.Context, req *protocol.SyncRequest) (*protocol.SyncResponse, error) {
	if c.BaseURL == "" {
		return nil, constants.ErrNoBaseURL
	}
	if c.Codec == nil {
		return nil, constants.ErrNoMarshaler
	}

	reqBody, err := c.Codec.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode sync request: %v", constants.ErrValidation, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+constants.SyncPath, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", c.Codec.ContentType())
	httpReq.Header.Set("Content-Type", c.Codec.ContentType())

	respData, err := c.MakeRequest(httpReq)
	if err != nil {
		return nil, err
	}

	var res protocol.SyncResponse
	if err := c.Codec.Unmarshal(respData, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", constants.ErrInvalidResponse, err)
	}
	return &res, nil
}

// MakeRequest returns the body of a successful response. Requests the hub
// rejected return the TaskError of the error body. Failures to reach the
// hub and server errors without an error body wrap constants.ErrTransport.
func (c *Connection) MakeRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, connection.TransportError(fmt.Errorf("error making HTTP request: %w", err))
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, connection.TransportError(err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBytes, nil
	}

	contentType := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if contentType == codec.JSONContentType {
		if taskErr, ok := parseError(respBytes); ok {
			return nil, taskErr
		}
	}
	c.logger.Warn("unexpected hub response", "status", resp.StatusCode, "body", string(respBytes))
	return nil, connection.TransportError(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBytes))))
}

// parseError reads an error body of the form {"err":{"type":"...","message":"..."}}.
func parseError(body []byte) (*protocol.TaskError, bool) {
	kind, err := jsonparser.GetString(body, "err", "type")
	if err != nil || kind == "" {
		return nil, false
	}
	msg, _ := jsonparser.GetString(body, "err", "message")
	return &protocol.TaskError{Kind: protocol.ErrorKind(kind), Message: msg}, true
}
