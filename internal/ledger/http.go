package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// SubmitMethod is the JSON-RPC method used for anchoring.
const SubmitMethod = "anchor_submit"

// JSON-RPC error codes treated as permanent rejections.
const (
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
)

const maxResponseSize = 1024 * 1024

// HTTPClient submits payloads to a JSON-RPC endpoint.
type HTTPClient struct {
	endpoint string
	token    string
	client   *http.Client
	nextID   atomic.Uint64
	closed   atomic.Bool
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) { h.client = c }
}

// WithBearerToken sets the Authorization header on every request.
func WithBearerToken(token string) HTTPOption {
	return func(h *HTTPClient) { h.token = token }
}

// NewHTTPClient creates a JSON-RPC ledger client.
func NewHTTPClient(endpoint string, opts ...HTTPOption) *HTTPClient {
	h := &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      uint64        `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     uint64          `json:"id"`
}

// SubmitResult is the "result" object returned by anchor_submit.
type SubmitResult struct {
	TxID string `json:"txid"`
}

// Submit sends the payload and returns the transaction id.
func (h *HTTPClient) Submit(ctx context.Context, p *Payload) (string, error) {
	if h.closed.Load() {
		return "", ErrClosed
	}
	if err := p.Validate(); err != nil {
		return "", err
	}

	raw, err := h.call(ctx, SubmitMethod, []interface{}{p})
	if err != nil {
		return "", err
	}

	var res SubmitResult
	if err := json.Unmarshal(raw, &res); err != nil {
		// Some ledgers return the bare txid string.
		var txid string
		if err2 := json.Unmarshal(raw, &txid); err2 != nil {
			return "", submissionErr("decode result: %v", err)
		}
		res.TxID = txid
	}
	if res.TxID == "" {
		return "", submissionErr("ledger returned an empty txid")
	}
	return res.TxID, nil
}

func (h *HTTPClient) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	id := h.nextID.Add(1)
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, rejectionErr("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if cerr := ctxErr(ctx, method); cerr != nil {
			return nil, cerr
		}
		return nil, submissionErr("%s: %v", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, submissionErr("read response: %v", err)
	}

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		return nil, submissionErr("%s: HTTP %d", method, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, rejectionErr("%s: HTTP %d: %s", method, resp.StatusCode, truncate(data, 200))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, submissionErr("decode response: %v", err)
	}
	if rpcResp.Error != nil {
		return nil, classifyRPCError(rpcResp.Error)
	}
	if rpcResp.ID != id {
		return nil, submissionErr("response id %d does not match request id %d", rpcResp.ID, id)
	}
	return rpcResp.Result, nil
}

func classifyRPCError(e *rpcError) error {
	switch e.Code {
	case rpcInvalidRequest, rpcMethodNotFound, rpcInvalidParams:
		return rejectionErr("RPC error %d: %s", e.Code, e.Message)
	}
	return submissionErr("RPC error %d: %s", e.Code, e.Message)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Close marks the client closed and drops idle connections.
func (h *HTTPClient) Close() error {
	if h.closed.CompareAndSwap(false, true) {
		h.client.CloseIdleConnections()
	}
	return nil
}
