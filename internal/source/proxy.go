package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ProxySource sends queries to an HTTP SQL gateway in front of PostgreSQL.
// The gateway speaks the Postgres dialect.
type ProxySource struct {
	url    string
	token  string
	client *http.Client
	log    *zap.Logger
}

type proxyRequest struct {
	Query  string `json:"query"`
	Params []any  `json:"params"`
}

type proxyField struct {
	Name string `json:"name"`
}

type proxyResponse struct {
	Fields []proxyField       `json:"fields"`
	Rows   []json.RawMessage  `json:"rows"`
	Error  *proxyErrorPayload `json:"error,omitempty"`
}

type proxyErrorPayload struct {
	Message string `json:"message"`
}

// NewProxy returns a gateway client. A zero timeout means no deadline
// beyond the caller's context.
func NewProxy(url, token string, timeout time.Duration, log *zap.Logger) *ProxySource {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProxySource{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

func (p *ProxySource) Run(ctx context.Context, query string, args ...any) (*Table, error) {
	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(proxyRequest{Query: query, Params: args})
	if err != nil {
		return nil, wrap(ErrQuery, "encoding proxy request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, wrap(ErrConnectivity, "creating proxy request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, wrap(ErrConnectivity, "calling sql proxy", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrap(ErrConnectivity, "reading proxy response", err)
	}

	if resp.StatusCode != http.StatusOK {
		kind := ErrConnectivity
		switch resp.StatusCode {
		case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
			kind = ErrQuery
		}
		return nil, fmt.Errorf("%w: sql proxy returned status %d: %.200s", kind, resp.StatusCode, respBytes)
	}

	t, err := decodeProxyResponse(respBytes)
	if err != nil {
		return nil, err
	}
	p.log.Debug("proxy query", zap.Int("rows", len(t.Rows)))
	return t, nil
}

func (p *ProxySource) Dialect() Dialect { return Postgres{} }

func (p *ProxySource) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// decodeProxyResponse accepts rows encoded either as positional arrays or
// as objects keyed by field name. Numbers stay json.Number so large ids
// survive intact.
func decodeProxyResponse(data []byte) (*Table, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var pr proxyResponse
	if err := dec.Decode(&pr); err != nil {
		return nil, wrap(ErrQuery, "decoding proxy response", err)
	}
	if pr.Error != nil {
		return nil, fmt.Errorf("%w: sql proxy: %s", ErrQuery, pr.Error.Message)
	}

	t := &Table{Columns: make([]string, len(pr.Fields))}
	for i, f := range pr.Fields {
		t.Columns[i] = f.Name
	}

	for i, raw := range pr.Rows {
		row, err := decodeProxyRow(raw, t.Columns)
		if err != nil {
			return nil, wrap(ErrQuery, fmt.Sprintf("decoding proxy row %d", i), err)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func decodeProxyRow(raw json.RawMessage, columns []string) ([]any, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	switch row := v.(type) {
	case []any:
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row has %d values, want %d", len(row), len(columns))
		}
		return row, nil
	case map[string]any:
		out := make([]any, len(columns))
		for i, c := range columns {
			out[i] = row[c]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected row type %T", v)
	}
}
