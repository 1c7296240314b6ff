// Package rpc is a minimal JSON-RPC 1.0 client for a Radiant
// (radiantd-compatible) node, used by the template updater and the
// share validator to fetch templates and submit blocks.
package rpc

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

// Client talks to a single node over HTTP, sending the credentials as
// an HTTP basic-auth header on every request.
type Client struct {
	url    string
	user   string
	pass   string
	http   *http.Client
	nextID atomic.Int64
}

// New builds a Client pointed at host:port with the given credentials
// and a request timeout.
func New(host string, port int, user, pass string, timeout time.Duration) *Client {
	return &Client{
		url:  fmt.Sprintf("http://%s:%d", host, port),
		user: user,
		pass: pass,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc: node returned error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(request{
		JSONRPC: "1.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rpc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.user, c.pass)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rpc: read response: %w", err)
	}

	var parsed response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("rpc: %s: decode response: %w", method, err)
	}
	if parsed.Error != nil {
		return nil, parsed.Error
	}
	return parsed.Result, nil
}

// BlockTemplate is the subset of getblocktemplate fields the updater
// consumes.
type BlockTemplate struct {
	Version       int32        `json:"version"`
	Height        int64        `json:"height"`
	Bits          string       `json:"bits"`
	PreviousHash  string       `json:"previousblockhash"`
	CurTime       int64        `json:"curtime"`
	CoinbaseValue int64        `json:"coinbasevalue"`
	Transactions  []TemplateTx `json:"transactions"`
	Target        string       `json:"target"`
	MinerFund     *MinerFund   `json:"minerfund,omitempty"`
}

// MinerFund carries Radiant's optional extra coinbase outputs (e.g. the
// network's miner fund split).
type MinerFund struct {
	Outputs []MinerFundOutput `json:"outputs"`
}

// MinerFundOutput is one extra output the coinbase must pay alongside
// the miner's own reward.
type MinerFundOutput struct {
	Script string `json:"script"`
	Value  int64  `json:"value"`
}

// TemplateTx is one transaction entry in a getblocktemplate response.
type TemplateTx struct {
	Data string `json:"data"`
	Txid string `json:"txid"`
	Hash string `json:"hash"`
	Fee  int64  `json:"fee"`
}

// GetBlockTemplate fetches a new candidate block template.
func (c *Client) GetBlockTemplate(ctx context.Context) (*BlockTemplate, error) {
	result, err := c.call(ctx, "getblocktemplate", []interface{}{map[string]interface{}{"rules": []string{}}})
	if err != nil {
		return nil, err
	}
	var tmpl BlockTemplate
	if err := json.Unmarshal(result, &tmpl); err != nil {
		return nil, fmt.Errorf("rpc: parse block template: %w", err)
	}
	return &tmpl, nil
}

// SubmitBlock submits a fully serialized block (hex-encoded). A null
// node result means acceptance; any other result is a rejection
// reason.
func (c *Client) SubmitBlock(ctx context.Context, blockHex string) (string, error) {
	result, err := c.call(ctx, "submitblock", []interface{}{blockHex})
	if err != nil {
		return "", err
	}
	var rejection string
	if err := json.Unmarshal(result, &rejection); err == nil && rejection != "" {
		return rejection, nil
	}
	return "", nil
}

// GetBlock fetches a block by hash (verbosity 1, the node default).
func (c *Client) GetBlock(ctx context.Context, hash string) (json.RawMessage, error) {
	return c.call(ctx, "getblock", []interface{}{hash})
}

// BlockchainInfo is the subset of getblockchaininfo fields consumed
// elsewhere in the proxy.
type BlockchainInfo struct {
	Chain                string  `json:"chain"`
	Blocks               int64   `json:"blocks"`
	Difficulty           float64 `json:"difficulty"`
	BestBlockHash        string  `json:"bestblockhash"`
}

// GetBlockchainInfo fetches general chain state.
func (c *Client) GetBlockchainInfo(ctx context.Context) (*BlockchainInfo, error) {
	result, err := c.call(ctx, "getblockchaininfo", []interface{}{})
	if err != nil {
		return nil, err
	}
	var info BlockchainInfo
	if err := json.Unmarshal(result, &info); err != nil {
		return nil, fmt.Errorf("rpc: parse blockchain info: %w", err)
	}
	return &info, nil
}

// MiningInfo is the subset of getmininginfo fields consumed elsewhere
// in the proxy.
type MiningInfo struct {
	Blocks           int64   `json:"blocks"`
	Difficulty       float64 `json:"difficulty"`
	NetworkHashPS    float64 `json:"networkhashps"`
}

// GetMiningInfo fetches node-reported mining statistics.
func (c *Client) GetMiningInfo(ctx context.Context) (*MiningInfo, error) {
	result, err := c.call(ctx, "getmininginfo", []interface{}{})
	if err != nil {
		return nil, err
	}
	var info MiningInfo
	if err := json.Unmarshal(result, &info); err != nil {
		return nil, fmt.Errorf("rpc: parse mining info: %w", err)
	}
	return &info, nil
}
