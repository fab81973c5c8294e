package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// Filter selects logs by address set, topic filter, and inclusive block range.
type Filter struct {
	FromBlock uint64
	ToBlock   uint64
	Addresses []common.Address
	Topics    [][]common.Hash
}

// Client wraps go-ethereum RPC and provides helper methods.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client

	// bulkMethod is a provider log extension paginated by pageKey.
	// Empty means the standard eth_getLogs path only.
	bulkMethod string
	logger     *zap.Logger
}

// NewClient creates a new chain client from the RPC URL. bulkMethod may be
// empty when the endpoint offers no paginated log extension.
func NewClient(ctx context.Context, rpcURL, bulkMethod string, logger *zap.Logger) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		rpcClient:  rpcClient,
		ethClient:  ethclient.NewClient(rpcClient),
		bulkMethod: bulkMethod,
		logger:     logger,
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// ChainID returns the chain ID.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.ethClient.ChainID(ctx)
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// HeaderTime returns the timestamp of the block header at the given height.
func (c *Client) HeaderTime(ctx context.Context, number uint64) (uint64, error) {
	header, err := c.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}
	return header.Time, nil
}

// bulkLogsRequest is the parameter object for the paginated log extension.
type bulkLogsRequest struct {
	FromBlock string           `json:"fromBlock"`
	ToBlock   string           `json:"toBlock"`
	Address   []common.Address `json:"address,omitempty"`
	Topics    [][]common.Hash  `json:"topics,omitempty"`
	PageKey   string           `json:"pageKey,omitempty"`
}

// bulkLogsResponse is one page of the paginated log extension.
type bulkLogsResponse struct {
	Logs    []types.Log `json:"logs"`
	PageKey string      `json:"pageKey,omitempty"`
}

// GetLogs fetches logs for the filter. The primary path pages through the
// bulk extension until no continuation key remains; if the bulk call errors
// the client falls back to exactly one standard range query.
func (c *Client) GetLogs(ctx context.Context, filter Filter) ([]types.Log, error) {
	if c.bulkMethod == "" {
		return c.filterLogs(ctx, filter)
	}

	logs, err := c.bulkLogs(ctx, filter)
	if err == nil {
		return logs, nil
	}
	c.logger.Debug("bulk log call failed, falling back to eth_getLogs",
		zap.String("method", c.bulkMethod), zap.Error(err))
	return c.filterLogs(ctx, filter)
}

func (c *Client) bulkLogs(ctx context.Context, filter Filter) ([]types.Log, error) {
	req := bulkLogsRequest{
		FromBlock: hexutil.EncodeUint64(filter.FromBlock),
		ToBlock:   hexutil.EncodeUint64(filter.ToBlock),
		Address:   filter.Addresses,
		Topics:    filter.Topics,
	}

	logs := make([]types.Log, 0)
	for {
		var page bulkLogsResponse
		if err := c.rpcClient.CallContext(ctx, &page, c.bulkMethod, req); err != nil {
			return nil, err
		}
		logs = append(logs, page.Logs...)
		if page.PageKey == "" {
			return logs, nil
		}
		req.PageKey = page.PageKey
	}
}

func (c *Client) filterLogs(ctx context.Context, filter Filter) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(filter.FromBlock),
		ToBlock:   new(big.Int).SetUint64(filter.ToBlock),
		Addresses: filter.Addresses,
		Topics:    filter.Topics,
	}
	return c.ethClient.FilterLogs(ctx, query)
}
