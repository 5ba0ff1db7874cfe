// Package chainlink reads AggregatorV3 price feeds over an Ethereum RPC
// endpoint and adapts them to the engine's PriceFeed interface.
package chainlink

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"dscengine/native/dsc"
)

const aggregatorV3ABI = `[
 {"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
 {"inputs":[],"name":"description","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
 {"inputs":[],"name":"latestRoundData","outputs":[
  {"name":"roundId","type":"uint80"},
  {"name":"answer","type":"int256"},
  {"name":"startedAt","type":"uint256"},
  {"name":"updatedAt","type":"uint256"},
  {"name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

var aggregatorABI = mustParseABI(aggregatorV3ABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("chainlink: parse aggregator abi: %v", err))
	}
	return parsed
}

// ErrMalformedResponse is returned when a feed answers with an unexpected
// payload.
var ErrMalformedResponse = errors.New("chainlink: malformed aggregator response")

// Caller is the subset of the Ethereum RPC used to query aggregators.
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Dial initialises an RPC client for the provided endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("eth rpc endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// Feed queries a deployed AggregatorV3 contract at the latest block.
type Feed struct {
	caller  Caller
	address common.Address
}

// NewFeed binds an aggregator at address.
func NewFeed(caller Caller, address common.Address) *Feed {
	return &Feed{caller: caller, address: address}
}

// Address returns the aggregator contract address.
func (f *Feed) Address() common.Address { return f.address }

func (f *Feed) call(ctx context.Context, method string) ([]interface{}, error) {
	if f == nil || f.caller == nil {
		return nil, fmt.Errorf("chainlink: feed not initialised")
	}
	input, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	to := f.address
	output, err := f.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, f.address.Hex(), err)
	}
	values, err := aggregatorABI.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return values, nil
}

// LatestRoundData implements dsc.PriceFeed.
func (f *Feed) LatestRoundData(ctx context.Context) (dsc.RoundData, error) {
	values, err := f.call(ctx, "latestRoundData")
	if err != nil {
		return dsc.RoundData{}, err
	}
	if len(values) != 5 {
		return dsc.RoundData{}, fmt.Errorf("%w: expected 5 values, got %d", ErrMalformedResponse, len(values))
	}
	ints := make([]*big.Int, len(values))
	for i, v := range values {
		n, ok := v.(*big.Int)
		if !ok {
			return dsc.RoundData{}, fmt.Errorf("%w: value %d is %T", ErrMalformedResponse, i, v)
		}
		ints[i] = n
	}
	return dsc.RoundData{
		RoundID:         ints[0],
		Answer:          ints[1],
		StartedAt:       ints[2],
		UpdatedAt:       ints[3],
		AnsweredInRound: ints[4],
	}, nil
}

// Decimals returns the precision of the feed answer.
func (f *Feed) Decimals(ctx context.Context) (uint8, error) {
	values, err := f.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("%w: expected 1 value, got %d", ErrMalformedResponse, len(values))
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: decimals is %T", ErrMalformedResponse, values[0])
	}
	return decimals, nil
}

// StaticFeed reports a fixed answer that is always fresh. It backs local
// deployments without an RPC endpoint.
type StaticFeed struct {
	mu     sync.RWMutex
	answer *big.Int
	round  int64
	now    func() time.Time
}

// NewStaticFeed constructs a feed answering answer, expressed with the feed
// decimals.
func NewStaticFeed(answer *big.Int) *StaticFeed {
	return &StaticFeed{answer: new(big.Int).Set(answer), round: 1, now: time.Now}
}

// SetAnswer replaces the answer and starts a new round.
func (s *StaticFeed) SetAnswer(answer *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answer = new(big.Int).Set(answer)
	s.round++
}

// LatestRoundData implements dsc.PriceFeed.
func (s *StaticFeed) LatestRoundData(context.Context) (dsc.RoundData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts := big.NewInt(s.now().Unix())
	return dsc.RoundData{
		RoundID:         big.NewInt(s.round),
		Answer:          new(big.Int).Set(s.answer),
		StartedAt:       ts,
		UpdatedAt:       new(big.Int).Set(ts),
		AnsweredInRound: big.NewInt(s.round),
	}, nil
}
