package chainlink

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	outputs map[string][]byte
	err     error
	last    ethereum.CallMsg
}

func (f *fakeCaller) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.last = call
	if f.err != nil {
		return nil, f.err
	}
	for name, method := range aggregatorABI.Methods {
		if bytes.Equal(call.Data[:4], method.ID) {
			return f.outputs[name], nil
		}
	}
	return nil, errors.New("unknown selector")
}

func packOutput(t *testing.T, method string, args ...interface{}) []byte {
	t.Helper()
	out, err := aggregatorABI.Methods[method].Outputs.Pack(args...)
	require.NoError(t, err)
	return out
}

func TestFeedLatestRoundData(t *testing.T) {
	addr := common.HexToAddress("0x694AA1769357215DE4FAC081bf1f309aDC325306")
	caller := &fakeCaller{outputs: map[string][]byte{
		"latestRoundData": packOutput(t, "latestRoundData",
			big.NewInt(42), big.NewInt(350_000_000_000), big.NewInt(1_700_000_000), big.NewInt(1_700_000_100), big.NewInt(42)),
		"decimals": packOutput(t, "decimals", uint8(8)),
	}}
	feed := NewFeed(caller, addr)

	round, err := feed.LatestRoundData(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(42), round.RoundID.Int64())
	require.Equal(t, "350000000000", round.Answer.String())
	require.Equal(t, int64(1_700_000_100), round.UpdatedAt.Int64())
	require.NotNil(t, caller.last.To)
	require.Equal(t, addr, *caller.last.To)

	decimals, err := feed.Decimals(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint8(8), decimals)
}

func TestFeedRejectsMalformedResponse(t *testing.T) {
	caller := &fakeCaller{outputs: map[string][]byte{"latestRoundData": {0x01}}}
	_, err := NewFeed(caller, common.Address{}).LatestRoundData(context.Background())
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestFeedPropagatesRPCError(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := NewFeed(&fakeCaller{err: boom}, common.Address{}).LatestRoundData(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestStaticFeed(t *testing.T) {
	feed := NewStaticFeed(big.NewInt(2000_0000_0000))
	round, err := feed.LatestRoundData(context.Background())
	require.NoError(t, err)
	require.Equal(t, "200000000000", round.Answer.String())
	require.Equal(t, int64(1), round.RoundID.Int64())

	feed.SetAnswer(big.NewInt(1800_0000_0000))
	round, err = feed.LatestRoundData(context.Background())
	require.NoError(t, err)
	require.Equal(t, "180000000000", round.Answer.String())
	require.Equal(t, int64(2), round.AnsweredInRound.Int64())
}
