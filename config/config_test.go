package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `DataDir = "./data"
EthRPC = "https://sepolia.example"
Stable = "0x00000000000000000000000000000000000d5c00"
Custody = "0x00000000000000000000000000000000000c0570"

[params]
LiquidationThreshold = 60
StalenessTimeoutSeconds = 600

[[collateral]]
Symbol = "weth"
Token = "0x00000000000000000000000000000000000e7400"
Feed = "0x694AA1769357215DE4FAC081bf1f309aDC325306"

[[collateral]]
Symbol = "WBTC"
Token = "0x00000000000000000000000000000000000b7c00"
StaticPrice = "60000.5"

[[allocation]]
Symbol = "weth"
Account = "0x00000000000000000000000000000000000a11ce"
Amount = "12.5"

[pauses]
DSC = true
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dsc.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesRegistry(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	require.Equal(t, "./data", cfg.DataDir)
	require.Len(t, cfg.Collateral, 2)
	require.Equal(t, "WETH", cfg.Collateral[0].Symbol)
	require.True(t, cfg.Pauses.IsPaused("dsc"))
	require.False(t, cfg.Pauses.IsPaused("lending"))

	params, err := cfg.Params.EngineParams()
	require.NoError(t, err)
	require.Equal(t, uint64(60), params.LiquidationThreshold)
	require.Equal(t, uint64(10), params.LiquidationBonus)
	require.Equal(t, 10*time.Minute, params.StalenessTimeout)
	require.Equal(t, "1000000000000000000", params.MinHealthFactor.String())

	answer, err := cfg.Collateral[1].StaticAnswer(params.FeedDecimals)
	require.NoError(t, err)
	require.Equal(t, "6000050000000", answer.String())

	require.Len(t, cfg.Allocation, 1)
	require.Equal(t, "WETH", cfg.Allocation[0].Symbol)
	units, err := cfg.Allocation[0].BaseUnits(18)
	require.NoError(t, err)
	require.Equal(t, "12500000000000000000", units.String())
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dsc.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, ValidateConfig(*cfg))

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Collateral, reloaded.Collateral)
}

func TestValidateConfigRejectsBadRegistry(t *testing.T) {
	cases := map[string]struct {
		mutate func(string) string
		want   string
	}{
		"feed without rpc": {
			mutate: func(s string) string { return strings.Replace(s, `EthRPC = "https://sepolia.example"`, "", 1) },
			want:   "EthRPC required",
		},
		"duplicate symbol": {
			mutate: func(s string) string { return strings.Replace(s, `Symbol = "WBTC"`, `Symbol = "WETH"`, 1) },
			want:   "duplicate symbol",
		},
		"feed and static price": {
			mutate: func(s string) string {
				return strings.Replace(s, `StaticPrice = "60000.5"`, "StaticPrice = \"1\"\nFeed = \"0x694AA1769357215DE4FAC081bf1f309aDC325306\"", 1)
			},
			want: "exactly one of Feed or StaticPrice",
		},
		"negative static price": {
			mutate: func(s string) string { return strings.Replace(s, `"60000.5"`, `"-1"`, 1) },
			want:   "StaticPrice must be positive",
		},
		"bad custody": {
			mutate: func(s string) string { return strings.Replace(s, `"0x00000000000000000000000000000000000c0570"`, `"custody"`, 1) },
			want:   "Custody: invalid address",
		},
		"threshold too large": {
			mutate: func(s string) string { return strings.Replace(s, "LiquidationThreshold = 60", "LiquidationThreshold = 101", 1) },
			want:   "LiquidationThreshold",
		},
		"allocation of unknown collateral": {
			mutate: func(s string) string { return strings.Replace(s, `Symbol = "weth"`+"\nAccount", `Symbol = "dai"`+"\nAccount", 1) },
			want:   "unknown collateral",
		},
		"allocation too precise": {
			mutate: func(s string) string { return strings.Replace(s, `Amount = "12.5"`, `Amount = "0.0000000000000000001"`, 1) },
			want:   "more than 18 decimals",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.mutate(sampleConfig)))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}
