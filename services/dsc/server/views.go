package server

import (
	"math/big"

	"github.com/shopspring/decimal"

	"dscengine/native/dsc"
)

const fixedPointDecimals = 18

// amountView renders an on-chain integer alongside its human readable form.
type amountView struct {
	Raw     string `json:"raw"`
	Decimal string `json:"decimal"`
}

func newAmountView(v *big.Int, decimals int32) amountView {
	if v == nil {
		v = new(big.Int)
	}
	return amountView{Raw: v.String(), Decimal: decimal.NewFromBigInt(v, -decimals).String()}
}

func fixedPoint(v *big.Int) amountView { return newAmountView(v, fixedPointDecimals) }

type healthView struct {
	amountView
	// Unbounded is set for accounts without debt.
	Unbounded bool `json:"unbounded"`
}

func newHealthView(hf *big.Int) healthView {
	if hf != nil && hf.Cmp(dsc.MaxHealthFactor()) == 0 {
		return healthView{amountView: amountView{Raw: hf.String(), Decimal: "inf"}, Unbounded: true}
	}
	return healthView{amountView: fixedPoint(hf)}
}

type collateralView struct {
	Symbol   string     `json:"symbol"`
	Token    string     `json:"token"`
	Balance  amountView `json:"balance"`
	ValueUSD amountView `json:"valueUsd"`
}

type accountView struct {
	Account        string           `json:"account"`
	TotalDSCMinted amountView       `json:"totalDscMinted"`
	CollateralUSD  amountView       `json:"collateralValueUsd"`
	HealthFactor   healthView       `json:"healthFactor"`
	Collateral     []collateralView `json:"collateral"`
}

type priceView struct {
	Symbol    string     `json:"symbol"`
	Token     string     `json:"token"`
	RoundID   string     `json:"roundId"`
	Answer    amountView `json:"answer"`
	UpdatedAt int64      `json:"updatedAt"`
	// USDPerUnit is the 18 decimal value of one whole token.
	USDPerUnit amountView `json:"usdPerUnit"`
}

type paramsView struct {
	LiquidationThreshold    uint64     `json:"liquidationThreshold"`
	LiquidationBonus        uint64     `json:"liquidationBonus"`
	LiquidationPrecision    uint64     `json:"liquidationPrecision"`
	MinHealthFactor         amountView `json:"minHealthFactor"`
	StalenessTimeoutSeconds int64      `json:"stalenessTimeoutSeconds"`
	Precision               string     `json:"precision"`
	AdditionalFeedPrecision string     `json:"additionalFeedPrecision"`
	Custody                 string     `json:"custody"`
	Collateral              []string   `json:"collateral"`
}

type totalsView struct {
	TotalDebt  amountView            `json:"totalDebt"`
	Collateral map[string]amountView `json:"collateral"`
	Debtors    int                   `json:"debtors"`
}

type liquidationView struct {
	Collateral       string     `json:"collateral"`
	User             string     `json:"user"`
	DebtCovered      amountView `json:"debtCovered"`
	CollateralSeized amountView `json:"collateralSeized"`
	Bonus            amountView `json:"bonus"`
	StartingHealth   healthView `json:"startingHealth"`
	EndingHealth     healthView `json:"endingHealth"`
}

func newLiquidationView(r *dsc.LiquidationResult) liquidationView {
	return liquidationView{
		Collateral:       r.Collateral.Hex(),
		User:             r.User.Hex(),
		DebtCovered:      fixedPoint(r.DebtCovered),
		CollateralSeized: fixedPoint(r.CollateralSeized),
		Bonus:            fixedPoint(r.Bonus),
		StartingHealth:   newHealthView(r.StartingHealth),
		EndingHealth:     newHealthView(r.EndingHealth),
	}
}
