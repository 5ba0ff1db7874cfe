package dsc

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"dscengine/core/events"
)

const (
	EventTypeCollateralDeposited = "dsc.collateral.deposited"
	EventTypeCollateralRedeemed  = "dsc.collateral.redeemed"
	EventTypeDSCMinted           = "dsc.minted"
	EventTypeDSCBurned           = "dsc.burned"
	EventTypeLiquidated          = "dsc.liquidated"
)

// CollateralDeposited is raised when collateral is credited to an account.
type CollateralDeposited struct {
	ID     uuid.UUID
	User   common.Address
	Token  common.Address
	Amount *big.Int
}

func (CollateralDeposited) EventType() string { return EventTypeCollateralDeposited }

func (e CollateralDeposited) Record() events.Record {
	return events.Record{
		Type: EventTypeCollateralDeposited,
		Attributes: map[string]string{
			"id":     e.ID.String(),
			"user":   e.User.Hex(),
			"token":  e.Token.Hex(),
			"amount": formatAmount(e.Amount),
		},
	}
}

// CollateralRedeemed is raised when collateral leaves an account, either by
// redemption or by liquidation seizure.
type CollateralRedeemed struct {
	ID     uuid.UUID
	From   common.Address
	To     common.Address
	Token  common.Address
	Amount *big.Int
}

func (CollateralRedeemed) EventType() string { return EventTypeCollateralRedeemed }

func (e CollateralRedeemed) Record() events.Record {
	return events.Record{
		Type: EventTypeCollateralRedeemed,
		Attributes: map[string]string{
			"id":     e.ID.String(),
			"from":   e.From.Hex(),
			"to":     e.To.Hex(),
			"token":  e.Token.Hex(),
			"amount": formatAmount(e.Amount),
		},
	}
}

// DSCMinted is raised when debt is issued to an account.
type DSCMinted struct {
	ID     uuid.UUID
	User   common.Address
	Amount *big.Int
}

func (DSCMinted) EventType() string { return EventTypeDSCMinted }

func (e DSCMinted) Record() events.Record {
	return events.Record{
		Type: EventTypeDSCMinted,
		Attributes: map[string]string{
			"id":     e.ID.String(),
			"user":   e.User.Hex(),
			"amount": formatAmount(e.Amount),
		},
	}
}

// DSCBurned is raised when debt is repaid and the stable asset retired.
type DSCBurned struct {
	ID         uuid.UUID
	OnBehalfOf common.Address
	Payer      common.Address
	Amount     *big.Int
}

func (DSCBurned) EventType() string { return EventTypeDSCBurned }

func (e DSCBurned) Record() events.Record {
	return events.Record{
		Type: EventTypeDSCBurned,
		Attributes: map[string]string{
			"id":         e.ID.String(),
			"onBehalfOf": e.OnBehalfOf.Hex(),
			"payer":      e.Payer.Hex(),
			"amount":     formatAmount(e.Amount),
		},
	}
}

// Liquidated is raised after a liquidation commits.
type Liquidated struct {
	ID         uuid.UUID
	Liquidator common.Address
	Result     LiquidationResult
}

func (Liquidated) EventType() string { return EventTypeLiquidated }

func (e Liquidated) Record() events.Record {
	return events.Record{
		Type: EventTypeLiquidated,
		Attributes: map[string]string{
			"id":             e.ID.String(),
			"liquidator":     e.Liquidator.Hex(),
			"user":           e.Result.User.Hex(),
			"collateral":     e.Result.Collateral.Hex(),
			"debtCovered":    formatAmount(e.Result.DebtCovered),
			"seized":         formatAmount(e.Result.CollateralSeized),
			"bonus":          formatAmount(e.Result.Bonus),
			"startingHealth": formatAmount(e.Result.StartingHealth),
			"endingHealth":   formatAmount(e.Result.EndingHealth),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
