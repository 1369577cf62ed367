package domain

import "github.com/shopspring/decimal"

// Fees is the pool's fee schedule. Each rate is a fraction of the relevant
// trade component; Max* are the caps the contract enforces at deploy time.
type Fees struct {
	Curve      decimal.Decimal
	Flat       decimal.Decimal
	Governance decimal.Decimal

	MaxCurve      decimal.Decimal
	MaxFlat       decimal.Decimal
	MaxGovernance decimal.Decimal
}

// PoolConfig is the immutable part of the pool, fixed at deployment.
type PoolConfig struct {
	ContractAddress    string
	PositionDuration   int64 // seconds
	CheckpointDuration int64 // seconds
	Fees               Fees
	MinimumTransaction decimal.Decimal
	InitialSharePrice  decimal.Decimal
}

// PoolState is a point-in-time snapshot of the pool, read through the chain
// gateway. The engine never mutates it directly, only through submitted
// trades. The solver works on value copies ("scratch" states) that are
// discarded after each call; plain struct value semantics keep the
// authoritative snapshot and the scratch copies from aliasing.
type PoolState struct {
	Config PoolConfig

	ShareReserves   decimal.Decimal
	BondReserves    decimal.Decimal
	LPTotalSupply   decimal.Decimal
	VaultSharePrice decimal.Decimal
	VariableRate    decimal.Decimal

	BlockNumber uint64
	BlockTime   int64 // unix seconds
}

// LatestCheckpoint returns the start of the checkpoint containing BlockTime.
func (p PoolState) LatestCheckpoint() int64 {
	if p.Config.CheckpointDuration <= 0 {
		return p.BlockTime
	}
	return p.BlockTime - p.BlockTime%p.Config.CheckpointDuration
}

// NewMaturity returns the maturity assigned to a position minted now:
// the latest checkpoint plus the position duration.
func (p PoolState) NewMaturity() int64 {
	return p.LatestCheckpoint() + p.Config.PositionDuration
}
