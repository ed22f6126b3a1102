// Package regulator audits inter-account transfers for reverse flow,
// injection, and velocity abuse, and computes the behavioral tax on
// transfers it allows through. See spec.md §4.5.
//
// Decision order is first-match-wins for blocks; warnings and tax always
// accumulate independently of a warning having fired. The 0.8 tax cap is
// the canonical, current variant — see DESIGN.md for why the legacy 0.5
// cap named in spec.md's Open Questions is not implemented here.
package regulator

import (
	"math"

	"ecobridge/internal/model"
)

const taxCap = 0.8

// Check audits one transfer attempt and returns its verdict. Negative
// amount/balance inputs are clamped to 0 before evaluation.
func Check(ctx *model.TransferContext, cfg *model.RegulatorConfig) model.TransferResult {
	if ctx == nil {
		return model.TransferResult{IsBlocked: 1, WarningCode: model.CodeNullCtx}
	}
	if cfg == nil {
		return model.TransferResult{IsBlocked: 1, WarningCode: model.CodeNullCfg}
	}

	amount := math.Max(ctx.Amount, 0)
	senderBal := math.Max(ctx.SenderBalance, 0)
	receiverBal := math.Max(ctx.ReceiverBalance, 0)

	if amount > senderBal {
		return model.TransferResult{IsBlocked: 1, WarningCode: model.CodeBlockInsufficientFund}
	}

	puppet := puppetFactor(ctx.SenderActivityScore, ctx.SenderVelocity)
	if puppet > cfg.VelocityThreshold {
		return model.TransferResult{IsBlocked: 1, WarningCode: model.CodeBlockVelocityLimit}
	}

	newbieSeconds := cfg.NewbieHours * 3600
	veteranSeconds := cfg.VeteranHours * 3600
	if float64(ctx.SenderPlayTime) < newbieSeconds && float64(ctx.ReceiverPlayTime) > veteranSeconds && amount > ctx.NewbieLimit {
		return model.TransferResult{IsBlocked: 1, WarningCode: model.CodeBlockReverseFlow}
	}

	isVeteranSender := float64(ctx.SenderPlayTime) > veteranSeconds
	isNewbieReceiver := float64(ctx.ReceiverPlayTime) < newbieSeconds
	if isVeteranSender && isNewbieReceiver && receiverBal+amount > cfg.NewbieReceiveLimit {
		return model.TransferResult{IsBlocked: 1, WarningCode: model.CodeBlockInjection}
	}

	warningCode := int32(model.CodeNormal)
	riskRatio := amount / math.Max(senderBal, 1)
	if riskRatio > cfg.WarningRatio || puppet > 0.7*cfg.VelocityThreshold {
		warningCode = model.CodeWarningHighRisk
	}

	tax := computeTax(ctx, cfg, amount, senderBal, receiverBal)

	return model.TransferResult{FinalTax: tax, IsBlocked: 0, WarningCode: warningCode}
}

// puppetFactor is the "account-splitting" proxy: frequency weighted by
// inverse activity. Very low-activity accounts are treated as twice as
// suspicious per unit velocity.
func puppetFactor(activity float64, velocity int64) float64 {
	v := float64(velocity)
	if activity < 0.1 {
		return v * 2.0
	}
	return v / math.Max(activity, 0.1)
}

func computeTax(ctx *model.TransferContext, cfg *model.RegulatorConfig, amount, senderBal, receiverBal float64) float64 {
	inflationAdj := 1 + math.Max(ctx.InflationRate, 0)
	tax := amount * cfg.BaseTaxRate * inflationAdj

	behavioralPenalty := math.Exp(float64(ctx.SenderVelocity) * 0.05)
	tax *= behavioralPenalty

	if amount > cfg.LuxuryThreshold {
		excess := amount - cfg.LuxuryThreshold
		tax += excess * cfg.LuxuryTaxRate
	}

	if senderBal < cfg.PoorThreshold && receiverBal > cfg.RichThreshold {
		gapTax := amount * cfg.WealthGapTaxRate
		tax = math.Max(tax, gapTax)
	}

	return math.Min(tax, amount*taxCap)
}
