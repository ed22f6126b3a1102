package regulator

import (
	"math"
	"testing"

	"ecobridge/internal/model"
)

func defaultCfg() *model.RegulatorConfig {
	return &model.RegulatorConfig{
		BaseTaxRate:        0.05,
		LuxuryThreshold:    100_000,
		LuxuryTaxRate:      0.10,
		WealthGapTaxRate:   0.20,
		PoorThreshold:      10_000,
		RichThreshold:      1_000_000,
		NewbieReceiveLimit: 50_000,
		NewbieHours:        10,
		VeteranHours:       100,
		VelocityThreshold:  20,
		WarningRatio:       0.9,
		WarningMin:         50_000,
	}
}

func TestInsufficientFundsBlocks(t *testing.T) {
	ctx := &model.TransferContext{Amount: 200, SenderBalance: 100}
	res := Check(ctx, defaultCfg())
	if res.IsBlocked != 1 || res.WarningCode != model.CodeBlockInsufficientFund || res.FinalTax != 0 {
		t.Fatalf("got %+v, want blocked code 4 tax 0", res)
	}
}

func TestVelocityAbuseBlocks(t *testing.T) {
	ctx := &model.TransferContext{
		Amount: 100, SenderBalance: 1000,
		SenderActivityScore: 0.05, SenderVelocity: 20,
	}
	res := Check(ctx, defaultCfg())
	if res.IsBlocked != 1 || res.WarningCode != model.CodeBlockVelocityLimit {
		t.Fatalf("got %+v, want blocked code 5 (puppet factor 40 > threshold 20)", res)
	}
}

func TestReverseFlowBlocks(t *testing.T) {
	ctx := &model.TransferContext{
		Amount: 200_000, SenderBalance: 1_000_000,
		SenderPlayTime:   int64(1 * 3600),
		ReceiverPlayTime: int64(200 * 3600),
		NewbieLimit:      5_000,
	}
	res := Check(ctx, defaultCfg())
	if res.IsBlocked != 1 || res.WarningCode != model.CodeBlockReverseFlow {
		t.Fatalf("got %+v, want blocked code 2", res)
	}
}

func TestInjectionBlocks(t *testing.T) {
	ctx := &model.TransferContext{
		Amount: 40_000, SenderBalance: 1_000_000,
		ReceiverBalance:  20_000,
		SenderPlayTime:   int64(200 * 3600),
		ReceiverPlayTime: int64(1 * 3600),
	}
	res := Check(ctx, defaultCfg())
	if res.IsBlocked != 1 || res.WarningCode != model.CodeBlockInjection {
		t.Fatalf("got %+v, want blocked code 3", res)
	}
}

func TestPoorToRichWealthGapFloorAndCap(t *testing.T) {
	ctx := &model.TransferContext{
		Amount: 5_000, SenderBalance: 5_000,
		ReceiverBalance: 2_000_000,
	}
	res := Check(ctx, defaultCfg())
	if res.IsBlocked != 0 {
		t.Fatalf("got blocked=%v, want allowed", res.IsBlocked)
	}
	if res.FinalTax < 0.20*ctx.Amount-1e-9 {
		t.Fatalf("tax %v < 20%% of amount %v, want wealth-gap floor applied", res.FinalTax, ctx.Amount)
	}
	if res.FinalTax > taxCap*ctx.Amount+1e-9 {
		t.Fatalf("tax %v exceeds cap of %v%% of amount", res.FinalTax, taxCap*100)
	}
}

func TestWarningWithoutBlock(t *testing.T) {
	ctx := &model.TransferContext{
		Amount: 950, SenderBalance: 1000,
	}
	res := Check(ctx, defaultCfg())
	if res.IsBlocked != 0 {
		t.Fatalf("expected not blocked, got %+v", res)
	}
	if res.WarningCode != model.CodeWarningHighRisk {
		t.Fatalf("expected high-risk warning for ratio 0.95 > 0.9, got code %d", res.WarningCode)
	}
}

func TestNilCtxReturnsDistinguishedNullCode(t *testing.T) {
	res := Check(nil, defaultCfg())
	if res.IsBlocked != 1 || res.WarningCode != model.CodeNullCtx {
		t.Fatalf("got %+v, want blocked with CodeNullCtx (671)", res)
	}
}

func TestNilCfgReturnsDistinguishedNullCode(t *testing.T) {
	res := Check(&model.TransferContext{Amount: 1, SenderBalance: 10}, nil)
	if res.IsBlocked != 1 || res.WarningCode != model.CodeNullCfg {
		t.Fatalf("got %+v, want blocked with CodeNullCfg (672)", res)
	}
}

func TestPuppetFactorFormula(t *testing.T) {
	if got := puppetFactor(0.05, 20); math.Abs(got-40) > 1e-9 {
		t.Fatalf("puppetFactor(0.05,20) = %v, want 40", got)
	}
	if got := puppetFactor(0.5, 10); math.Abs(got-20) > 1e-9 {
		t.Fatalf("puppetFactor(0.5,10) = %v, want 20", got)
	}
}
