package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"ecobridge/internal/boundary"
	"ecobridge/internal/config"
	"ecobridge/internal/environment"
	"ecobridge/internal/logger"
	"ecobridge/internal/model"
	"ecobridge/internal/pricing"
)

var version = "dev"

// loadDotEnv loads environment variables from a local .env file so a
// double-clicked binary (without a shell) still picks up ECOBRIDGE_*
// settings. Order of lookup:
//  1. ./.env (current working directory)
//  2. <binary-dir>/.env
//
// Existing OS env vars are NOT overridden.
func loadDotEnv() {
	paths := []string{".env"}

	if exePath, err := os.Executable(); err == nil {
		if exeDir := filepath.Dir(exePath); exeDir != "" {
			paths = append(paths, filepath.Join(exeDir, ".env"))
		}
	}

	seen := make(map[string]bool)
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true

		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			l := strings.TrimSpace(line)
			if l == "" || strings.HasPrefix(l, "#") {
				continue
			}
			parts := strings.SplitN(l, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			if key == "" {
				continue
			}
			if os.Getenv(key) == "" {
				os.Setenv(key, val)
			}
		}
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func main() {
	loadDotEnv()

	dbPath := flag.String("db-path", envOrDefault("ECOBRIDGE_DB_PATH", "economy.db"), "cold-store SQLite path")
	readerPoolSize := flag.Int("reader-pool-size", 6, "cold-store reader connection pool size")
	debugEnv := flag.Bool("debug-env", false, "log the timezone-corrected timestamp used by the environment engine")
	flag.Parse()

	environment.Debug = *debugEnv

	logger.Banner(version)

	if code := boundary.InitDB([]byte(*dbPath), *readerPoolSize); code != 0 {
		logger.Error("MAIN", fmt.Sprintf("init_db failed with code %d", code))
		os.Exit(1)
	}
	logger.Success("MAIN", fmt.Sprintf("cold store ready at %s (abi %#x, %s)", *dbPath, boundary.ABIVersionCode(), boundary.VersionString()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runDemo()

	<-ctx.Done()
	logger.Info("MAIN", "shutting down")

	if code := boundary.ShutdownDB(); code != 0 {
		logger.Error("MAIN", fmt.Sprintf("shutdown_db returned code %d", code))
	}
	logger.Info("MAIN", "stopped")
}

// runDemo exercises the main boundary entry points end-to-end against a
// handful of simulated players, the way a host integration would during
// bring-up: a sequence of trades, a tier-price lookup, a batch-pricing
// preview, a PID tick, a transfer check, and the health stats, logged
// through logger.Section/Stats. The bounded/humane price variants, the
// PID reset and the calc_* macro entry points are not called here.
func runDemo() {
	marketCfg := config.DefaultMarket()
	regCfg := config.DefaultRegulator()
	pid := config.DefaultPID()

	logger.Section("Simulated trades")
	now := time.Now().UnixMilli()
	players := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}

	for i, p := range players {
		ts := now - int64(i)*60_000
		tradeCtx := &model.TradeContext{
			BasePrice:        100,
			CurrentAmount:    float64(50 * (i + 1)),
			InflationRate:    0.02,
			CurrentTimestamp: ts,
			PlayTimeSeconds:  int64(10 * 3600),
			TimezoneOffset:   0,
			MarketHeat:       0.4,
			EcoSaturation:    0.3,
		}
		eps := boundary.CalculateEpsilon(tradeCtx, &marketCfg)
		neff := boundary.QueryNeff(ts, 7)
		price := boundary.ComputePriceFinal(tradeCtx.BasePrice, neff, tradeCtx.CurrentAmount, marketCfg.BaseLambda, eps, 95)

		logger.Stats(fmt.Sprintf("trade[%d].price", i), price)
		boundary.LogEvent(ts, p, tradeCtx.CurrentAmount, 1000+float64(i)*100, `{"kind":"sell"}`)
	}

	logger.Section("Tiered bulk price")
	logger.Stats("unit_price(qty=1000,sell)", boundary.ComputeTierPrice(10, 1000, true))

	logger.Section("Batch pricing preview")
	rows := make([]pricing.BatchRow, 100)
	for i := range rows {
		rows[i] = pricing.BatchRow{
			Ctx:     model.TradeContext{BasePrice: float64(10 + i%20), CurrentTimestamp: now, MarketHeat: 0.5},
			Cfg:     marketCfg,
			Lambda:  marketCfg.BaseLambda,
			HistAvg: float64(10 + i%5),
		}
	}
	out := make([]float64, len(rows))
	boundary.ComputeBatchPrices(boundary.QueryNeff(now, 7), rows, out)
	logger.Stats("batch.rows", len(out))
	logger.Stats("batch.min", minFloat(out))

	logger.Section("PID controller tick")
	adj := boundary.ComputePIDAdjustment(&pid, 100, 95, 1.0, 0.02)
	logger.Stats("pid.adjustment", adj)

	logger.Section("Transfer regulator")
	transferCtx := &model.TransferContext{
		Amount: 200_000, SenderBalance: 1_000_000,
		SenderPlayTime: int64(1 * 3600), ReceiverPlayTime: int64(200 * 3600),
		NewbieLimit: 5_000,
	}
	result := boundary.ComputeTransferCheck(transferCtx, &regCfg)
	logger.Stats("transfer.blocked", result.IsBlocked == 1)
	logger.Stats("transfer.warning_code", result.WarningCode)

	logger.Section("Health")
	logger.Info("MAIN", boundary.HealthStatsLine())
}

func minFloat(xs []float64) float64 {
	m := math.Inf(1)
	for _, x := range xs {
		if x < m {
			m = x
		}
	}
	return m
}
