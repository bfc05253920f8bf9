// Package config loads the engine's configuration through viper: defaults
// matching the original settings module, overridable by a YAML file in
// DataDir and OPTOPUS_*-prefixed environment variables, with optional
// re-decoding of those settings on file change via fsnotify. The watch list
// is not read from the file or the environment; it is always
// DefaultWatchList.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/atlas-quant/optopus-engine/pkg/types"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Windows holds the rolling-window lengths ComputeKernel uses.
type Windows struct {
	Stdev        int
	Beta         int
	Correlation  int
	Price        int
	IV           int
	RSI          int
	FastSMA      int
	SlowSMA      int
	VerySlowSMA  int
}

// Risk holds the sizing limits OrderCoordinator enforces.
type Risk struct {
	PreservedCashFactor float64
	MaximumRiskFactor   float64
}

// Chain holds the option-chain discovery filters.
type Chain struct {
	DTEMin      int
	DTEMax      int
	Expirations []string
}

// Config is the engine's complete runtime configuration.
type Config struct {
	Currency        types.Currency
	HistoricalYears int
	MarketBenchmark string
	Windows         Windows
	Chain           Chain
	Risk            Risk
	SleepLoop       time.Duration
	DataDir         string
	StrategyDir     string
	WatchList       []types.AssetDef
}

// HistoricalDays is HISTORICAL_YEARS × 252 trading days.
func (c Config) HistoricalDays() int {
	return c.HistoricalYears * 252
}

// Default returns the configuration matching the original source's
// settings module: CURRENCY=USD, HISTORICAL_YEARS=1, MARKET_BENCHMARK=SPY,
// STDEV_DAYS=22, BETA_PERIOD=252, CORRELATION_PERIOD=252, PRICE_PERIOD=22,
// IV_PERIOD=22, DTE_MIN=0, DTE_MAX=50, PRESERVED_CASH_FACTOR=0.4,
// MAXIMUM_RISK_FACTOR=0.05, SLEEP_LOOP=20s.
func Default() Config {
	return Config{
		Currency:        types.USD,
		HistoricalYears: 1,
		MarketBenchmark: "SPY",
		Windows: Windows{
			Stdev:       22,
			Beta:        252,
			Correlation: 252,
			Price:       22,
			IV:          22,
			RSI:         14,
			FastSMA:     20,
			SlowSMA:     50,
			VerySlowSMA: 200,
		},
		Chain: Chain{
			DTEMin: 0,
			DTEMax: 50,
		},
		Risk: Risk{
			PreservedCashFactor: 0.4,
			MaximumRiskFactor:   0.05,
		},
		SleepLoop:   20 * time.Second,
		DataDir:     "data",
		StrategyDir: "strategy",
		WatchList:   DefaultWatchList(),
	}
}

// DefaultWatchList is the static list of ETF/index codes the engine
// watches out of the box, matching the original source's watch_list
// module (all typed as Stock/ETF for broker qualification purposes).
func DefaultWatchList() []types.AssetDef {
	codes := []string{
		"DIA", "EEM", "EFA", "EWZ", "FXI", "GDX", "GDXJ", "GLD", "IWM", "KRE",
		"OIH", "SLV", "SPY", "TLT", "XBI", "XLB", "XLE", "XLF", "XLI", "XLK",
		"XLP", "XLU", "XME", "XOP", "XRT",
	}
	out := make([]types.AssetDef, 0, len(codes))
	for _, code := range codes {
		out = append(out, types.AssetDef{Code: code, AssetType: types.AssetETF, Currency: types.USD})
	}
	return out
}

// Load builds a viper instance seeded with Default()'s values, then merges
// an optional config.yaml from dataDir and OPTOPUS_*-prefixed environment
// variables over it. Window lengths and the other scalar settings may be
// edited on disk afterward; call Watch to react to that without a restart.
// The watch list always stays DefaultWatchList.
func Load(logger *zap.Logger, dataDir string) (Config, *viper.Viper, error) {
	defaults := Default()
	if dataDir != "" {
		defaults.DataDir = dataDir
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(defaults.DataDir)
	v.SetEnvPrefix("OPTOPUS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v, defaults)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, nil, fmt.Errorf("reading config: %w", err)
		}
		logger.Info("no config.yaml found, using defaults", zap.String("dataDir", defaults.DataDir))
	}

	cfg, err := fromViper(v, defaults)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, v, nil
}

// Watch re-reads the config on every fsnotify change event (viper.OnConfigChange)
// and invokes onChange with the freshly decoded Config. The Engine does not
// observe reloads: it keeps the Config it was constructed with, so a new
// Config reaches only whatever onChange itself updates.
func Watch(v *viper.Viper, defaults Config, logger *zap.Logger, onChange func(Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := fromViper(v, defaults)
		if err != nil {
			logger.Warn("config reload failed, keeping previous config", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info("config reloaded", zap.String("file", e.Name))
		onChange(cfg)
	})
	v.WatchConfig()
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("currency", string(d.Currency))
	v.SetDefault("historical_years", d.HistoricalYears)
	v.SetDefault("market_benchmark", d.MarketBenchmark)
	v.SetDefault("windows.stdev", d.Windows.Stdev)
	v.SetDefault("windows.beta", d.Windows.Beta)
	v.SetDefault("windows.correlation", d.Windows.Correlation)
	v.SetDefault("windows.price", d.Windows.Price)
	v.SetDefault("windows.iv", d.Windows.IV)
	v.SetDefault("windows.rsi", d.Windows.RSI)
	v.SetDefault("windows.fast_sma", d.Windows.FastSMA)
	v.SetDefault("windows.slow_sma", d.Windows.SlowSMA)
	v.SetDefault("windows.very_slow_sma", d.Windows.VerySlowSMA)
	v.SetDefault("chain.dte_min", d.Chain.DTEMin)
	v.SetDefault("chain.dte_max", d.Chain.DTEMax)
	v.SetDefault("chain.expirations", d.Chain.Expirations)
	v.SetDefault("risk.preserved_cash_factor", d.Risk.PreservedCashFactor)
	v.SetDefault("risk.maximum_risk_factor", d.Risk.MaximumRiskFactor)
	v.SetDefault("sleep_loop_seconds", int(d.SleepLoop.Seconds()))
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("strategy_dir", d.StrategyDir)
}

func fromViper(v *viper.Viper, defaults Config) (Config, error) {
	cfg := defaults
	cfg.Currency = types.Currency(v.GetString("currency"))
	cfg.HistoricalYears = v.GetInt("historical_years")
	cfg.MarketBenchmark = v.GetString("market_benchmark")
	cfg.Windows = Windows{
		Stdev:       v.GetInt("windows.stdev"),
		Beta:        v.GetInt("windows.beta"),
		Correlation: v.GetInt("windows.correlation"),
		Price:       v.GetInt("windows.price"),
		IV:          v.GetInt("windows.iv"),
		RSI:         v.GetInt("windows.rsi"),
		FastSMA:     v.GetInt("windows.fast_sma"),
		SlowSMA:     v.GetInt("windows.slow_sma"),
		VerySlowSMA: v.GetInt("windows.very_slow_sma"),
	}
	cfg.Chain = Chain{
		DTEMin:      v.GetInt("chain.dte_min"),
		DTEMax:      v.GetInt("chain.dte_max"),
		Expirations: v.GetStringSlice("chain.expirations"),
	}
	cfg.Risk = Risk{
		PreservedCashFactor: v.GetFloat64("risk.preserved_cash_factor"),
		MaximumRiskFactor:   v.GetFloat64("risk.maximum_risk_factor"),
	}
	cfg.SleepLoop = time.Duration(v.GetInt("sleep_loop_seconds")) * time.Second
	cfg.DataDir = v.GetString("data_dir")
	cfg.StrategyDir = v.GetString("strategy_dir")
	return cfg, nil
}
