package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/radiant-proxy/rxdproxy/internal/vardiff"
)

// Config is the proxy's fully resolved configuration: environment
// variables take precedence over an optional YAML file, which in turn
// overrides the defaults below.
type Config struct {
	IP   string
	Port int

	RPCHost string
	RPCPort int
	RPCUser string
	RPCPass string

	Testnet bool

	ProxySignature string

	EnableZMQ   bool
	ZMQEndpoint string

	StaticShareDifficulty float64
	Extranonce2Size       int
	NtimeRollSeconds       int64

	VarDiffEnabled         bool
	VarDiffStartDifficulty float64
	VarDiff                vardiff.Config

	SubmitHistoryPath string
	LogLevel          string
}

// fileOverlay mirrors Config for YAML decoding. Every field is a
// pointer so an absent key in the file leaves the default untouched.
type fileOverlay struct {
	IP                     *string  `yaml:"ip"`
	Port                   *int     `yaml:"port"`
	RPCHost                *string  `yaml:"rpcip"`
	RPCPort                *int     `yaml:"rpcport"`
	RPCUser                *string  `yaml:"rpcuser"`
	RPCPass                *string  `yaml:"rpcpass"`
	Testnet                *bool    `yaml:"testnet"`
	ProxySignature         *string  `yaml:"proxy_signature"`
	EnableZMQ              *bool    `yaml:"enable_zmq"`
	ZMQEndpoint            *string  `yaml:"rxd_zmq_endpoint"`
	StaticShareDifficulty  *float64 `yaml:"static_share_difficulty"`
	NtimeRollSeconds       *int64   `yaml:"ntime_roll"`
	VarDiffEnabled         *bool    `yaml:"enable_vardiff"`
	VarDiffStartDifficulty *float64 `yaml:"vardiff_start_difficulty"`
	VarDiffTargetInterval  *float64 `yaml:"vardiff_target_interval"`
	VarDiffMinDifficulty   *float64 `yaml:"vardiff_min_difficulty"`
	VarDiffMaxDifficulty   *float64 `yaml:"vardiff_max_difficulty"`
	VarDiffRetargetShares  *int     `yaml:"vardiff_retarget_shares"`
	VarDiffRetargetTime    *float64 `yaml:"vardiff_retarget_time"`
	VarDiffUpStep          *float64 `yaml:"vardiff_up_step"`
	VarDiffDownStep        *float64 `yaml:"vardiff_down_step"`
	VarDiffEMAAlpha        *float64 `yaml:"vardiff_ema_alpha"`
	VarDiffInactivityLower *float64 `yaml:"vardiff_inactivity_lower"`
	VarDiffInactivityMult  *float64 `yaml:"vardiff_inactivity_multiples"`
	VarDiffInactivityDrop  *float64 `yaml:"vardiff_inactivity_drop_factor"`
	VarDiffStatePath       *string  `yaml:"vardiff_state_path"`
	VarDiffChainHeadroom   *float64 `yaml:"vardiff_chain_headroom"`
	LogLevel               *string `yaml:"log_level"`
}

// Default returns the proxy's baked-in defaults, matching the reference
// implementation's config.py.
func Default() Config {
	return Config{
		IP:                     "0.0.0.0",
		Port:                   54321,
		RPCPort:                7332,
		EnableZMQ:              true,
		StaticShareDifficulty:  1.0,
		Extranonce2Size:        4,
		NtimeRollSeconds:       30,
		VarDiffStartDifficulty: 16.0,
		VarDiff:                vardiff.DefaultConfig(),
		SubmitHistoryPath:      "data/submit_history.jsonl",
		LogLevel:               "info",
	}
}

// Load resolves the proxy's configuration: defaults, then an optional
// YAML file named by CONFIG_FILE, then environment variable overrides,
// each layer overriding the one before it.
func Load() (Config, error) {
	cfg := Default()

	if path := GetEnv("CONFIG_FILE", ""); path != "" {
		if err := applyYAMLFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	cfg.IP = GetEnv("IP", cfg.IP)
	cfg.Port = GetEnvInt("PORT", cfg.Port)
	cfg.RPCHost = GetEnv("RPCIP", cfg.RPCHost)
	cfg.RPCPort = GetEnvInt("RPCPORT", cfg.RPCPort)
	cfg.RPCUser = GetEnv("RPCUSER", cfg.RPCUser)
	cfg.RPCPass = GetEnv("RPCPASS", cfg.RPCPass)
	cfg.Testnet = GetEnvBool("TESTNET", cfg.Testnet)
	cfg.ProxySignature = GetEnv("PROXY_SIGNATURE", cfg.ProxySignature)
	cfg.EnableZMQ = GetEnvBool("ENABLE_ZMQ", cfg.EnableZMQ)
	cfg.ZMQEndpoint = GetEnv("RXD_ZMQ_ENDPOINT", cfg.ZMQEndpoint)
	cfg.StaticShareDifficulty = clamp(GetEnvFloat64("STATIC_SHARE_DIFFICULTY", cfg.StaticShareDifficulty), 0.001, 1e7)
	cfg.NtimeRollSeconds = GetEnvInt64("NTIME_ROLL_SECONDS", cfg.NtimeRollSeconds)
	cfg.LogLevel = GetEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.SubmitHistoryPath = GetEnv("SUBMIT_HISTORY_PATH", cfg.SubmitHistoryPath)

	cfg.VarDiffEnabled = GetEnvBool("ENABLE_VARDIFF", cfg.VarDiffEnabled)
	cfg.VarDiffStartDifficulty = GetEnvFloat64("VARDIFF_START_DIFFICULTY", cfg.VarDiffStartDifficulty)
	cfg.VarDiff.StartDifficulty = cfg.VarDiffStartDifficulty
	cfg.VarDiff.TargetShareTime = GetEnvFloat64("VARDIFF_TARGET_INTERVAL", cfg.VarDiff.TargetShareTime)
	cfg.VarDiff.MinDifficulty = GetEnvFloat64("VARDIFF_MIN_DIFFICULTY", cfg.VarDiff.MinDifficulty)
	cfg.VarDiff.MaxDifficulty = GetEnvFloat64("VARDIFF_MAX_DIFFICULTY", cfg.VarDiff.MaxDifficulty)
	cfg.VarDiff.RetargetShares = GetEnvInt("VARDIFF_RETARGET_SHARES", cfg.VarDiff.RetargetShares)
	cfg.VarDiff.RetargetTime = GetEnvFloat64("VARDIFF_RETARGET_TIME", cfg.VarDiff.RetargetTime)
	cfg.VarDiff.UpStep = GetEnvFloat64("VARDIFF_UP_STEP", cfg.VarDiff.UpStep)
	cfg.VarDiff.DownStep = GetEnvFloat64("VARDIFF_DOWN_STEP", cfg.VarDiff.DownStep)
	cfg.VarDiff.EMAAlpha = GetEnvFloat64("VARDIFF_EMA_ALPHA", cfg.VarDiff.EMAAlpha)
	cfg.VarDiff.InactivityLower = GetEnvFloat64("VARDIFF_INACTIVITY_LOWER", cfg.VarDiff.InactivityLower)
	cfg.VarDiff.InactivityMultiples = GetEnvFloat64("VARDIFF_INACTIVITY_MULTIPLES", cfg.VarDiff.InactivityMultiples)
	cfg.VarDiff.InactivityDropFactor = GetEnvFloat64("VARDIFF_INACTIVITY_DROP_FACTOR", cfg.VarDiff.InactivityDropFactor)
	cfg.VarDiff.StatePath = GetEnv("VARDIFF_STATE_PATH", cfg.VarDiff.StatePath)
	cfg.VarDiff.ChainHeadroom = GetEnvFloat64("VARDIFF_CHAIN_HEADROOM", cfg.VarDiff.ChainHeadroom)

	if cfg.RPCHost == "" || cfg.RPCUser == "" || cfg.RPCPass == "" {
		return Config{}, fmt.Errorf("config: rpcip, rpcuser and rpcpass are required")
	}
	return cfg, nil
}

func applyYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	setString(&cfg.IP, overlay.IP)
	setInt(&cfg.Port, overlay.Port)
	setString(&cfg.RPCHost, overlay.RPCHost)
	setInt(&cfg.RPCPort, overlay.RPCPort)
	setString(&cfg.RPCUser, overlay.RPCUser)
	setString(&cfg.RPCPass, overlay.RPCPass)
	setBool(&cfg.Testnet, overlay.Testnet)
	setString(&cfg.ProxySignature, overlay.ProxySignature)
	setBool(&cfg.EnableZMQ, overlay.EnableZMQ)
	setString(&cfg.ZMQEndpoint, overlay.ZMQEndpoint)
	setFloat(&cfg.StaticShareDifficulty, overlay.StaticShareDifficulty)
	setInt64(&cfg.NtimeRollSeconds, overlay.NtimeRollSeconds)
	setBool(&cfg.VarDiffEnabled, overlay.VarDiffEnabled)
	setFloat(&cfg.VarDiffStartDifficulty, overlay.VarDiffStartDifficulty)
	setFloat(&cfg.VarDiff.TargetShareTime, overlay.VarDiffTargetInterval)
	setFloat(&cfg.VarDiff.MinDifficulty, overlay.VarDiffMinDifficulty)
	setFloat(&cfg.VarDiff.MaxDifficulty, overlay.VarDiffMaxDifficulty)
	setInt(&cfg.VarDiff.RetargetShares, overlay.VarDiffRetargetShares)
	setFloat(&cfg.VarDiff.RetargetTime, overlay.VarDiffRetargetTime)
	setFloat(&cfg.VarDiff.UpStep, overlay.VarDiffUpStep)
	setFloat(&cfg.VarDiff.DownStep, overlay.VarDiffDownStep)
	setFloat(&cfg.VarDiff.EMAAlpha, overlay.VarDiffEMAAlpha)
	setFloat(&cfg.VarDiff.InactivityLower, overlay.VarDiffInactivityLower)
	setFloat(&cfg.VarDiff.InactivityMultiples, overlay.VarDiffInactivityMult)
	setFloat(&cfg.VarDiff.InactivityDropFactor, overlay.VarDiffInactivityDrop)
	setString(&cfg.VarDiff.StatePath, overlay.VarDiffStatePath)
	setFloat(&cfg.VarDiff.ChainHeadroom, overlay.VarDiffChainHeadroom)
	setString(&cfg.LogLevel, overlay.LogLevel)

	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setInt64(dst *int64, src *int64) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
