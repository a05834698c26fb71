package config

import (
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"nftrelay/internal/chain"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// AppConfig ties together chain, workflow and service settings.
type AppConfig struct {
	Chain    chain.Descriptor
	Secrets  Secrets
	Workflow WorkflowConfig
	Submit   SubmitConfig
	Service  ServiceConfig
	Log      LogConfig
}

// Secrets are never logged.
type Secrets struct {
	PrivateKey string
	// ServiceKey is the RPC provider credential, sent as a header on every request.
	ServiceKey string
}

type WorkflowConfig struct {
	ContractAddress string
	IncludeMintStep bool
	MintRecipient   string
	TokenURI        string
	TokenIndex      string

	TransferSignature string

	TransferFee     string
	DefaultFee      *big.Int
	DestinationFees map[string]*big.Int
}

type SubmitConfig struct {
	Wait             chain.WaitPolicy
	GasBufferPercent int
}

type ServiceConfig struct {
	HTTPPort       int
	CORSOrigins    []string
	HMACSecret     string
	HMACClockSkew  time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	JournalDSN     string
	JournalLimit   int
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// FeeTable is the optional yaml file overriding the transfer fee per destination.
//
//	default: "0.1"
//	destinations:
//	  "7000": "0.05"
type FeeTable struct {
	Default      string            `yaml:"default"`
	Destinations map[string]string `yaml:"destinations"`
}

const defaultTransferFee = "0.1"

// Load reads an optional .env file and then the environment. Every missing required
// key is reported in a single ConfigurationMissing error.
func Load(envFiles ...string) (*AppConfig, error) {
	if err := loadDotenv(envFiles...); err != nil {
		return nil, err
	}

	var missing, invalid []string
	required := func(key string) string {
		val := strings.TrimSpace(os.Getenv(key))
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}
	check := func(key string, err error) {
		if err != nil {
			invalid = append(invalid, key)
		}
	}

	cfg := &AppConfig{}

	cfg.Secrets = Secrets{
		PrivateKey: required("WALLET_PRIVATE_KEY"),
		ServiceKey: required("THIRDWEB_SECRET_KEY"),
	}

	var err error
	d := chain.ZetaAthens
	d.ChainID, err = envOrInt64("CHAIN_ID", d.ChainID)
	check("CHAIN_ID", err)
	d.RPCURL = envOr("CHAIN_RPC_URL", d.RPCURL)
	d.NativeCurrency.Name = envOr("NATIVE_NAME", d.NativeCurrency.Name)
	d.NativeCurrency.Symbol = envOr("NATIVE_SYMBOL", d.NativeCurrency.Symbol)
	decimals, err := envOrInt("NATIVE_DECIMALS", int(d.NativeCurrency.Decimals))
	check("NATIVE_DECIMALS", err)
	d.NativeCurrency.Decimals = int32(decimals)
	cfg.Chain = d

	wf := WorkflowConfig{
		ContractAddress:   required("CONTRACT_ADDRESS"),
		TokenIndex:        strings.ToLower(envOr("TOKEN_INDEX_STRATEGY", "first")),
		TransferSignature: envOr("TRANSFER_SIGNATURE", ""),
		TransferFee:       envOr("TRANSFER_FEE", defaultTransferFee),
	}
	// Minting first is the stock deployment; transfer-only must be asked for.
	wf.IncludeMintStep, err = envOrBool("INCLUDE_MINT_STEP", true)
	check("INCLUDE_MINT_STEP", err)
	if wf.IncludeMintStep {
		wf.MintRecipient = required("TO_ADDRESS")
		wf.TokenURI = required("TOKEN_URI")
	}
	cfg.Workflow = wf

	sub := SubmitConfig{Wait: chain.DefaultWaitPolicy}
	confirmations, err := envOrInt("CONFIRMATIONS", int(sub.Wait.Confirmations))
	check("CONFIRMATIONS", err)
	if confirmations < 1 {
		invalid = append(invalid, "CONFIRMATIONS")
	}
	sub.Wait.Confirmations = uint64(max(confirmations, 1))
	timeoutSecs, err := envOrInt("CONFIRM_TIMEOUT_SECONDS", int(sub.Wait.Timeout/time.Second))
	check("CONFIRM_TIMEOUT_SECONDS", err)
	sub.Wait.Timeout = time.Duration(timeoutSecs) * time.Second
	pollMs, err := envOrInt("RECEIPT_POLL_MS", int(sub.Wait.PollInterval/time.Millisecond))
	check("RECEIPT_POLL_MS", err)
	sub.Wait.PollInterval = time.Duration(pollMs) * time.Millisecond
	sub.GasBufferPercent, err = envOrInt("GAS_LIMIT_BUFFER_PERCENT", 20)
	check("GAS_LIMIT_BUFFER_PERCENT", err)
	cfg.Submit = sub

	svc := ServiceConfig{
		CORSOrigins: splitList(envOr("CORS_ALLOWED_ORIGINS", "*")),
		HMACSecret:  envOr("HMAC_SECRET", ""),
		JournalDSN:  envOr("JOURNAL_POSTGRES_DSN", ""),
	}
	svc.HTTPPort, err = envOrInt("API_HTTP_PORT", 3000)
	check("API_HTTP_PORT", err)
	skew, err := envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)
	check("HMAC_CLOCK_SKEW_SECONDS", err)
	svc.HMACClockSkew = time.Duration(skew) * time.Second
	svc.RateLimitRPS, err = envOrFloat("RATE_LIMIT_RPS", 5)
	check("RATE_LIMIT_RPS", err)
	svc.RateLimitBurst, err = envOrInt("RATE_LIMIT_BURST", 10)
	check("RATE_LIMIT_BURST", err)
	svc.JournalLimit, err = envOrInt("JOURNAL_MEMORY_LIMIT", 10000)
	check("JOURNAL_MEMORY_LIMIT", err)
	cfg.Service = svc

	cfg.Log = LogConfig{Level: envOr("LOG_LEVEL", "info")}
	cfg.Log.Pretty, err = envOrBool("LOG_PRETTY", false)
	check("LOG_PRETTY", err)

	if len(missing) > 0 {
		return nil, chain.Errorf(chain.KindConfigurationMissing, "config", "missing required environment: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return nil, chain.Errorf(chain.KindConfigurationMissing, "config", "invalid values for: %s", strings.Join(invalid, ", "))
	}
	if err := cfg.Chain.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.resolveFees(envOr("FEE_TABLE_PATH", "")); err != nil {
		return nil, chain.Errorf(chain.KindConfigurationMissing, "config", "%v", err)
	}
	return cfg, nil
}

func loadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, path := range files {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return errors.Wrapf(err, "load %s", path)
		}
	}
	return nil
}

// resolveFees converts the configured amounts into the chain's smallest unit.
func (c *AppConfig) resolveFees(tablePath string) error {
	table := FeeTable{Default: c.Workflow.TransferFee}
	if tablePath != "" {
		loaded, err := LoadFeeTable(tablePath)
		if err != nil {
			return err
		}
		if loaded.Default != "" {
			table.Default = loaded.Default
		}
		table.Destinations = loaded.Destinations
	}

	def, err := c.Chain.ToWei(table.Default)
	if err != nil {
		return errors.Wrap(err, "transfer fee")
	}
	c.Workflow.DefaultFee = def
	c.Workflow.DestinationFees = make(map[string]*big.Int, len(table.Destinations))
	for dest, amount := range table.Destinations {
		fee, err := c.Chain.ToWei(amount)
		if err != nil {
			return errors.Wrapf(err, "fee for destination %s", dest)
		}
		c.Workflow.DestinationFees[dest] = fee
	}
	return nil
}

func LoadFeeTable(path string) (*FeeTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read fee table")
	}
	var table FeeTable
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return nil, errors.Wrapf(err, "parse fee table %s", path)
	}
	return &table, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && strings.TrimSpace(val) != "" {
		return strings.TrimSpace(val)
	}
	return fallback
}

func envOrInt(key string, fallback int) (int, error) {
	val := envOr(key, "")
	if val == "" {
		return fallback, nil
	}
	return strconv.Atoi(val)
}

func envOrInt64(key string, fallback int64) (int64, error) {
	val := envOr(key, "")
	if val == "" {
		return fallback, nil
	}
	return strconv.ParseInt(val, 10, 64)
}

func envOrFloat(key string, fallback float64) (float64, error) {
	val := envOr(key, "")
	if val == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(val, 64)
}

func envOrBool(key string, fallback bool) (bool, error) {
	val := envOr(key, "")
	if val == "" {
		return fallback, nil
	}
	return strconv.ParseBool(val)
}
