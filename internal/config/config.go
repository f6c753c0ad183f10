package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/coldbell/raffle/crank/internal/raffle"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

type LogConfig struct {
	Level    string
	Format   string
	Output   string
	FilePath string
}

const (
	NotifierTelegram = "telegram"
	NotifierKafka    = "kafka"
	NotifierLog      = "log"
)

type TelegramConfig struct {
	APIURL   string
	BotToken string
	ChatID   string
	Timeout  time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	Key     string
}

type NotifierConfig struct {
	Kind     string
	Telegram TelegramConfig
	Kafka    KafkaConfig
}

type StatusConfig struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	StaleAfter   time.Duration
}

type CrankConfig struct {
	RPCURL                        string
	Commitment                    rpc.CommitmentType
	ProgramID                     solana.PublicKey
	RaffleAccount                 solana.PublicKey
	Encoding                      raffle.PayloadEncoding
	KeypairPath                   string
	PrivateKey                    string
	PollInterval                  time.Duration
	TickTimeout                   time.Duration
	ConfirmTimeout                time.Duration
	ConfirmCommitment             rpc.CommitmentType
	PendingTTL                    time.Duration
	SkipPreflight                 bool
	MaxRetries                    *uint
	ComputeUnitLimit              uint32
	ComputeUnitPriceMicroLamports uint64
	UseClusterClock               bool
	StateDir                      string
	DBDSN                         string
	MetricsNamespace              string
	Notifier                      NotifierConfig
	Status                        StatusConfig
	Log                           LogConfig
}

var (
	defaultProgramID     = solana.MustPublicKeyFromBase58("87JSCiht1TyXmT1yHbYZpKGtgJRhKzBYyFrmENvAogef")
	defaultRaffleAccount = solana.MustPublicKeyFromBase58("3Qik6y2XjCymmam65y1s8Tm4MATUpaH18TKDa6TSvexv")
)

func LoadCrankConfig() (CrankConfig, error) {
	src, err := runtimeSource()
	if err != nil {
		return CrankConfig{}, err
	}
	return loadCrankConfig(src)
}

func loadCrankConfig(src *source) (CrankConfig, error) {
	keypairPath := src.valueOr("CRANK_KEYPAIR_PATH", src.valueOr("SOLANA_KEYPAIR_PATH", "~/.config/solana/id.json"))
	expandedKeypair, err := expandHomePath(keypairPath)
	if err != nil {
		return CrankConfig{}, fmt.Errorf("expand keypair path: %w", err)
	}

	commitment, err := src.envCommitment("SOLANA_COMMITMENT", rpc.CommitmentConfirmed)
	if err != nil {
		return CrankConfig{}, err
	}
	confirmCommitment, err := src.envCommitment("CRANK_CONFIRM_COMMITMENT", rpc.CommitmentConfirmed)
	if err != nil {
		return CrankConfig{}, err
	}

	programID, err := src.envPubkey("RAFFLE_PROGRAM_ID", defaultProgramID)
	if err != nil {
		return CrankConfig{}, err
	}
	raffleAccount, err := src.envPubkey("RAFFLE_ACCOUNT", defaultRaffleAccount)
	if err != nil {
		return CrankConfig{}, err
	}
	encoding, err := raffle.ParsePayloadEncoding(src.value("RAFFLE_END_ROUND_ENCODING"))
	if err != nil {
		return CrankConfig{}, fmt.Errorf("invalid RAFFLE_END_ROUND_ENCODING: %w", err)
	}

	pollInterval, err := src.envDuration("CRANK_POLL_INTERVAL", 60*time.Second)
	if err != nil {
		return CrankConfig{}, err
	}
	tickTimeout, err := src.envDuration("CRANK_TICK_TIMEOUT", pollInterval)
	if err != nil {
		return CrankConfig{}, err
	}
	confirmTimeout, err := src.envDuration("CRANK_CONFIRM_TIMEOUT", 30*time.Second)
	if err != nil {
		return CrankConfig{}, err
	}
	pendingTTL, err := src.envDuration("CRANK_PENDING_TTL", 2*time.Minute)
	if err != nil {
		return CrankConfig{}, err
	}

	skipPreflight, err := src.envBool("CRANK_SKIP_PREFLIGHT", false)
	if err != nil {
		return CrankConfig{}, err
	}
	maxRetries, err := src.envOptionalUint("CRANK_MAX_RETRIES")
	if err != nil {
		return CrankConfig{}, err
	}
	cuLimit, err := src.envUint32("CRANK_COMPUTE_UNIT_LIMIT", 0)
	if err != nil {
		return CrankConfig{}, err
	}
	cuPrice, err := src.envUint64("CRANK_COMPUTE_UNIT_PRICE_MICRO_LAMPORTS", 0)
	if err != nil {
		return CrankConfig{}, err
	}
	useClusterClock, err := src.envBool("CRANK_USE_CLUSTER_CLOCK", true)
	if err != nil {
		return CrankConfig{}, err
	}

	stateDir, err := expandHomePath(src.value("CRANK_STATE_DIR"))
	if err != nil {
		return CrankConfig{}, fmt.Errorf("expand state dir: %w", err)
	}

	notifier, err := loadNotifierConfig(src, raffleAccount)
	if err != nil {
		return CrankConfig{}, err
	}
	status, err := loadStatusConfig(src, pollInterval)
	if err != nil {
		return CrankConfig{}, err
	}

	return CrankConfig{
		RPCURL:                        src.valueOr("SOLANA_RPC_URL", "http://127.0.0.1:8899"),
		Commitment:                    commitment,
		ProgramID:                     programID,
		RaffleAccount:                 raffleAccount,
		Encoding:                      encoding,
		KeypairPath:                   expandedKeypair,
		PrivateKey:                    src.value("CRANK_PRIVATE_KEY"),
		PollInterval:                  pollInterval,
		TickTimeout:                   tickTimeout,
		ConfirmTimeout:                confirmTimeout,
		ConfirmCommitment:             confirmCommitment,
		PendingTTL:                    pendingTTL,
		SkipPreflight:                 skipPreflight,
		MaxRetries:                    maxRetries,
		ComputeUnitLimit:              cuLimit,
		ComputeUnitPriceMicroLamports: cuPrice,
		UseClusterClock:               useClusterClock,
		StateDir:                      stateDir,
		DBDSN:                         src.value("CRANK_DB_DSN"),
		MetricsNamespace:              src.valueOr("CRANK_METRICS_NAMESPACE", "raffle_crank"),
		Notifier:                      notifier,
		Status:                        status,
		Log:                           src.logConfig("CRANK", "crank"),
	}, nil
}

func loadNotifierConfig(src *source, raffleAccount solana.PublicKey) (NotifierConfig, error) {
	kind := strings.ToLower(src.valueOr("NOTIFIER_KIND", NotifierTelegram))
	switch kind {
	case NotifierTelegram, NotifierKafka, NotifierLog:
	default:
		return NotifierConfig{}, fmt.Errorf("invalid NOTIFIER_KIND: %q (expected telegram|kafka|log)", kind)
	}

	telegramTimeout, err := src.envDuration("TELEGRAM_TIMEOUT", 10*time.Second)
	if err != nil {
		return NotifierConfig{}, err
	}

	cfg := NotifierConfig{
		Kind: kind,
		Telegram: TelegramConfig{
			APIURL:   src.valueOr("TELEGRAM_API_URL", "https://api.telegram.org"),
			BotToken: src.value("TELEGRAM_BOT_TOKEN"),
			ChatID:   src.value("TELEGRAM_CHAT_ID"),
			Timeout:  telegramTimeout,
		},
		Kafka: KafkaConfig{
			Brokers: src.envCSV("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   src.valueOr("KAFKA_TOPIC", "raffle-results"),
			Key:     src.valueOr("KAFKA_KEY", raffleAccount.String()),
		},
	}

	if kind == NotifierTelegram {
		if cfg.Telegram.BotToken == "" {
			return NotifierConfig{}, fmt.Errorf("invalid TELEGRAM_BOT_TOKEN: required when NOTIFIER_KIND=telegram")
		}
		if cfg.Telegram.ChatID == "" {
			return NotifierConfig{}, fmt.Errorf("invalid TELEGRAM_CHAT_ID: required when NOTIFIER_KIND=telegram")
		}
	}
	return cfg, nil
}

func loadStatusConfig(src *source, pollInterval time.Duration) (StatusConfig, error) {
	readTimeout, err := src.envDuration("CRANK_STATUS_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return StatusConfig{}, err
	}
	writeTimeout, err := src.envDuration("CRANK_STATUS_WRITE_TIMEOUT", 15*time.Second)
	if err != nil {
		return StatusConfig{}, err
	}
	idleTimeout, err := src.envDuration("CRANK_STATUS_IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return StatusConfig{}, err
	}
	staleAfter, err := src.envDuration("CRANK_STATUS_STALE_AFTER", 3*pollInterval)
	if err != nil {
		return StatusConfig{}, err
	}

	listenAddr := ":9090"
	if raw, ok := src.lookup("CRANK_STATUS_LISTEN_ADDR"); ok {
		listenAddr = raw
	}

	return StatusConfig{
		ListenAddr:   listenAddr,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
		StaleAfter:   staleAfter,
	}, nil
}

// Signer returns CRANK_PRIVATE_KEY when set and the keypair file otherwise.
func (c CrankConfig) Signer() (solana.PrivateKey, error) {
	if c.PrivateKey != "" {
		key, err := solana.PrivateKeyFromBase58(c.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid CRANK_PRIVATE_KEY: %w", err)
		}
		return key, nil
	}

	key, err := solana.PrivateKeyFromSolanaKeygenFile(c.KeypairPath)
	if err != nil {
		return nil, fmt.Errorf("load keypair %q: %w", c.KeypairPath, err)
	}
	return key, nil
}
