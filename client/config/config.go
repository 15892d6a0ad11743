package config

import (
	"crypto/tls"
	"time"

	"github.com/segmentio/kafka-go/sasl/plain"
)

type HttpApiConfig struct {
	Host  string `mapstructure:"host"`
	Port  int    `mapstructure:"port"`
	Debug bool   `mapstructure:"debug"`
}

type KafkaTransportConfig struct {
	BrokerEndpoint string        `mapstructure:"broker_endpoint"`
	Topic          string        `mapstructure:"topic"`
	ConsumerGroup  string        `mapstructure:"consumer_group"`
	Timeout        time.Duration `mapstructure:"timeout"`

	// Built by the daemon from truststore_path, producer_credentials
	// and consumer_credentials.
	TlsConfig           *tls.Config
	ProducerCredentials *plain.Mechanism
	ConsumerCredentials *plain.Mechanism

	IgnoredEnvelopes   []string `mapstructure:"ignored_envelopes"`
	UseOffsetInsteadId bool     `mapstructure:"use_offset_instead_id"`
}

type FileTransportConfig struct {
	DataFile string `mapstructure:"data_file"`
	LockFile string `mapstructure:"lock_file"`
}

// WalletConfig configures the built-in reference engine. Deployments
// fronting a real wallet daemon replace the engine wholesale and leave
// this empty.
type WalletConfig struct {
	DBPath      string `mapstructure:"dbdsn"`
	Mnemonic    string `mapstructure:"mnemonic"`
	ExtraRounds uint32 `mapstructure:"extra_rounds"`
}

type Config struct {
	Username      string `mapstructure:"username"`
	StateDBSN     string `mapstructure:"state_dbdsn"`
	KeyStoreDBDSN string `mapstructure:"key_store_dbdsn"`

	// Topic doubles as the composite-key namespace of the local state
	// and the shared transport topic name.
	Topic string `mapstructure:"topic"`

	PollInterval time.Duration `mapstructure:"poll_interval"`

	// KeySetQuorum overrides the key-exchange quorum; zero keeps the
	// default of threshold-1 distinct signers.
	KeySetQuorum uint32 `mapstructure:"key_set_quorum"`

	HttpApiConfig *HttpApiConfig `mapstructure:"http_api"`

	KafkaTransportConfig *KafkaTransportConfig `mapstructure:"kafka_transport"`
	FileTransportConfig  *FileTransportConfig  `mapstructure:"file_transport"`

	WalletConfig *WalletConfig `mapstructure:"wallet"`
}
