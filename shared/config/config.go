package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables holding the private API credentials
const (
	EnvAPIKey    = "INDODAX_API_KEY"
	EnvAPISecret = "INDODAX_API_SECRET"
)

// SpotPriceConfig holds configuration for the spot price relay
type SpotPriceConfig struct {
	Pairs       []string
	Port        int
	PolicyFile  string
	BufferSize  int
	StatusEvery time.Duration
	Credentials Credentials
}

// ClientConfig holds configuration for the client
type ClientConfig struct {
	ServerAddress string
	Pairs         []string
	Depth         string
	Levels        int
	Duration      time.Duration
}

// Credentials is the private API key pair
type Credentials struct {
	APIKey    string
	APISecret string
}

// Complete reports whether both key and secret are set
func (c Credentials) Complete() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// ParseSpotPriceFlags parses command line flags for the spot price relay
func ParseSpotPriceFlags() *SpotPriceConfig {
	var (
		pairs      = flag.String("pairs", "btcidr,ethidr,ethbtc", "Comma-separated pairs to relay")
		port       = flag.Int("port", 50051, "gRPC server port")
		policyFile = flag.String("policy", "", "YAML file overriding minimum volume policies")
		bufferSize = flag.Int("buffer", 100, "Per-subscriber book buffer size")
		status     = flag.Duration("status", 30*time.Second, "Status log interval")
		envFile    = flag.String("env", ".env", "Optional dotenv file with API credentials")
	)
	flag.Parse()

	return &SpotPriceConfig{
		Pairs:       SplitList(*pairs),
		Port:        *port,
		PolicyFile:  *policyFile,
		BufferSize:  *bufferSize,
		StatusEvery: *status,
		Credentials: LoadCredentials(*envFile),
	}
}

// ParseClientFlags parses command line flags for the client
func ParseClientFlags() *ClientConfig {
	var (
		server   = flag.String("server", "localhost:50051", "Spot price relay address")
		pairs    = flag.String("pairs", "btcidr", "Comma-separated pairs to subscribe")
		depth    = flag.String("depth", "", "Print the public depth of a pair (e.g. btc_idr) and exit")
		levels   = flag.Int("levels", 5, "Number of levels to display per side")
		duration = flag.Duration("duration", 0, "How long to stay subscribed (0 runs forever)")
	)
	flag.Parse()

	return &ClientConfig{
		ServerAddress: *server,
		Pairs:         SplitList(*pairs),
		Depth:         *depth,
		Levels:        *levels,
		Duration:      *duration,
	}
}

// LoadCredentials reads credentials from the environment, after loading
// envFile when it exists. A missing file is not an error.
func LoadCredentials(envFile string) Credentials {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			_ = godotenv.Load(envFile)
		}
	}
	return Credentials{
		APIKey:    os.Getenv(EnvAPIKey),
		APISecret: os.Getenv(EnvAPISecret),
	}
}

// SplitList splits a comma-separated flag value, dropping blanks
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
