package config

import (
	"time"

	"github.com/caarlos0/env/v9"
)

type Config struct {
	Port string `env:"PORT" envDefault:"8080"`
	// StoreDriver selects the backend: memory, mongo, mysql or sqlite.
	StoreDriver string `env:"STORE_DRIVER" envDefault:"mongo"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"messaging.db"`

	MongoURI      string `env:"MONGODB_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGODB_DATABASE" envDefault:"messaging"`

	DBUser                 string `env:"DB_USER"`
	DBPassword             string `env:"DB_PASSWORD"`
	DBHost                 string `env:"DB_HOST"` // e.g. tcp(host:3306) or unix(/cloudsql/instance)
	DBName                 string `env:"DB_NAME"`
	DBPort                 string `env:"DB_PORT" envDefault:"3306"`
	InstanceConnectionName string `env:"INSTANCE_CONNECTION_NAME"`

	TxMaxWait       time.Duration `env:"TX_MAX_WAIT" envDefault:"2s"`
	TxTimeout       time.Duration `env:"TX_TIMEOUT" envDefault:"5s"`
	TxMaxConcurrent int64         `env:"TX_MAX_CONCURRENT" envDefault:"16"`
	LogQueries      bool          `env:"LOG_QUERIES" envDefault:"false"`

	FirebaseProjectID     string `env:"FIREBASE_PROJECT_ID"`
	GoogleCredentialsFile string `env:"GOOGLE_CREDENTIALS_FILE"`
	JWTSecret             string `env:"JWT_SECRET"`

	// AdminUIDs may use /api/data alongside tokens with an admin claim.
	AdminUIDs []string `env:"ADMIN_UIDS" envSeparator:","`

	RedisURL string `env:"REDIS_URL"`

	VAPIDPublicKey  string `env:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `env:"VAPID_PRIVATE_KEY"`
	VAPIDSubscriber string `env:"VAPID_SUBSCRIBER"`

	ExportBucket string `env:"EXPORT_BUCKET"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
