package core

import (
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		AppName      string
		Build        string
		Env          string // DEV (local; default), TEST, QA, PROD
		Debug        bool
		TestMode     bool
		SecretKey    string
		RollbarToken string
		WorkDir      string
		Database     DatabaseConfig
		Server       ServerConfig
	}

	DatabaseConfig struct {
		Driver        string // postgres (lib/pq) | pgx (pgx stdlib)
		Host          string
		Port          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		Name          string
		DisableTLS    bool
		MaxOpenConns  int
	}

	ServerConfig struct {
		Host               string
		Address            string
		DebugHost          string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
		RateLimit          float64 // requests per second per client IP; 0 disables
		RateBurst          int
	}
)

func (dbc DatabaseConfig) Address() string {
	return net.JoinHostPort(dbc.Host, dbc.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("appName", "Licita")
	v.SetDefault("build", "develop")
	v.SetDefault("secretKey", "s3cr3t-l1c1t4-k3y+q(7vz$x9!mwd2^e4b")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "licita")
	v.SetDefault("db.password", "licita")
	v.SetDefault("db.adminUser", "postgres")
	v.SetDefault("db.adminPassword", "postgres")
	v.SetDefault("db.name", "licita")
	v.SetDefault("db.disableTLS", true)
	v.SetDefault("db.maxOpenConns", 25)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.rateLimit", 20.0)
	v.SetDefault("server.rateBurst", 40)
}

// NewConfig loads the configuration of the current ENV from defaults, `config/.env.<env>` and the environment.
func NewConfig() *Config {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	wd := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		AppName:      v.GetString("appName"),
		Build:        v.GetString("build"),
		Env:          env,
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		SecretKey:    v.GetString("secretKey"),
		RollbarToken: v.GetString("rollbarToken"),
		WorkDir:      wd,
		Database: DatabaseConfig{
			Driver:        v.GetString("db.driver"),
			Host:          v.GetString("db.host"),
			Port:          v.GetString("db.port"),
			User:          v.GetString("db.user"),
			Password:      v.GetString("db.password"),
			AdminUser:     v.GetString("db.adminUser"),
			AdminPassword: v.GetString("db.adminPassword"),
			Name:          v.GetString("db.name"),
			DisableTLS:    v.GetBool("db.disableTLS"),
			MaxOpenConns:  v.GetInt("db.maxOpenConns"),
		},
		Server: ServerConfig{
			Host:               v.GetString("server.host"),
			Address:            v.GetString("server.address"),
			DebugHost:          v.GetString("server.debugHost"),
			ShutdownTimeout:    v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta: v.GetDuration("server.jwtExpirationDelta"),
			RateLimit:          v.GetFloat64("server.rateLimit"),
			RateBurst:          v.GetInt("server.rateBurst"),
		},
	}
}
