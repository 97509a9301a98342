package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				validConfig := `
server:
  api_port: "8080"
  metrics_port: "9090"

store:
  postgres_dsn: "postgres://localhost/altec"
  redis_addr: "localhost:6379"
  redis_db: 0
  dial_timeout: "5s"
  breaker_trips: 5

policy:
  reclaim_sweep_interval: "30s"
  max_reclaim_attempts: 3
  skipped_recent_success_window: "1h"
  progress_throttle_percent: 0.5
  progress_throttle_message_changed: true
  default_deadline_multiplier: 3.0
  class_overrides:
    XL:
      heartbeat_interval: "900s"
      lock_lease: "45m"
      segment_count: 20
      client_refresh_interval: "10m"

session:
  issuer: "https://auth.example.com"
  token_ttl: "30m"
  refresh_grace_ttl: "5m"

logging:
  level: "info"
  format: "json"
`
				err := os.WriteFile(configFile, []byte(validConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load configuration successfully", func() {
				config, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(config).NotTo(BeNil())

				Expect(config.Server.APIPort).To(Equal("8080"))
				Expect(config.Server.MetricsPort).To(Equal("9090"))

				Expect(config.Store.PostgresDSN).To(Equal("postgres://localhost/altec"))
				Expect(config.Store.RedisAddr).To(Equal("localhost:6379"))
				Expect(config.Store.DialTimeout).To(Equal(5 * time.Second))
				Expect(config.Store.BreakerTrips).To(Equal(uint32(5)))

				Expect(config.Policy.ReclaimSweepInterval).To(Equal(30 * time.Second))
				Expect(config.Policy.MaxReclaimAttempts).To(Equal(3))
				Expect(config.Policy.SkippedRecentSuccessWindow).To(Equal(time.Hour))
				Expect(config.Policy.ProgressThrottlePercent).To(Equal(0.5))
				Expect(config.Policy.DefaultDeadlineMultiplier).To(Equal(3.0))
				Expect(config.Policy.ClassOverrides).To(HaveKey("XL"))
				Expect(config.Policy.ClassOverrides["XL"].SegmentCount).To(Equal(20))

				Expect(config.Session.Issuer).To(Equal("https://auth.example.com"))
				Expect(config.Session.TokenTTL).To(Equal(30 * time.Minute))

				Expect(config.Logging.Level).To(Equal("info"))
				Expect(config.Logging.Format).To(Equal("json"))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimalConfig := `
store:
  postgres_dsn: "postgres://localhost/altec"
  redis_addr: "localhost:6379"
`
				err := os.WriteFile(configFile, []byte(minimalConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load with defaults for missing values", func() {
				config, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(config.Store.PostgresDSN).To(Equal("postgres://localhost/altec"))
				Expect(config.Server.APIPort).To(Equal("8080"))
				Expect(config.Policy.MaxReclaimAttempts).To(Equal(3))
				Expect(config.Policy.SkippedRecentSuccessWindow).To(Equal(time.Hour))
				Expect(config.Logging.Level).To(Equal("info"))
			})
		})

		Context("when config file does not exist", func() {
			It("should return an error", func() {
				_, err := Load("/nonexistent/config.yaml")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when config file has invalid YAML", func() {
			BeforeEach(func() {
				invalidConfig := `
server:
  api_port: "8080"
  invalid_yaml: [
store:
  postgres_dsn: "test"
`
				err := os.WriteFile(configFile, []byte(invalidConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})

		Context("when config references an unsupported duration class", func() {
			BeforeEach(func() {
				badClassConfig := `
store:
  postgres_dsn: "postgres://localhost/altec"
  redis_addr: "localhost:6379"

policy:
  class_overrides:
    XXL:
      segment_count: 40
`
				err := os.WriteFile(configFile, []byte(badClassConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return a validation error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("unsupported duration class"))
			})
		})
	})

	Describe("validate", func() {
		var config *Config

		BeforeEach(func() {
			config = &Config{
				Server: ServerConfig{APIPort: "8080", MetricsPort: "9090"},
				Store: StoreConfig{
					PostgresDSN: "postgres://localhost/altec",
					RedisAddr:   "localhost:6379",
				},
				Policy: PolicyConfig{
					MaxReclaimAttempts:        3,
					ProgressThrottlePercent:   0.5,
					DefaultDeadlineMultiplier: 3.0,
				},
				Logging: LoggingConfig{Level: "info", Format: "json"},
			}
		})

		Context("when config is valid", func() {
			It("should pass validation", func() {
				Expect(validate(config)).NotTo(HaveOccurred())
			})
		})

		Context("when postgres DSN is missing", func() {
			BeforeEach(func() { config.Store.PostgresDSN = "" })

			It("should return a validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("postgres DSN is required"))
			})
		})

		Context("when redis address is missing", func() {
			BeforeEach(func() { config.Store.RedisAddr = "" })

			It("should return a validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("redis address is required"))
			})
		})

		Context("when max reclaim attempts is zero", func() {
			BeforeEach(func() { config.Policy.MaxReclaimAttempts = 0 })

			It("should return a validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("max reclaim attempts must be greater than 0"))
			})
		})

		Context("when progress throttle percent is out of range", func() {
			BeforeEach(func() { config.Policy.ProgressThrottlePercent = 150 })

			It("should return a validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("progress throttle percent must be between 0 and 100"))
			})
		})

		Context("when logging format is unsupported", func() {
			BeforeEach(func() { config.Logging.Format = "xml" })

			It("should return a validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("unsupported logging format"))
			})
		})
	})

	Describe("loadFromEnv", func() {
		var config *Config

		BeforeEach(func() {
			config = &Config{}
			os.Clearenv()
		})

		AfterEach(func() {
			os.Clearenv()
		})

		Context("when environment variables are set", func() {
			BeforeEach(func() {
				os.Setenv("ALTEC_API_PORT", "9000")
				os.Setenv("ALTEC_METRICS_PORT", "9999")
				os.Setenv("ALTEC_POSTGRES_DSN", "postgres://env/altec")
				os.Setenv("ALTEC_REDIS_ADDR", "redis-env:6379")
				os.Setenv("ALTEC_LOG_LEVEL", "debug")
				os.Setenv("ALTEC_MAX_RECLAIM_ATTEMPTS", "5")
			})

			It("should load values from environment", func() {
				err := loadFromEnv(config)
				Expect(err).NotTo(HaveOccurred())

				Expect(config.Server.APIPort).To(Equal("9000"))
				Expect(config.Server.MetricsPort).To(Equal("9999"))
				Expect(config.Store.PostgresDSN).To(Equal("postgres://env/altec"))
				Expect(config.Store.RedisAddr).To(Equal("redis-env:6379"))
				Expect(config.Logging.Level).To(Equal("debug"))
				Expect(config.Policy.MaxReclaimAttempts).To(Equal(5))
			})
		})

		Context("when an integer environment variable is malformed", func() {
			BeforeEach(func() {
				os.Setenv("ALTEC_MAX_RECLAIM_ATTEMPTS", "not-a-number")
			})

			It("should return an error", func() {
				err := loadFromEnv(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("invalid ALTEC_MAX_RECLAIM_ATTEMPTS"))
			})
		})

		Context("when no environment variables are set", func() {
			It("should not modify config", func() {
				originalConfig := *config
				err := loadFromEnv(config)
				Expect(err).NotTo(HaveOccurred())
				Expect(*config).To(Equal(originalConfig))
			})
		})
	})
})
