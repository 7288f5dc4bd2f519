package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Seed dispatch modes for the first launch of the stack set.
const (
	SeedDispatchDirect = "direct"
	SeedDispatchFanout = "fanout"
)

// Capability catalog sources.
const (
	CatalogSourceSchema   = "schema"
	CatalogSourceServices = "services"
)

type Config struct {
	ServiceName string
	LogLevel    string

	// Stack set definition.
	StackSetName          string
	StackSetURL           string
	StackSetDescription   string
	ParametersFile        string
	SeedAccounts          []string
	SeedDispatch          string
	ManagementAccountID   string
	Region                string
	AdministrationRoleARN string
	ExecutionRoleName     string
	VerifyTemplate        bool

	// New Relic registration.
	NewRelicAccountID   int64
	NewRelicSecret      string
	NerdGraphEndpoint   string
	CatalogSource       string
	NerdGraphCACert     string
	NerdGraphServerName string

	// Transport.
	StackTopicARN          string
	StackQueueURL          string
	RegisterQueueURL       string
	DeadLetterQueueURL     string
	CustomResourceQueueURL string
	AWSEndpointURL         string
	AWSAccessKeyID         string
	AWSSecretAccessKey     string
	WorkerConcurrency      int

	// Retry and wait tuning. PollMaxAttempts defaults to six hours of
	// polling at the default delay, long enough for large rollouts.
	DispatchRetryDelay  time.Duration
	DispatchMaxAttempts int
	PollRetryDelay      time.Duration
	PollMaxAttempts     int
	DeleteWaitBudget    time.Duration
	DeleteSleep         time.Duration

	HTTPListenAddr string
	MetricsAddr    string
	// APIKeyHashes are hex SHA-256 digests of accepted operator API keys.
	APIKeyHashes []string
}

func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:            getEnv("SERVICE_NAME", "newrelic-onboarding"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		StackSetName:           getEnv("STACKSET_NAME", "NewRelic-Integration"),
		StackSetURL:            getEnv("STACKSET_URL", ""),
		StackSetDescription:    getEnv("STACKSET_DESCRIPTION", "Adds in New Relic integration to your aws accounts. Launch as Stack Set in your Control Tower landing zone management account."),
		ParametersFile:         getEnv("STACKSET_PARAMETERS_FILE", ""),
		SeedAccounts:           splitList(getEnv("SEED_ACCOUNTS", "")),
		SeedDispatch:           getEnv("SEED_DISPATCH", SeedDispatchDirect),
		ManagementAccountID:    getEnv("MANAGEMENT_ACCOUNT_ID", ""),
		Region:                 getEnv("AWS_REGION", ""),
		AdministrationRoleARN:  getEnv("ADMINISTRATION_ROLE_ARN", ""),
		ExecutionRoleName:      getEnv("EXECUTION_ROLE_NAME", "AWSControlTowerExecution"),
		NewRelicSecret:         getEnv("NEWRELIC_SECRET", ""),
		NerdGraphEndpoint:      getEnv("NERDGRAPH_ENDPOINT", "https://api.newrelic.com/graphql"),
		CatalogSource:          getEnv("NEWRELIC_CATALOG_SOURCE", CatalogSourceSchema),
		NerdGraphCACert:        getEnv("NERDGRAPH_CA_CERT", ""),
		NerdGraphServerName:    getEnv("NERDGRAPH_SERVER_NAME", ""),
		StackTopicARN:          getEnv("NEWRELIC_STACK_SNS", ""),
		StackQueueURL:          getEnv("NEWRELIC_STACK_SQS", ""),
		RegisterQueueURL:       getEnv("NEWRELIC_REGISTER_SQS", ""),
		DeadLetterQueueURL:     getEnv("NEWRELIC_DLQ", ""),
		CustomResourceQueueURL: getEnv("NEWRELIC_CUSTOM_RESOURCE_SQS", ""),
		AWSEndpointURL:         getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID:         getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:     getEnv("AWS_SECRET_ACCESS_KEY", ""),
		HTTPListenAddr:         getEnv("HTTP_LISTEN_ADDR", ":8090"),
		MetricsAddr:            getEnv("METRICS_ADDR", ""),
		APIKeyHashes:           splitList(getEnv("API_KEY_HASHES", "")),
	}

	var err error
	if v := getEnv("NEWRELIC_ACCOUNT_ID", ""); v != "" {
		if cfg.NewRelicAccountID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("parse NEWRELIC_ACCOUNT_ID: %w", err)
		}
	}
	if cfg.VerifyTemplate, err = strconv.ParseBool(getEnv("VERIFY_TEMPLATE", "false")); err != nil {
		return nil, fmt.Errorf("parse VERIFY_TEMPLATE: %w", err)
	}
	if cfg.WorkerConcurrency, err = strconv.Atoi(getEnv("WORKER_CONCURRENCY", "4")); err != nil {
		return nil, fmt.Errorf("parse WORKER_CONCURRENCY: %w", err)
	}
	if cfg.DispatchMaxAttempts, err = strconv.Atoi(getEnv("DISPATCH_MAX_ATTEMPTS", "60")); err != nil {
		return nil, fmt.Errorf("parse DISPATCH_MAX_ATTEMPTS: %w", err)
	}
	if cfg.PollMaxAttempts, err = strconv.Atoi(getEnv("POLL_MAX_ATTEMPTS", "1080")); err != nil {
		return nil, fmt.Errorf("parse POLL_MAX_ATTEMPTS: %w", err)
	}

	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"DISPATCH_RETRY_DELAY", "30s", &cfg.DispatchRetryDelay},
		{"POLL_RETRY_DELAY", "20s", &cfg.PollRetryDelay},
		{"DELETE_WAIT_BUDGET", "300s", &cfg.DeleteWaitBudget},
		{"DELETE_SLEEP", "30s", &cfg.DeleteSleep},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getEnv(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	return cfg, nil
}

// Validate checks that every variable required by the given binary is set.
// Supported roles are "worker" and "api".
func (c *Config) Validate(role string) error {
	var missing []string
	require := func(name, value string) {
		if value == "" {
			missing = append(missing, name)
		}
	}

	require("STACKSET_NAME", c.StackSetName)

	switch role {
	case "worker":
		require("STACKSET_URL", c.StackSetURL)
		require("NEWRELIC_SECRET", c.NewRelicSecret)
		require("NERDGRAPH_ENDPOINT", c.NerdGraphEndpoint)
		require("NEWRELIC_STACK_SQS", c.StackQueueURL)
		require("NEWRELIC_REGISTER_SQS", c.RegisterQueueURL)
		require("NEWRELIC_DLQ", c.DeadLetterQueueURL)
		if c.NewRelicAccountID == 0 {
			missing = append(missing, "NEWRELIC_ACCOUNT_ID")
		}
		if c.SeedDispatch == SeedDispatchFanout {
			require("NEWRELIC_STACK_SNS", c.StackTopicARN)
		}
	case "api":
		require("STACKSET_URL", c.StackSetURL)
		require("HTTP_LISTEN_ADDR", c.HTTPListenAddr)
		require("NEWRELIC_STACK_SNS", c.StackTopicARN)
		require("NEWRELIC_REGISTER_SQS", c.RegisterQueueURL)
		if c.NewRelicAccountID == 0 {
			missing = append(missing, "NEWRELIC_ACCOUNT_ID")
		}
		if len(c.APIKeyHashes) == 0 {
			missing = append(missing, "API_KEY_HASHES")
		}
	default:
		return fmt.Errorf("unknown role %q", role)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables for %s: %s", role, strings.Join(missing, ", "))
	}

	if c.SeedDispatch != SeedDispatchDirect && c.SeedDispatch != SeedDispatchFanout {
		return fmt.Errorf("SEED_DISPATCH must be %q or %q, got %q", SeedDispatchDirect, SeedDispatchFanout, c.SeedDispatch)
	}
	if c.CatalogSource != CatalogSourceSchema && c.CatalogSource != CatalogSourceServices {
		return fmt.Errorf("NEWRELIC_CATALOG_SOURCE must be %q or %q, got %q", CatalogSourceSchema, CatalogSourceServices, c.CatalogSource)
	}
	if c.DeleteSleep <= 0 {
		return fmt.Errorf("DELETE_SLEEP must be positive")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitList splits a comma separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
