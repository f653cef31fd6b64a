package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"cachegen/internal/app"
	"cachegen/internal/config"
	"cachegen/internal/logging"
)

type commandContext struct {
	configFlag *string
	verbose    *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configSeen bool
	configErr  error
}

func newCommandContext(configFlag *string, verbose *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		verbose:    verbose,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configSeen = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// launchConfigPath returns the config file a spawned daemon should load, or
// "" when defaults were used.
func (c *commandContext) launchConfigPath() string {
	if _, err := c.ensureConfig(); err != nil || !c.configSeen {
		return ""
	}
	return c.configPath
}

func (c *commandContext) logger(cfg *config.Config) (*slog.Logger, error) {
	if c.verbose == nil || !*c.verbose {
		return logging.NewNop(), nil
	}
	return logging.New(logging.Options{
		Level:   "debug",
		Format:  cfg.Logging.Format,
		Outputs: []string{"stderr"},
	})
}

// withApp opens the service graph for the duration of fn.
func (c *commandContext) withApp(fn func(*app.App) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.logger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	services, err := app.Open(cfg, logger)
	if err != nil {
		return err
	}
	runErr := fn(services)
	if closeErr := services.Close(); closeErr != nil && runErr == nil {
		runErr = closeErr
	}
	return runErr
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
