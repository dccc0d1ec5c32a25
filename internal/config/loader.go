package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"ensemble/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/ensemble"
	configFileName = "config.yaml"
)

func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads config.yaml from configPath on top of the defaults.
func LoadConfig(configPath string) (EnsembleConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			return config, nil
		}
		logging.Info("ConfigLoader", "Error loading config.yaml from %s: %s", configFilePath, err)
		return EnsembleConfig{}, err
	}
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return EnsembleConfig{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}
	if errs := ValidateConfig(config); errs.HasErrors() {
		return EnsembleConfig{}, fmt.Errorf("invalid config %s: %w", configFilePath, errs)
	}
	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return config, nil
}
