package util

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const Name = "quill"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host       string
		HttpPort   int    `yaml:"httpPort"`
		SslDomain  string `yaml:"sslDomain"`
		WithFed    bool   `yaml:"withFed"`
		DbPath     string `yaml:"dbPath"`
		MediaProxy string `yaml:"mediaProxy"`
	}
}

// LocalOrigin returns the canonical origin of this server, used to decide
// whether an actor IRI refers to a local actor.
func (c *AppConfig) LocalOrigin() string {
	return fmt.Sprintf("https://%s", c.Conf.SslDomain)
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	envHost := os.Getenv("QUILL_HOST")
	envHttpPort := os.Getenv("QUILL_HTTPPORT")
	envSslDomain := os.Getenv("QUILL_SSLDOMAIN")
	envWithFed := os.Getenv("QUILL_WITH_FED")
	envDbPath := os.Getenv("QUILL_DBPATH")

	if envHost != "" {
		c.Conf.Host = envHost
	}

	if envHttpPort != "" {
		v, err := strconv.Atoi(envHttpPort)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.HttpPort = v
	}

	if envSslDomain != "" {
		c.Conf.SslDomain = envSslDomain
	}

	if envWithFed == "true" {
		c.Conf.WithFed = true
	}

	if envDbPath != "" {
		c.Conf.DbPath = envDbPath
	}

	return c, nil
}
