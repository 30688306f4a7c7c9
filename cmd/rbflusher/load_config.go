package main

import (
	"os"

	"gopkg.in/yaml.v2"

	"github.com/redBorder/rbflusher"
	"github.com/redBorder/rbflusher/components/httpdestination"
)

type appConfig struct {
	Pipeline    rbflusher.Config       `yaml:"pipeline"`
	Destination httpdestination.Config `yaml:"destination"`

	// MetricsIntervalMillis is how often the flat metric snapshot is logged
	MetricsIntervalMillis uint `yaml:"metrics_interval_millis"`
}

func loadConfigFile(fileName string) (config appConfig, err error) {
	configData, err := os.ReadFile(fileName)
	if err != nil {
		return
	}

	if err = yaml.Unmarshal(configData, &config); err != nil {
		return
	}

	return
}
