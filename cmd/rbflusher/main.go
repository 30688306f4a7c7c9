package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/redBorder/rbflusher"
	"github.com/redBorder/rbflusher/components/httpdestination"
)

var (
	configFile *string
	debug      *bool
)

func init() {
	configFile = flag.String("config", "", "Config file")
	debug = flag.Bool("debug", false, "Show debug info")

	flag.Parse()

	if len(*configFile) == 0 {
		fmt.Println("No config file provided")
		flag.Usage()
		os.Exit(1)
	}
}

func main() {
	config, err := loadConfigFile(*configFile)
	if err != nil {
		log.Fatal(err)
	}

	if *debug {
		rbflusher.LogLevel(logrus.DebugLevel)
		go func() {
			log.Println(http.ListenAndServe("localhost:6060", nil))
		}()
	}
	logger := rbflusher.NewLogger("rbflusher")

	dest, err := httpdestination.New(config.Destination)
	if err != nil {
		log.Fatal(err)
	}

	pipeline, err := rbflusher.New(config.Pipeline, dest)
	if err != nil {
		log.Fatal(err)
	}
	pipeline.Start()
	logger.Infof("Started pipeline %s (version %s)", pipeline.ID, rbflusher.Version)

	metricsInterval := config.MetricsIntervalMillis
	if metricsInterval == 0 {
		metricsInterval = 60000
	}
	metricsTicker := time.NewTicker(time.Duration(metricsInterval) * time.Millisecond)
	defer metricsTicker.Stop()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-metricsTicker.C:
			for _, record := range pipeline.ExportMetricRecords() {
				fields := make(logrus.Fields, len(record))
				for k, v := range record {
					fields[k] = v
				}
				logger.WithFields(fields).Info("metrics")
			}

		case <-c:
			logger.Info("Shutting down")
			pipeline.Close()
			return
		}
	}
}
