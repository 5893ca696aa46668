package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/railalert/server"
	"github.com/cyclopcam/railalert/server/config"
	"github.com/cyclopcam/railalert/server/metadata"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("railalert", "Classify the images of rail crossing alerts")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Config file (default railalert.json, if it exists)", Default: ""})
	envFile := parser.String("e", "env", &argparse.Options{Help: "Environment file", Default: ".env"})

	ingestCmd := parser.NewCommand("ingest", "Extract the images and metadata of alert emails")
	ingestSrc := ingestCmd.String("s", "src", &argparse.Options{Help: "Directory of alert emails (html, eml, txt)", Default: ""})
	ingestAlerts := ingestCmd.String("a", "alerts", &argparse.Options{Help: "JSON list of alerts, whose imagePath names each email body", Default: ""})

	batchCmd := parser.NewCommand("batch", "Classify every image of the metadata table, and write the results table")
	batchWorkers := batchCmd.Int("w", "workers", &argparse.Options{Help: "Images classified concurrently (0 = config)", Default: 0})

	serveCmd := parser.NewCommand("serve", "Serve the classification HTTP API")
	serveListen := serveCmd.String("l", "listen", &argparse.Options{Help: "Listen address (default from config)", Default: ""})

	classifyCmd := parser.NewCommand("classify", "Classify one image, and print its record")
	classifyInput := classifyCmd.String("i", "input", &argparse.Options{Help: "Image file", Required: true})

	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	config.LoadDotEnv(*envFile)
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	if ingestCmd.Happened() {
		var res *metadata.IngestResult
		switch {
		case *ingestAlerts != "":
			res, err = metadata.IngestAlerts(logger, *ingestAlerts, cfg.ImageDir)
		case *ingestSrc != "":
			res, err = metadata.Ingest(logger, *ingestSrc, cfg.ImageDir)
		default:
			fmt.Print(parser.Usage("ingest needs --src or --alerts"))
			os.Exit(1)
		}
		check(err)
		check(os.MkdirAll(filepath.Dir(cfg.MetadataCSV), 0777))
		check(res.Table.WriteCSVFile(cfg.MetadataCSV))
		logger.Infof("Extracted %v images from %v alerts. Metadata: %v", res.Images, res.Alerts, cfg.MetadataCSV)
		return
	}

	if *batchWorkers > 0 {
		cfg.Workers = *batchWorkers
	}
	if *serveListen != "" {
		cfg.HTTP.Listen = *serveListen
	}

	srv, err := server.NewServer(logger, cfg)
	if err != nil {
		logger.Criticalf("%v", err)
		os.Exit(1)
	}

	switch {
	case batchCmd.Happened():
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		report, err := srv.RunBatch(ctx)
		cancel()
		srv.Close()
		if err != nil {
			logger.Criticalf("Batch failed: %v", err)
			os.Exit(1)
		}
		sum := report.Summary
		logger.Infof("%v images: %v classified, %v unreadable, %v failed", sum.Total, sum.Classified, sum.Unreadable, sum.Failed)
	case serveCmd.Happened():
		srv.ListenForKillSignals()
		if err := srv.ListenHTTP(cfg.HTTP.Listen); err != nil {
			logger.Criticalf("%v", err)
			os.Exit(1)
		}
	case classifyCmd.Happened():
		raw, err := os.ReadFile(*classifyInput)
		check(err)
		res, err := srv.Classifier.ClassifyBytes(context.Background(), filepath.Base(*classifyInput), raw)
		srv.Close()
		if err != nil {
			logger.Criticalf("%v", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		check(enc.Encode(res))
	}
}
