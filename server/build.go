package server

import (
	"context"
	"fmt"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/railalert/pkg/logx"
	"github.com/cyclopcam/railalert/pkg/nn"
	"github.com/cyclopcam/railalert/pkg/nnload"
	"github.com/cyclopcam/railalert/pkg/storage"
	"github.com/cyclopcam/railalert/server/capability"
	"github.com/cyclopcam/railalert/server/classify"
	"github.com/cyclopcam/railalert/server/config"
	"github.com/cyclopcam/railalert/server/headerocr"
	"github.com/cyclopcam/railalert/server/locations"
	"github.com/cyclopcam/railalert/server/publish"
	"github.com/cyclopcam/railalert/server/recorddb"
)

type parts struct {
	classifier *classify.Classifier
	records    *recorddb.RecordDB
	publisher  publish.Publisher
	closers    []func()
}

func (p *parts) close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

// Load a detector if the model is configured. An unconfigured optional model is nil.
func (p *parts) detector(log logs.Log, cfg *config.Config, spec nnload.ModelSpec, required bool) (nn.ObjectDetector, error) {
	if spec.URL == "" {
		if required {
			return nil, fmt.Errorf("Model '%v' has no URL", spec.Name)
		}
		return nil, nil
	}
	d, err := nnload.LoadDetector(log, cfg.ModelDir, spec)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, d.Close)
	return d, nil
}

func openStorage(log logs.Log, cfg config.StorageConfig) (storage.Storage, error) {
	if cfg.GCS != nil {
		return storage.NewStorageGCS(log, cfg.GCS.Bucket, cfg.GCS.Prefix, cfg.GCS.Public)
	} else if cfg.Filesystem != nil {
		return storage.NewStorageFS(log, cfg.Filesystem.Root)
	}
	return nil, nil
}

func openDisambiguator(log logs.Log, cfg config.DisambiguatorConfig) (capability.Disambiguator, error) {
	switch cfg.Provider {
	case "openai":
		log.Infof("Legal occupiers are confirmed by %v at %v", cfg.Model, cfg.BaseURL)
		return capability.NewOpenAIClient(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	case "gemini":
		log.Infof("Legal occupiers are confirmed by Gemini %v", cfg.Model)
		return capability.NewGeminiClient(context.Background(), cfg.APIKey, cfg.Model)
	}
	log.Warnf("No disambiguator configured. Legal occupier vehicles will never be counted.")
	return nil, nil
}

func buildParts(log logs.Log, cfg *config.Config, runID string) (*parts, error) {
	p := &parts{}

	locs := locations.Empty()
	if cfg.Regions != "" {
		var err error
		if locs, err = locations.LoadConfig(cfg.Regions); err != nil {
			return p, err
		}
		log.Infof("Loaded regions of %v locations from %v", len(locs.Keys()), cfg.Regions)
	}

	opt := classify.Options{
		Locations:              locs,
		FallbackClasses:        cfg.Classifier.FallbackClasses,
		GateThreshold:          cfg.Classifier.GateThreshold,
		PrimaryThreshold:       cfg.Classifier.PrimaryThreshold,
		FallbackThreshold:      cfg.Classifier.FallbackThreshold,
		GateAspectRatio:        cfg.Classifier.GateAspectRatio,
		GateSuppressesFallback: cfg.Classifier.GateSuppressesFallback,
		DisambiguationTimeout:  cfg.Disambiguator.Timeout(),
		JPEGQuality:            cfg.Classifier.JPEGQuality,
	}

	var err error
	if opt.PrimaryDetector, err = p.detector(log, cfg, cfg.Models.Primary, true); err != nil {
		return p, err
	}
	if opt.GateDetector, err = p.detector(log, cfg, cfg.Models.Gate, false); err != nil {
		return p, err
	}
	general := cfg.Models.General
	if len(general.Classes) == 0 && general.ConfigFile == "" {
		// The general detector is a stock COCO model unless told otherwise
		general.Classes = []string{"coco"}
	}
	if opt.GeneralDetector, err = p.detector(log, cfg, general, false); err != nil {
		return p, err
	}

	if cfg.GateValidator.URL != "" {
		opt.GateValidator = capability.NewHTTPGateValidator(logx.NewPrefixLogger(log, "Gate"), cfg.GateValidator.URL, cfg.GateValidator.Timeout())
	}
	if opt.Disambiguator, err = openDisambiguator(log, cfg.Disambiguator); err != nil {
		return p, err
	}
	if opt.Audit, err = openStorage(log, cfg.AuditStorage); err != nil {
		return p, err
	}
	if cfg.HeaderOCR.Enabled {
		opt.HeaderOCR = headerocr.NewReader(logx.NewPrefixLogger(log, "OCR"), headerocr.Options{
			Language:       cfg.HeaderOCR.Language,
			TessdataPrefix: cfg.HeaderOCR.TessdataPrefix,
			Whitelist:      cfg.HeaderOCR.Whitelist,
		})
	}

	if p.classifier, err = classify.NewClassifier(log, opt); err != nil {
		return p, err
	}

	if cfg.RecordDB.Database != "" {
		if p.records, err = recorddb.NewRecordDB(log, cfg.RecordDB); err != nil {
			return p, err
		}
	}

	if cfg.Kafka.Enabled() {
		kp, err := publish.NewKafkaPublisher(logx.NewPrefixLogger(log, "Kafka"), cfg.Kafka, runID)
		if err != nil {
			return p, err
		}
		p.publisher = kp
	}
	return p, nil
}
