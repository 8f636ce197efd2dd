// Package extract is the public entry point of the OCR pipeline.
//
// An Extractor turns one image or PDF into a post-processed text envelope:
//
//	resolve profile → cache lookup → (PDF text | quality → correction →
//	optimizer or strategies) → post-process → cache store
//
// Every temporary artifact of a call lives in one imageio.Session that is
// closed on every exit path. Only input errors and total OCR failure are
// returned; cache, cleanup and single strategy faults are logged and absorbed.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"ocrpipe/internal/cache"
	"ocrpipe/internal/config"
	"ocrpipe/internal/imageio"
	"ocrpipe/internal/logger"
	"ocrpipe/internal/ocr"
	"ocrpipe/internal/ocr/tesseract"
	"ocrpipe/internal/ocrerr"
	"ocrpipe/internal/optimize"
	"ocrpipe/internal/pdftext"
	"ocrpipe/internal/postprocess"
	"ocrpipe/internal/profile"
	"ocrpipe/internal/quality"
	"ocrpipe/internal/strategy"
	"ocrpipe/pkg/models"
	"ocrpipe/pkg/services"
)

// CacheVersion is part of every cache key. Bump it when post-processing or
// strategy output changes so that older entries stop matching.
const CacheVersion = "2.0"

// Method names reported for image extractions
const (
	MethodStandard      = "standard"
	MethodMultiStrategy = "multi_strategy"
	MethodParallel      = "parallel"
	MethodRegions       = "regions"
)

// SupportedExtensions lists the accepted input extensions.
var SupportedExtensions = []string{".pdf", ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".tif"}

// Deps are the collaborators of an Extractor. Engine is required; a nil Cache
// disables caching and a nil PDF extractor uses the direct text layer reader.
type Deps struct {
	Engine ocr.Engine
	Cache  *cache.Cache
	PDF    pdftext.Extractor
	Post   *postprocess.Processor
}

// Settings tune the image path.
type Settings struct {
	TempDir    string
	TempPrefix string

	Strategy strategy.Settings

	MaxWorkers     int
	TiledThreshold int
	TileSize       int
	TileOverlap    int
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		TempDir:        os.TempDir(),
		TempPrefix:     imageio.DefaultPrefix,
		Strategy:       strategy.DefaultSettings(),
		MaxWorkers:     optimize.DefaultMaxWorkers,
		TiledThreshold: 4000,
		TileSize:       optimize.DefaultTileSize,
		TileOverlap:    optimize.DefaultTileOverlap,
	}
}

// Extractor runs extractions. It is safe for concurrent use.
type Extractor struct {
	deps     Deps
	settings Settings

	assessor  *quality.Assessor
	corrector *quality.Corrector
	orch      *strategy.Orchestrator
	parallel  *optimize.Parallel
	tiler     *optimize.Tiler
	regions   *optimize.RegionExtractor

	closers []io.Closer
	log     zerolog.Logger
}

// New returns an extractor over deps. Zero settings take their defaults.
func New(deps Deps, settings Settings) *Extractor {
	def := DefaultSettings()
	if settings.TempDir == "" {
		settings.TempDir = def.TempDir
	}
	if settings.TempPrefix == "" {
		settings.TempPrefix = def.TempPrefix
	}
	if settings.MaxWorkers <= 0 {
		settings.MaxWorkers = def.MaxWorkers
	}
	if settings.TiledThreshold <= 0 {
		settings.TiledThreshold = def.TiledThreshold
	}
	if settings.TileSize <= 0 {
		settings.TileSize = def.TileSize
	}
	if settings.TileOverlap < 0 || settings.TileOverlap >= settings.TileSize {
		settings.TileOverlap = def.TileOverlap
	}
	if deps.PDF == nil {
		deps.PDF = pdftext.NewDirect()
	}
	if deps.Post == nil {
		deps.Post = postprocess.New()
	}

	orch := strategy.New(deps.Engine, settings.Strategy)
	return &Extractor{
		deps:      deps,
		settings:  settings,
		assessor:  quality.NewAssessor(),
		corrector: quality.NewCorrector(),
		orch:      orch,
		parallel:  optimize.NewParallel(orch, settings.MaxWorkers),
		tiler:     optimize.NewTiler(deps.Engine, settings.TileSize, settings.TileOverlap),
		regions:   optimize.NewRegionExtractor(deps.Engine),
		log:       logger.WithComponent("extract"),
	}
}

// NewFromConfig wires the OCR layer, the cache and the PDF chain from cfg.
// Cloud PDF extractors that cannot be created are logged and left out.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Extractor, error) {
	log := logger.WithComponent("extract")

	sub := ocr.NewSubprocess(cfg.TessdataPrefix)
	sub.Binary = cfg.TesseractPath
	sub.ThreadLimit = cfg.OMPThreadLimit
	sub.Timeout = cfg.SubprocessTimeout
	sub.TempDir = cfg.TempDir

	var fast ocr.Engine
	if !cfg.DisableFastPath {
		fast = tesseract.New(cfg.TessdataPrefix)
	}
	deps := Deps{Engine: ocr.NewLayer(fast, sub, cfg.MaxEngineFailures)}

	if cfg.CacheEnabled {
		c, err := cache.New(cfg.CacheRoot, cfg.CacheTTL())
		if err != nil {
			log.Warn().Err(err).Str("root", cfg.CacheRoot).Msg("Cache disabled")
		} else {
			deps.Cache = c
		}
	}

	var closers []io.Closer
	extractors := []pdftext.Extractor{pdftext.NewDirect()}
	if cfg.CloudPDF {
		if v, err := pdftext.NewVision(ctx); err != nil {
			log.Warn().Err(err).Msg("Vision PDF fallback unavailable")
		} else {
			extractors = append(extractors, v)
			closers = append(closers, v)
		}
		d, err := pdftext.NewDocumentAI(ctx, pdftext.DocumentAIConfig{
			ProjectID:        cfg.GoogleCloudProject,
			Location:         cfg.GoogleCloudLocation,
			ProcessorID:      cfg.DocumentAIProcessorID,
			ProcessorVersion: cfg.DocumentAIProcessorVersion,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Document AI PDF fallback unavailable")
		} else {
			extractors = append(extractors, d)
			closers = append(closers, d)
		}
	}
	deps.PDF = pdftext.NewChain(extractors...)

	e := New(deps, Settings{
		TempDir:    cfg.TempDir,
		TempPrefix: cfg.TempPrefix,
		Strategy: strategy.Settings{
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			EscalationThreshold: cfg.EscalationThreshold,
			MaxStrategies:       cfg.MaxStrategies,
		},
		MaxWorkers:     cfg.MaxWorkers,
		TiledThreshold: cfg.TiledThreshold,
		TileSize:       cfg.TileSize,
		TileOverlap:    cfg.TileOverlap,
	})
	e.closers = closers
	return e, nil
}

var (
	defaultOnce      sync.Once
	defaultExtractor *Extractor
	defaultErr       error
)

// Default returns a process-wide extractor built from config.Load.
func Default() (*Extractor, error) {
	defaultOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			defaultErr = err
			return
		}
		defaultExtractor, defaultErr = NewFromConfig(context.Background(), cfg)
	})
	return defaultExtractor, defaultErr
}

// Extract runs path through the default extractor.
func Extract(ctx context.Context, path, profileName string, opts models.ExtractOptions) (*models.Envelope, error) {
	e, err := Default()
	if err != nil {
		return nil, err
	}
	return e.Extract(ctx, path, profileName, opts)
}

// Cache returns the result cache, or nil when caching is disabled.
func (e *Extractor) Cache() *cache.Cache { return e.deps.Cache }

// Close releases the cloud clients.
func (e *Extractor) Close() error {
	var errs []error
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			e.log.Warn().Err(err).Msg("Failed to close PDF client")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsSupported reports whether path has an accepted extension.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// CacheConfig is the canonical configuration hashed into cache keys. The
// mode is included only when it is not auto.
func CacheConfig(kind profile.Kind, opts models.ExtractOptions) map[string]any {
	cfg := map[string]any{
		"profile_name": string(kind),
		"language":     opts.Language,
		"version":      CacheVersion,
	}
	if opts.Mode != "" && opts.Mode != models.ModeAuto {
		cfg["mode"] = opts.Mode
	}
	return cfg
}

// Extract produces the envelope for the file at path. Input errors return a
// nil envelope. When every strategy and the standard fallback fail, a
// diagnostic envelope is returned together with the error.
func (e *Extractor) Extract(ctx context.Context, path, profileName string, opts models.ExtractOptions) (*models.Envelope, error) {
	const op = "Extract"
	start := time.Now()

	requestID := uuid.NewString()
	log := logger.ForRequest("extract", requestID)

	if !IsSupported(path) {
		return nil, ocrerr.New(op, ocrerr.ErrUnsupportedFormat, filepath.Ext(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ocrerr.New(op, ocrerr.ErrFileMissing, path)
		}
		return nil, ocrerr.New(op, ocrerr.ErrFileUnreadable, err.Error())
	}
	if info.IsDir() {
		return nil, ocrerr.New(op, ocrerr.ErrFileUnreadable, path+" is a directory")
	}

	switch opts.Mode {
	case "":
		opts.Mode = models.ModeAuto
	case models.ModeAuto, models.ModeParallel, models.ModeRegions, models.ModeIncremental:
	default:
		log.Warn().Str("mode", opts.Mode).Msg("Unknown mode, using auto")
		opts.Mode = models.ModeAuto
	}

	prof := profile.LookupName(profileName)
	prof.OCR = prof.OCR.WithLanguages(opts.Language)
	cacheCfg := CacheConfig(prof.Kind, opts)

	log.Info().Str("file", filepath.Base(path)).Str("profile", string(prof.Kind)).Str("mode", opts.Mode).Msg("Extraction started")

	if opts.UseCache && e.deps.Cache != nil {
		if entry := e.deps.Cache.Lookup(path, cacheCfg); entry != nil {
			var env models.Envelope
			if err := entry.Decode(&env); err != nil {
				log.Warn().Err(err).Msg("Ignoring undecodable cache entry")
			} else {
				env.Metadata.RequestID = requestID
				env.Metadata.CacheHit = true
				env.Metadata.CacheAgeSeconds = entry.AgeSeconds()
				env.Metadata.AddCapability(models.CapabilityCached)
				env.Metadata.ProcessingTimeMS = time.Since(start).Milliseconds()
				log.Info().Float64("age_seconds", env.Metadata.CacheAgeSeconds).Msg("Served from cache")
				return &env, nil
			}
		}
	}

	env := &models.Envelope{
		Metadata: models.Metadata{
			RequestID: requestID,
			Profile:   string(prof.Kind),
			Language:  opts.Language,
		},
	}

	if imageio.IsPDF(path) {
		err = e.extractPDF(ctx, path, prof, env, log)
	} else {
		err = e.extractImage(ctx, path, prof, opts.Mode, env, log)
	}
	env.Metadata.ProcessingTimeMS = time.Since(start).Milliseconds()
	if err != nil {
		if ctx.Err() == nil && !ocrerr.IsUserVisible(err) {
			err = ocrerr.New(op, ocrerr.ErrNoStrategySucceeded, err.Error())
		}
		if errors.Is(err, ocrerr.ErrFileMissing) || errors.Is(err, ocrerr.ErrFileUnreadable) {
			return nil, err
		}
		env.Metadata.Error = err.Error()
		log.Error().Err(err).Int64("processing_time_ms", env.Metadata.ProcessingTimeMS).Msg("Extraction failed")
		return env, err
	}

	env.Text = e.deps.Post.Process(env.Text, prof.Kind)

	if opts.UseCache && e.deps.Cache != nil {
		if payload, err := cache.Payload(env); err != nil {
			log.Warn().Err(err).Msg("Envelope not cacheable")
		} else {
			e.deps.Cache.Store(path, cacheCfg, payload)
		}
	}

	log.Info().
		Str("file_type", env.FileType).
		Str("best_strategy", env.Metadata.BestStrategy).
		Float64("confidence", env.Metadata.Confidence).
		Int("chars", len(env.Text)).
		Int64("processing_time_ms", env.Metadata.ProcessingTimeMS).
		Msg("Extraction finished")
	return env, nil
}

func (e *Extractor) extractPDF(ctx context.Context, path string, prof profile.Profile, env *models.Envelope, log zerolog.Logger) error {
	env.FileType = models.FileTypePDF
	env.Metadata.AddCapability(models.CapabilityPDFText)

	res, err := e.deps.PDF.Extract(ctx, path)
	if err != nil && !errors.Is(err, pdftext.ErrNoText) {
		if ocrerr.IsUserVisible(err) || ctx.Err() != nil {
			return err
		}
		return ocrerr.New("ExtractPDF", ocrerr.ErrFileUnreadable, err.Error())
	}
	if res == nil {
		res = &pdftext.Result{Method: pdftext.MethodDirect}
	}
	if errors.Is(err, pdftext.ErrNoText) {
		env.Metadata.Diagnostics = append(env.Metadata.Diagnostics, "no text layer found; scanned PDFs are not rasterized")
		log.Warn().Str("file", filepath.Base(path)).Msg("PDF has no text layer")
	}

	env.Text = res.Text
	env.Metadata.MethodUsed = res.Method
	env.Metadata.BestStrategy = res.Method
	env.Metadata.StrategiesTried = 1
	env.Metadata.PageCount = res.PageCount
	env.Metadata.Confidence = res.Confidence
	return nil
}

func (e *Extractor) extractImage(ctx context.Context, path string, prof profile.Profile, mode string, env *models.Envelope, log zerolog.Logger) error {
	const op = "ExtractImage"
	env.FileType = models.FileTypeImage
	md := &env.Metadata

	img, err := imageio.Load(path)
	if err != nil {
		return err
	}
	b := img.Bounds()
	md.ImageSize = &models.Size{Width: b.Dx(), Height: b.Dy()}

	sess, err := imageio.NewSession(e.settings.TempDir, e.settings.TempPrefix)
	if err != nil {
		return ocrerr.New(op, ocrerr.ErrEngineUnavailable, err.Error())
	}
	defer sess.Close()

	report := e.assessor.Assess(img)
	md.QualityAssessment = report

	in := &strategy.Input{
		Path:         path,
		OriginalPath: path,
		Image:        img,
		Profile:      prof,
		Quality:      report,
		Session:      sess,
	}

	if !report.IsAcceptable {
		corrected, steps := e.corrector.Correct(img, report)
		if len(steps) > 0 {
			if p, err := sess.Save(corrected, "corrected"); err != nil {
				log.Warn().Err(err).Msg("Could not save corrected image, using original")
			} else {
				in.Path, in.Image, in.Corrected = p, corrected, corrected
				md.Corrected = true
				md.AddCapability(models.CapabilityQualityCorrected)
				md.Diagnostics = append(md.Diagnostics, "auto_correction: "+strings.Join(steps, ","))
				log.Info().Strs("steps", steps).Float64("quality_score", report.QualityScore).Msg("Image auto-corrected")
			}
		}
	}

	err = e.runMode(ctx, mode, in, env)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	log.Warn().Err(err).Str("mode", mode).Msg("Extraction path failed, falling back to standard strategy")
	md.Diagnostics = append(md.Diagnostics, fmt.Sprintf("%s failed: %v", mode, err))
	out, ferr := e.orch.RunStandard(ctx, in)
	if out != nil {
		out.Apply(md)
	}
	if ferr != nil {
		return ferr
	}
	env.Text = out.Best.Text
	md.Method = MethodStandard
	md.AddCapability(models.CapabilityFallback)
	return nil
}

func (e *Extractor) runMode(ctx context.Context, mode string, in *strategy.Input, env *models.Envelope) error {
	md := &env.Metadata
	b := in.Image.Bounds()

	switch {
	case mode == models.ModeParallel:
		out, err := e.parallel.Run(ctx, in)
		if err != nil {
			return err
		}
		out.Apply(md)
		env.Text = out.Best.Text
		md.Method = MethodParallel
		md.ParallelExecution = true
		md.SuccessfulStrategies = out.Successful
		md.AddCapability(models.CapabilityParallel)
		return nil

	case mode == models.ModeRegions:
		res, err := e.regions.Process(ctx, in.Image, in.Profile.OCR, in.Session)
		if err != nil {
			return err
		}
		env.Text = res.Text
		md.Method = MethodRegions
		md.BestStrategy = MethodRegions + "_" + res.Detector
		md.Confidence = round2(res.Confidence)
		md.Estimated = res.Estimated
		md.StrategiesTried = 1
		md.RegionsProcessed = res.RegionsProcessed
		md.AddCapability(models.CapabilityRegions)
		return nil

	case mode == models.ModeIncremental,
		b.Dx() > e.settings.TiledThreshold || b.Dy() > e.settings.TiledThreshold:
		res, err := e.tiler.Process(ctx, in.Image, in.Profile.OCR, in.Session, mode == models.ModeIncremental)
		if err != nil {
			return err
		}
		if strings.TrimSpace(res.Text) == "" {
			return ocrerr.New(res.Method, ocrerr.ErrStrategyFailed, "no text in any tile")
		}
		env.Text = res.Text
		md.Method = res.Method
		md.BestStrategy = res.Method
		md.Confidence = round2(res.Confidence)
		md.Estimated = res.Estimated
		md.StrategiesTried = 1
		md.TilesProcessed = res.TilesProcessed
		md.TilesSkipped = res.TilesSkipped
		if res.Method != optimize.MethodDirect {
			md.AddCapability(models.CapabilityTiled)
		}
		return nil
	}

	out, err := e.orch.Run(ctx, in)
	if err != nil {
		if out != nil {
			md.Strategies = out.Records
		}
		return err
	}
	out.Apply(md)
	env.Text = out.Best.Text
	md.Method = MethodStandard
	if out.StrategiesTried > 1 {
		md.Method = MethodMultiStrategy
	}
	return nil
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

var _ services.ExtractionService = (*Extractor)(nil)
