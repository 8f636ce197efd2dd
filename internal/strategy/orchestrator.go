// Package strategy coordinates the extraction strategies of one call: it runs
// them in a fixed order, stops early on a confident result and otherwise
// selects a winner by voting.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/rs/zerolog"
	"ocrpipe/internal/imageio"
	"ocrpipe/internal/logger"
	"ocrpipe/internal/ocr"
	"ocrpipe/internal/ocrerr"
	"ocrpipe/internal/preprocess"
	"ocrpipe/internal/profile"
	"ocrpipe/internal/quality"
	"ocrpipe/pkg/models"
)

// ErrSkipped is returned by a task that does not apply to the input. Skipped
// tasks do not count as attempts.
var ErrSkipped = errors.New("strategy not applicable")

// Input is everything a strategy may read. It is shared read-only between
// tasks, which may run concurrently.
type Input struct {
	// Path is the image to OCR; it may already be the auto-corrected copy.
	Path         string
	OriginalPath string

	// Image is the decoded Path. It is loaded on first use when nil.
	Image image.Image

	Profile profile.Profile
	Quality *models.QualityReport

	// Corrected is the auto-corrected image when the facade produced one.
	Corrected image.Image

	Session *imageio.Session
}

// Candidate is one text produced by a strategy.
type Candidate struct {
	Strategy   string         `json:"strategy"`
	Text       string         `json:"text"`
	Confidence float64        `json:"confidence"`
	Estimated  bool           `json:"estimated"`
	Index      int            `json:"index"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Err        error          `json:"-"`
}

// Task is one planned strategy bound to the shared per-call state.
type Task struct {
	Name  string
	Index int
	Run   func(ctx context.Context) ([]Candidate, error)
}

// Settings tune the stopping rules.
type Settings struct {
	// ConfidenceThreshold stops the run as soon as a candidate reaches it.
	ConfidenceThreshold float64

	// EscalationThreshold accepts the standard result without voting when
	// it reaches this confidence. Zero always escalates.
	EscalationThreshold float64

	// MaxStrategies bounds the number of attempted strategies.
	MaxStrategies int
}

// DefaultSettings returns threshold 90, escalation below 75 and five strategies.
func DefaultSettings() Settings {
	return Settings{ConfidenceThreshold: 90, EscalationThreshold: 75, MaxStrategies: 5}
}

// Outcome is the result of an orchestrated run.
type Outcome struct {
	Best            Candidate
	Candidates      []Candidate
	Records         []models.StrategyRecord
	StrategiesTried int
	EarlyStopped    bool
	Voting          *models.VotingAnalysis
}

// Preprocessor is the part of the preprocessing engine the strategies use.
type Preprocessor interface {
	Prepare(ctx context.Context, img image.Image, cfg preprocess.Config) (*preprocess.Result, error)
	Binarize(prepared *preprocess.Result, cfg preprocess.Config) (*preprocess.Result, error)
	PreprocessImage(ctx context.Context, img image.Image, cfg preprocess.Config, sess *imageio.Session, label string) (string, error)
}

// Orchestrator runs strategies against an OCR engine.
type Orchestrator struct {
	engine    ocr.Engine
	pre       Preprocessor
	corrector *quality.Corrector
	settings  Settings
	log       zerolog.Logger
}

// New returns an orchestrator over engine.
func New(engine ocr.Engine, settings Settings) *Orchestrator {
	def := DefaultSettings()
	if settings.ConfidenceThreshold <= 0 {
		settings.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if settings.MaxStrategies <= 0 {
		settings.MaxStrategies = def.MaxStrategies
	}
	return &Orchestrator{
		engine:    engine,
		pre:       preprocess.NewEngine(),
		corrector: quality.NewCorrector(),
		settings:  settings,
		log:       logger.WithComponent("strategy"),
	}
}

// Settings returns the effective stopping rules.
func (o *Orchestrator) Settings() Settings { return o.settings }

// Engine returns the OCR engine strategies run against.
func (o *Orchestrator) Engine() ocr.Engine { return o.engine }

// Run attempts the planned strategies in order.
func (o *Orchestrator) Run(ctx context.Context, in *Input) (*Outcome, error) {
	out := &Outcome{}
	var failures []error

	for _, task := range o.Plan(in) {
		if out.StrategiesTried >= o.settings.MaxStrategies {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cands, err := task.Run(ctx)
		if errors.Is(err, ErrSkipped) {
			o.log.Debug().Str("strategy", task.Name).Msg("Strategy skipped")
			continue
		}
		out.StrategiesTried++
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			failures = append(failures, err)
			out.Records = append(out.Records, FailedRecord(task.Name, task.Index, err))
			o.log.Warn().Err(err).Str("strategy", task.Name).Msg("Strategy failed")
			continue
		}

		for _, c := range cands {
			if err := CandidateError(c); err != nil {
				failures = append(failures, err)
				out.Records = append(out.Records, FailedRecord(c.Strategy, c.Index, err))
				continue
			}
			out.Candidates = append(out.Candidates, c)
			out.Records = append(out.Records, Record(c))
			o.log.Debug().Str("strategy", c.Strategy).Float64("confidence", c.Confidence).Msg("Candidate produced")

			if c.Confidence >= o.settings.ConfidenceThreshold {
				out.Best = c
				out.EarlyStopped = true
				o.log.Info().Str("strategy", c.Strategy).Float64("confidence", c.Confidence).
					Int("strategies_tried", out.StrategiesTried).Msg("Early stop")
				return out, nil
			}
		}

		if task.Name == Standard && len(out.Candidates) == 1 &&
			o.settings.EscalationThreshold > 0 && out.Candidates[0].Confidence >= o.settings.EscalationThreshold {
			out.Best = out.Candidates[0]
			return out, nil
		}
	}

	return o.conclude(out, failures)
}

// RunStandard attempts only the standard strategy. It is the fallback path.
func (o *Orchestrator) RunStandard(ctx context.Context, in *Input) (*Outcome, error) {
	task := o.Plan(in)[0]
	out := &Outcome{StrategiesTried: 1}
	cands, err := task.Run(ctx)
	if err == nil {
		if len(cands) == 0 {
			err = ocrerr.New(task.Name, ocrerr.ErrStrategyFailed, "no candidate")
		} else {
			err = CandidateError(cands[0])
		}
	}
	if err != nil {
		out.Records = append(out.Records, FailedRecord(task.Name, task.Index, err))
		return out, classify([]error{err})
	}
	out.Best = cands[0]
	out.Candidates = cands[:1]
	out.Records = append(out.Records, Record(cands[0]))
	return out, nil
}

// Select votes among candidates gathered by any runner and fills the outcome.
func (o *Orchestrator) Select(out *Outcome, failures []error) (*Outcome, error) {
	return o.conclude(out, failures)
}

func (o *Orchestrator) conclude(out *Outcome, failures []error) (*Outcome, error) {
	if len(out.Candidates) == 0 {
		return out, classify(failures)
	}
	out.Best, out.Voting = Vote(out.Candidates)
	o.log.Info().Str("winner", out.Best.Strategy).Float64("confidence", out.Best.Confidence).
		Int("candidates", len(out.Candidates)).Int("strategies_tried", out.StrategiesTried).Msg("Selected by voting")
	return out, nil
}

// classify reports ErrEngineUnavailable when every failure was an engine
// outage, and ErrNoStrategySucceeded otherwise.
func classify(failures []error) error {
	if len(failures) == 0 {
		return ocrerr.New("Orchestrate", ocrerr.ErrNoStrategySucceeded, "no strategy produced text")
	}
	for _, err := range failures {
		if !errors.Is(err, ocrerr.ErrEngineUnavailable) {
			return ocrerr.New("Orchestrate", ocrerr.ErrNoStrategySucceeded, fmt.Sprintf("%d attempts failed, last: %v", len(failures), failures[len(failures)-1]))
		}
	}
	return ocrerr.New("Orchestrate", ocrerr.ErrEngineUnavailable, fmt.Sprintf("%d attempts failed", len(failures)))
}

// CandidateError reports why a candidate cannot be selected, or nil.
func CandidateError(c Candidate) error {
	if c.Err != nil {
		return c.Err
	}
	if strings.TrimSpace(c.Text) == "" {
		return ocrerr.New(c.Strategy, ocrerr.ErrStrategyFailed, "empty text")
	}
	return nil
}

// Record summarizes a usable candidate for the envelope.
func Record(c Candidate) models.StrategyRecord {
	return models.StrategyRecord{
		Name:       c.Strategy,
		Attempt:    c.Index,
		Confidence: round2(c.Confidence),
		Estimated:  c.Estimated,
		TextLength: len([]rune(c.Text)),
		OK:         true,
	}
}

// FailedRecord summarizes a failed attempt.
func FailedRecord(name string, index int, err error) models.StrategyRecord {
	return models.StrategyRecord{Name: name, Attempt: index, Error: err.Error()}
}

// Apply copies the outcome into envelope metadata.
func (out *Outcome) Apply(md *models.Metadata) {
	md.BestStrategy = out.Best.Strategy
	md.Confidence = round2(out.Best.Confidence)
	md.Estimated = out.Best.Estimated
	md.StrategiesTried = out.StrategiesTried
	md.Strategies = out.Records
	md.EarlyStopped = out.EarlyStopped
	md.VotingAnalysis = out.Voting

	avg, hi, lo := ConfidenceStats(out.Candidates)
	md.AverageConfidence, md.MaxConfidence, md.MinConfidence = round2(avg), round2(hi), round2(lo)

	if out.EarlyStopped {
		md.AddCapability(models.CapabilityEarlyStop)
	}
	if out.StrategiesTried > 1 {
		md.AddCapability(models.CapabilityMultiStrategy)
	}
	if out.Voting != nil {
		md.AddCapability(models.CapabilityVoting)
	}
}
