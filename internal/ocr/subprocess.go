package ocr

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"ocrpipe/internal/logger"
	"ocrpipe/internal/ocrerr"
)

// Subprocess defaults
const (
	DefaultBinary      = "tesseract"
	DefaultTimeout     = 30 * time.Second
	DefaultThreadLimit = 1
	tsvConfColumn      = 10
	tsvTextColumn      = 11
)

// Subprocess runs the tesseract binary as a child process. Each call works in
// its own temporary directory which is removed before returning.
type Subprocess struct {
	Binary         string
	TessdataPrefix string
	ThreadLimit    int
	Timeout        time.Duration

	// TempDir is the parent of the per-call work directories (os.TempDir when empty).
	TempDir string

	log zerolog.Logger
}

// NewSubprocess returns a subprocess backend with the default binary, thread
// limit and timeout.
func NewSubprocess(tessdataPrefix string) *Subprocess {
	return &Subprocess{
		Binary:         DefaultBinary,
		TessdataPrefix: tessdataPrefix,
		ThreadLimit:    DefaultThreadLimit,
		Timeout:        DefaultTimeout,
		log:            logger.WithComponent("ocr-subprocess"),
	}
}

// Command builds the engine invocation writing <outBase>.txt and <outBase>.tsv.
func (s *Subprocess) Command(ctx context.Context, imagePath, outBase string, cfg Config) *exec.Cmd {
	args := []string{imagePath, outBase, "-l", strings.Join(cfg.LanguageList(), "+")}
	args = append(args, cfg.Args()...)
	args = append(args, "txt", "tsv")

	binary := s.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	cmd := exec.CommandContext(ctx, binary, args...)

	threads := s.ThreadLimit
	if threads <= 0 {
		threads = DefaultThreadLimit
	}
	cmd.Env = append(os.Environ(), "OMP_THREAD_LIMIT="+strconv.Itoa(threads))
	if s.TessdataPrefix != "" {
		cmd.Env = append(cmd.Env, "TESSDATA_PREFIX="+s.TessdataPrefix)
	}
	cmd.WaitDelay = time.Second
	return cmd
}

// Recognize runs the engine under the wall timeout and reads its outputs back.
func (s *Subprocess) Recognize(ctx context.Context, imagePath string, cfg Config) (*Result, error) {
	const op = "Subprocess"

	if _, err := os.Stat(imagePath); err != nil {
		return nil, ocrerr.New(op, ocrerr.ErrFileMissing, imagePath)
	}

	dir, err := os.MkdirTemp(s.TempDir, "ocrpipe_tess_")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outBase := filepath.Join(dir, "out")
	cmd := s.Command(runCtx, imagePath, outBase, cfg)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ocrerr.New(op, ocrerr.ErrEngineTimeout, fmt.Sprintf("after %s", timeout))
		}
		return nil, fmt.Errorf("tesseract execution failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	text, err := os.ReadFile(outBase + ".txt")
	if err != nil {
		return nil, fmt.Errorf("read text output: %w", err)
	}
	res := &Result{Text: string(text)}

	if f, err := os.Open(outBase + ".tsv"); err == nil {
		res.Words, err = ParseTSV(f)
		f.Close()
		if err != nil {
			s.log.Debug().Err(err).Msg("Ignoring unreadable TSV output")
		}
	}
	res.Finish()

	s.log.Debug().
		Str("image", filepath.Base(imagePath)).
		Dur("elapsed", time.Since(start)).
		Float64("confidence", res.Confidence).
		Bool("estimated", res.Estimated).
		Msg("Subprocess OCR complete")
	return res, nil
}

// ParseTSV reads tesseract TSV output and returns the words that carry a
// confidence. Rows with confidence -1 (page, block, line) are skipped.
func ParseTSV(r io.Reader) ([]Word, error) {
	var words []Word
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || strings.HasPrefix(line, "level") {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) <= tsvConfColumn {
			continue
		}
		conf, err := strconv.ParseFloat(strings.TrimSpace(cols[tsvConfColumn]), 64)
		if err != nil || conf < 0 {
			continue
		}
		var text string
		if len(cols) > tsvTextColumn {
			text = strings.TrimSpace(cols[tsvTextColumn])
		}
		if text == "" {
			continue
		}
		words = append(words, Word{Text: text, Confidence: conf})
	}
	return words, sc.Err()
}
