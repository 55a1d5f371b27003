package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zerotrust-labs/agent-gate/models"
	"go.uber.org/zap"
)

// ErrOutsideWorkspace is returned when a path resolves outside the
// workspace root. The validator should have caught this already; the
// executor re-checks because it is the last hand on the filesystem.
var ErrOutsideWorkspace = errors.New("path resolves outside workspace root")

// ErrUnsupportedAction is returned for action types the executor has
// no handler for.
var ErrUnsupportedAction = errors.New("unsupported action type")

// Outcome describes one executed action for the execution log.
type Outcome struct {
	RequestID string        `json:"request_id"`
	Action    string        `json:"action"`
	Path      string        `json:"path"`
	OK        bool          `json:"ok"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Service carries out filesystem actions that passed the gate. It is
// only ever invoked with an ALLOW verdict in hand; it never makes
// gating decisions of its own beyond the workspace containment
// re-check.
type Service struct {
	root   string
	logger *zap.Logger
}

func NewService(workspaceRoot string, logger *zap.Logger) *Service {
	return &Service{
		root:   filepath.Clean(workspaceRoot),
		logger: logger,
	}
}

// Execute performs the requested action and returns its outcome. The
// outcome is logged either way; execution failures never retroactively
// change the request's verdict.
func (s *Service) Execute(ctx context.Context, req *models.ActionRequest) Outcome {
	started := time.Now()
	out := Outcome{
		RequestID: req.RequestID.String(),
		Action:    string(req.ActionType),
		Path:      req.Parameters["path"],
	}

	output, err := s.dispatch(ctx, req)
	out.Duration = time.Since(started)
	out.Output = output
	if err != nil {
		out.Error = err.Error()
	} else {
		out.OK = true
	}

	s.logOutcome(out)
	return out
}

func (s *Service) dispatch(ctx context.Context, req *models.ActionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path, err := s.resolve(req.Parameters["path"])
	if err != nil {
		return "", err
	}

	switch req.ActionType {
	case models.ActionReadFile:
		return s.readFile(path)
	case models.ActionWriteFile:
		return "", s.writeFile(path, req.Parameters["content"])
	case models.ActionDeleteFile:
		return "", s.deleteFile(path)
	case models.ActionListDir:
		return s.listDir(path)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAction, req.ActionType)
	}
}

// resolve anchors relative paths at the workspace root and rejects
// anything that escapes it after cleaning.
func (s *Service) resolve(raw string) (string, error) {
	p := raw
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	p = filepath.Clean(p)
	if p != s.root && !strings.HasPrefix(p, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, raw)
	}
	return p, nil
}

func (s *Service) readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func (s *Service) writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (s *Service) deleteFile(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("delete %s: target is a directory", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func (s *Service) listDir(path string) (string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

func (s *Service) logOutcome(out Outcome) {
	fields := []zap.Field{
		zap.String("request_id", out.RequestID),
		zap.String("action", out.Action),
		zap.String("path", out.Path),
		zap.Duration("duration", out.Duration),
	}
	if out.OK {
		s.logger.Info("action executed", fields...)
		return
	}
	s.logger.Warn("action execution failed", append(fields, zap.String("error", out.Error))...)
}
