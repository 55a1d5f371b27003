// Package validation implements the first gating stage: structural and
// content sanitation of action parameters. Structural malformation is a
// hard failure; suspicious-but-parseable content is reported as risk
// signals so that risk accumulates instead of binarizing.
package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zerotrust-labs/agent-gate/models"
	"go.uber.org/zap"
)

// Result is the outcome of validating one request
type Result struct {
	OK       bool
	Findings []models.RiskSignal
	// Reason explains the first hard failure; empty when OK
	Reason string
}

// Service validates action requests against their declared schemas and
// the workspace boundary. Stateless: a pure function of one request.
type Service struct {
	workspaceRoot string
	logger        *zap.Logger
}

// NewService creates a validation service rooted at workspaceRoot
func NewService(workspaceRoot string, logger *zap.Logger) *Service {
	return &Service{
		workspaceRoot: filepath.Clean(workspaceRoot),
		logger:        logger,
	}
}

var (
	// Shell metacharacters that have no business in a filesystem path
	shellMetaPattern = regexp.MustCompile("[;|&`$<>]")

	// Template injection markers in free-form content
	templateInjectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\{\{.*\}\}`),
		regexp.MustCompile(`\$\{[^}]*\}`),
		regexp.MustCompile(`<%.*%>`),
	}

	// Substrings that suggest the target file holds secrets
	sensitiveKeywords = []string{
		"credential", "password", "secret", "key", "token",
		"api", "private", "confidential",
	}

	// System locations an agent workspace should never reference
	systemPathPrefixes = []string{"/etc/", "/root/", "/proc/", "/sys/", "/dev/"}
)

// Validate runs every check against the request. All checks run and
// findings accumulate; only structural malformation short-circuits into
// a hard failure.
func (s *Service) Validate(req *models.ActionRequest) Result {
	if req == nil {
		return hardFail("request is nil", "malformed_request")
	}
	if strings.TrimSpace(req.ActorID) == "" {
		return hardFail("actor_id is required", "missing_actor")
	}

	schema, ok := models.SchemaFor(req.ActionType)
	if !ok {
		return hardFail(fmt.Sprintf("unknown action type %q", req.ActionType), "unknown_action")
	}

	// Structural conformance against the closed schema
	for _, field := range schema.Fields {
		value, present := req.Param(field.Name)
		if !present {
			if field.Required {
				return hardFail(fmt.Sprintf("missing required parameter %q", field.Name), "missing_parameter")
			}
			continue
		}
		if field.MaxBytes > 0 && len(value) > field.MaxBytes {
			// Oversized payloads fail closed, never get trimmed
			return hardFail(fmt.Sprintf("parameter %q exceeds %d bytes", field.Name, field.MaxBytes), "oversized_parameter")
		}
	}
	for name := range req.Parameters {
		if _, known := schema.Field(name); !known {
			return hardFail(fmt.Sprintf("unknown parameter %q for action %s", name, req.ActionType), "unknown_parameter")
		}
	}

	var findings []models.RiskSignal
	for _, field := range schema.Fields {
		value, present := req.Param(field.Name)
		if !present {
			continue
		}
		if field.PathLike {
			res := s.checkPath(value)
			if !res.OK {
				return res
			}
			findings = append(findings, res.Findings...)
		} else {
			findings = append(findings, checkContent(value)...)
		}
	}

	return Result{OK: true, Findings: findings}
}

// checkPath enforces the workspace boundary and rejects control bytes
// and shell metacharacters. Sensitive-looking names are soft findings.
func (s *Service) checkPath(raw string) Result {
	if raw == "" {
		return hardFail("path is empty", "empty_path")
	}
	if strings.ContainsRune(raw, 0) {
		return hardFail("path contains a null byte", "null_byte")
	}
	for _, r := range raw {
		if r < 0x20 || r == 0x7f {
			return hardFail("path contains control characters", "control_characters")
		}
	}
	if shellMetaPattern.MatchString(raw) {
		return hardFail("path contains shell metacharacters", "shell_metacharacters")
	}
	if strings.HasPrefix(raw, "~") {
		return hardFail("path references a home directory", "home_directory")
	}

	resolved := raw
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(s.workspaceRoot, resolved)
	}
	resolved = filepath.Clean(resolved)

	if resolved != s.workspaceRoot && !strings.HasPrefix(resolved, s.workspaceRoot+string(filepath.Separator)) {
		tag := "path_escape"
		for _, prefix := range systemPathPrefixes {
			if strings.HasPrefix(resolved, prefix) {
				tag = "system_path_access"
				break
			}
		}
		if strings.Contains(raw, "..") {
			tag = "path_traversal_attempt"
		}
		return hardFail(fmt.Sprintf("path resolves outside workspace root: %s", resolved), tag)
	}

	var findings []models.RiskSignal
	lower := strings.ToLower(raw)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			findings = append(findings, models.RiskSignal{
				Source: models.SourceValidator,
				Weight: int(models.WeightHigh),
				Tag:    "sensitive_path",
			})
			break
		}
	}
	if strings.Contains(raw, "..") {
		// Cleaned back inside the root, but still worth flagging
		findings = append(findings, models.RiskSignal{
			Source: models.SourceValidator,
			Weight: int(models.WeightMedium),
			Tag:    "path_traversal_attempt",
		})
	}
	return Result{OK: true, Findings: findings}
}

// checkContent scans free-form content parameters for injection markers.
// Content findings are always soft: the gate protects the filesystem,
// not what later consumers do with file contents.
func checkContent(value string) []models.RiskSignal {
	var findings []models.RiskSignal
	for _, pattern := range templateInjectionPatterns {
		if pattern.MatchString(value) {
			findings = append(findings, models.RiskSignal{
				Source: models.SourceValidator,
				Weight: int(models.WeightLow),
				Tag:    "template_injection_marker",
			})
			break
		}
	}
	if strings.ContainsRune(value, 0) {
		findings = append(findings, models.RiskSignal{
			Source: models.SourceValidator,
			Weight: int(models.WeightMedium),
			Tag:    "binary_content",
		})
	}
	return findings
}

func hardFail(reason, tag string) Result {
	return Result{
		OK:     false,
		Reason: reason,
		Findings: []models.RiskSignal{{
			Source: models.SourceValidator,
			Weight: int(models.WeightHigh),
			Tag:    tag,
		}},
	}
}
