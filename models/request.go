package models

import (
	"time"

	"github.com/google/uuid"
)

// ActionType represents a category of operation governed by one policy rule
type ActionType string

const (
	ActionReadFile   ActionType = "read_file"
	ActionWriteFile  ActionType = "write_file"
	ActionDeleteFile ActionType = "delete_file"
	ActionListDir    ActionType = "list_dir"
)

// KnownActionTypes lists every action type the gate has a schema for.
// Anything outside this set is structurally malformed input.
var KnownActionTypes = []ActionType{
	ActionReadFile,
	ActionWriteFile,
	ActionDeleteFile,
	ActionListDir,
}

// IsKnown reports whether the action type has a registered schema
func (a ActionType) IsKnown() bool {
	for _, t := range KnownActionTypes {
		if a == t {
			return true
		}
	}
	return false
}

// ActionRequest is a single proposed action awaiting a verdict.
// Immutable once created; the request ID is generated at ingress and
// never reused, so a denied request can only be retried as a new request.
type ActionRequest struct {
	RequestID  uuid.UUID         `json:"request_id" db:"request_id"`
	ActorID    string            `json:"actor_id" db:"actor_id"`
	ActionType ActionType        `json:"action_type" db:"action_type"`
	Parameters map[string]string `json:"parameters" db:"parameters"`
	Timestamp  time.Time         `json:"timestamp" db:"timestamp"`
}

// NewActionRequest creates an ActionRequest with a fresh request ID
func NewActionRequest(actorID string, actionType ActionType, params map[string]string) *ActionRequest {
	return &ActionRequest{
		RequestID:  uuid.New(),
		ActorID:    actorID,
		ActionType: actionType,
		Parameters: params,
		Timestamp:  time.Now().UTC(),
	}
}

// Param returns a named parameter and whether it was present
func (r *ActionRequest) Param(name string) (string, bool) {
	v, ok := r.Parameters[name]
	return v, ok
}

// ParamField describes one field of an action's parameter schema
type ParamField struct {
	Name     string
	Required bool
	MaxBytes int
	PathLike bool
}

// ActionSchema is the closed parameter schema for one action type.
// Unknown fields are rejected at the validation stage rather than
// silently carried through the pipeline.
type ActionSchema struct {
	Action ActionType
	Fields []ParamField
}

// Field looks up a schema field by name
func (s ActionSchema) Field(name string) (ParamField, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return ParamField{}, false
}

// actionSchemas is the closed registry of parameter schemas per action type
var actionSchemas = map[ActionType]ActionSchema{
	ActionReadFile: {
		Action: ActionReadFile,
		Fields: []ParamField{
			{Name: "path", Required: true, MaxBytes: 4096, PathLike: true},
		},
	},
	ActionWriteFile: {
		Action: ActionWriteFile,
		Fields: []ParamField{
			{Name: "path", Required: true, MaxBytes: 4096, PathLike: true},
			{Name: "content", Required: true, MaxBytes: 1 << 20},
		},
	},
	ActionDeleteFile: {
		Action: ActionDeleteFile,
		Fields: []ParamField{
			{Name: "path", Required: true, MaxBytes: 4096, PathLike: true},
		},
	},
	ActionListDir: {
		Action: ActionListDir,
		Fields: []ParamField{
			{Name: "path", Required: true, MaxBytes: 4096, PathLike: true},
		},
	},
}

// SchemaFor returns the parameter schema for an action type
func SchemaFor(action ActionType) (ActionSchema, bool) {
	s, ok := actionSchemas[action]
	return s, ok
}
