// Package domain defines the core types for the storyboard engine.
package domain

// Role tags a message in a conversation with the oracle.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ShapeKind selects the output contract requested from the oracle.
type ShapeKind string

const (
	ShapeFreeText   ShapeKind = "free_text"
	ShapeStructured ShapeKind = "structured"
)

// FieldKind is the type of a named field in a structured item.
type FieldKind string

const (
	FieldString      FieldKind = "string"
	FieldStringArray FieldKind = "string_array"
)

// ItemField describes one required field of a structured item.
type ItemField struct {
	Name string
	Kind FieldKind
}

// OutputShape is the output contract attached to a request.
// For ShapeStructured, Count is the exact number of items asked for.
type OutputShape struct {
	Kind   ShapeKind
	Name   string
	Fields []ItemField
	Count  int
}

// GenerationRequest is an immutable request to the oracle.
type GenerationRequest struct {
	Messages []Message
	Shape    OutputShape
	// Count is the target unit count N. Only meaningful for structured shapes.
	Count    int
}

// FailureCause classifies why an oracle call failed.
type FailureCause string

const (
	CauseNone      FailureCause = ""
	CauseTransport FailureCause = "transport"
	CauseNon2xx    FailureCause = "non-2xx"
	CauseEmptyBody FailureCause = "empty-body"
)

// OracleResponse is the raw result of one oracle call.
type OracleResponse struct {
	Text   string
	OK     bool
	Cause  FailureCause
	Status int
	Body   string
}

// StructuredUnit is one generated scene from the cardinality-constrained path.
type StructuredUnit struct {
	Visual     string   `json:"visual"`
	Dialogue   string   `json:"dialogue"`
	SFX        []string `json:"sfx"`
	Transition string   `json:"transition"`
}

// SceneFields is the item schema every StructuredUnit is requested with.
var SceneFields = []ItemField{
	{Name: "visual", Kind: FieldString},
	{Name: "dialogue", Kind: FieldString},
	{Name: "sfx", Kind: FieldStringArray},
	{Name: "transition", Kind: FieldString},
}

// ViolationKind is a structural compliance failure of a template document.
type ViolationKind string

const (
	ViolationPlaceholders    ViolationKind = "placeholders-present"
	ViolationMissingSections ViolationKind = "missing-sections"
	// ViolationShotCount is rendered with the observed count, e.g. "invalid-shot-count:3".
	ViolationShotCount       ViolationKind = "invalid-shot-count"
)

// ValidationResult is the outcome of validating a template candidate.
type ValidationResult struct {
	Compliant    bool
	Reasons      []string
	RepairedText string
}

// Mode is a two-valued generation flag for dialogue, sfx and voice.
type Mode string

const (
	ModeAuto Mode = "auto"
	ModeNone Mode = "none"
)

// TemplateVariant selects how strictly a template document is checked.
type TemplateVariant string

const (
	TemplateDetailed TemplateVariant = "detailed"
	TemplateSimple   TemplateVariant = "simple"
)

// Style carries the attributes "auto" sentinels are resolved from.
type Style struct {
	Genre   string `json:"genre" yaml:"genre"`
	Mood    string `json:"mood" yaml:"mood"`
	Pace    string `json:"pace" yaml:"pace"`
	Palette string `json:"palette" yaml:"palette"`
}

// Brief is the creative input shared by both generation paths.
type Brief struct {
	Text        string
	Count       int
	DurationSec float64
	Language    string
	Dialogue    Mode
	SFX         Mode
	Voice       Mode
	Variant     TemplateVariant
	Style       Style
}

// ViewSpec is one unit of work in a batch.
type ViewSpec struct {
	ID                string `json:"id" yaml:"id"`
	Label             string `json:"label" yaml:"label"`
	Instruction       string `json:"instruction" yaml:"instruction"`
	RequiresReference bool   `json:"requires_reference,omitempty" yaml:"requires_reference"`
}

// ItemStatus is the lifecycle state of one batch item.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemRunning   ItemStatus = "running"
	ItemSucceeded ItemStatus = "succeeded"
	ItemFailed    ItemStatus = "failed"
	ItemCanceled  ItemStatus = "canceled"
)

// Outcome is what the result callback reports for an item.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailed   Outcome = "failed"
	OutcomeNetwork  Outcome = "network"
	OutcomeError    Outcome = "error"
	OutcomeCanceled Outcome = "canceled"
)

// RunMode selects how a batch dispatches its items.
type RunMode string

const (
	RunSequential RunMode = "sequential"
	RunParallel   RunMode = "parallel"
)

// RunStatus is the overall state of a batch run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// RecordKind tells which generation path produced a record.
type RecordKind string

const (
	KindScenes   RecordKind = "scenes"
	KindTemplate RecordKind = "template"
)

// ReferenceKey is the sentinel identifier of the reference role.
const ReferenceKey = "reference"

// GeneratedRecord is one successful unit's output plus provenance.
type GeneratedRecord struct {
	ID            string           `json:"id"`
	RunID         string           `json:"run_id"`
	ViewID        string           `json:"view_id"`
	ViewLabel     string           `json:"view_label"`
	SequenceIndex int              `json:"sequence_index"`
	Attempts      int              `json:"attempts"`
	Kind          RecordKind       `json:"kind"`
	Payload       string           `json:"payload"`
	Units         []StructuredUnit `json:"units,omitempty"`
	Reference     bool             `json:"reference"`
	CreatedAt     int64            `json:"created_at"`
}

// BatchRunState is the persisted summary of a batch run.
type BatchRunState struct {
	RunID         string    `json:"run_id"`
	Mode          RunMode   `json:"mode"`
	Status        RunStatus `json:"status"`
	Total         int       `json:"total"`
	Succeeded     int       `json:"succeeded"`
	Failed        int       `json:"failed"`
	Canceled      int       `json:"canceled"`
	StateVersion  int64     `json:"state_version"`
	LastEventSeq  int64     `json:"last_event_seq"`
	CreatedAt     int64     `json:"created_at"`
	UpdatedAtUnix int64     `json:"updated_at_unix"`
}

// BatchEvent is one progress or result notification of a run.
type BatchEvent struct {
	ID        int64   `json:"id"`
	RunID     string  `json:"run_id"`
	SeqNo     int64   `json:"seq_no"`
	EventType string  `json:"event_type"`
	ViewID    string  `json:"view_id"`
	ItemIndex int     `json:"item_index"`
	Total     int     `json:"total"`
	Outcome   Outcome `json:"outcome,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	RecordID  string  `json:"record_id,omitempty"`
	CreatedAt int64   `json:"created_at"`
}

// AuditRecord logs reference promotions and batch-level outcomes.
type AuditRecord struct {
	ID         string `json:"id"`
	RunID      string `json:"run_id"`
	Category   string `json:"category"`
	Actor      string `json:"actor"`
	Action     string `json:"action"`
	DetailJSON string `json:"detail_json"`
	Severity   string `json:"severity"`
	CreatedAt  int64  `json:"created_at"`
}

// Audit categories and severities written by the bridge.
const (
	AuditReference = "reference"
	AuditBatch     = "batch"

	SeverityInfo = "info"
	SeverityWarn = "warn"
)
