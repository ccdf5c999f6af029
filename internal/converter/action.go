package converter

import (
	"github.com/dunamismax/imagetea/internal/domain"
)

type ActionKind string

const (
	ActionView           ActionKind = "view"
	ActionImport         ActionKind = "import"
	ActionRemove         ActionKind = "remove"
	ActionClear          ActionKind = "clear"
	ActionSelect         ActionKind = "select"
	ActionDeselect       ActionKind = "deselect"
	ActionSelectAll      ActionKind = "select_all"
	ActionDeselectAll    ActionKind = "deselect_all"
	ActionFilter         ActionKind = "filter"
	ActionPage           ActionKind = "page"
	ActionUpdateSettings ActionKind = "update_settings"
	ActionConvert        ActionKind = "convert"
	ActionPreview        ActionKind = "preview"
	ActionExport         ActionKind = "export"
	ActionPlanExport     ActionKind = "plan_export"
)

// Upload is one file handed to ActionImport. MimeType is the client's declared type
// and may be empty.
type Upload struct {
	Name     string
	MimeType string
	Data     []byte
}

// Action is one user command. Only the fields its Kind reads are set.
type Action struct {
	Kind     ActionKind
	Uploads  []Upload
	ItemID   string
	ItemIDs  []string
	Query    string
	Page     int
	Settings *domain.Settings
}

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// Progress is one step of a batch, reported before the step runs.
type Progress struct {
	Done  int    `json:"done"`
	Total int    `json:"total"`
	Label string `json:"label"`
}

// Download is a file the caller should hand to the user. Inline marks previews.
type Download struct {
	FileName string
	MimeType string
	Data     []byte
	Inline   bool
}

// ExportPlan is the resolved input for an asynchronous export.
type ExportPlan struct {
	ItemIDs  []string        `json:"item_ids"`
	Settings domain.Settings `json:"settings"`
}

// Update is everything a command changed. The caller renders it; the session never
// touches presentation.
type Update struct {
	View     *View                `json:"view,omitempty"`
	Notices  []Notice             `json:"notices,omitempty"`
	Progress []Progress           `json:"progress,omitempty"`
	Report   *domain.ExportReport `json:"report,omitempty"`
	Plan     *ExportPlan          `json:"plan,omitempty"`
	Download *Download            `json:"-"`
}

func (u *Update) notify(level NoticeLevel, message string) {
	u.Notices = append(u.Notices, Notice{Level: level, Message: message})
}

func (u *Update) progress(done, total int, label string) {
	u.Progress = append(u.Progress, Progress{Done: done, Total: total, Label: label})
}
