package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/sipkd-core/sipkd/internal/shared"
)

// Event adalah satu catatan audit yang tidak pernah diubah atau dihapus.
type Event struct {
	ID         int64          `json:"id"`
	ActorID    int64          `json:"actor_id"`
	ActorRole  shared.Role    `json:"actor_role"`
	Action     string         `json:"action"`
	DocumentID *uuid.UUID     `json:"document_id,omitempty"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
	At         time.Time      `json:"at"`
}

// Aksi-aksi yang dicatat oleh workflow engine.
const (
	ActionSubmit        = "SUBMIT"
	ActionRegister      = "REGISTER"
	ActionVerifyApprove = "VERIFY_APPROVE"
	ActionVerifyReject  = "VERIFY_REJECT"
	ActionFlagReview    = "FLAG_REVIEW"
	ActionConfirmReturn = "CONFIRM_RETURN"
	ActionResubmit      = "RESUBMIT"
	ActionIssueSP2D     = "ISSUE_SP2D"
	ActionDelete        = "DELETE"
	ActionTaxEnter      = "TAX_ENTER"
	ActionTaxClear      = "TAX_CLEAR"
)

// TimelineFilters membatasi hasil timeline lintas dokumen.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	ActorID  int64
	Action   string
	Page     int
	PageSize int
}

// PagingInfo menyimpan informasi halaman untuk timeline.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Result membungkus hasil timeline dengan informasi paging.
type Result struct {
	Rows   []Event
	Paging PagingInfo
}
