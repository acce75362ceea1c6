package models

import (
	"encoding/json"
	"strings"
	"time"
)

type TemplateStatus string

const (
	TemplateStatusPending  TemplateStatus = "pending"
	TemplateStatusApproved TemplateStatus = "approved"
	TemplateStatusRejected TemplateStatus = "rejected"
	TemplateStatusPaused   TemplateStatus = "paused"
	TemplateStatusDisabled TemplateStatus = "disabled"
)

// ParseTemplateStatus maps provider events (APPROVED, REJECTED, ...) to stored statuses.
func ParseTemplateStatus(s string) (TemplateStatus, bool) {
	switch strings.ToUpper(s) {
	case "APPROVED":
		return TemplateStatusApproved, true
	case "REJECTED":
		return TemplateStatusRejected, true
	case "PENDING", "IN_APPEAL", "PENDING_DELETION":
		return TemplateStatusPending, true
	case "PAUSED":
		return TemplateStatusPaused, true
	case "DISABLED", "DELETED":
		return TemplateStatusDisabled, true
	}
	return "", false
}

type Template struct {
	ID                 string          `db:"id" json:"id"`
	TenantID           string          `db:"tenant_id" json:"tenant_id"`
	AccountID          string          `db:"account_id" json:"account_id"`
	Name               string          `db:"name" json:"name"`
	Language           string          `db:"language" json:"language"`
	Category           string          `db:"category" json:"category"`
	HeaderText         string          `db:"header_text" json:"header_text,omitempty"`
	BodyText           string          `db:"body_text" json:"body_text"`
	FooterText         string          `db:"footer_text" json:"footer_text,omitempty"`
	Buttons            json.RawMessage `db:"buttons" json:"buttons,omitempty"`
	Status             TemplateStatus  `db:"status" json:"status"`
	ProviderTemplateID string          `db:"provider_template_id" json:"provider_template_id,omitempty"`
	RejectedReason     string          `db:"rejected_reason" json:"rejected_reason,omitempty"`
	UsageCount         int             `db:"usage_count" json:"usage_count"`
	LastUsedAt         *time.Time      `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}
