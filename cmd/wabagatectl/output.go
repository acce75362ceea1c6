package main

import (
	"time"

	"wabagate/internal/models"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

func colorQueueStatus(s models.QueueStatus) string {
	switch s {
	case models.QueueStatusSent:
		return green(string(s))
	case models.QueueStatusPending, models.QueueStatusProcessing:
		return cyan(string(s))
	case models.QueueStatusFailed:
		return yellow(string(s))
	case models.QueueStatusPermanentlyFailed:
		return red(string(s))
	default:
		return string(s)
	}
}

func colorAccountStatus(s models.AccountStatus) string {
	switch s {
	case models.AccountStatusActive:
		return green(string(s))
	case models.AccountStatusDisconnected:
		return red(string(s))
	default:
		return yellow(string(s))
	}
}

func okMark() string { return green("ok") }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
