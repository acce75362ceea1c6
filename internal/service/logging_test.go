package service

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestIsVerboseLogging(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsVerboseLogging(ctx))
	assert.True(t, IsVerboseLogging(WithVerbose(ctx, true)))
	assert.False(t, IsVerboseLogging(context.WithValue(ctx, VerboseContextKey, "yes")))
}

func TestMaskFields(t *testing.T) {
	fields := logrus.Fields{
		LogFieldPhone:    "15551234567",
		LogFieldTenantID: "tenant-a",
		"access_token":   "EAAGsecretvalue1234",
	}

	masked := MaskFields(context.Background(), fields)
	assert.NotEqual(t, "15551234567", masked[LogFieldPhone])
	assert.Equal(t, "tenant-a", masked[LogFieldTenantID])
	assert.NotContains(t, masked["access_token"], "secret")

	verbose := MaskFields(WithVerbose(context.Background(), true), fields)
	assert.Equal(t, "15551234567", verbose[LogFieldPhone])
	assert.Equal(t, "****1234", verbose["access_token"], "tokens stay masked in verbose mode")

	assert.Equal(t, "15551234567", fields[LogFieldPhone], "input is not modified")
}
