package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dept-delivery/finsheet/internal/model"
)

func resetIngestFlags() {
	ingestFlags.client = ""
	ingestFlags.title = ""
	ingestFlags.scope = ""
	ingestFlags.tags = nil
	ingestFlags.sheets = nil
	ingestFlags.mergeInto = ""
	ingestFlags.mergePolicy = ""
	ingestFlags.uploadedBy = ""
	ingestFlags.meta = nil
}

func TestBuildUploadRequest(t *testing.T) {
	resetIngestFlags()
	ingestFlags.client = "Acme Corp"
	ingestFlags.title = "Website Relaunch"
	ingestFlags.sheets = []string{"Plan:plan", "Rate Card"}
	ingestFlags.meta = []string{"ticket=FIN-42"}

	req, err := buildUploadRequest("/uploads/acme.xlsx")
	require.NoError(t, err)

	assert.Equal(t, "/uploads/acme.xlsx", req.Path)
	assert.Equal(t, "Acme Corp", req.ClientName)
	require.Len(t, req.Selections, 2)
	assert.Equal(t, model.SheetSelection{SheetName: "Plan", TypeHint: model.SheetTypePlan}, req.Selections[0])
	assert.Equal(t, model.SheetSelection{SheetName: "Rate Card"}, req.Selections[1])
	assert.Equal(t, map[string]string{"ticket": "FIN-42"}, req.UserMetadata)
}

func TestBuildUploadRequest_UnknownSheetType(t *testing.T) {
	resetIngestFlags()
	ingestFlags.sheets = []string{"Plan:banana"}

	_, err := buildUploadRequest("/uploads/acme.xlsx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown sheet type "banana"`)
}

func TestBuildUploadRequest_MergePolicyNeedsTarget(t *testing.T) {
	resetIngestFlags()
	ingestFlags.mergePolicy = "union"

	_, err := buildUploadRequest("/uploads/acme.xlsx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--merge-policy requires --merge-into")
}

func TestBuildUploadRequest_BadMergePolicy(t *testing.T) {
	resetIngestFlags()
	ingestFlags.mergeInto = "abc123def4567890"
	ingestFlags.mergePolicy = "overwrite"

	_, err := buildUploadRequest("/uploads/acme.xlsx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown merge policy")
}

func TestBuildUploadRequest_BadMeta(t *testing.T) {
	resetIngestFlags()
	ingestFlags.meta = []string{"no-equals"}

	_, err := buildUploadRequest("/uploads/acme.xlsx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key=value")
}
