package usage

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"gearbase/internal/domain"
)

func TestBuildUsageWorkbook(t *testing.T) {
	computed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	snapshots := []domain.UsageSnapshot{
		{Kind: domain.ResourceUsers, Current: 7, Limit: 10, Percent: 70, ComputedAt: computed},
		{Kind: domain.ResourceAccessories, Current: 2100, Limit: 2000, Percent: 105, ComputedAt: computed},
		{Kind: domain.ResourceStorage, Unavailable: true, Limit: 1 << 31, ComputedAt: computed},
	}

	data, err := BuildUsageWorkbook("Acme Auto", snapshots)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	title, err := f.GetCellValue("Usage", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Resource usage - Acme Auto", title)

	for i, want := range UsageExportHeader {
		cell, err := excelize.CoordinatesToCellName(i+1, 2)
		require.NoError(t, err)
		got, err := f.GetCellValue("Usage", cell)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	kind, _ := f.GetCellValue("Usage", "A3")
	status, _ := f.GetCellValue("Usage", "E3")
	assert.Equal(t, "users", kind)
	assert.Equal(t, "ok", status)

	status, _ = f.GetCellValue("Usage", "E4")
	assert.Equal(t, "over limit", status)

	status, _ = f.GetCellValue("Usage", "E5")
	assert.Equal(t, "unavailable", status)

	sheets := f.GetSheetList()
	assert.Equal(t, []string{"Usage"}, sheets)
}

func TestBuildUsageWorkbook_NoSnapshots(t *testing.T) {
	data, err := BuildUsageWorkbook("Empty Shop", nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	title, err := f.GetCellValue("Usage", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Resource usage - Empty Shop", title)
}
