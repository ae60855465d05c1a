package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/report"
)

func transfersReport() *report.Report {
	def, _ := report.Definition(report.ReportTransfers)
	rows := []*report.ReportRow{
		{Values: map[string]interface{}{"ID": int64(1), "Status": "ready", "Title": "Boot"}},
		{Values: map[string]interface{}{"ID": int64(2), "Status": "failed", "Title": "Shoe"}},
		{Values: map[string]interface{}{"ID": int64(3), "Status": "ready", "Title": "Hat"}},
	}
	return &report.Report{Definition: def, Rows: rows, TotalCount: len(rows)}
}

func TestReportViewFilterThenSort(t *testing.T) {
	v := &reportView{sortBy: "id", filters: []string{"status=ready"}}
	rep, err := v.apply(transfersReport())
	require.NoError(t, err)
	require.Equal(t, 2, rep.TotalCount)
	assert.Equal(t, int64(3), rep.Rows[0].Values["ID"])
	assert.Equal(t, int64(1), rep.Rows[1].Values["ID"])

	v.asc = true
	rep, err = v.apply(transfersReport())
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.Rows[0].Values["ID"])
}

func TestReportViewRejectsBadInput(t *testing.T) {
	_, err := (&reportView{filters: []string{"status"}}).apply(transfersReport())
	assert.ErrorIs(t, err, apperr.ErrInvalidFilter)

	_, err = (&reportView{sortBy: "colour"}).apply(transfersReport())
	assert.ErrorIs(t, err, apperr.ErrInvalidFilter)

	var none *reportView
	rep, err := none.apply(transfersReport())
	require.NoError(t, err)
	assert.Equal(t, 3, rep.TotalCount)
}
