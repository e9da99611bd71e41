package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labelworks/parser-cli/internal/model"
)

func TestBuildRecordRequiresProductID(t *testing.T) {
	_, err := BuildRecord("", "Live Clean", nil, nil, nil)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMissingProductID))
}

func TestBuildRecordFlagPropagation(t *testing.T) {
	clean := model.NormalizedItem{CanonicalName: "Zinc", Confidence: 0.9}
	flagged := model.NormalizedItem{CanonicalName: "Mystery", Flagged: true}

	rec, err := BuildRecord("p1", "Live Clean", []model.NormalizedItem{clean}, nil, nil)
	require.NoError(t, err)
	assert.False(t, rec.RecordFlagged)

	rec, err = BuildRecord("p1", "Live Clean", []model.NormalizedItem{clean}, []model.NormalizedItem{flagged}, nil)
	require.NoError(t, err)
	assert.True(t, rec.RecordFlagged)
}

func TestBuildRecordStableJSONShape(t *testing.T) {
	rec, err := BuildRecord("p1", "Live Clean", nil, nil, nil)
	require.NoError(t, err)

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	// Empty collections serialize as [] rather than null.
	assert.JSONEq(t, `{
		"product_id": "p1",
		"product_name": "Live Clean",
		"ingredients": [],
		"claims": [],
		"record_flagged": false,
		"notes": []
	}`, string(data))
}
