package content

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/croplink/ai/agent"
	"github.com/teranos/croplink/errors"
)

func TestDirectExtractorMappings(t *testing.T) {
	fields, err := DirectExtractor{}.Extract(context.Background(), qcSource(), qcRef(), &Artifact{Body: []byte(qcBody)})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"grade":      "A",
		"factory_id": "FAC-9",
		"moisture":   json.Number("13.2"),
		"farmer_id":  "FRM-001",
		"batch_id":   "B-77",
	}, fields)
}

func TestDirectExtractorBodyWinsOverPath(t *testing.T) {
	src := qcSource()
	src.Config.Transformation.FieldMappings = map[string]string{"farmer_id": "farmer"}

	fields, err := DirectExtractor{}.Extract(context.Background(), src, qcRef(), &Artifact{Body: []byte(`{"farmer": "FRM-002"}`)})
	require.NoError(t, err)
	assert.Equal(t, "FRM-002", fields["farmer_id"])
}

func TestDirectExtractorCopiesObjectWithoutMappings(t *testing.T) {
	src := qcSource()
	src.Config.Transformation.FieldMappings = nil

	fields, err := DirectExtractor{}.Extract(context.Background(), src, Ref{}, &Artifact{Body: []byte(`{"grade": "B", "nested": {"x": 1}}`)})
	require.NoError(t, err)
	assert.Equal(t, "B", fields["grade"])
	assert.Equal(t, map[string]any{"x": json.Number("1")}, fields["nested"])

	_, err = DirectExtractor{}.Extract(context.Background(), src, Ref{}, &Artifact{Body: []byte(`[1, 2]`)})
	assert.True(t, errors.IsTerminal(err))
}

func TestDirectExtractorMalformedIsTerminal(t *testing.T) {
	_, err := DirectExtractor{}.Extract(context.Background(), qcSource(), qcRef(), &Artifact{Body: []byte(`{"grade": "A"`)})
	require.Error(t, err)
	assert.True(t, errors.IsTerminal(err))

	var te *TerminalError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "artifact is not valid JSON", te.Reason)
}

func TestLookup(t *testing.T) {
	doc := map[string]any{"a": map[string]any{"b": []any{"x", map[string]any{"c": true}}}}
	v, ok := lookup(doc, "a.b.1.c")
	require.True(t, ok)
	assert.Equal(t, true, v)

	for _, p := range []string{"a.z", "a.b.5", "a.b.-1", "a.b.x", "a.b.0.c"} {
		_, ok := lookup(doc, p)
		assert.False(t, ok, p)
	}
}

type stubAgent struct {
	got    agent.Request
	fields map[string]any
	err    error
}

func (s *stubAgent) Extract(_ context.Context, req agent.Request) (map[string]any, error) {
	s.got = req
	return s.fields, s.err
}

func TestAgentExtractor(t *testing.T) {
	src := weatherSource()
	src.Config.Transformation.FieldMappings = map[string]string{"rainfall_mm": "", "region_id": ""}
	src.Config.Validation.Schema = map[string]any{"type": "object"}
	ag := &stubAgent{fields: map[string]any{"rainfall_mm": 12.5}}

	ref := Ref{SourceID: "weather-daily", Path: "weather-daily/RGN-7/2026-03-01T06:00:00Z", Metadata: map[string]string{"region_id": "RGN-7"}}
	fields, err := AgentExtractor{Agent: ag}.Extract(context.Background(), src, ref, &Artifact{Body: []byte("<html/>"), ContentType: "text/html"})
	require.NoError(t, err)

	assert.Equal(t, json.Number("12.5"), fields["rainfall_mm"])
	assert.Equal(t, "RGN-7", fields["region_id"])

	assert.Equal(t, "weather-extractor", ag.got.AgentID)
	assert.Equal(t, []string{"rainfall_mm", "region_id"}, ag.got.Fields)
	assert.Equal(t, "text/html", ag.got.ContentType)
	assert.Equal(t, src.Config.Validation.Schema, ag.got.Schema)
}

func TestAgentExtractorPropagatesErrors(t *testing.T) {
	ag := &stubAgent{err: errors.Mark(errors.New("agent slow"), errors.ErrTimeout)}
	_, err := AgentExtractor{Agent: ag}.Extract(context.Background(), weatherSource(), Ref{}, &Artifact{})
	assert.True(t, errors.Is(err, errors.ErrTimeout))

	_, err = AgentExtractor{}.Extract(context.Background(), weatherSource(), Ref{}, &Artifact{})
	assert.Error(t, err)
}

func TestAgentExtractorRejectsEmptyAnswer(t *testing.T) {
	ag := &stubAgent{}
	var (
		fields map[string]any
		err    error
	)
	require.NotPanics(t, func() {
		fields, err = AgentExtractor{Agent: ag}.Extract(context.Background(), weatherSource(), Ref{}, &Artifact{})
	})
	require.Error(t, err)
	assert.Nil(t, fields)
	assert.False(t, errors.IsTerminal(err), "an empty agent answer is retried")
}
