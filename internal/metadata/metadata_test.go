package metadata

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

var fixedNow = func() time.Time { return time.Date(2024, 3, 12, 10, 15, 0, 0, time.UTC) }

func sampleEntities() []phi.Entity {
	return []phi.Entity{
		{EntityType: phi.TypeAge, Text: "45", Start: 24, End: 26, Score: 0.9},
		{EntityType: phi.TypePerson, Text: "John Smith", Start: 8, End: 18, Score: 0.9},
		{EntityType: phi.TypePerson, Text: "Dr. Rao", Start: 50, End: 57, Score: 0.8},
		{EntityType: phi.TypeDateTime, Text: "2024-01-02", Start: 36, End: 46, Score: 0.9},
	}
}

func TestAssignIDs(t *testing.T) {
	in := sampleEntities()
	out := AssignIDs(3, in)

	assert.Equal(t, []string{
		"page_3_AGE_1", "page_3_PERSON_1", "page_3_PERSON_2", "page_3_DATE_TIME_1",
	}, []string{out[0].EntityID, out[1].EntityID, out[2].EntityID, out[3].EntityID})
	assert.Empty(t, in[0].EntityID, "input must not be modified")
}

func TestBuild(t *testing.T) {
	b := Builder{Models: []string{"stanford-deidentifier-base"}, Now: fixedNow}
	m := b.Build(Page{DocID: "doc-1", DocName: "report.pdf", PageNumber: 2}, MethodEnsemble, sampleEntities())

	assert.Equal(t, "doc-1", m.DocID)
	assert.Equal(t, 2, m.PageNumber)
	assert.Equal(t, 4, m.TotalEntitiesRedacted)
	assert.Equal(t, fixedNow(), m.Timestamp)
	require.Contains(t, m.Pages, "2")

	byType := m.Pages["2"].EntitiesByType
	require.Len(t, byType[phi.TypePerson], 2)
	assert.Equal(t, "page_2_PERSON_1", byType[phi.TypePerson][0].EntityID)
	assert.Equal(t, "John Smith", byType[phi.TypePerson][0].Text)
	assert.Equal(t, map[phi.EntityType]int{phi.TypeAge: 1, phi.TypePerson: 2, phi.TypeDateTime: 1}, m.CountsByType())
}

func TestBuildWithoutEntities(t *testing.T) {
	m := Builder{Now: fixedNow}.Build(Page{DocID: "d", PageNumber: 1}, MethodEnsemble, nil)
	data, err := Encode(m)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Empty(t, decoded.Entities)
	assert.Empty(t, decoded.PageEntities(1))
}

func TestEncodeDecode(t *testing.T) {
	m := Builder{Now: fixedNow}.Build(Page{DocID: "doc-1", DocName: "r.pdf", PageNumber: 1}, MethodEnsemble, sampleEntities())
	data, err := Encode(m)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, m.Entities, decoded.Entities)
	assert.Equal(t, m.Pages, decoded.Pages)
	assert.True(t, m.Timestamp.Equal(decoded.Timestamp))
}

func TestDecodeRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"missing doc id", `{"doc_name":"x","page_number":1,"entities":[]}`},
		{"negative start", `{"doc_name":"x","doc_id":"d","page_number":1,"entities":[{"entity_type":"PERSON","text":"a","start":-1,"end":1}]}`},
		{"entity without text", `{"doc_name":"x","doc_id":"d","page_number":1,"entities":[{"entity_type":"PERSON","start":0,"end":1}]}`},
		{"inverted span", `{"doc_name":"x","doc_id":"d","page_number":1,"entities":[{"entity_type":"PERSON","text":"a","start":5,"end":2}]}`},
		{"bad page key", `{"doc_name":"x","doc_id":"d","page_number":1,"entities":[],"pages":{"one":{}}}`},
		{"page zero", `{"doc_name":"x","doc_id":"d","page_number":0,"entities":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, phi.ErrInvalidMetadata), err.Error())
		})
	}
}

func TestPageEntitiesPrefersPageView(t *testing.T) {
	m := &Metadata{
		Entities: []phi.Entity{{EntityType: phi.TypeID, Text: "flat", Start: 0, End: 4}},
		Pages: map[string]PageEntry{
			"1": {EntitiesByType: map[phi.EntityType][]phi.Entity{
				phi.TypePerson: {{Text: "Ann", Start: 10, End: 13}},
				phi.TypeAge:    {{EntityType: phi.TypeAge, Text: "45", Start: 20, End: 22}},
			}},
		},
	}

	got := m.PageEntities(1)
	require.Len(t, got, 2)
	assert.Equal(t, phi.TypeAge, got[0].EntityType)
	assert.Equal(t, phi.TypePerson, got[1].EntityType, "type is filled from the group key")

	flat := m.PageEntities(2)
	require.Len(t, flat, 1)
	assert.Equal(t, "flat", flat[0].Text)
}
