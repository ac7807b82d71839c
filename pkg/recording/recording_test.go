package recording

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lmFile = `LslMarkerSourceTimestamp,LslMarkerTimestamp,LocalTimestamp,EmotiBitTimestamp,PacketNumber,DataLength,TypeTag,ProtocolVersion,DataReliability,LM
1001.5,1001.6,1700000000.1,52000,10,1,LM,1,100,LC,0.0,LD,baseline,LR,1
1010.25,1010.3,1700000009.0,61000,11,1,LM,1,100,meditation
short,row
bad,1010.3,1700000009.0,x,12,1,LM,1,100,LD,recovery
1020,1020.1,1700000019.0,71000,13,1,LM,1,100,42
`

func TestParseMarkers(t *testing.T) {
	markers, err := ParseMarkers(strings.NewReader(lmFile))
	require.NoError(t, err)
	require.Len(t, markers, 3)

	assert.Equal(t, Marker{LSLTimestamp: 1001.5, EmotiBitTimestamp: 52000, Label: "baseline"}, markers[0])
	assert.Equal(t, "meditation", markers[1].Label)
	assert.Equal(t, "", markers[2].Label)

	var buf bytes.Buffer
	require.NoError(t, WriteMarkers(&buf, markers))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "LslMarkerSourceTimestamp,EmotiBitTimestamp,Marker", lines[0])
	assert.Equal(t, "1001.5,52000,baseline", lines[1])
	assert.Equal(t, "1020,71000,", lines[3])
}

func TestParseMarkersEmpty(t *testing.T) {
	markers, err := ParseMarkers(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, markers)
}

func TestMergeTagged(t *testing.T) {
	pi, err := LoadTagged(strings.NewReader(
		"LocalTimestamp,LslMarkerSourceTimestamp,EmotiBitTimestamp,PI\n"+
			"1,2.0,200,10\n"+
			"1,1.0,100,11\n"+
			"1,3.0,300,n/a\n"), "PI")
	require.NoError(t, err)
	pg, err := LoadTagged(strings.NewReader(
		"LslMarkerSourceTimestamp,EmotiBitTimestamp,PG\n"+
			"1.0,100,20\n"+
			"1.5,150,21\n"), "PG")
	require.NoError(t, err)

	rows := MergeTagged(pi, pg)
	require.Len(t, rows, 3)
	assert.Equal(t, 1.0, rows[0].LSLTimestamp)
	assert.Equal(t, []float64{11, 20}, rows[0].Values)
	assert.Equal(t, []bool{true, true}, rows[0].Present)
	assert.Equal(t, []bool{false, true}, rows[1].Present)
	assert.Equal(t, []bool{true, false}, rows[2].Present)

	var buf bytes.Buffer
	require.NoError(t, WriteMerged(&buf, []string{"PI", "PG"}, rows))
	assert.Equal(t,
		"LslMarkerSourceTimestamp,EmotiBitTimestamp,PI,PG\n"+
			"1,100,11,20\n"+
			"1.5,150,,21\n"+
			"2,200,10,\n",
		buf.String())
}

func TestMergeTaggedKeepsRepeatedTimestamps(t *testing.T) {
	pi, err := LoadTagged(strings.NewReader(
		"LslMarkerSourceTimestamp,EmotiBitTimestamp,PI\n"+
			"1.0,100,10\n"+
			"1.0,100,11\n"+
			"2.0,200,12\n"+
			"2.0,200,13\n"), "PI")
	require.NoError(t, err)
	assert.Equal(t, 4, pi.Len())
	pg, err := LoadTagged(strings.NewReader(
		"LslMarkerSourceTimestamp,EmotiBitTimestamp,PG\n"+
			"1.0,100,20\n"+
			"1.0,100,21\n"), "PG")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteMerged(&buf, []string{"PI", "PG"}, MergeTagged(pi, pg)))
	assert.Equal(t,
		"LslMarkerSourceTimestamp,EmotiBitTimestamp,PI,PG\n"+
			"1,100,10,20\n"+
			"1,100,10,21\n"+
			"1,100,11,20\n"+
			"1,100,11,21\n"+
			"2,200,12,\n"+
			"2,200,13,\n",
		buf.String())
}

func TestLoadTaggedMissingColumn(t *testing.T) {
	_, err := LoadTagged(strings.NewReader("LslMarkerSourceTimestamp,PI\n1,2\n"), "PI")
	assert.ErrorContains(t, err, "EmotiBitTimestamp")
}
