package parser

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/transferview/internal/testlog"
	"github.com/wesm/transferview/internal/transfer"
)

func TestParseLine(t *testing.T) {
	msg, err := ParseLine(`{"type":"control","source":"remote1",` +
		`"contents":{"action":"process-item","queue":"TRANSFER",` +
		`"child_number":"3","msg":"item-bob.log","item":"bob",` +
		`"item_name":"Account","local_item":"bob2","logfile":"x"}}`)
	require.NoError(t, err)

	assert.Equal(t, transfer.TypeControl, msg.Type)
	assert.Equal(t, "remote1", msg.Source)
	c := msg.Contents
	assert.Equal(t, "process-item", c.Action)
	assert.Equal(t, "TRANSFER", c.Queue)
	assert.Equal(t, transfer.ChildNumber(3), c.ChildNumber)
	assert.True(t, c.HasChild())
	assert.Equal(t, "item-bob.log", c.Msg.String())
	assert.Equal(t, "bob", c.Item)
	assert.Equal(t, "Account", c.ItemName)
	assert.Equal(t, "bob2", c.LocalItem)
	assert.Equal(t, "x", c.Logfile)
	assert.True(t, c.Raw.IsObject())
}

func TestParseLineObjectMsg(t *testing.T) {
	msg, err := ParseLine(testlog.StartItem("RESTORE", "r.log", 250))
	require.NoError(t, err)
	assert.Equal(t, int64(250),
		transfer.IntValue(msg.Contents.Msg.Get("size")))
	assert.False(t, msg.Contents.HasChild())
}

func TestParseLineChildNumber(t *testing.T) {
	tests := []struct {
		name      string
		child     string
		wantNum   transfer.ChildNumber
		wantChild bool
	}{
		{"absent", "", 0, false},
		{"number", `,"child_number":2`, 2, true},
		{"zero number", `,"child_number":0`, 0, false},
		{"numeric string", `,"child_number":"4"`, 4, true},
		{"zero string", `,"child_number":"0"`, 0, true},
		{"empty string", `,"child_number":""`, 0, false},
		{"null", `,"child_number":null`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseLine(`{"type":"control","contents":` +
				`{"action":"complete","queue":"RESTORE"` + tt.child + `}}`)
			require.NoError(t, err)
			assert.Equal(t, tt.wantNum, msg.Contents.ChildNumber)
			assert.Equal(t, tt.wantChild, msg.Contents.HasChild())
		})
	}
}

func TestParseLineInvalid(t *testing.T) {
	for _, line := range []string{
		"",
		"not json",
		`["array"]`,
		`"string"`,
		`{"type":"control"`,
	} {
		_, err := ParseLine(line)
		assert.ErrorIs(t, err, ErrNotJSON, "line %q", line)
	}
}

func TestParseReaderSkipsGarbage(t *testing.T) {
	input := testlog.Lines(
		testlog.QueueCount("TRANSFER", 2),
		"garbage line",
		testlog.State("pause"),
	)
	var actions []string
	err := ParseReader(strings.NewReader(input),
		func(m transfer.Message) error {
			actions = append(actions, m.Contents.Action)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"queue_count", "pause"}, actions)
}

func TestParseReaderStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	input := testlog.Lines(testlog.State("pause"), testlog.State("resume"))
	calls := 0
	err := ParseReader(strings.NewReader(input),
		func(transfer.Message) error {
			calls++
			return stop
		})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, testlog.WriteSession(dir, map[string]string{
		MasterLogName: testlog.Lines(testlog.QueueCount("RESTORE", 1)),
	}))

	var got []transfer.Message
	err := ParseFile(filepath.Join(dir, MasterLogName),
		func(m transfer.Message) error {
			got = append(got, m)
			return nil
		})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "RESTORE", got[0].Contents.Queue)

	err = ParseFile(filepath.Join(dir, "missing.log"),
		func(transfer.Message) error { return nil })
	assert.ErrorIs(t, err, os.ErrNotExist)
}
