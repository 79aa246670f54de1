package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/agentgraphgo/llm"
	"github.com/smallnest/agentgraphgo/memory"
)

// stubHost is a minimal Host for exercising tool bodies directly.
type stubHost struct {
	name string
	kg   *memory.KnowledgeGraph
	ms   *memory.MemoryStream
}

func (h *stubHost) AgentName() string                 { return h.name }
func (h *stubHost) Knowledge() *memory.KnowledgeGraph { return h.kg }
func (h *stubHost) Memory() *memory.MemoryStream      { return h.ms }

func TestToolboxPreservesOrderAndSchemas(t *testing.T) {
	r := NewRegistry()
	tb, err := r.Build([]string{"get_date_time", "reason", "wait"})
	require.NoError(t, err)

	assert.Equal(t, []string{"get_date_time", "reason", "wait"}, tb.Names())
	schemas := tb.Schemas()
	require.Len(t, schemas, 3)
	assert.Equal(t, "function", schemas[0].Type)
	assert.Equal(t, "get_date_time", schemas[0].Function.Name)
}

func TestToolboxDuplicateAddKeepsFirst(t *testing.T) {
	tb := NewToolbox(getDateTime(), getDateTime(), wait())
	assert.Equal(t, 2, tb.Len())
}

func TestInvokeUnknownTool(t *testing.T) {
	tb := NewToolbox(wait())
	_, err := tb.Invoke(context.Background(), &stubHost{}, "launch_rocket", "{}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestInvokeMalformedArgumentsFallBackToInput(t *testing.T) {
	var seen map[string]any
	probe := &Definition{
		Name:       "probe",
		Parameters: llm.Parameters{Type: "object", Properties: map[string]llm.Property{}},
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			seen = args
			return "ok", nil
		},
	}
	tb := NewToolbox(probe)

	_, err := tb.Invoke(context.Background(), &stubHost{}, "probe", "just some text")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"input": "just some text"}, seen)

	_, err = tb.Invoke(context.Background(), &stubHost{}, "probe", `{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, float64(1), seen["a"])
}

func TestGetDateTimeFormat(t *testing.T) {
	old := nowFunc
	nowFunc = func() time.Time { return time.Date(2026, time.March, 4, 9, 5, 0, 0, time.UTC) }
	defer func() { nowFunc = old }()

	out, err := getDateTime().Run(context.Background(), &stubHost{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Wednesday, 04 March 2026, 09:05", out)
}

func TestReasonEchoesThought(t *testing.T) {
	out, err := reason().Run(context.Background(), &stubHost{}, map[string]any{"thought": "the buffer must flush first"})
	require.NoError(t, err)
	assert.Equal(t, "the buffer must flush first", out)
}

func TestWait(t *testing.T) {
	out, err := wait().Run(context.Background(), &stubHost{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Waiting.", out)
}

func TestSelfReflectStoresObservation(t *testing.T) {
	ms := memory.NewInMemoryStream(memory.NewHashEmbedder())
	host := &stubHost{name: "ada", ms: ms}

	out, err := selfReflect().Run(context.Background(), host, map[string]any{"insight": "I answer too verbosely"})
	require.NoError(t, err)
	assert.Equal(t, "Reflection stored.", out)
	assert.Equal(t, 1, ms.Len())
}

func TestSelfReflectWithoutMemoryEchoes(t *testing.T) {
	out, err := selfReflect().Run(context.Background(), &stubHost{}, map[string]any{"insight": "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", out)
}

func TestTimeArg(t *testing.T) {
	args := map[string]any{
		"a": "2026-01-15",
		"b": "2026-01-15T10:30:00Z",
		"c": "not a date",
	}
	require.NotNil(t, timeArg(args, "a"))
	b := timeArg(args, "b")
	require.NotNil(t, b)
	assert.Equal(t, 10, b.Hour())
	assert.Nil(t, timeArg(args, "c"))
	assert.Nil(t, timeArg(args, "missing"))
}

func TestIntArg(t *testing.T) {
	args := map[string]any{"n": float64(7), "s": "12", "x": "nope"}
	assert.Equal(t, 7, intArg(args, "n", 1))
	assert.Equal(t, 12, intArg(args, "s", 1))
	assert.Equal(t, 1, intArg(args, "x", 1))
	assert.Equal(t, 5, intArg(args, "missing", 5))
}

func TestRegistryPresets(t *testing.T) {
	r := NewRegistry()

	for _, preset := range PresetNames() {
		tb, err := r.Build([]string{preset})
		require.NoError(t, err, preset)
		assert.Greater(t, tb.Len(), 0, preset)
	}

	full, err := r.Build([]string{"full"})
	require.NoError(t, err)
	assert.Equal(t, len(r.Names()), full.Len())

	_, err = r.Build([]string{"telepathy"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
}

func TestResolvePassesExplicitListsThrough(t *testing.T) {
	r := NewRegistry()
	names := []string{"wait", "reason"}
	assert.Equal(t, names, r.Resolve(names))
	// A preset name inside a longer list is treated as a tool name.
	_, err := r.Build([]string{"wait", "minimal"})
	require.Error(t, err)
}
