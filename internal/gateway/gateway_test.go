package gateway

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"relay/internal/config"
	"relay/internal/model"
)

type echoAdapter struct {
	useTool bool
	calls   int
}

func (a *echoAdapter) Name() string { return "echo" }

func (a *echoAdapter) Send(_ context.Context, req model.Request, _ model.Capabilities, onChunk func(model.StreamChunk) error) (*model.Response, error) {
	a.calls++
	u := model.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}
	last := req.Messages[len(req.Messages)-1]
	if a.useTool && last.Role == model.RoleUser {
		return &model.Response{Usage: u, ToolCalls: []model.RawToolCall{{ID: "c1", Name: "lookup", Arguments: `{"q":"x"}`}}}, nil
	}
	text := "echo: " + last.Text()
	if onChunk != nil {
		if err := onChunk(model.StreamChunk{Text: text}); err != nil {
			return nil, err
		}
		return &model.Response{Usage: u}, nil
	}
	return &model.Response{Text: text, Usage: u}, nil
}

type lookupSkill struct{}

func (lookupSkill) Name() string        { return "lookup" }
func (lookupSkill) Description() string { return "Looks things up" }
func (lookupSkill) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{"q": map[string]any{"type": "string"}}}
}
func (lookupSkill) Execute(context.Context, map[string]any) (string, error) { return "found it", nil }

func testConfig() *config.Config {
	return &config.Config{
		Provider:           "openai",
		Model:              "test-model",
		MaxToolIterations:  2,
		MaxConcurrentTools: 1,
		ToolTimeout:        time.Second,
		TurnTimeout:        5 * time.Second,
		History:            config.HistoryConfig{Driver: "memory"},
	}
}

func newGateway(t *testing.T, cfg *config.Config, a *echoAdapter, opts ...Option) *Gateway {
	t.Helper()
	opts = append([]Option{WithAdapter(a), WithLogger(zaptest.NewLogger(t))}, opts...)
	g, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestExecuteStreamsReply(t *testing.T) {
	g := newGateway(t, testConfig(), &echoAdapter{})
	var out bytes.Buffer
	require.NoError(t, g.Execute(context.Background(), "hello", &out))
	require.Contains(t, out.String(), "echo: hello")

	u, turns := g.Usage()
	require.Equal(t, int64(1), turns)
	require.Equal(t, int64(5), u.TotalTokens)
}

func TestExecuteShowsToolProgress(t *testing.T) {
	a := &echoAdapter{useTool: true}
	g := newGateway(t, testConfig(), a, WithSkills(lookupSkill{}))
	var out bytes.Buffer
	require.NoError(t, g.Execute(context.Background(), "find x", &out))
	require.Contains(t, out.String(), "lookup ok")
	require.Contains(t, out.String(), "echo: found it")
	require.Equal(t, 2, a.calls)
}

func TestRunHandlesCommands(t *testing.T) {
	g := newGateway(t, testConfig(), &echoAdapter{})
	in := strings.NewReader("hello\n/usage\n/clear\n\n/exit\nnever sent\n")
	var out bytes.Buffer
	require.NoError(t, g.Run(context.Background(), in, &out))

	text := out.String()
	require.Contains(t, text, "relay chat")
	require.Contains(t, text, "echo: hello")
	require.Contains(t, text, "1 turns")
	require.Contains(t, text, "context cleared")
	require.NotContains(t, text, "never sent")

	msgs, err := g.store.Session(DefaultSession).Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestSessionsAreIndependent(t *testing.T) {
	g := newGateway(t, testConfig(), &echoAdapter{})
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_, err := g.Service(id).Send(ctx, "hi "+id)
		require.NoError(t, err)
	}
	require.Same(t, g.Service("a"), g.Service("a"))

	msgs, err := g.store.Session("a").Load(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "hi a", msgs[0].Text())

	ids, err := g.Sessions(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)
}

func TestReplyCacheWiredFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.ReplyCacheTTL = time.Minute
	cfg.TokenBudget = 100
	cfg.DisabledMiddlewares = []string{"token_budget"}
	a := &echoAdapter{}
	g := newGateway(t, cfg, a)
	require.Equal(t, []string{"reply_cache"}, g.Info().Middlewares)

	ctx := context.Background()
	first, err := g.Service("s").Send(ctx, "same question")
	require.NoError(t, err)
	second, err := g.Service("s").Send(ctx, "same question")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, a.calls)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxToolIterations = 0
	_, err := New(context.Background(), cfg, WithAdapter(&echoAdapter{}))
	require.Error(t, err)
}

func TestBuiltinSkillsRegistered(t *testing.T) {
	cfg := testConfig()
	cfg.Skills = config.SkillsConfig{Builtin: true, Root: t.TempDir()}
	g := newGateway(t, cfg, &echoAdapter{}, WithSkills(lookupSkill{}))
	require.Equal(t, []string{"fetch", "file", "lookup", "shell"}, g.Info().Tools)
}
