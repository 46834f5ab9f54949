package scenario

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/state"
	"github.com/wesleyorama2/surge/internal/transport"
)

type clientFunc func(ctx context.Context, req *transport.Request) *transport.Result

func (f clientFunc) Execute(ctx context.Context, req *transport.Request) *transport.Result {
	return f(ctx, req)
}

func respond(status int, body string) clientFunc {
	return func(_ context.Context, req *transport.Request) *transport.Result {
		return &transport.Result{
			Request:    req,
			StatusCode: status,
			Body:       []byte(body),
			Elapsed:    5 * time.Millisecond,
			Headers:    http.Header{"X-Request-Id": []string{"abc"}},
		}
	}
}

type fixture struct {
	reg   *metrics.Registry
	pools *state.Store
	inst  *Instruments
	comp  *Compiler
	logs  *observer.ObservedLogs
	log   *zap.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := metrics.NewRegistry()
	require.NoError(t, reg.DeclareBuiltins())
	inst, err := NewInstruments(reg)
	require.NoError(t, err)
	pools := state.NewStore()
	core, logs := observer.New(zapcore.DebugLevel)
	return &fixture{
		reg:   reg,
		pools: pools,
		inst:  inst,
		comp:  NewCompiler(reg, pools),
		logs:  logs,
		log:   zap.New(core),
	}
}

func (f *fixture) flow(t *testing.T, steps ...config.StepConfig) *Flow {
	t.Helper()
	flow, err := f.comp.Compile("test", steps)
	require.NoError(t, err)
	return flow
}

func (f *fixture) executor(client transport.Client, opts ...Option) *Executor {
	opts = append([]Option{WithLogger(f.log), WithRand(rand.New(rand.NewSource(1)))}, opts...)
	return NewExecutor(client, f.inst, opts...)
}

func TestRunIteration_SuccessfulCall(t *testing.T) {
	f := newFixture(t)
	flow := f.flow(t, config.StepConfig{
		Type:   config.StepCall,
		Name:   "create user",
		Method: "post",
		URL:    "{{.baseUrl}}/user-ms/api/users",
		Body:   `{"name":"User {{randomString 6}}"}`,
		Metric: "user_creation_duration",
		Extract: []config.ExtractConfig{
			{Name: "userId", Path: "id", Pool: "userIds"},
			{Name: "requestId", Source: "header", Path: "X-Request-Id"},
		},
	})

	var gotURL, gotMethod, gotBody string
	client := clientFunc(func(ctx context.Context, req *transport.Request) *transport.Result {
		gotURL, gotMethod, gotBody = req.URL, req.Method, string(req.Body)
		return respond(http.StatusCreated, `{"id":"u-1"}`)(ctx, req)
	})

	ex := f.executor(client, WithVariables(map[string]string{"baseUrl": "http://svc"}))
	res := ex.RunIteration(context.Background(), flow)

	assert.Equal(t, 1, res.StepsExecuted)
	assert.Equal(t, 0, res.StepsSkipped)
	assert.False(t, res.HadError)
	assert.False(t, res.Interrupted)

	assert.Equal(t, "http://svc/user-ms/api/users", gotURL)
	assert.Equal(t, "POST", gotMethod)
	assert.Regexp(t, `^\{"name":"User [a-z0-9]{6}"\}$`, gotBody)

	trend, err := f.reg.Trend("user_creation_duration")
	require.NoError(t, err)
	assert.Equal(t, int64(1), trend.Count())
	assert.Equal(t, float64(0), f.inst.Errors.Value())
	assert.False(t, f.inst.Errors.Empty(), "a successful call records false into errors")
	assert.Equal(t, int64(1), f.inst.HTTPReqs.Value())
	assert.Equal(t, int64(1), f.inst.Iterations.Value())

	assert.Equal(t, []string{"u-1"}, f.pools.Pool("userIds").Snapshot())
}

func TestRunIteration_WithoutIterationMetrics(t *testing.T) {
	f := newFixture(t)
	flow := f.flow(t, config.StepConfig{Type: config.StepCall, Name: "seed", Method: "POST", URL: "http://svc/users"})

	res := f.executor(respond(http.StatusOK, `{}`), WithoutIterationMetrics()).RunIteration(context.Background(), flow)

	assert.Equal(t, 1, res.StepsExecuted)
	assert.Equal(t, int64(1), f.inst.HTTPReqs.Value())
	assert.Equal(t, int64(0), f.inst.Iterations.Value())
	assert.True(t, f.inst.IterationDuration.Empty())
}

func TestRunIteration_FailedCallSkipsDependents(t *testing.T) {
	f := newFixture(t)
	flow := f.flow(t,
		config.StepConfig{
			Type: config.StepCall, Name: "create post", Method: "POST", URL: "/posts",
			Metric:  "post_creation_duration",
			Extract: []config.ExtractConfig{{Name: "postId", Path: "id", Pool: "postIds"}},
		},
		config.StepConfig{
			Type: config.StepCall, Name: "like post", Method: "POST", URL: "/posts/{{.postId}}/likes",
		},
		config.StepConfig{
			Type: config.StepCall, Name: "comment", Method: "POST", URL: "/comments",
			Requires: []string{"postId"},
		},
		config.StepConfig{
			Type: config.StepCall, Name: "feed", Method: "GET", URL: "/feed",
		},
	)

	var calls []string
	client := clientFunc(func(ctx context.Context, req *transport.Request) *transport.Result {
		calls = append(calls, req.Name)
		if req.Name == "create post" {
			return respond(http.StatusInternalServerError, `{"error":"boom"}`)(ctx, req)
		}
		return respond(http.StatusOK, `[]`)(ctx, req)
	})

	res := f.executor(client).RunIteration(context.Background(), flow)

	assert.True(t, res.HadError)
	assert.Equal(t, 2, res.StepsExecuted)
	assert.Equal(t, 2, res.StepsSkipped, "template and requires dependents are skipped")
	assert.Equal(t, []string{"create post", "feed"}, calls, "the iteration continues after a failure")

	assert.Equal(t, 0.5, f.inst.Errors.Value())
	assert.Equal(t, 0.5, f.inst.HTTPReqFailed.Value())
	assert.Equal(t, 0, f.pools.Pool("postIds").Len())

	trend, _ := f.reg.Trend("post_creation_duration")
	assert.True(t, trend.Empty(), "failed calls do not feed the step trend")

	warns := f.logs.FilterMessage("request failed").All()
	require.Len(t, warns, 1)
	assert.Equal(t, zapcore.WarnLevel, warns[0].Level)
}

func TestRunIteration_MalformedBody(t *testing.T) {
	f := newFixture(t)
	flow := f.flow(t,
		config.StepConfig{
			Type: config.StepCall, Name: "create user", Method: "POST", URL: "/users",
			Extract: []config.ExtractConfig{{Name: "userId", Path: "id", Pool: "userIds"}},
		},
		config.StepConfig{
			Type: config.StepCall, Name: "get user", Method: "GET", URL: "/users/{{.userId}}",
		},
	)

	res := f.executor(respond(http.StatusOK, "<html>not json</html>")).RunIteration(context.Background(), flow)

	assert.False(t, res.HadError)
	assert.Equal(t, 1, res.StepsExecuted)
	assert.Equal(t, 1, res.StepsSkipped)
	assert.Equal(t, 0, f.pools.Pool("userIds").Len())

	assert.Equal(t, float64(0), f.inst.Errors.Value(), "malformed bodies are not counted as errors")
	assert.Equal(t, int64(1), f.inst.Errors.Snapshot().Count)

	debug := f.logs.FilterMessage("malformed response").All()
	require.Len(t, debug, 1)
	assert.Equal(t, zapcore.DebugLevel, debug[0].Level)
	assert.Empty(t, f.logs.FilterMessage("request failed").All())
}

func TestRunIteration_SchemaMismatch(t *testing.T) {
	f := newFixture(t)
	flow := f.flow(t, config.StepConfig{
		Type: config.StepCall, Name: "create user", Method: "POST", URL: "/users",
		Schema:  `{"type":"object","required":["id"],"properties":{"id":{"type":"string"}}}`,
		Extract: []config.ExtractConfig{{Name: "userId", Path: "id", Pool: "userIds"}},
	})

	f.executor(respond(http.StatusOK, `{"id": 17}`)).RunIteration(context.Background(), flow)
	assert.Equal(t, 0, f.pools.Pool("userIds").Len())

	f.executor(respond(http.StatusOK, `{"id": "17"}`)).RunIteration(context.Background(), flow)
	assert.Equal(t, []string{"17"}, f.pools.Pool("userIds").Snapshot())
}

func TestRunIteration_MaxDuration(t *testing.T) {
	f := newFixture(t)
	flow := f.flow(t, config.StepConfig{
		Type: config.StepCall, Name: "slow", Method: "GET", URL: "/slow", MaxDuration: "1ms",
	})

	res := f.executor(respond(http.StatusOK, `{}`)).RunIteration(context.Background(), flow)
	assert.True(t, res.HadError)
	assert.Equal(t, float64(1), f.inst.Errors.Value())
	assert.Equal(t, float64(0), f.inst.HTTPReqFailed.Value(), "status was 2xx")
}

func TestRunIteration_TransportFailure(t *testing.T) {
	f := newFixture(t)
	flow := f.flow(t, config.StepConfig{Type: config.StepCall, Method: "GET", URL: "/"})

	client := clientFunc(func(_ context.Context, req *transport.Request) *transport.Result {
		return &transport.Result{Request: req, Err: errors.New("connection refused")}
	})

	res := f.executor(client).RunIteration(context.Background(), flow)
	assert.True(t, res.HadError)
	assert.False(t, res.Interrupted)
	assert.Equal(t, float64(1), f.inst.Errors.Value())
	assert.Equal(t, int64(1), f.inst.Iterations.Value())
}

func TestRunIteration_Pick(t *testing.T) {
	f := newFixture(t)
	flow := f.flow(t, config.StepConfig{
		Type: config.StepPick, Pool: "postIds", As: "postId",
		Otherwise: []config.StepConfig{{
			Type: config.StepCall, Name: "create post", Method: "POST", URL: "/posts",
			Extract: []config.ExtractConfig{{Name: "postId", Path: "id", Pool: "postIds"}},
		}},
	}, config.StepConfig{
		Type: config.StepCall, Name: "like", Method: "POST", URL: "/posts/{{.postId}}/likes",
	})

	var urls []string
	client := clientFunc(func(ctx context.Context, req *transport.Request) *transport.Result {
		urls = append(urls, req.URL)
		return respond(http.StatusCreated, `{"id":"p-9"}`)(ctx, req)
	})
	ex := f.executor(client)

	res := ex.RunIteration(context.Background(), flow)
	assert.Equal(t, 0, res.StepsSkipped)
	assert.Equal(t, []string{"/posts", "/posts/p-9/likes"}, urls)

	urls = nil
	ex.RunIteration(context.Background(), flow)
	assert.Equal(t, []string{"/posts/p-9/likes"}, urls, "pool is populated, otherwise is not run")
}

func TestRunIteration_BranchProbability(t *testing.T) {
	f := newFixture(t)
	p := 0.3
	flow := f.flow(t, config.StepConfig{
		Type:        config.StepBranch,
		Probability: &p,
		Then:        []config.StepConfig{{Type: config.StepCall, Name: "then", Method: "GET", URL: "/then"}},
		Else:        []config.StepConfig{{Type: config.StepCall, Name: "else", Method: "GET", URL: "/else"}},
	})

	var thenCount, elseCount atomic.Int64
	client := clientFunc(func(ctx context.Context, req *transport.Request) *transport.Result {
		if req.Name == "then" {
			thenCount.Add(1)
		} else {
			elseCount.Add(1)
		}
		return respond(http.StatusOK, `{}`)(ctx, req)
	})

	ex := f.executor(client, WithRand(rand.New(rand.NewSource(2024))))
	const iterations = 10000
	for i := 0; i < iterations; i++ {
		ex.RunIteration(context.Background(), flow)
	}

	ratio := float64(thenCount.Load()) / iterations
	assert.GreaterOrEqual(t, ratio, 0.27)
	assert.LessOrEqual(t, ratio, 0.33)
	assert.Equal(t, int64(iterations), thenCount.Load()+elseCount.Load())
}

func TestRunIteration_BranchConditions(t *testing.T) {
	f := newFixture(t)
	flow := f.flow(t, config.StepConfig{
		Type: config.StepBranch,
		If:   []string{"postId"},
		Then: []config.StepConfig{{Type: config.StepCall, Name: "comment", Method: "POST", URL: "/comments"}},
	})

	var calls int
	client := clientFunc(func(ctx context.Context, req *transport.Request) *transport.Result {
		calls++
		return respond(http.StatusOK, `{}`)(ctx, req)
	})

	f.executor(client).RunIteration(context.Background(), flow)
	assert.Equal(t, 0, calls, "unbound condition takes the else path")

	f.executor(client, WithVariables(map[string]string{"postId": "p-1"})).RunIteration(context.Background(), flow)
	assert.Equal(t, 1, calls, "probability defaults to 1")
}

func TestRunIteration_BranchDistinct(t *testing.T) {
	f := newFixture(t)
	flow := f.flow(t, config.StepConfig{
		Type:     config.StepBranch,
		Name:     "befriend",
		Distinct: []string{"user1", "user2"},
		Then:     []config.StepConfig{{Type: config.StepCall, Name: "create friendship", Method: "POST", URL: "/friendships"}},
	})

	var calls int
	client := clientFunc(func(ctx context.Context, req *transport.Request) *transport.Result {
		calls++
		return respond(http.StatusCreated, `{}`)(ctx, req)
	})

	f.executor(client, WithVariables(map[string]string{"user1": "u-1", "user2": "u-1"})).RunIteration(context.Background(), flow)
	assert.Equal(t, 0, calls, "the same user is never befriended with itself")

	f.executor(client, WithVariables(map[string]string{"user1": "u-1"})).RunIteration(context.Background(), flow)
	assert.Equal(t, 0, calls, "unbound variables are not distinct")

	f.executor(client, WithVariables(map[string]string{"user1": "u-1", "user2": "u-2"})).RunIteration(context.Background(), flow)
	assert.Equal(t, 1, calls)
}

func TestRunIteration_Record(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Declare("signups", metrics.KindCounter)
	require.NoError(t, err)
	_, err = f.reg.Declare("feed_has_posts", metrics.KindRate)
	require.NoError(t, err)
	_, err = f.reg.Declare("feed_size", metrics.KindTrend)
	require.NoError(t, err)

	flow := f.flow(t,
		config.StepConfig{Type: config.StepRecord, Metric: "signups"},
		config.StepConfig{
			Type: config.StepBranch,
			If:   []string{"postId"},
			Then: []config.StepConfig{{Type: config.StepRecord, Metric: "feed_has_posts", Value: "true"}},
			Else: []config.StepConfig{{Type: config.StepRecord, Metric: "feed_has_posts", Value: "false"}},
		},
		config.StepConfig{Type: config.StepRecord, Metric: "feed_size", Value: "{{.size}}", Requires: []string{"size"}},
	)

	client := respond(http.StatusOK, `{}`)
	res := f.executor(client, WithVariables(map[string]string{"postId": "p-1", "size": "12"})).RunIteration(context.Background(), flow)
	assert.Equal(t, 4, res.StepsExecuted)

	res = f.executor(client).RunIteration(context.Background(), flow)
	assert.Equal(t, 1, res.StepsSkipped, "feed_size requires size")

	signups, err := f.reg.Counter("signups")
	require.NoError(t, err)
	assert.Equal(t, int64(2), signups.Value())

	rate, err := f.reg.Rate("feed_has_posts")
	require.NoError(t, err)
	assert.Equal(t, 0.5, rate.Value())

	size, err := f.reg.Trend("feed_size")
	require.NoError(t, err)
	assert.Equal(t, int64(1), size.Count())
	assert.Equal(t, 12.0, size.Stats().Max)
}

func TestRunIteration_GroupMetric(t *testing.T) {
	f := newFixture(t)
	flow := f.flow(t, config.StepConfig{
		Type:   config.StepGroup,
		Name:   "Social Interactions",
		Metric: "social_duration",
		Steps: []config.StepConfig{
			{Type: config.StepCall, Method: "GET", URL: "/a"},
			{Type: config.StepSleep, Duration: "2ms"},
		},
	})

	res := f.executor(respond(http.StatusOK, `{}`)).RunIteration(context.Background(), flow)
	assert.Equal(t, 3, res.StepsExecuted)

	trend, err := f.reg.Trend("social_duration")
	require.NoError(t, err)
	require.Equal(t, int64(1), trend.Count())
	assert.GreaterOrEqual(t, trend.Stats().Min, 2.0)
}

func TestRunIteration_SleepHonoursContext(t *testing.T) {
	f := newFixture(t)
	flow := f.flow(t,
		config.StepConfig{Type: config.StepSleep, Duration: "10s"},
		config.StepConfig{Type: config.StepCall, Method: "GET", URL: "/never"},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	var calls int
	client := clientFunc(func(ctx context.Context, req *transport.Request) *transport.Result {
		calls++
		return respond(http.StatusOK, `{}`)(ctx, req)
	})

	start := time.Now()
	res := f.executor(client).RunIteration(ctx, flow)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, res.Interrupted)
	assert.Equal(t, 0, calls)
	assert.Equal(t, int64(0), f.inst.Iterations.Value(), "interrupted iterations are not counted")
}

func TestRunIteration_RandomSleepRange(t *testing.T) {
	f := newFixture(t)
	flow := f.flow(t, config.StepConfig{Type: config.StepSleep, Min: "5ms", Max: "15ms"})

	ex := f.executor(respond(http.StatusOK, `{}`))
	for i := 0; i < 5; i++ {
		res := ex.RunIteration(context.Background(), flow)
		assert.GreaterOrEqual(t, res.Duration, 5*time.Millisecond)
	}
}

func TestCompile_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.comp.Compile("empty", nil)
	assert.True(t, errors.Is(err, errNoSteps))

	_, err = f.comp.Compile("bad", []config.StepConfig{{Type: config.StepCall, URL: "{{.x"}})
	assert.Error(t, err)

	_, err = f.comp.Compile("conflict", []config.StepConfig{{Type: config.StepCall, URL: "/", Metric: metrics.Errors}})
	assert.True(t, errors.Is(err, metrics.ErrKindConflict))

	_, err = f.comp.Compile("undeclared", []config.StepConfig{{Type: config.StepRecord, Metric: "signups"}})
	assert.ErrorContains(t, err, `metric "signups" is not declared`)

	_, err = f.comp.Compile("unknown", []config.StepConfig{{Type: "loop"}})
	assert.Error(t, err)
}

func TestCompileAll(t *testing.T) {
	f := newFixture(t)
	flows, err := f.comp.CompileAll(map[string][]config.StepConfig{
		"default": {{Type: config.StepSleep, Duration: "1ms"}},
		"browse":  {{Type: config.StepCall, URL: "/feed"}, {Type: config.StepSleep, Min: "1s", Max: "3s"}},
	})
	require.NoError(t, err)
	require.Len(t, flows, 2)
	assert.Equal(t, "browse", flows["browse"].Name)
	assert.Equal(t, "call", flows["browse"].Steps[0].Kind())
	assert.True(t, strings.HasPrefix(flows["browse"].Steps[0].Label(), "browse[0]"))
}
