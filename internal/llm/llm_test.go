package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestTimeoutCompleterRetriesOnceOnTimeout(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	slow := CompleterFunc(func(ctx context.Context, _, _ string) (string, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	})

	out, err := WithTimeout(slow, 20*time.Millisecond, nil).Complete(context.Background(), "p", "")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTimeoutCompleterGivesUpAfterSecondTimeout(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	hang := CompleterFunc(func(ctx context.Context, _, _ string) (string, error) {
		calls.Add(1)
		<-ctx.Done()
		return "", ctx.Err()
	})

	_, err := WithTimeout(hang, 10*time.Millisecond, nil).Complete(context.Background(), "p", "")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTimeoutCompleterDoesNotRetryOtherErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	var calls atomic.Int32
	failing := CompleterFunc(func(context.Context, string, string) (string, error) {
		calls.Add(1)
		return "", boom
	})

	_, err := WithTimeout(failing, time.Second, nil).Complete(context.Background(), "p", "")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTimeoutCompleterDoesNotRetryCallerCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	c := CompleterFunc(func(ctx context.Context, _, _ string) (string, error) {
		calls.Add(1)
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	})

	_, err := WithTimeout(c, time.Second, nil).Complete(ctx, "p", "")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDisabled(t *testing.T) {
	t.Parallel()

	_, err := Disabled{}.Complete(context.Background(), "p", "s")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestOpenAICompleter(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"test",
			"choices":[{"index":0,"message":{"role":"assistant","content":"buffer pH is 7.4"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`))
	}))
	defer srv.Close()

	c, err := NewOpenAICompleter(OpenAIConfig{APIKey: "k", Model: "test", BaseURL: srv.URL + "/v1"}, nil)
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "what pH?", "you are a chemist")
	require.NoError(t, err)
	assert.Equal(t, "buffer pH is 7.4", out)

	msgs, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "what pH?", msgs[1].(map[string]any)["content"])
}

func TestOpenAICompleterRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewOpenAICompleter(OpenAIConfig{}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestGrpcCompleter(t *testing.T) {
	t.Parallel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		method, _ := grpc.MethodFromServerStream(stream)
		if method != GenerateMethod {
			return errors.New("unexpected method " + method)
		}
		req := &structpb.Struct{}
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		resp, err := structpb.NewStruct(map[string]any{
			"text": req.GetFields()["system"].GetStringValue() + "|" + req.GetFields()["prompt"].GetStringValue(),
		})
		if err != nil {
			return err
		}
		return stream.SendMsg(resp)
	}))
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	c, err := NewGrpcCompleter(DefaultGrpcConfig(lis.Addr().String()), nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Health(context.Background()))

	out, err := c.Complete(context.Background(), "titrate", "sys")
	require.NoError(t, err)
	assert.Equal(t, "sys|titrate", out)
}

func TestTimeoutCompleterRetriesGrpcDeadline(t *testing.T) {
	t.Parallel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var calls atomic.Int32
	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		req := &structpb.Struct{}
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		if calls.Add(1) == 1 {
			<-stream.Context().Done()
			return stream.Context().Err()
		}
		resp, err := structpb.NewStruct(map[string]any{"text": "second try"})
		if err != nil {
			return err
		}
		return stream.SendMsg(resp)
	}))
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	c, err := NewGrpcCompleter(DefaultGrpcConfig(lis.Addr().String()), nil)
	require.NoError(t, err)
	defer c.Close()

	out, err := WithTimeout(c, 200*time.Millisecond, nil).Complete(context.Background(), "titrate", "sys")
	require.NoError(t, err)
	assert.Equal(t, "second try", out)
	assert.Equal(t, int32(2), calls.Load())
}
