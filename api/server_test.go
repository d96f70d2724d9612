package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	indfile "github.com/i5heu/ouroboros-indfile"
	"github.com/i5heu/ouroboros-indfile/pkg/seed"
	"github.com/i5heu/ouroboros-indfile/pkg/skylink"
	"github.com/i5heu/ouroboros-indfile/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSeeds struct {
	calls atomic.Int64
	err   error
}

func (c *countingSeeds) Seed(ctx context.Context) (seed.Seed, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return seed.Seed(bytes.Repeat([]byte{9}, seed.DefaultSize)), nil
}

type countingStore struct {
	*storage.MemoryStore
	puts atomic.Int64
	gets atomic.Int64
}

func (c *countingStore) Put(ctx context.Context, data []byte) (skylink.Address, error) {
	c.puts.Add(1)
	return c.MemoryStore.Put(ctx, data)
}

func (c *countingStore) Get(ctx context.Context, addr skylink.Address) ([]byte, error) {
	c.gets.Add(1)
	return c.MemoryStore.Get(ctx, addr)
}

type testEnv struct {
	server *httptest.Server
	seeds  *countingSeeds
	store  *countingStore
}

func newTestEnv(t *testing.T, seedErr error) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	cfg := &indfile.Config{Logger: logger, MaxFileSize: 1 << 20, RequestTimeout: 5 * time.Second}
	env := &testEnv{
		seeds: &countingSeeds{err: seedErr},
		store: &countingStore{MemoryStore: storage.NewMemoryStore()},
	}
	files, err := indfile.Init(cfg, env.seeds, env.store)
	require.NoError(t, err)

	env.server = httptest.NewServer(NewServer(files, cfg))
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) post(t *testing.T, method, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(e.server.URL+"/v1/"+method, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func decodeError(t *testing.T, body []byte) errorResponse {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	return e
}

func TestCreateAndViewOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.post(t, indfile.MethodCreateEncryptedFile, `{"fileData":[104,101,108,108,111]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, err := uuid.Parse(resp.Header.Get(RequestIDHeader))
	require.NoError(t, err)

	var created createResponse
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Len(t, created.Skylink, skylink.EncodedSize)
	assert.NotEmpty(t, created.ViewKey)

	viewBody, err := json.Marshal(viewRequest{Skylink: created.Skylink, ViewKey: created.ViewKey})
	require.NoError(t, err)
	resp, body = env.post(t, indfile.MethodViewEncryptedFile, string(viewBody))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"fileData":[104,101,108,108,111]}`, string(body))
}

func TestCreateEmptyFileOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.post(t, indfile.MethodCreateEncryptedFile, `{"fileData":[]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created createResponse
	require.NoError(t, json.Unmarshal(body, &created))

	viewBody, _ := json.Marshal(viewRequest{Skylink: created.Skylink, ViewKey: created.ViewKey})
	resp, body = env.post(t, indfile.MethodViewEncryptedFile, string(viewBody))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"fileData":[]}`, string(body))
}

func TestCreateRejectsNonByteFileData(t *testing.T) {
	env := newTestEnv(t, nil)

	for name, body := range map[string]string{
		"string":       `{"fileData":"hello"}`,
		"null":         `{"fileData":null}`,
		"missing":      `{}`,
		"out of range": `{"fileData":[1,256]}`,
		"negative":     `{"fileData":[-1]}`,
		"float":        `{"fileData":[1.5]}`,
		"quoted":       `{"fileData":["1"]}`,
		"object":       `{"fileData":{"0":1}}`,
		"not json":     `fileData=hello`,
	} {
		t.Run(name, func(t *testing.T) {
			resp, respBody := env.post(t, indfile.MethodCreateEncryptedFile, body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "InvalidInput", decodeError(t, respBody).Kind)
		})
	}

	assert.Zero(t, env.seeds.calls.Load())
	assert.Zero(t, env.store.puts.Load())
}

func TestViewRejectsMalformedSkylinkWithoutFetching(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, body := range []string{
		`{"skylink":"not-a-skylink","viewKey":"x"}`,
		`{"skylink":42,"viewKey":"x"}`,
		`{"viewKey":"x"}`,
	} {
		resp, respBody := env.post(t, indfile.MethodViewEncryptedFile, body)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Equal(t, "InvalidInput", decodeError(t, respBody).Kind)
	}
	assert.Zero(t, env.store.gets.Load())
}

func TestViewErrorStatuses(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.post(t, indfile.MethodCreateEncryptedFile, `{"fileData":[1,2,3]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var a createResponse
	require.NoError(t, json.Unmarshal(body, &a))

	resp, body = env.post(t, indfile.MethodCreateEncryptedFile, `{"fileData":[4,5,6]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var b createResponse
	require.NoError(t, json.Unmarshal(body, &b))

	wrongKey, _ := json.Marshal(viewRequest{Skylink: a.Skylink, ViewKey: b.ViewKey})
	resp, body = env.post(t, indfile.MethodViewEncryptedFile, string(wrongKey))
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "IntegrityError", decodeError(t, body).Kind)

	missing, _ := json.Marshal(viewRequest{Skylink: skylink.FromEnvelope([]byte("nope")).String(), ViewKey: a.ViewKey})
	resp, body = env.post(t, indfile.MethodViewEncryptedFile, string(missing))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NotFound", decodeError(t, body).Kind)
}

func TestSeedUnavailableIsRetryable(t *testing.T) {
	env := newTestEnv(t, seed.ErrUnavailable)

	resp, body := env.post(t, indfile.MethodCreateEncryptedFile, `{"fileData":[1]}`)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	assert.Equal(t, "SeedUnavailable", decodeError(t, body).Kind)
}

func TestRequestIDIsPropagated(t *testing.T) {
	env := newTestEnv(t, nil)
	id := uuid.NewString()

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/v1/health", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, id)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, resp.Header.Get(RequestIDHeader))

	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
}

func TestWrongMethodIsRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.server.URL + "/v1/" + indfile.MethodCreateEncryptedFile)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	_, err = uuid.Parse(resp.Header.Get(RequestIDHeader))
	assert.NoError(t, err)

	var e errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.Equal(t, "InvalidInput", e.Kind)

	resp, body := env.post(t, "deleteEncryptedFile", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "InvalidInput", decodeError(t, body).Kind)
}

func TestRequestBodyMustMatchSchema(t *testing.T) {
	env := newTestEnv(t, nil)

	for name, c := range map[string]struct{ method, body string }{
		"unknown create field": {indfile.MethodCreateEncryptedFile, `{"fileData":[1],"owner":"me"}`},
		"trailing object":      {indfile.MethodCreateEncryptedFile, `{"fileData":[1]}{"fileData":[2]}`},
		"trailing garbage":     {indfile.MethodCreateEncryptedFile, `{"fileData":[1]} x`},
		"unknown view field":   {indfile.MethodViewEncryptedFile, `{"skylink":"a","viewKey":"b","extra":true}`},
	} {
		t.Run(name, func(t *testing.T) {
			resp, body := env.post(t, c.method, c.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "InvalidInput", decodeError(t, body).Kind)
		})
	}

	assert.Zero(t, env.seeds.calls.Load())
	assert.Zero(t, env.store.puts.Load())
	assert.Zero(t, env.store.gets.Load())

	resp, _ := env.post(t, indfile.MethodCreateEncryptedFile, "{\"fileData\":[1]}\n")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(indfile.InvalidInput))
	assert.Equal(t, http.StatusNotFound, StatusFor(indfile.NotFound))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(indfile.IntegrityError))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(indfile.SeedUnavailable))
	assert.Equal(t, http.StatusBadGateway, StatusFor(indfile.StorageFailure))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(indfile.InvalidSeed))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(indfile.Internal))
}

func TestByteArrayJSON(t *testing.T) {
	out, err := json.Marshal(ByteArray{0, 127, 255})
	require.NoError(t, err)
	assert.Equal(t, `[0,127,255]`, string(out))

	var b ByteArray
	require.NoError(t, json.Unmarshal([]byte(` [ 0 , 255 ] `), &b))
	assert.Equal(t, ByteArray{0, 255}, b)

	require.Error(t, json.Unmarshal([]byte(`"AAE="`), &b))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	files, err := indfile.Init(&indfile.Config{Logger: logger}, &countingSeeds{}, storage.NewMemoryStore())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(files, &indfile.Config{Logger: logger}).Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/v1/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
