package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"micropay/internal/cryptographic/hash"
	"micropay/internal/cryptographic/signature"
	"micropay/internal/ledger/memory"
	"micropay/internal/model"
	"micropay/internal/protocol/payee"
	redisSvc "micropay/internal/service/redis"
	"micropay/internal/signer"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	chain    *memory.Ledger
	payerKey *ecdsa.PrivateKey
	payer    common.Address
	payee    common.Address
	registry *payee.Registry
	proofs   *ProofStore
	server   *HttpServer
	http     *httptest.Server
}

func newRedis(t *testing.T) *redisSvc.RedisService {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return redisSvc.NewRedis(rdb)
}

func newFixture(t *testing.T) *fixture {
	key, payerAddr, err := signature.NewSecp256k1Keypair()
	require.NoError(t, err)
	_, payeeAddr, err := signature.NewSecp256k1Keypair()
	require.NoError(t, err)

	f := &fixture{
		chain:    memory.New(common.HexToAddress("0xc0ffee")),
		payerKey: key,
		payer:    payerAddr,
		payee:    payeeAddr,
		proofs:   NewProofStore(newRedis(t)),
	}

	opts := payee.DefaultOptions()
	opts.Proofs = f.proofs
	opts.Notifier = payee.NewNotifier(16)
	f.registry = payee.NewRegistry(payeeAddr, f.chain.As(payeeAddr), opts)
	f.server = NewHttpServer("", f.registry, f.proofs)
	f.http = httptest.NewServer(f.server.Router())
	t.Cleanup(f.http.Close)
	return f
}

func (f *fixture) open(t *testing.T, deposit int64) model.ChannelID {
	id := hash.ChannelIDFor(f.payer, f.payee)
	_, err := f.chain.As(f.payer).Open(context.Background(), id, f.payee, 1, big.NewInt(deposit))
	require.NoError(t, err)
	return id
}

func (f *fixture) payment(t *testing.T, value int64) model.SerializedPayment {
	p := model.NewPayment(f.payer, f.payee, hash.ChannelIDFor(f.payer, f.payee), big.NewInt(value))
	require.NoError(t, signer.SignPayment(context.Background(), f.chain.As(f.payer), signer.NewKeyring(f.payerKey), p))
	return p.ToSerialized()
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.http.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHello(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/hello", model.HelloRequest{SenderAddress: f.payer})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	hello := decodeBody[model.HelloResponse](t, resp)
	assert.Equal(t, *model.NewHelloResponse(f.payee, hash.ChannelIDFor(f.payer, f.payee)), hello)

	// wire field names
	raw := f.post(t, "/hello", map[string]string{"sender_address": f.payer.Hex()})
	require.Equal(t, http.StatusOK, raw.StatusCode)
	fields := decodeBody[map[string]string](t, raw)
	assert.Equal(t, "wei", fields["stream_data_unit"])
	assert.Equal(t, "kB", fields["stream_payment_unit"])
	assert.Equal(t, "ETH", fields["stream_payment_currency"])
	assert.Equal(t, "5", fields["stream_data_payment_ratio"])
	assert.Equal(t, hello.ChannelID.Hex(), fields["channel_id"])
	assert.True(t, strings.EqualFold(f.payee.Hex(), fields["receiver_address"]))

	other, err := http.Post(f.http.URL+"/hello", "application/json",
		strings.NewReader(`{"sender_address":"0x00000000000000000000000000000000000000aa"}`))
	require.NoError(t, err)
	defer other.Body.Close()
	assert.Equal(t, http.StatusConflict, other.StatusCode)

	bad, err := http.Post(f.http.URL+"/hello", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestProof(t *testing.T) {
	f := newFixture(t)
	id := f.open(t, 1000)
	f.post(t, "/hello", model.HelloRequest{SenderAddress: f.payer})

	resp := f.post(t, "/proof", model.ProofRequest{Payment: f.payment(t, 100)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.ProofResponse{Response: model.ResponseOK}, decodeBody[model.ProofResponse](t, resp))

	resp = f.post(t, "/proof", model.ProofRequest{Payment: f.payment(t, 100)})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, model.ProofResponse{Response: model.ResponseRejected, Reason: payee.ReasonStale},
		decodeBody[model.ProofResponse](t, resp))

	malformed := f.payment(t, 200)
	malformed.Value = "-1"
	resp = f.post(t, "/proof", model.ProofRequest{Payment: malformed})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, reasonMalformed, decodeBody[model.ProofResponse](t, resp).Reason)

	resp = f.post(t, "/proof", model.ProofRequest{Payment: f.payment(t, 250)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	snap, err := http.Get(f.http.URL + "/channels/" + id.Hex())
	require.NoError(t, err)
	defer snap.Body.Close()
	require.Equal(t, http.StatusOK, snap.StatusCode)
	s := decodeBody[payee.Snapshot](t, snap)
	assert.Equal(t, model.SessionActive, s.State)
	require.NotNil(t, s.BestProof)
	assert.Equal(t, "250", s.BestProof.Value)

	history, err := http.Get(f.http.URL + "/channels/" + id.Hex() + "/proofs")
	require.NoError(t, err)
	defer history.Body.Close()
	proofs := decodeBody[[]model.SerializedPayment](t, history)
	require.Len(t, proofs, 2)
	assert.Equal(t, "100", proofs[0].Value)
	assert.Equal(t, "250", proofs[1].Value)

	missing, err := http.Get(f.http.URL + "/channels/" + model.ChannelID{9}.Hex())
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t)
	f.open(t, 1000)
	id := hash.ChannelIDFor(f.payer, f.payee)

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/events?channel=" + id.Hex()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// subscribed before the handshake response is written
	f.post(t, "/hello", model.HelloRequest{SenderAddress: f.payer})
	f.post(t, "/proof", model.ProofRequest{Payment: f.payment(t, 10)})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for _, want := range []model.EventType{model.EventChannelCreated, model.EventPaymentReceived} {
		var ev model.Event
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, want, ev.Type)
		assert.Equal(t, id, ev.ChannelID)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.post(t, "/hello", model.HelloRequest{SenderAddress: f.payer})

	resp, err := http.Get(f.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "micropay_handshakes_total")
}

func TestServeClaimsOnShutdown(t *testing.T) {
	f := newFixture(t)
	id := f.open(t, 1000)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewHttpServer(l.Addr().String(), f.registry, f.proofs)

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		receipts map[model.ChannelID]*model.Receipt
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		receipts, err := srv.Serve(ctx, l)
		done <- outcome{receipts, err}
	}()

	base := "http://" + l.Addr().String()
	post := func(path string, body any) *http.Response {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		resp, err := http.Post(base+path, "application/json", bytes.NewReader(data))
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}
	require.Equal(t, http.StatusOK, post("/hello", model.HelloRequest{SenderAddress: f.payer}).StatusCode)
	require.Equal(t, http.StatusOK, post("/proof", model.ProofRequest{Payment: f.payment(t, 400)}).StatusCode)

	cancel()
	var res outcome
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	require.NoError(t, res.err)
	require.Contains(t, res.receipts, id)
	assert.Equal(t, "400", f.chain.Balance(f.payee).String())

	best, err := f.proofs.LoadProof(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, best)
}
