package server

import (
	"context"
	"encoding/json"
	"micropay/internal/model"
	"micropay/internal/protocol/payee"
	"micropay/internal/utils/log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const reasonMalformed = "malformed payment"

type (
	HttpServer struct {
		registry *payee.Registry
		proofs   *ProofStore
		srv      *http.Server

		// done is closed on shutdown to end the event streams, which
		// http.Server.Shutdown does not track.
		done     chan struct{}
		doneOnce sync.Once
	}
)

// NewHttpServer serves the payee endpoint of registry. proofs may be nil, in
// which case proof history is not available.
func NewHttpServer(addr string, registry *payee.Registry, proofs *ProofStore) *HttpServer {
	s := &HttpServer{
		registry: registry,
		proofs:   proofs,
		done:     make(chan struct{}),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *HttpServer) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/hello", s.HandleHello()).Methods(http.MethodPost)
	r.HandleFunc("/proof", s.HandleProof()).Methods(http.MethodPost)
	r.HandleFunc("/channels/{id}", s.GetChannel()).Methods(http.MethodGet)
	r.HandleFunc("/channels/{id}/proofs", s.GetProofHistory()).Methods(http.MethodGet)
	r.HandleFunc("/events", s.HandleEventsWS()).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// Serve accepts requests on l until ctx is done, then shuts down. The result
// is the outcome of Shutdown.
func (s *HttpServer) Serve(ctx context.Context, l net.Listener) (map[model.ChannelID]*model.Receipt, error) {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.srv.Serve(l)
	}()
	log.Info("payee listening", zap.String("addr", l.Addr().String()), zap.String("receiver", s.registry.Receiver().Hex()))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			receipts, ferr := s.Shutdown(context.Background())
			return receipts, multierr.Append(errors.Wrap(err, "serve"), ferr)
		}
	}
	return s.Shutdown(context.Background())
}

func (s *HttpServer) ListenAndServe(ctx context.Context) (map[model.ChannelID]*model.Receipt, error) {
	l, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", s.srv.Addr)
	}
	return s.Serve(ctx, l)
}

// Shutdown closes the listener and claims every open channel at the same
// time. It returns once both are done.
func (s *HttpServer) Shutdown(ctx context.Context) (map[model.ChannelID]*model.Receipt, error) {
	s.doneOnce.Do(func() { close(s.done) })

	var (
		g           errgroup.Group
		receipts    map[model.ChannelID]*model.Receipt
		finalizeErr error
	)
	g.Go(func() error {
		return errors.Wrap(s.srv.Shutdown(ctx), "close listener")
	})
	g.Go(func() error {
		receipts, finalizeErr = s.registry.FinalizeAll(ctx)
		return nil
	})
	err := g.Wait()

	for id, rcpt := range receipts {
		log.Info("channel claimed", zap.String("channel", id.Hex()), zap.String("tx", rcpt.TxHash.Hex()))
	}
	return receipts, multierr.Append(err, finalizeErr)
}

func (s *HttpServer) HandleHello() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.HelloRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Error("decode hello failed", zap.Error(err))
			writeError(w, http.StatusBadRequest, "invalid hello request")
			return
		}
		if req.SenderAddress == (common.Address{}) {
			writeError(w, http.StatusBadRequest, "sender_address cannot be empty")
			return
		}

		session, err := s.registry.Hello(r.Context(), req.SenderAddress)
		if errors.Is(err, payee.ErrSenderMismatch) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			log.Error("hello failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "hello failed")
			return
		}

		writeJSON(w, http.StatusOK, model.NewHelloResponse(session.Receiver(), session.ID()))
	}
}

func (s *HttpServer) HandleProof() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.ProofRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Error("decode proof failed", zap.Error(err))
			writeError(w, http.StatusBadRequest, "invalid proof request")
			return
		}

		p, err := model.FromSerialized(req.Payment)
		if err != nil {
			log.Info("malformed payment", zap.Error(err))
			writeJSON(w, http.StatusUnprocessableEntity, &model.ProofResponse{
				Response: model.ResponseRejected,
				Reason:   reasonMalformed,
			})
			return
		}

		res := s.registry.Intake(r.Context(), p)
		if !res.Accepted {
			writeJSON(w, http.StatusUnprocessableEntity, &model.ProofResponse{
				Response: model.ResponseRejected,
				Reason:   res.Reason,
			})
			return
		}
		writeJSON(w, http.StatusOK, &model.ProofResponse{Response: model.ResponseOK})
	}
}

func (s *HttpServer) channelID(w http.ResponseWriter, r *http.Request) (model.ChannelID, bool) {
	id, err := model.ParseChannelID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return id, false
	}
	return id, true
}

func (s *HttpServer) GetChannel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.channelID(w, r)
		if !ok {
			return
		}
		session, ok := s.registry.Session(id)
		if !ok {
			writeError(w, http.StatusNotFound, payee.ErrUnknownChannel.Error())
			return
		}
		writeJSON(w, http.StatusOK, session.Snapshot())
	}
}

func (s *HttpServer) GetProofHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.channelID(w, r)
		if !ok {
			return
		}
		if s.proofs == nil {
			writeError(w, http.StatusNotFound, "proof history is not kept")
			return
		}

		proofs, err := s.proofs.History(r.Context(), id)
		if err != nil {
			log.Error("get proof history failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "get proof history failed")
			return
		}

		res := make([]model.SerializedPayment, 0, len(proofs))
		for _, p := range proofs {
			res = append(res, p.ToSerialized())
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// HandleEventsWS streams session events as JSON text frames. The optional
// channel query parameter restricts the stream to one channel.
func (s *HttpServer) HandleEventsWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		notifier := s.registry.Notifier()
		if notifier == nil {
			writeError(w, http.StatusNotFound, "events are not published")
			return
		}

		var filter *model.ChannelID
		if v := r.URL.Query().Get("channel"); v != "" {
			id, err := model.ParseChannelID(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			filter = &id
		}

		events, cancel := notifier.Subscribe()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			cancel()
			log.Error("upgrade events stream failed", zap.Error(err))
			return
		}
		s.streamEvents(conn, events, cancel, filter)
	}
}

func (s *HttpServer) streamEvents(conn *websocket.Conn, events <-chan model.Event, cancel func(), filter *model.ChannelID) {
	defer conn.Close()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				log.Debug("events web socket closed", zap.Error(err))
				return
			}
		}
	}()

	for {
		select {
		case <-s.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if filter != nil && ev.ChannelID != *filter {
				continue
			}
			if err := conn.WriteJSON(&ev); err != nil {
				log.Debug("write event failed", zap.Error(err))
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("marshal response failed", zap.Error(err))
		http.Error(w, "marshal response failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, &model.ErrorResponse{Error: msg})
}
