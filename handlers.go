package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/staffbase/kvstore-exporter/internal/metrics"
	"github.com/staffbase/kvstore-exporter/internal/store"
)

const (
	readHits     = "kvstore_read_hits_total"
	maxBodyBytes = 1 << 20

	// statusClientClosed is nginx's code for a request the client abandoned.
	statusClientClosed = 499
)

type message struct {
	Message string `json:"message"`
}

type errorBody struct {
	Error string `json:"error"`
}

type addedItem struct {
	Message string          `json:"message"`
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value"`
}

type itemBody struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type itemList struct {
	Count int               `json:"count"`
	Items map[string]string `json:"items"`
}

var (
	missingFieldBody = errorBody{Error: "Missing key or value"}
	notFoundBody     = errorBody{Error: "Key not found"}
	unavailableBody  = errorBody{Error: "Cannot connect to store"}
)

type server struct {
	store store.Store
	reg   *metrics.Registry
	instr *metrics.Instrumenter
	log   logrus.FieldLogger
}

func newServer(st store.Store, reg *metrics.Registry, log logrus.FieldLogger) (*server, error) {
	instr, err := metrics.NewInstrumenter(reg, log)
	if err != nil {
		return nil, err
	}
	// Counts reads that found their key; there is no separate cache tier.
	if err := reg.RegisterCounter(readHits, "Number of item reads that found the requested key", "key"); err != nil {
		return nil, err
	}

	return &server{store: st, reg: reg, instr: instr, log: log}, nil
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /{$}", s.handle("hello", s.hello))
	mux.Handle("POST /items", s.handle("add_item", s.addItem))
	mux.Handle("GET /items", s.handle("list_items", s.listItems))
	mux.Handle("GET /items/{key}", s.handle("get_item", s.getItem))
	mux.Handle("GET /metrics", s.instr.Middleware("metrics", s.reg.Handler()))
	return mux
}

type handlerFunc func(r *http.Request) (metrics.Outcome, error)

// handle instruments fn under endpoint and writes its outcome as JSON. Errors
// and panics that fn does not classify itself become a 500 with the message.
func (s *server) handle(endpoint string, fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		log := s.log.WithFields(logrus.Fields{
			"endpoint":   endpoint,
			"request_id": id,
		})

		// Instrument has already recorded the panic as a 500 by the time it
		// reaches here.
		defer func() {
			if p := recover(); p != nil {
				log.WithField("panic", p).Error("Request panicked")
				s.write(w, log, metrics.Outcome{
					StatusCode: http.StatusInternalServerError,
					Body:       errorBody{Error: fmt.Sprint(p)},
				})
			}
		}()

		out, err := s.instr.Instrument(r.Method, endpoint, func() (metrics.Outcome, error) {
			return fn(r)
		})
		if err != nil {
			log.WithError(err).Error("Request failed")
			out = metrics.Outcome{StatusCode: http.StatusInternalServerError, Body: errorBody{Error: err.Error()}}
		}

		s.write(w, log, out)
	})
}

func (s *server) write(w http.ResponseWriter, log logrus.FieldLogger, out metrics.Outcome) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(out.Status())
	if err := json.NewEncoder(w).Encode(out.Body); err != nil {
		log.WithError(err).Debug("Failed to write response")
	}
}

func (s *server) hello(*http.Request) (metrics.Outcome, error) {
	return metrics.Outcome{Body: message{Message: "Hello from the kvstore exporter!"}}, nil
}

func (s *server) addItem(r *http.Request) (metrics.Outcome, error) {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return metrics.Outcome{StatusCode: http.StatusBadRequest, Body: missingFieldBody}, nil
	}
	// Unmarshal rejects trailing data after the object.
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return metrics.Outcome{StatusCode: http.StatusBadRequest, Body: missingFieldBody}, nil
	}

	rawKey, rawValue := payload["key"], payload["value"]
	var key string
	if json.Unmarshal(rawKey, &key) != nil || len(rawValue) == 0 || string(rawValue) == "null" {
		return metrics.Outcome{StatusCode: http.StatusBadRequest, Body: missingFieldBody}, nil
	}

	// Strings are stored as-is, any other JSON value as its encoded text.
	value := string(rawValue)
	var str string
	if json.Unmarshal(rawValue, &str) == nil {
		value = str
	}

	if err := s.store.Set(r.Context(), key, value); err != nil {
		return s.storeFailure(err)
	}

	return metrics.Outcome{
		StatusCode: http.StatusCreated,
		Body:       addedItem{Message: "Item added successfully", Key: key, Value: rawValue},
	}, nil
}

func (s *server) getItem(r *http.Request) (metrics.Outcome, error) {
	key := r.PathValue("key")

	value, err := s.store.Get(r.Context(), key)
	if err != nil {
		return s.storeFailure(err)
	}

	if err := s.reg.Inc(readHits, key); err != nil {
		s.log.WithError(err).Warn("Failed to count read hit")
	}
	return metrics.Outcome{Body: itemBody{Key: key, Value: value}}, nil
}

func (s *server) listItems(r *http.Request) (metrics.Outcome, error) {
	keys, err := s.store.Keys(r.Context())
	if err != nil {
		return s.storeFailure(err)
	}

	items := make(map[string]string, len(keys))
	for _, key := range keys {
		value, err := s.store.Get(r.Context(), key)
		if errors.Is(err, store.ErrNotFound) {
			// removed since it was listed
			continue
		}
		if err != nil {
			return s.storeFailure(err)
		}
		items[key] = value
	}

	return metrics.Outcome{Body: itemList{Count: len(items), Items: items}}, nil
}

// storeFailure maps store errors the API knows about to responses and passes
// anything else through as an unclassified error.
func (s *server) storeFailure(err error) (metrics.Outcome, error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return metrics.Outcome{StatusCode: http.StatusNotFound, Body: notFoundBody}, nil
	case errors.Is(err, store.ErrUnavailable):
		s.log.WithError(err).Warn("Store unavailable")
		return metrics.Outcome{StatusCode: http.StatusServiceUnavailable, Body: unavailableBody}, nil
	case errors.Is(err, context.Canceled):
		s.log.WithError(err).Debug("Client closed request")
		return metrics.Outcome{StatusCode: statusClientClosed, Body: errorBody{Error: "Client closed request"}}, nil
	}
	return metrics.Outcome{}, err
}
