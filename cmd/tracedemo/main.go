// Tracedemo is a small service showing how trace IDs flow through a service:
// from incoming requests to logs, outgoing requests and published events.
//
// Usage:
//
//	tracedemo          # runs the server
//	tracedemo client   # calls a running server with a new trace ID
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/birdie-ai/httptrace/event"
	"github.com/birdie-ai/httptrace/service"
	"github.com/birdie-ai/httptrace/slog"
	"github.com/birdie-ai/httptrace/tracing"
	"github.com/birdie-ai/httptrace/xhttp"
	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gocloud.dev/pubsub"
	"golang.org/x/sync/errgroup"

	_ "gocloud.dev/pubsub/gcppubsub"
	_ "gocloud.dev/pubsub/mempubsub"
)

const (
	serviceName = "TRACEDEMO"
	eventName   = "tracedemo.message"
)

// Config is the configuration of tracedemo, loaded from TRACEDEMO_* env vars.
type Config struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	ShutdownPeriod  time.Duration `env:"SHUTDOWN_PERIOD" envDefault:"10s"`
	TopicURL        string        `env:"TOPIC_URL" envDefault:"mem://tracedemo"`
	SubscriptionURL string        `env:"SUBSCRIPTION_URL" envDefault:"mem://tracedemo"`
	MaxConcurrency  int           `env:"MAX_CONCURRENCY" envDefault:"10"`
	// Ordered publishing is only enabled when both are set.
	GoogleProject string `env:"GOOGLE_PROJECT"`
	OrderedTopic  string `env:"ORDERED_TOPIC"`
	// ServerURL is used by the client command.
	ServerURL string `env:"SERVER_URL" envDefault:"http://localhost:8080"`
}

// Message is the event published by POST /events.
type Message struct {
	Text string `json:"text"`
}

// Greeting is the response of GET /.
type Greeting struct {
	TraceID string `json:"trace_id"`
	Message string `json:"message"`
}

func main() {
	logcfg, err := slog.LoadConfig(serviceName)
	if err != nil {
		slog.Fatal("loading log config", "error", err)
	}
	if err := slog.Configure(logcfg); err != nil {
		slog.Fatal("configuring logger", "error", err)
	}

	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: serviceName + "_"})
	if err != nil {
		slog.Fatal("loading config", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if len(os.Args) > 1 && os.Args[1] == "client" {
		if err := client(ctx, cfg); err != nil {
			slog.Fatal("client failed", "error", err)
		}
		return
	}

	if err := serve(ctx, cfg); err != nil {
		slog.Fatal("server failed", "error", err)
	}
}

func serve(ctx context.Context, cfg Config) error {
	tracecfg, err := tracing.LoadConfig(serviceName)
	if err != nil {
		return fmt.Errorf("loading tracing config: %w", err)
	}

	registry := prometheus.NewRegistry()
	tracing.MustRegisterMetrics(registry)
	event.MustRegisterMetrics(registry)
	service.MustRegisterMetrics(registry)
	service.SampleBuildInfo()

	shutdown := service.NewShutdownHandler(cfg.ShutdownPeriod)

	tp := sdktrace.NewTracerProvider()
	shutdown.Add("tracer provider", tp)

	topic, err := pubsub.OpenTopic(ctx, cfg.TopicURL)
	if err != nil {
		return fmt.Errorf("opening topic %q: %w", cfg.TopicURL, err)
	}
	publisher := event.NewPublisher[Message](eventName, topic)
	shutdown.Add("publisher", publisher)

	var ordered *event.OrderedGooglePublisher[Message]
	if cfg.GoogleProject != "" && cfg.OrderedTopic != "" {
		// The ordered topic must already exist.
		ordered, err = event.NewOrderedGooglePublisher[Message](ctx, cfg.GoogleProject, cfg.OrderedTopic, eventName)
		if err != nil {
			return err
		}
		shutdown.Add("ordered publisher", ordered)
	}

	subscription, err := event.NewSubscription[Message](eventName, cfg.SubscriptionURL, cfg.MaxConcurrency)
	if err != nil {
		return fmt.Errorf("opening subscription %q: %w", cfg.SubscriptionURL, err)
	}
	shutdown.Add("subscription", subscription)

	layer := tracing.NewFromConfig(tracecfg, tracing.WithTracerProvider(tp))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(layer, registry, publisher, ordered),
		ReadHeaderTimeout: 10 * time.Second,
	}
	shutdown.Add("http server", server)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", cfg.Addr, "trace_header", layer.Header())
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := subscription.Serve(handleMessage)
		if ctx.Err() != nil {
			// Serving always ends with an error after the subscription is shutdown.
			return nil
		}
		return err
	})
	g.Go(func() error {
		return shutdown.Wait(ctx)
	})
	return g.Wait()
}

func newRouter(
	layer *tracing.Layer,
	registry *prometheus.Registry,
	publisher *event.Publisher[Message],
	ordered *event.OrderedGooglePublisher[Message],
) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(layer.Middleware)

		r.Get("/", handleGreeting)
		r.Get("/health", func(res http.ResponseWriter, _ *http.Request) {
			res.WriteHeader(http.StatusOK)
		})
		r.Get("/stream", handleStream)
		r.Post("/events", func(res http.ResponseWriter, req *http.Request) {
			handlePublish(res, req, publisher, ordered)
		})
	})

	// Instrumented with WrapFunc so the handler error is logged as the request failure.
	r.Get("/fail", errorHandler(layer.WrapFunc(handleFail)))
	return r
}

func handleGreeting(res http.ResponseWriter, req *http.Request) {
	traceID := tracing.MustTraceID(req.Context())
	slog.FromCtx(req.Context()).Info("greeting")
	writeJSON(res, http.StatusOK, Greeting{TraceID: traceID, Message: "hello"})
}

func handleStream(res http.ResponseWriter, req *http.Request) {
	chunks := 5
	if v := req.URL.Query().Get("chunks"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(res, "invalid chunks", http.StatusBadRequest)
			return
		}
		chunks = n
	}

	res.Header().Set("Content-Type", "text/plain")
	res.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(res)

	for i := range chunks {
		select {
		case <-req.Context().Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
		if _, err := fmt.Fprintf(res, "chunk %d\n", i); err != nil {
			return
		}
		_ = rc.Flush()
	}
}

func handlePublish(
	res http.ResponseWriter,
	req *http.Request,
	publisher *event.Publisher[Message],
	ordered *event.OrderedGooglePublisher[Message],
) {
	ctx := req.Context()
	log := slog.FromCtx(ctx)

	var msg Message
	if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
		http.Error(res, fmt.Sprintf("invalid message: %v", err), http.StatusBadRequest)
		return
	}
	if err := publisher.Publish(ctx, msg); err != nil {
		log.Error("publishing message", "error", err)
		http.Error(res, "publishing message", http.StatusInternalServerError)
		return
	}

	if ordered != nil {
		// Events of the same request are ordered.
		orderingKey := tracing.MustTraceID(ctx)
		if err := ordered.Publish(ctx, msg, orderingKey); err != nil {
			log.Error("publishing ordered message", "error", err)
			_ = ordered.Resume(ctx, orderingKey)
			http.Error(res, "publishing ordered message", http.StatusInternalServerError)
			return
		}
	}
	res.WriteHeader(http.StatusAccepted)
}

func handleFail(http.ResponseWriter, *http.Request) error {
	return errors.New("tracedemo: failing on purpose")
}

func handleMessage(ctx context.Context, msg Message) error {
	slog.FromCtx(ctx).Info("message received", "text", msg.Text)
	return nil
}

// errorHandler adapts h to a [http.HandlerFunc], errors are sent as internal server errors.
func errorHandler(h tracing.HandlerFunc) http.HandlerFunc {
	return func(res http.ResponseWriter, req *http.Request) {
		if err := h(res, req); err != nil {
			http.Error(res, err.Error(), http.StatusInternalServerError)
		}
	}
}

func writeJSON(res http.ResponseWriter, status int, v any) {
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(status)
	if err := json.NewEncoder(res).Encode(v); err != nil {
		slog.Error("writing response", "error", err)
	}
}

func client(ctx context.Context, cfg Config) error {
	traceID := tracing.NewID()
	ctx = tracing.CtxWithTraceID(ctx, traceID)
	ctx = slog.NewContext(ctx, slog.With("trace_id", traceID))

	c := xhttp.NewTracingClient(&http.Client{Timeout: 30 * time.Second})

	req, err := xhttp.NewRequestWithContext(ctx, http.MethodGet, cfg.ServerURL+"/", nil)
	if err != nil {
		return err
	}
	res, err := xhttp.Do[Greeting](c, req)
	if err != nil {
		return err
	}
	if res.Obj.TraceID != traceID {
		return fmt.Errorf("server answered with trace ID %q, sent %q", res.Obj.TraceID, traceID)
	}
	slog.FromCtx(ctx).Info("server greeted", "message", res.Obj.Message, "status_code", res.StatusCode)
	return nil
}
