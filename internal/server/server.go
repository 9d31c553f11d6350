package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/victornm/livequiz/internal/api"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/router"
	"github.com/victornm/livequiz/internal/score"
	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/telemetry"
	"github.com/victornm/livequiz/internal/transport/ws"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	// Redis backs the leaderboard projection and pub/sub notifications. No address
	// disables both.
	Redis struct {
		Addrs  []string
		Pass   string
		Prefix string
	}

	// Postgres backs the results archive. No address disables it.
	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	WS ws.Config
}

// DefaultConfig returns the values used for every key the config file and environment
// leave unset.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 9090
	c.Redis.Prefix = "livequiz"
	c.WS.SendBuffer = 256
	c.WS.MaxMessageSize = 64 << 10
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
	}

	service struct {
		score       *score.Service
		leaderboard *leaderboard.Service
	}

	hub      *router.Hub
	registry *session.Registry
	router   *router.Router

	http *http.Server
	grpc *grpc.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()

	if err := s.initAPI(); err != nil {
		return nil, fmt.Errorf("server: init api: %w", err)
	}

	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	if len(s.c.Redis.Addrs) == 0 {
		slog.Info("server: redis not configured, leaderboard projection and pub/sub disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() error {
	if s.c.Postgres.Addr == "" {
		slog.Info("server: postgres not configured, results archive disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := s.c.Postgres
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", p.User, p.Pass, p.Addr, p.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() {
	sc := score.Config{EventBus: s.eb}
	if s.infra.postgres != nil {
		sc.DB = s.infra.postgres
	}
	s.service.score = score.NewService(sc)

	if s.infra.redis != nil {
		s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
			EventBus: s.eb,
			Redis:    s.infra.redis,
			Prefix:   s.c.Redis.Prefix,
		})
	}

	s.hub = router.NewHub()
	s.registry = session.NewRegistry(session.Config{
		Dispatcher: s.hub,
		EventBus:   s.eb,
	})
	s.router = router.New(router.Config{
		Hub:      s.hub,
		Registry: s.registry,
	})
}

func (s *Server) initAPI() error {
	if err := telemetry.RegisterSessionGauge(prometheus.DefaultRegisterer, s.registry.Len); err != nil {
		return fmt.Errorf("register session gauge: %w", err)
	}

	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	ws.NewHandler(s.router, s.c.WS).Register(e)

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())

	ac := api.Config{
		GRPC:         s.grpc,
		HTTP:         e,
		EventBus:     s.eb,
		Registry:     s.registry,
		Presence:     s.hub,
		Score:        s.service.score,
		Leaderboard:  s.service.leaderboard,
		PubsubPrefix: s.c.Redis.Prefix,
	}
	if s.infra.redis != nil {
		ac.Redis = s.infra.redis
	}
	api.New(ac)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}

	return nil
}

// Start serves HTTP and gRPC until either fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		return fmt.Errorf("grpc server: listen: %w", err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return eg.Wait()
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	if s.infra.redis != nil {
		if err := s.infra.redis.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}

	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
